// Package template substitutes {{Placeholder}} tokens in mail subjects and
// bodies with member data. Tokens tolerate inner whitespace and fall back to
// a case-insensitive name match; tokens that resolve to nothing render as an
// empty string.
package template

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/foxzi/gratulo/internal/dates"
)

// placeholderPattern matches {{Name}} tokens, umlauts included.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-zÄÖÜäöüß0-9_]+)\s*\}\}`)

// Member carries the per-recipient values. Nil dates leave the
// corresponding placeholders empty.
type Member struct {
	FirstName string
	LastName  string
	Email     string
	Gender    string // "m", "w" or "d"
	Date1     *time.Time
	Date2     *time.Time
}

// Config describes the two configurable date fields and the noun used to
// address members without a specific gender.
type Config struct {
	EntitySingular string // defaults to "Mitglied"
	Date1          dates.Field
	Date2          dates.Field
}

// Renderer resolves placeholders against a field configuration.
type Renderer struct {
	cfg Config
}

// NewRenderer creates a renderer for the given field configuration.
func NewRenderer(cfg Config) *Renderer {
	if cfg.EntitySingular == "" {
		cfg.EntitySingular = "Mitglied"
	}
	return &Renderer{cfg: cfg}
}

// Render resolves all placeholders in s for one member as of now.
func (r *Renderer) Render(s string, m Member, now time.Time) string {
	return Substitute(s, r.Values(m, now))
}

// Values builds the full placeholder mapping for one member as of now.
func (r *Renderer) Values(m Member, now time.Time) map[string]string {
	values := make(map[string]string)

	anrede, anredeLang, bezeichnung, pronomen, possessiv := salutation(m.Gender, r.cfg.EntitySingular)
	values["Vorname"] = m.FirstName
	values["Nachname"] = m.LastName
	values["Email"] = m.Email
	values["Anrede"] = anrede
	values["AnredeLang"] = anredeLang
	values["Bezeichnung"] = bezeichnung
	values["Pronomen"] = pronomen
	values["Possessiv"] = possessiv

	r.addDateValues(values, "Datum1", "Geburtstag", "Geburtstagsnummer", r.cfg.Date1, m.Date1, now)
	r.addDateValues(values, "Datum2", "Eintritt", "Eintrittsnummer", r.cfg.Date2, m.Date2, now)

	return values
}

// addDateValues fills the placeholders of one date field: the canonical
// DatumN names, the fixed legacy names, and aliases derived from the
// configured label. Event fields get no <Label>Nummer alias.
func (r *Renderer) addDateValues(values map[string]string, canonical, legacyDate, legacyCount string, f dates.Field, value *time.Time, now time.Time) {
	if value == nil {
		return
	}

	formatted := value.Format("02.01.2006")
	count := strconv.Itoa(fieldCount(f, *value, now))

	values[canonical] = formatted
	values[canonical+"Jahre"] = count
	values[legacyDate] = formatted
	values[legacyCount] = count

	if f.Label != "" {
		values[f.Label] = formatted
		values[f.Label+"Jahre"] = count
		if f.Kind != dates.KindEvent {
			values[f.Label+"Nummer"] = count
		}
	}
}

func fieldCount(f dates.Field, value, now time.Time) int {
	if f.Kind == dates.KindEvent {
		return dates.CompletedOccurrences(value, now, f.FrequencyMonths)
	}
	return dates.CompletedYears(value, now)
}

func salutation(gender, entity string) (anrede, anredeLang, bezeichnung, pronomen, possessiv string) {
	switch strings.ToLower(gender) {
	case "m":
		return "Lieber", "Sehr geehrter", "Herr", "er", "sein"
	case "w":
		return "Liebe", "Sehr geehrte", "Frau", "sie", "ihr"
	default:
		return "Liebe*r", "Sehr geehrte*r", entity, "sie", "ihr"
	}
}

// Substitute replaces placeholder tokens in s. Lookup prefers the exact
// name, then falls back to a case-insensitive match; unresolved tokens are
// replaced with an empty string.
func Substitute(s string, values map[string]string) string {
	if !strings.Contains(s, "{{") {
		return s
	}

	var lowered map[string]string
	return placeholderPattern.ReplaceAllStringFunc(s, func(token string) string {
		name := strings.TrimSpace(token[2 : len(token)-2])
		if v, ok := values[name]; ok {
			return v
		}
		if lowered == nil {
			lowered = make(map[string]string, len(values))
			for k, v := range values {
				lowered[strings.ToLower(k)] = v
			}
		}
		if v, ok := lowered[strings.ToLower(name)]; ok {
			return v
		}
		return ""
	})
}

// Validate returns the distinct placeholder names in content that the
// renderer cannot resolve, in order of first appearance. The template
// editor shows them as a warning before saving.
func (r *Renderer) Validate(content string) []string {
	known := make(map[string]struct{})
	for name := range r.Values(SampleMember(), time.Now()) {
		known[strings.ToLower(name)] = struct{}{}
	}

	var unknown []string
	seen := make(map[string]struct{})
	for _, match := range placeholderPattern.FindAllStringSubmatch(content, -1) {
		key := strings.ToLower(match[1])
		if _, ok := known[key]; ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unknown = append(unknown, match[1])
	}
	return unknown
}

// Names lists every placeholder the renderer can resolve, sorted. The
// template editor shows the list next to the content field.
func (r *Renderer) Names() []string {
	values := r.Values(SampleMember(), time.Now())
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SampleMember is the preview recipient used by the template editor.
func SampleMember() Member {
	d1 := time.Date(1990, time.March, 15, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2015, time.August, 1, 0, 0, 0, 0, time.UTC)
	return Member{
		FirstName: "Max",
		LastName:  "Mustermann",
		Email:     "max.mustermann@example.org",
		Gender:    "m",
		Date1:     &d1,
		Date2:     &d2,
	}
}
