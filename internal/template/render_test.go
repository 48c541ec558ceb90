package template

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/foxzi/gratulo/internal/dates"
)

var renderNow = time.Date(2025, time.March, 15, 10, 0, 0, 0, time.UTC)

func testRenderer() *Renderer {
	return NewRenderer(Config{
		Date1: dates.Field{Key: "date1", Label: "Geburtstag", Kind: dates.KindAnniversary},
		Date2: dates.Field{Key: "date2", Label: "Eintritt", Kind: dates.KindAnniversary},
	})
}

func testMember(gender string) Member {
	d1 := dates.MustParse("1990-03-15")
	d2 := dates.MustParse("2015-08-01")
	return Member{
		FirstName: "Max",
		LastName:  "Mustermann",
		Email:     "max@example.org",
		Gender:    gender,
		Date1:     &d1,
		Date2:     &d2,
	}
}

func TestRenderLetter(t *testing.T) {
	r := testRenderer()

	content := "<p>{{Anrede}} {{Vorname}},</p>" +
		"<p>herzlichen Glückwunsch zum {{ Geburtstagsnummer }}. Geburtstag! " +
		"Dein Geburtsdatum: {{Geburtstag}}.</p>"

	got := r.Render(content, testMember("m"), renderNow)
	want := "<p>Lieber Max,</p>" +
		"<p>herzlichen Glückwunsch zum 35. Geburtstag! " +
		"Dein Geburtsdatum: 15.03.1990.</p>"

	if got != want {
		t.Errorf("Render =\n%q\nwant\n%q", got, want)
	}
}

func TestSalutation(t *testing.T) {
	tests := []struct {
		gender      string
		anrede      string
		anredeLang  string
		bezeichnung string
		pronomen    string
		possessiv   string
	}{
		{"m", "Lieber", "Sehr geehrter", "Herr", "er", "sein"},
		{"w", "Liebe", "Sehr geehrte", "Frau", "sie", "ihr"},
		{"d", "Liebe*r", "Sehr geehrte*r", "Mitglied", "sie", "ihr"},
		{"", "Liebe*r", "Sehr geehrte*r", "Mitglied", "sie", "ihr"},
		{"M", "Lieber", "Sehr geehrter", "Herr", "er", "sein"},
	}

	r := testRenderer()
	for _, tt := range tests {
		t.Run("gender "+tt.gender, func(t *testing.T) {
			values := r.Values(testMember(tt.gender), renderNow)

			checks := map[string]string{
				"Anrede":      tt.anrede,
				"AnredeLang":  tt.anredeLang,
				"Bezeichnung": tt.bezeichnung,
				"Pronomen":    tt.pronomen,
				"Possessiv":   tt.possessiv,
			}
			for key, want := range checks {
				if got := values[key]; got != want {
					t.Errorf("%s = %q, want %q", key, got, want)
				}
			}
		})
	}
}

func TestSalutationEntityOverride(t *testing.T) {
	r := NewRenderer(Config{EntitySingular: "Kollege"})

	values := r.Values(Member{Gender: "d"}, renderNow)
	if values["Bezeichnung"] != "Kollege" {
		t.Errorf("Bezeichnung = %q, want %q", values["Bezeichnung"], "Kollege")
	}
}

func TestDateValues(t *testing.T) {
	r := testRenderer()
	values := r.Values(testMember("w"), renderNow)

	want := map[string]string{
		"Datum1":           "15.03.1990",
		"Datum1Jahre":      "35",
		"Geburtstag":       "15.03.1990",
		"GeburtstagJahre":  "35",
		"GeburtstagNummer": "35",
		// fixed legacy spelling with genitive s
		"Geburtstagsnummer": "35",
		"Datum2":            "01.08.2015",
		"Datum2Jahre":       "9",
		"Eintritt":          "01.08.2015",
		"EintrittJahre":     "9",
		"EintrittNummer":    "9",
		"Eintrittsnummer":   "9",
	}
	for key, wantVal := range want {
		if got := values[key]; got != wantVal {
			t.Errorf("values[%q] = %q, want %q", key, got, wantVal)
		}
	}
}

func TestDateValuesEventField(t *testing.T) {
	r := NewRenderer(Config{
		Date1: dates.Field{Key: "date1", Label: "Geburtstag", Kind: dates.KindAnniversary},
		Date2: dates.Field{Key: "date2", Label: "Wartung", Kind: dates.KindEvent, FrequencyMonths: 6},
	})

	values := r.Values(testMember("m"), renderNow)

	// 2015-08-01 to 2025-03-15 is 115 whole months, 19 six-month cycles
	if got := values["WartungJahre"]; got != "19" {
		t.Errorf("WartungJahre = %q, want %q", got, "19")
	}
	if _, ok := values["WartungNummer"]; ok {
		t.Error("event fields should not get a Nummer alias")
	}
	if got := values["Wartung"]; got != "01.08.2015" {
		t.Errorf("Wartung = %q, want %q", got, "01.08.2015")
	}
}

func TestNilDatesRenderEmpty(t *testing.T) {
	r := testRenderer()
	m := testMember("m")
	m.Date1 = nil

	got := r.Render("X{{Geburtstag}}Y{{Geburtstagsnummer}}Z", m, renderNow)
	if got != "XYZ" {
		t.Errorf("Render = %q, want %q", got, "XYZ")
	}
}

func TestSubstitute(t *testing.T) {
	values := map[string]string{"Vorname": "Max", "Nachname": "Mustermann"}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"exact", "Hallo {{Vorname}}!", "Hallo Max!"},
		{"inner spaces", "Hallo {{ Vorname }}!", "Hallo Max!"},
		{"lowercase", "Hallo {{vorname}}!", "Hallo Max!"},
		{"uppercase", "Hallo {{VORNAME}}!", "Hallo Max!"},
		{"unknown renders empty", "Hallo {{Spitzname}}!", "Hallo !"},
		{"multiple", "{{Vorname}} {{Nachname}}", "Max Mustermann"},
		{"no placeholders", "Hallo Welt", "Hallo Welt"},
		{"unclosed braces kept", "Hallo {{Vorname", "Hallo {{Vorname"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Substitute(tt.in, values); got != tt.want {
				t.Errorf("Substitute(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	r := testRenderer()

	content := "{{Vorname}} {{Unbekannt}} {{unbekannt}} {{NochEiner}} {{geburtstag}}"
	got := r.Validate(content)
	want := []string{"Unbekannt", "NochEiner"}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("Validate = %v, want %v", got, want)
	}

	if got := r.Validate("nur Text ohne Platzhalter"); len(got) != 0 {
		t.Errorf("Validate on plain text = %v, want none", got)
	}
}

func TestNames(t *testing.T) {
	names := testRenderer().Names()

	if !sortedStrings(names) {
		t.Error("Names should be sorted")
	}

	for _, want := range []string{"Vorname", "Anrede", "Datum1", "GeburtstagNummer", "Eintrittsnummer"} {
		found := false
		for _, n := range names {
			if n == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Names missing %q (got %s)", want, strings.Join(names, ", "))
		}
	}
}

func sortedStrings(s []string) bool {
	for i := 1; i < len(s); i++ {
		if s[i] < s[i-1] {
			return false
		}
	}
	return true
}

func TestSampleMember(t *testing.T) {
	m := SampleMember()
	if m.FirstName != "Max" || m.LastName != "Mustermann" {
		t.Errorf("unexpected sample member %q %q", m.FirstName, m.LastName)
	}
	if m.Date1 == nil || m.Date2 == nil {
		t.Error("sample member must have both dates set")
	}
}
