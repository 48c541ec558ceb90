// Package views renders the HTML pages of the web UI. Most pages are
// parsed against a shared layout; login and partial_ fragments render
// standalone.
package views

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"time"
)

//go:embed *.html
var templatesFS embed.FS

// standalone pages render without the layout chrome.
var standalone = map[string]bool{
	"login.html": true,
}

// Labels carries the configured display names the pages use: the two
// date field labels and what a list row is called.
type Labels struct {
	Date1          string
	Date2          string
	EntitySingular string
	EntityPlural   string
}

// Engine holds the parsed page templates.
type Engine struct {
	templates map[string]*template.Template
	labels    Labels
}

// New parses the layout, every page against a clone of it, and the
// standalone templates.
func New(labels Labels) (*Engine, error) {
	e := &Engine{
		templates: make(map[string]*template.Template),
		labels:    labels,
	}
	funcs := e.funcMap()

	layout, err := template.New("layout.html").Funcs(funcs).ParseFS(templatesFS, "layout.html")
	if err != nil {
		return nil, err
	}

	entries, err := fs.ReadDir(templatesFS, ".")
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == "layout.html" {
			continue
		}
		base := strings.TrimSuffix(name, filepath.Ext(name))

		if standalone[name] || strings.HasPrefix(name, "partial_") {
			tmpl, err := template.New(name).Funcs(funcs).ParseFS(templatesFS, name)
			if err != nil {
				return nil, err
			}
			e.templates[base] = tmpl
			continue
		}

		tmpl, err := layout.Clone()
		if err != nil {
			return nil, err
		}
		if _, err := tmpl.ParseFS(templatesFS, name); err != nil {
			return nil, err
		}
		e.templates[base] = tmpl
	}

	return e, nil
}

// Render writes the named page. Unknown names are an error, not a
// fallback.
func (e *Engine) Render(w io.Writer, name string, data any) error {
	tmpl, ok := e.templates[name]
	if !ok {
		return fmt.Errorf("unknown template %q", name)
	}
	return tmpl.Execute(w, data)
}

func (e *Engine) funcMap() template.FuncMap {
	return template.FuncMap{
		"labels":         func() Labels { return e.labels },
		"formatDate":     formatDate,
		"formatDateTime": formatDateTime,
		"inputDate":      inputDate,
		"inputDateTime":  inputDateTime,
		"yesNo":          yesNo,
		"genderLabel":    genderLabel,
		"selectionLabel": e.selectionLabel,
		"statusLabel":    statusLabel,
		"statusClass":    statusClass,
		"rawHTML":        func(s string) template.HTML { return template.HTML(s) },
		"deref": func(p *int64) int64 {
			if p == nil {
				return 0
			}
			return *p
		},
	}
}

func (e *Engine) selectionLabel(selection string) string {
	switch selection {
	case "date1":
		return e.labels.Date1
	case "date2":
		return e.labels.Date2
	case "all":
		return "Alle"
	}
	return selection
}

// formatDate accepts time.Time and *time.Time so templates do not need
// nil checks for optional dates.
func formatDate(v any) string {
	t, ok := timeValue(v)
	if !ok {
		return "-"
	}
	return t.Format("02.01.2006")
}

func formatDateTime(v any) string {
	t, ok := timeValue(v)
	if !ok {
		return "-"
	}
	return t.Format("02.01.2006 15:04")
}

// inputDate formats for <input type="date"> value attributes.
func inputDate(v any) string {
	t, ok := timeValue(v)
	if !ok {
		return ""
	}
	return t.Format("2006-01-02")
}

// inputDateTime formats for <input type="datetime-local">.
func inputDateTime(v any) string {
	t, ok := timeValue(v)
	if !ok {
		return ""
	}
	return t.Format("2006-01-02T15:04")
}

func timeValue(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, !t.IsZero()
	}
	return time.Time{}, false
}

func yesNo(b bool) string {
	if b {
		return "Ja"
	}
	return "Nein"
}

func genderLabel(g string) string {
	switch g {
	case "m":
		return "männlich"
	case "w":
		return "weiblich"
	case "d":
		return "divers"
	}
	return g
}

// statusLabel covers both job log and queue message statuses.
func statusLabel(s string) string {
	switch s {
	case "ok":
		return "OK"
	case "partial_error":
		return "Teilweise fehlgeschlagen"
	case "error":
		return "Fehlgeschlagen"
	case "job_not_found":
		return "Job fehlt"
	case "no_template":
		return "Vorlage fehlt"
	case "no_smtp_config":
		return "SMTP nicht konfiguriert"
	case "no_recipients":
		return "Keine Empfänger"
	case "pending":
		return "Wartend"
	case "sent":
		return "Gesendet"
	case "requeued":
		return "Erneut eingereiht"
	case "failed":
		return "Fehlgeschlagen"
	case "warning":
		return "Warnung"
	case "not_found":
		return "Nicht gefunden"
	}
	return s
}

func statusClass(s string) string {
	switch s {
	case "ok", "sent":
		return "ok"
	case "partial_error", "pending", "requeued", "warning":
		return "warn"
	case "no_recipients", "not_found":
		return "muted"
	}
	return "error"
}
