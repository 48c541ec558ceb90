package handlers

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/foxzi/gratulo/internal/dates"
	"github.com/foxzi/gratulo/internal/models"
	"github.com/foxzi/gratulo/internal/scheduler"
)

func TestParseCSVDate(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"1990-03-15", "1990-03-15", false},
		{"15.03.1990", "1990-03-15", false},
		{"2024-02-29", "2024-02-29", false},
		{"29.02.2024", "2024-02-29", false},
		{"15/03/1990", "", true},
		{"kein datum", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseCSVDate(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseCSVDate(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err == nil && got.Format("2006-01-02") != tt.want {
				t.Errorf("parseCSVDate(%q) = %s, want %s", tt.input, got.Format("2006-01-02"), tt.want)
			}
		})
	}
}

func TestPagination(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		total      int
		wantPage   int
		wantPages  int
		wantOffset int
	}{
		{"empty list", "", 0, 1, 1, 0},
		{"first page default", "", 120, 1, 3, 0},
		{"explicit page", "page=2", 120, 2, 3, 50},
		{"page beyond end clamps", "page=9", 120, 3, 3, 100},
		{"invalid page falls back", "page=abc", 120, 1, 3, 0},
		{"zero page falls back", "page=0", 120, 1, 3, 0},
		{"exact multiple", "page=2", 100, 2, 2, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/members?"+tt.query, nil)
			page, pages, offset := pagination(r, tt.total)
			if page != tt.wantPage || pages != tt.wantPages || offset != tt.wantOffset {
				t.Errorf("pagination(%q, %d) = (%d, %d, %d), want (%d, %d, %d)",
					tt.query, tt.total, page, pages, offset, tt.wantPage, tt.wantPages, tt.wantOffset)
			}
		})
	}
}

func TestUpcomingDates(t *testing.T) {
	fields := [2]dates.Field{
		{Key: "date1", Label: "Geburtstag", Kind: dates.KindAnniversary, Round: dates.RoundRule{Every: 5}},
		{Key: "date2", Label: "Wartung", Kind: dates.KindEvent, FrequencyMonths: 6},
	}
	maintenance := dates.MustParse("2025-09-16")
	members := []models.Member{
		{FirstName: "Erika", LastName: "Muster", Date1: dates.MustParse("1991-03-15")},
		{FirstName: "Max", LastName: "Muster", Date1: dates.MustParse("1990-03-20"), Date2: &maintenance},
		{FirstName: "Paula", LastName: "Muster", Date1: dates.MustParse("1980-03-25")},
	}
	from := time.Date(2026, 3, 14, 9, 0, 0, 0, time.Local)

	got := upcomingDates(members, fields, from)

	want := []struct {
		date   string
		name   string
		label  string
		detail string
		round  bool
	}{
		{"2026-03-15", "Erika Muster", "Geburtstag", "35 Jahre", true},
		{"2026-03-16", "Max Muster", "Wartung", "zum 1. Mal", false},
		{"2026-03-20", "Max Muster", "Geburtstag", "36 Jahre", false},
	}
	if len(got) != len(want) {
		t.Fatalf("upcomingDates() returned %d rows, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		g := got[i]
		if g.Date.Format("2006-01-02") != w.date || g.Name != w.name ||
			g.Label != w.label || g.Detail != w.detail || g.Round != w.round {
			t.Errorf("row %d = {%s %s %s %q %v}, want {%s %s %s %q %v}",
				i, g.Date.Format("2006-01-02"), g.Name, g.Label, g.Detail, g.Round,
				w.date, w.name, w.label, w.detail, w.round)
		}
	}
}

func TestClassificationDetail(t *testing.T) {
	tests := []struct {
		name string
		kind dates.Kind
		c    dates.Classification
		want string
	}{
		{"anniversary years", dates.KindAnniversary, dates.Classification{Due: true, Years: 35}, "35 Jahre"},
		{"anniversary same year", dates.KindAnniversary, dates.Classification{Due: true, Years: 0}, ""},
		{"event occurrence", dates.KindEvent, dates.Classification{Due: true, Occurrence: 19}, "zum 19. Mal"},
		{"event first day", dates.KindEvent, dates.Classification{Due: true, Occurrence: 0}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classificationDetail(tt.kind, tt.c); got != tt.want {
				t.Errorf("classificationDetail() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStaleOnceNote(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name     string
		job      models.MailerJob
		wantNote bool
	}{
		{"past one-shot", models.MailerJob{Enabled: true, OnceAt: &past}, true},
		{"future one-shot", models.MailerJob{Enabled: true, OnceAt: &future}, false},
		{"disabled past one-shot", models.MailerJob{Enabled: false, OnceAt: &past}, false},
		{"cron job", models.MailerJob{Enabled: true, Cron: "0 8 * * *"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			note := staleOnceNote(&tt.job)
			if (note != "") != tt.wantNote {
				t.Errorf("staleOnceNote() = %q, wantNote %v", note, tt.wantNote)
			}
		})
	}
}

func TestScheduleFields(t *testing.T) {
	at := time.Date(2026, 6, 1, 10, 0, 0, 0, time.Local)

	tests := []struct {
		name     string
		job      models.MailerJob
		wantMode string
	}{
		{"one-shot", models.MailerJob{OnceAt: &at}, "once"},
		{"daily", models.MailerJob{Cron: "30 8 * * *"}, scheduler.ModeDaily},
		{"weekly", models.MailerJob{Cron: "0 9 * * 1"}, scheduler.ModeWeekly},
		{"monthly", models.MailerJob{Cron: "0 7 15 * *"}, scheduler.ModeMonthly},
		{"unrecognized", models.MailerJob{Cron: "*/5 * * * *"}, "custom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sf := scheduleFields(&tt.job)
			if sf.Mode != tt.wantMode {
				t.Errorf("scheduleFields() mode = %q, want %q", sf.Mode, tt.wantMode)
			}
		})
	}
}

func TestFillMemberFromForm(t *testing.T) {
	valid := url.Values{
		"first_name": {"Erika"},
		"last_name":  {"Mustermann"},
		"email":      {" Erika@Example.org "},
		"gender":     {"w"},
		"date1":      {"1990-03-15"},
		"date2":      {"2010-06-01"},
		"group_id":   {"3"},
	}

	t.Run("valid form", func(t *testing.T) {
		m := &models.Member{}
		msg := fillMemberFromForm(m, newFormRequest(valid))
		if msg != "" {
			t.Fatalf("fillMemberFromForm() = %q, want no error", msg)
		}
		if m.Email != "Erika@example.org" {
			t.Errorf("Email = %q, want domain-lowercased Erika@example.org", m.Email)
		}
		if m.Date1.Format("2006-01-02") != "1990-03-15" {
			t.Errorf("Date1 = %v", m.Date1)
		}
		if m.Date2 == nil || m.Date2.Format("2006-01-02") != "2010-06-01" {
			t.Errorf("Date2 = %v", m.Date2)
		}
		if m.GroupID == nil || *m.GroupID != 3 {
			t.Errorf("GroupID = %v, want 3", m.GroupID)
		}
	})

	t.Run("missing name", func(t *testing.T) {
		bad := cloneValues(valid)
		bad.Set("first_name", "")
		if msg := fillMemberFromForm(&models.Member{}, newFormRequest(bad)); msg == "" {
			t.Error("expected validation message for missing name")
		}
	})

	t.Run("bad email", func(t *testing.T) {
		bad := cloneValues(valid)
		bad.Set("email", "not-an-address")
		if msg := fillMemberFromForm(&models.Member{}, newFormRequest(bad)); msg == "" {
			t.Error("expected validation message for bad email")
		}
	})

	t.Run("bad date", func(t *testing.T) {
		bad := cloneValues(valid)
		bad.Set("date1", "15.03.1990")
		if msg := fillMemberFromForm(&models.Member{}, newFormRequest(bad)); msg == "" {
			t.Error("expected validation message for bad date")
		}
	})

	t.Run("optional date2 empty", func(t *testing.T) {
		form := cloneValues(valid)
		form.Set("date2", "")
		m := &models.Member{}
		if msg := fillMemberFromForm(m, newFormRequest(form)); msg != "" {
			t.Fatalf("fillMemberFromForm() = %q", msg)
		}
		if m.Date2 != nil {
			t.Errorf("Date2 = %v, want nil", m.Date2)
		}
	})
}

func TestFillJobFromForm(t *testing.T) {
	valid := url.Values{
		"name":          {"Geburtstagsgrüße"},
		"subject":       {"Alles Gute, {{VORNAME}}!"},
		"selection":     {"date1"},
		"enabled":       {"1"},
		"template_id":   {"2"},
		"schedule_mode": {"daily"},
		"hour":          {"8"},
		"minute":        {"30"},
	}

	t.Run("daily schedule", func(t *testing.T) {
		job := &models.MailerJob{}
		_, msg := fillJobFromForm(job, newFormRequest(valid))
		if msg != "" {
			t.Fatalf("fillJobFromForm() = %q, want no error", msg)
		}
		if job.Cron != "30 8 * * *" {
			t.Errorf("Cron = %q, want %q", job.Cron, "30 8 * * *")
		}
		if job.OnceAt != nil {
			t.Error("OnceAt should be nil for cron schedules")
		}
		if !job.Enabled {
			t.Error("Enabled should be true")
		}
	})

	t.Run("once schedule", func(t *testing.T) {
		form := cloneValues(valid)
		form.Set("schedule_mode", "once")
		form.Set("once_at", "2026-12-24T18:00")
		job := &models.MailerJob{}
		_, msg := fillJobFromForm(job, newFormRequest(form))
		if msg != "" {
			t.Fatalf("fillJobFromForm() = %q", msg)
		}
		if job.OnceAt == nil {
			t.Fatal("OnceAt should be set")
		}
		if job.Cron != "" {
			t.Errorf("Cron = %q, want empty", job.Cron)
		}
	})

	t.Run("custom cron", func(t *testing.T) {
		form := cloneValues(valid)
		form.Set("schedule_mode", "custom")
		form.Set("cron", "0 6 1 1 *")
		job := &models.MailerJob{}
		if _, msg := fillJobFromForm(job, newFormRequest(form)); msg != "" {
			t.Fatalf("fillJobFromForm() = %q", msg)
		}
		if job.Cron != "0 6 1 1 *" {
			t.Errorf("Cron = %q", job.Cron)
		}
	})

	t.Run("invalid custom cron", func(t *testing.T) {
		form := cloneValues(valid)
		form.Set("schedule_mode", "custom")
		form.Set("cron", "not a cron")
		if _, msg := fillJobFromForm(&models.MailerJob{}, newFormRequest(form)); msg == "" {
			t.Error("expected validation message for bad cron")
		}
	})

	t.Run("missing template", func(t *testing.T) {
		form := cloneValues(valid)
		form.Set("template_id", "")
		if _, msg := fillJobFromForm(&models.MailerJob{}, newFormRequest(form)); msg == "" {
			t.Error("expected validation message for missing template")
		}
	})

	t.Run("bad selection", func(t *testing.T) {
		form := cloneValues(valid)
		form.Set("selection", "everyone")
		if _, msg := fillJobFromForm(&models.MailerJob{}, newFormRequest(form)); msg == "" {
			t.Error("expected validation message for bad selection")
		}
	})
}

func newFormRequest(values url.Values) *http.Request {
	r := httptest.NewRequest("POST", "/", strings.NewReader(values.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
