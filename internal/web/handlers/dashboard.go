package handlers

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/foxzi/gratulo/internal/dates"
	"github.com/foxzi/gratulo/internal/models"
)

// nextRunView is one upcoming scheduled run on the dashboard.
type nextRunView struct {
	JobID   int64
	JobName string
	At      time.Time
}

// upcomingDateView is one member date due within the dashboard's
// look-ahead window.
type upcomingDateView struct {
	Date   time.Time
	Name   string
	Label  string
	Detail string
	Round  bool
}

// upcomingDays is the dashboard's look-ahead window, today included.
const upcomingDays = 7

// upcomingLimit caps the date rows shown on the dashboard.
const upcomingLimit = 20

// Dashboard shows the counts, queue status and recent activity.
func (h *Handlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	memberCount, err := h.cfg.Members.Count()
	if err != nil {
		h.serverError(w, err)
		return
	}
	groups, err := h.cfg.Groups.List()
	if err != nil {
		h.serverError(w, err)
		return
	}
	templates, err := h.cfg.Templates.List()
	if err != nil {
		h.serverError(w, err)
		return
	}
	jobs, err := h.cfg.Jobs.List()
	if err != nil {
		h.serverError(w, err)
		return
	}
	logs, _, err := h.cfg.Jobs.ListLogs(0, 10, 0)
	if err != nil {
		h.serverError(w, err)
		return
	}
	members, err := h.cfg.Members.ListActive()
	if err != nil {
		h.serverError(w, err)
		return
	}

	upcoming := upcomingDates(members, h.cfg.App.DateFields(), time.Now())
	if len(upcoming) > upcomingLimit {
		upcoming = upcoming[:upcomingLimit]
	}

	jobNames := make(map[int64]string, len(jobs))
	for _, j := range jobs {
		jobNames[j.ID] = j.Name
	}

	var nextRuns []nextRunView
	for id, at := range h.cfg.Scheduler.NextRuns() {
		nextRuns = append(nextRuns, nextRunView{JobID: id, JobName: jobNames[id], At: at})
	}
	sort.Slice(nextRuns, func(i, j int) bool { return nextRuns[i].At.Before(nextRuns[j].At) })
	if len(nextRuns) > 5 {
		nextRuns = nextRuns[:5]
	}

	h.render(w, r, http.StatusOK, "dashboard", map[string]any{
		"Title":         "Dashboard",
		"Active":        "dashboard",
		"MemberCount":   memberCount,
		"GroupCount":    len(groups),
		"TemplateCount": len(templates),
		"JobCount":      len(jobs),
		"QueueStatus":   h.cfg.Drainer.Status(r.Context()),
		"RecentLogs":    logs,
		"NextRuns":      nextRuns,
		"Upcoming":      upcoming,
	})
}

// upcomingDates scans the look-ahead window day by day and collects every
// member date that classifies as due, in day order.
func upcomingDates(members []models.Member, fields [2]dates.Field, from time.Time) []upcomingDateView {
	var out []upcomingDateView
	for offset := 0; offset < upcomingDays; offset++ {
		day := from.AddDate(0, 0, offset)
		for i := range members {
			m := &members[i]
			for _, f := range fields {
				value, ok := memberFieldDate(m, f.Key)
				if !ok {
					continue
				}
				c := dates.Classify(value, day, f)
				if !c.Due {
					continue
				}
				out = append(out, upcomingDateView{
					Date:   day,
					Name:   m.FullName(),
					Label:  f.Label,
					Detail: classificationDetail(f.Kind, c),
					Round:  c.Round,
				})
			}
		}
	}
	return out
}

// memberFieldDate resolves a field key to the member's stored date.
func memberFieldDate(m *models.Member, key string) (time.Time, bool) {
	switch key {
	case "date1":
		return m.Date1, !m.Date1.IsZero()
	case "date2":
		if m.Date2 == nil {
			return time.Time{}, false
		}
		return *m.Date2, true
	}
	return time.Time{}, false
}

// classificationDetail renders the elapsed count for a due date. The zeroth
// occurrence is the entered date itself and gets no count.
func classificationDetail(kind dates.Kind, c dates.Classification) string {
	if kind == dates.KindEvent {
		if c.Occurrence == 0 {
			return ""
		}
		return fmt.Sprintf("zum %d. Mal", c.Occurrence)
	}
	if c.Years == 0 {
		return ""
	}
	return fmt.Sprintf("%d Jahre", c.Years)
}
