package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/foxzi/gratulo/internal/models"
	"github.com/foxzi/gratulo/internal/scheduler"
)

// jobRow is one row of the job table.
type jobRow struct {
	models.MailerJob
	Schedule string
	NextRun  *time.Time
}

// JobList shows all jobs with their schedules and next runs.
func (h *Handlers) JobList(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.cfg.Jobs.List()
	if err != nil {
		h.serverError(w, err)
		return
	}

	nextRuns := h.cfg.Scheduler.NextRuns()
	rows := make([]jobRow, 0, len(jobs))
	for _, j := range jobs {
		row := jobRow{MailerJob: j}
		switch {
		case j.OnceAt != nil:
			row.Schedule = "einmalig am " + j.OnceAt.Format("02.01.2006 15:04")
			if j.Enabled && j.OnceAt.After(time.Now()) {
				row.NextRun = j.OnceAt
			}
		default:
			row.Schedule = scheduler.Describe(j.Cron)
			if at, ok := nextRuns[j.ID]; ok {
				t := at
				row.NextRun = &t
			}
		}
		rows = append(rows, row)
	}

	h.render(w, r, http.StatusOK, "jobs", map[string]any{
		"Title":  "Jobs",
		"Active": "jobs",
		"Jobs":   rows,
	})
}

// JobNew shows the empty job form.
func (h *Handlers) JobNew(w http.ResponseWriter, r *http.Request) {
	job := &models.MailerJob{Selection: models.SelectionDate1, Enabled: true}
	schedule := scheduler.SpecFields{Mode: scheduler.ModeDaily, Hour: 8, Weekday: 1, Day: 1}
	h.renderJobForm(w, r, job, schedule, "")
}

// JobEdit shows the form prefilled with an existing job.
func (h *Handlers) JobEdit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	job, err := h.cfg.Jobs.GetByID(id)
	if err != nil {
		h.serverError(w, err)
		return
	}
	if job == nil {
		http.NotFound(w, r)
		return
	}
	h.renderJobForm(w, r, job, scheduleFields(job), "")
}

// scheduleFields reverses a stored schedule into the builder view.
func scheduleFields(job *models.MailerJob) scheduler.SpecFields {
	if job.OnceAt != nil {
		return scheduler.SpecFields{Mode: "once", Hour: 8, Weekday: 1, Day: 1}
	}
	if sf, ok := scheduler.ParseSpec(job.Cron); ok {
		if sf.Mode != scheduler.ModeWeekly {
			sf.Weekday = 1
		}
		return sf
	}
	return scheduler.SpecFields{Mode: "custom", Hour: 8, Weekday: 1, Day: 1}
}

func (h *Handlers) renderJobForm(w http.ResponseWriter, r *http.Request, job *models.MailerJob, schedule scheduler.SpecFields, errMsg string) {
	templates, err := h.cfg.Templates.List()
	if err != nil {
		h.serverError(w, err)
		return
	}
	groups, err := h.cfg.Groups.List()
	if err != nil {
		h.serverError(w, err)
		return
	}
	h.render(w, r, http.StatusOK, "job_form", map[string]any{
		"Title":     "Job",
		"Active":    "jobs",
		"Job":       job,
		"Templates": templates,
		"Groups":    groups,
		"Schedule":  schedule,
		"Weekdays":  scheduler.Weekdays(),
		"Error":     errMsg,
	})
}

// JobCreate stores a new job and schedules it.
func (h *Handlers) JobCreate(w http.ResponseWriter, r *http.Request) {
	job := &models.MailerJob{}
	schedule, msg := fillJobFromForm(job, r)
	if msg != "" {
		h.renderJobForm(w, r, job, schedule, msg)
		return
	}
	if err := h.cfg.Jobs.Create(job); err != nil {
		h.serverError(w, err)
		return
	}
	if err := h.cfg.Scheduler.Register(job); err != nil {
		h.logger.Error("failed to schedule job", "job", job.ID, "error", err)
	}
	h.redirect(w, r, "/jobs", "Job "+job.Name+" angelegt."+staleOnceNote(job))
}

// JobUpdate stores changes to a job and reschedules it.
func (h *Handlers) JobUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	job, err := h.cfg.Jobs.GetByID(id)
	if err != nil {
		h.serverError(w, err)
		return
	}
	if job == nil {
		http.NotFound(w, r)
		return
	}

	schedule, msg := fillJobFromForm(job, r)
	if msg != "" {
		h.renderJobForm(w, r, job, schedule, msg)
		return
	}
	if err := h.cfg.Jobs.Update(job); err != nil {
		h.serverError(w, err)
		return
	}
	if err := h.cfg.Scheduler.Register(job); err != nil {
		h.logger.Error("failed to schedule job", "job", job.ID, "error", err)
	}
	h.redirect(w, r, "/jobs", "Job gespeichert."+staleOnceNote(job))
}

// staleOnceNote warns when a one-shot job is already in the past and
// will therefore never fire.
func staleOnceNote(job *models.MailerJob) string {
	if job.Enabled && job.OnceAt != nil && !job.OnceAt.After(time.Now()) {
		return " Der Zeitpunkt liegt in der Vergangenheit, der Job wird nicht ausgeführt."
	}
	return ""
}

// JobDelete removes a job and its schedule. Logged runs survive.
func (h *Handlers) JobDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if err := h.cfg.Jobs.Delete(id); err != nil {
		h.serverError(w, err)
		return
	}
	h.cfg.Scheduler.Unregister(id)
	h.redirect(w, r, "/jobs", "Job gelöscht.")
}

// JobRun executes a job right now, outside its schedule.
func (h *Handlers) JobRun(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	log, err := h.cfg.Mailer.RunJob(r.Context(), id, time.Now())
	if err != nil {
		h.serverError(w, err)
		return
	}
	h.redirect(w, r, "/logs?job="+strconv.FormatInt(id, 10), "Job ausgeführt: "+log.Details)
}

// JobToggle flips the enabled flag and syncs the schedule.
func (h *Handlers) JobToggle(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	job, err := h.cfg.Jobs.GetByID(id)
	if err != nil {
		h.serverError(w, err)
		return
	}
	if job == nil {
		http.NotFound(w, r)
		return
	}

	if err := h.cfg.Jobs.SetEnabled(id, !job.Enabled); err != nil {
		h.serverError(w, err)
		return
	}
	job.Enabled = !job.Enabled
	if err := h.cfg.Scheduler.Register(job); err != nil {
		h.logger.Error("failed to schedule job", "job", job.ID, "error", err)
	}

	msg := "Job deaktiviert."
	if job.Enabled {
		msg = "Job aktiviert."
	}
	h.redirect(w, r, "/jobs", msg)
}

// fillJobFromForm populates job from the submitted form. It returns the
// schedule builder state for re-rendering plus a German validation
// message, empty on success.
func fillJobFromForm(job *models.MailerJob, r *http.Request) (scheduler.SpecFields, string) {
	job.Name = strings.TrimSpace(r.FormValue("name"))
	job.Subject = strings.TrimSpace(r.FormValue("subject"))
	job.Selection = r.FormValue("selection")
	job.Enabled = r.FormValue("enabled") == "1"

	sf := scheduler.SpecFields{
		Mode:    r.FormValue("schedule_mode"),
		Weekday: 1,
		Day:     1,
	}
	sf.Hour, _ = strconv.Atoi(r.FormValue("hour"))
	sf.Minute, _ = strconv.Atoi(r.FormValue("minute"))
	if v, err := strconv.Atoi(r.FormValue("weekday")); err == nil {
		sf.Weekday = v
	}
	if v, err := strconv.Atoi(r.FormValue("day")); err == nil {
		sf.Day = v
	}

	if job.Name == "" {
		return sf, "Der Name darf nicht leer sein."
	}

	tid, err := strconv.ParseInt(r.FormValue("template_id"), 10, 64)
	if err != nil || tid <= 0 {
		return sf, "Bitte eine Vorlage auswählen."
	}
	job.TemplateID = tid

	if !models.ValidSelection(job.Selection) {
		return sf, "Ungültige Auswahl."
	}

	job.GroupID = nil
	if v := r.FormValue("group_id"); v != "" {
		gid, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return sf, "Ungültige Gruppe."
		}
		job.GroupID = &gid
	}

	switch sf.Mode {
	case scheduler.ModeDaily, scheduler.ModeWeekly, scheduler.ModeMonthly:
		spec, err := scheduler.BuildSpec(sf.Mode, sf.Hour, sf.Minute, sf.Weekday, sf.Day)
		if err != nil {
			return sf, "Ungültiger Zeitplan."
		}
		job.Cron = spec
		job.OnceAt = nil
	case "once":
		at, err := time.ParseInLocation("2006-01-02T15:04", r.FormValue("once_at"), time.Local)
		if err != nil {
			return sf, "Bitte einen Zeitpunkt angeben."
		}
		job.OnceAt = &at
		job.Cron = ""
	case "custom":
		spec := strings.TrimSpace(r.FormValue("cron"))
		if err := scheduler.Validate(spec); err != nil {
			return sf, "Ungültiger Cron-Ausdruck."
		}
		job.Cron = spec
		job.OnceAt = nil
	default:
		return sf, "Ungültiger Zeitplan."
	}

	return sf, ""
}
