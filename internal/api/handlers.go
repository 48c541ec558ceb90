package api

import (
	"net/http"
	"time"

	"github.com/foxzi/gratulo/internal/models"
)

// handleMailerStatus handles GET /api/v1/mailer/status.
func (s *Server) handleMailerStatus(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.deps.Drainer.Status(r.Context()))
}

// handleMailerDrain handles POST /api/v1/mailer/drain. The pass runs
// inline; Drain coalesces with a concurrent interval pass.
func (s *Server) handleMailerDrain(w http.ResponseWriter, r *http.Request) {
	s.deps.Drainer.Drain(r.Context())
	s.sendJSON(w, http.StatusOK, s.deps.Drainer.Status(r.Context()))
}

// handleTemplateList handles GET /api/v1/templates.
func (s *Server) handleTemplateList(w http.ResponseWriter, r *http.Request) {
	templates, err := s.deps.Templates.List()
	if err != nil {
		s.logger.Error("failed to list templates", "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to list templates")
		return
	}
	s.sendJSON(w, http.StatusOK, templates)
}

type jobResponse struct {
	models.MailerJob
	NextRun *time.Time `json:"next_run,omitempty"`
}

// handleJobList handles GET /api/v1/jobs.
func (s *Server) handleJobList(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.deps.Jobs.List()
	if err != nil {
		s.logger.Error("failed to list jobs", "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	nextRuns := s.deps.Scheduler.NextRuns()
	out := make([]jobResponse, len(jobs))
	for i, job := range jobs {
		out[i] = jobResponse{MailerJob: job}
		if at, ok := nextRuns[job.ID]; ok {
			t := at
			out[i].NextRun = &t
		}
	}

	s.sendJSON(w, http.StatusOK, out)
}

// handleJobRun handles POST /api/v1/jobs/{id}/run. The run is synchronous
// and the response carries the execution log.
func (s *Server) handleJobRun(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	runLog, err := s.deps.Mailer.RunJob(r.Context(), id, time.Now())
	if err != nil {
		s.logger.Error("job run failed", "job_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "job run failed")
		return
	}
	if runLog.Status == models.JobStatusJobNotFound {
		s.sendError(w, http.StatusNotFound, "job not found")
		return
	}

	s.sendJSON(w, http.StatusOK, runLog)
}
