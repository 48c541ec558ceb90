package handlers

import (
	"net/http"
	"strconv"
)

// LogList shows the job execution log, optionally filtered by job.
func (h *Handlers) LogList(w http.ResponseWriter, r *http.Request) {
	var jobID int64
	if v, err := strconv.ParseInt(r.URL.Query().Get("job"), 10, 64); err == nil {
		jobID = v
	}

	// Probe for the total first; the page window depends on it.
	_, total, err := h.cfg.Jobs.ListLogs(jobID, 1, 0)
	if err != nil {
		h.serverError(w, err)
		return
	}
	page, pages, offset := pagination(r, total)

	logs, _, err := h.cfg.Jobs.ListLogs(jobID, pageSize, offset)
	if err != nil {
		h.serverError(w, err)
		return
	}
	jobs, err := h.cfg.Jobs.List()
	if err != nil {
		h.serverError(w, err)
		return
	}

	h.render(w, r, http.StatusOK, "job_logs", map[string]any{
		"Title":    "Protokoll",
		"Active":   "logs",
		"Logs":     logs,
		"Jobs":     jobs,
		"JobID":    jobID,
		"Total":    total,
		"Page":     page,
		"Pages":    pages,
		"PrevPage": page - 1,
		"NextPage": page + 1,
	})
}
