package handlers

import (
	"net/http"

	"github.com/foxzi/gratulo/internal/queue"
)

// sendLogLimit caps the send log shown on the queue page.
const sendLogLimit = 50

// QueuePage shows the dispatcher status, pending and failed mails and
// the recent send log.
func (h *Handlers) QueuePage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	pending, err := h.cfg.Queue.List(ctx, queue.ListFilter{Status: queue.StatusPending, Limit: pageSize})
	if err != nil {
		h.serverError(w, err)
		return
	}
	failed, err := h.cfg.Queue.List(ctx, queue.ListFilter{Status: queue.StatusFailed, Limit: pageSize})
	if err != nil {
		h.serverError(w, err)
		return
	}
	sendLog, err := h.cfg.Queue.RecentLog(ctx, sendLogLimit)
	if err != nil {
		h.serverError(w, err)
		return
	}

	h.render(w, r, http.StatusOK, "queue", map[string]any{
		"Title":   "Warteschlange",
		"Active":  "queue",
		"Status":  h.cfg.Drainer.Status(ctx),
		"Pending": pending,
		"Failed":  failed,
		"SendLog": sendLog,
	})
}

// QueueStatus serves the status payload the countdown script polls.
func (h *Handlers) QueueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cfg.Drainer.Status(r.Context()))
}

// QueueDrain kicks off a dispatch pass outside the interval.
func (h *Handlers) QueueDrain(w http.ResponseWriter, r *http.Request) {
	// Drain coalesces with a running pass, so firing it directly is safe.
	h.cfg.Drainer.Drain(r.Context())
	h.redirect(w, r, "/queue", "Versand angestoßen.")
}

// QueueRetry moves a failed mail back into the pending queue.
func (h *Handlers) QueueRetry(w http.ResponseWriter, r *http.Request) {
	if err := h.cfg.Queue.Retry(r.Context(), r.PathValue("id")); err != nil {
		h.redirectError(w, r, "/queue", "Erneutes Einreihen fehlgeschlagen.")
		return
	}
	h.redirect(w, r, "/queue", "Mail erneut eingereiht.")
}

// QueueDelete discards a stored mail.
func (h *Handlers) QueueDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.cfg.Queue.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.redirectError(w, r, "/queue", "Löschen fehlgeschlagen.")
		return
	}
	h.redirect(w, r, "/queue", "Mail verworfen.")
}
