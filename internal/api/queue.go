package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/gratulo/internal/queue"
)

// messageSummary is a queue message without its rendered body.
type messageSummary struct {
	ID        string    `json:"id"`
	MemberID  int64     `json:"member_id,omitempty"`
	JobID     int64     `json:"job_id,omitempty"`
	Field     string    `json:"field,omitempty"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type queueListResponse struct {
	Stats    *queue.Stats     `json:"stats"`
	Pending  []messageSummary `json:"pending"`
	Failed   []messageSummary `json:"failed"`
}

// handleQueueList handles GET /api/v1/queue.
func (s *Server) handleQueueList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := s.deps.Queue.Stats(ctx)
	if err != nil {
		s.logger.Error("failed to read queue stats", "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to read queue stats")
		return
	}

	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	pending, err := s.deps.Queue.List(ctx, queue.ListFilter{Status: queue.StatusPending, Limit: limit})
	if err != nil {
		s.logger.Error("failed to list pending messages", "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	failed, err := s.deps.Queue.List(ctx, queue.ListFilter{Status: queue.StatusFailed, Limit: limit})
	if err != nil {
		s.logger.Error("failed to list failed messages", "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}

	s.sendJSON(w, http.StatusOK, queueListResponse{
		Stats:   stats,
		Pending: summarize(pending),
		Failed:  summarize(failed),
	})
}

// handleQueueLog handles GET /api/v1/queue/log.
func (s *Server) handleQueueLog(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := s.deps.Queue.RecentLog(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to read send log", "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to read send log")
		return
	}

	s.sendJSON(w, http.StatusOK, entries)
}

// handleQueueRetry handles POST /api/v1/queue/{id}/retry.
func (s *Server) handleQueueRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	msg, err := s.deps.Queue.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to load message", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to load message")
		return
	}
	if msg == nil {
		s.sendError(w, http.StatusNotFound, "message not found")
		return
	}
	if msg.Status != queue.StatusFailed {
		s.sendError(w, http.StatusConflict, "only failed messages can be retried")
		return
	}

	if err := s.deps.Queue.Retry(r.Context(), id); err != nil {
		s.logger.Error("failed to retry message", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to retry message")
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(queue.StatusPending)})
}

// handleQueueDelete handles DELETE /api/v1/queue/{id}.
func (s *Server) handleQueueDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	msg, err := s.deps.Queue.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to load message", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to load message")
		return
	}
	if msg == nil {
		s.sendError(w, http.StatusNotFound, "message not found")
		return
	}

	if err := s.deps.Queue.Delete(r.Context(), id); err != nil {
		s.logger.Error("failed to delete message", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to delete message")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func summarize(messages []*queue.Message) []messageSummary {
	out := make([]messageSummary, len(messages))
	for i, m := range messages {
		out[i] = messageSummary{
			ID:        m.ID,
			MemberID:  m.MemberID,
			JobID:     m.JobID,
			Field:     m.Field,
			To:        m.To,
			Subject:   m.Subject,
			Status:    string(m.Status),
			Attempts:  m.Attempts,
			LastError: m.LastError,
			CreatedAt: m.CreatedAt,
		}
	}
	return out
}
