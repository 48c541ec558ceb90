// Package api exposes the JSON API under /api/v1. It is mounted into the
// web listener; requests authenticate with an API key instead of a
// session, optionally narrowed by an IP allowlist.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/gratulo/internal/ipfilter"
	"github.com/foxzi/gratulo/internal/mailer"
	"github.com/foxzi/gratulo/internal/queue"
	"github.com/foxzi/gratulo/internal/repository"
	"github.com/foxzi/gratulo/internal/scheduler"
)

// Deps carries everything the API serves from.
type Deps struct {
	Members    *repository.MemberRepository
	Groups     *repository.GroupRepository
	Templates  *repository.TemplateRepository
	Jobs       *repository.JobRepository
	Keys       *repository.APIKeyRepository
	Mailer     *mailer.Service
	Scheduler  *scheduler.Scheduler
	Queue      queue.Queue
	Drainer    *queue.Drainer
	AllowedIPs []string
	Logger     *slog.Logger
}

// Server is the API router. It handles the full /api/v1 path space and is
// meant to be mounted into an outer mux.
type Server struct {
	router *chi.Mux
	deps   Deps
	filter *ipfilter.Filter
	logger *slog.Logger
}

// New builds the API router. The allowlist is parsed strictly; a
// malformed entry is a startup error.
func New(deps Deps) (*Server, error) {
	filter, err := ipfilter.New(deps.AllowedIPs)
	if err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router: chi.NewRouter(),
		deps:   deps,
		filter: filter,
		logger: logger,
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(chimw.Recoverer)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.allowIP)

		// Status stays key-free; the countdown widget and monitoring
		// poll it.
		r.Get("/mailer/status", s.handleMailerStatus)

		r.Group(func(r chi.Router) {
			r.Use(s.requireKey)

			r.Post("/mailer/drain", s.handleMailerDrain)

			r.Route("/members", func(r chi.Router) {
				r.Get("/", s.handleMemberList)
				r.Post("/", s.handleMemberCreate)
				r.Get("/{id}", s.handleMemberGet)
				r.Put("/{id}", s.handleMemberUpdate)
				r.Delete("/{id}", s.handleMemberDelete)
			})

			r.Route("/groups", func(r chi.Router) {
				r.Get("/", s.handleGroupList)
				r.Post("/", s.handleGroupCreate)
				r.Get("/{id}", s.handleGroupGet)
				r.Put("/{id}", s.handleGroupUpdate)
				r.Delete("/{id}", s.handleGroupDelete)
			})

			r.Get("/templates", s.handleTemplateList)

			r.Get("/jobs", s.handleJobList)
			r.Post("/jobs/{id}/run", s.handleJobRun)

			r.Route("/queue", func(r chi.Router) {
				r.Get("/", s.handleQueueList)
				r.Get("/log", s.handleQueueLog)
				r.Post("/{id}/retry", s.handleQueueRetry)
				r.Delete("/{id}", s.handleQueueDelete)
			})
		})
	})
}

// ServeHTTP makes the server mountable as a plain handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, errorResponse{Error: message})
}
