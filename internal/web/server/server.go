// Package server assembles the web UI: routes, middleware chain and the
// HTTP listener with optional TLS.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/foxzi/gratulo/internal/config"
	gratulotls "github.com/foxzi/gratulo/internal/tls"
	"github.com/foxzi/gratulo/internal/web/handlers"
	"github.com/foxzi/gratulo/internal/web/middleware"
	"github.com/foxzi/gratulo/internal/web/static"
)

// Server is the web UI listener.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	http   *http.Server
	acme   *gratulotls.ACMEManager
}

// New wires the handler set into routes and prepares the listener. The
// api handler owns the /api/v1 path space and may be nil when the JSON
// API is disabled.
func New(deps handlers.Config, api http.Handler) (*Server, error) {
	s := &Server{
		cfg:    deps.App,
		logger: deps.Logger,
	}

	s.http = &http.Server{
		Addr:         s.cfg.Server.ListenAddr,
		Handler:      s.routes(handlers.New(deps), deps, api),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if err := s.setupTLS(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) routes(h *handlers.Handlers, deps handlers.Config, api http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /static/", static.Handler())

	// The countdown widget polls this; monitoring may too. No session.
	mux.HandleFunc("GET /queue/status.json", h.QueueStatus)

	// The API authenticates with keys, not sessions.
	if api != nil {
		mux.Handle("/api/v1/", api)
	}

	mux.HandleFunc("GET /auth/login", h.LoginPage)
	mux.HandleFunc("POST /auth/login", h.Login)
	mux.HandleFunc("POST /auth/logout", h.Logout)
	mux.HandleFunc("GET /auth/oidc", h.OIDCLogin)
	mux.HandleFunc("GET /auth/callback", h.OIDCCallback)

	protected := http.NewServeMux()

	protected.HandleFunc("GET /{$}", h.Dashboard)

	protected.HandleFunc("GET /members", h.MemberList)
	protected.HandleFunc("GET /members/new", h.MemberNew)
	protected.HandleFunc("POST /members", h.MemberCreate)
	protected.HandleFunc("GET /members/import", h.MemberImportPage)
	protected.HandleFunc("POST /members/import", h.MemberImport)
	protected.HandleFunc("GET /members/export", h.MemberExport)
	protected.HandleFunc("GET /members/{id}", h.MemberEdit)
	protected.HandleFunc("PUT /members/{id}", h.MemberUpdate)
	protected.HandleFunc("DELETE /members/{id}", h.MemberDelete)

	protected.HandleFunc("GET /groups", h.GroupList)
	protected.HandleFunc("POST /groups", h.GroupCreate)
	protected.HandleFunc("GET /groups/{id}", h.GroupEdit)
	protected.HandleFunc("PUT /groups/{id}", h.GroupUpdate)
	protected.HandleFunc("DELETE /groups/{id}", h.GroupDelete)

	protected.HandleFunc("GET /templates", h.TemplateList)
	protected.HandleFunc("GET /templates/new", h.TemplateNew)
	protected.HandleFunc("POST /templates", h.TemplateCreate)
	protected.HandleFunc("POST /templates/preview", h.TemplatePreview)
	protected.HandleFunc("POST /templates/test", h.TemplateTest)
	protected.HandleFunc("GET /templates/{id}", h.TemplateEdit)
	protected.HandleFunc("PUT /templates/{id}", h.TemplateUpdate)
	protected.HandleFunc("DELETE /templates/{id}", h.TemplateDelete)

	protected.HandleFunc("GET /jobs", h.JobList)
	protected.HandleFunc("GET /jobs/new", h.JobNew)
	protected.HandleFunc("POST /jobs", h.JobCreate)
	protected.HandleFunc("GET /jobs/{id}", h.JobEdit)
	protected.HandleFunc("PUT /jobs/{id}", h.JobUpdate)
	protected.HandleFunc("DELETE /jobs/{id}", h.JobDelete)
	protected.HandleFunc("POST /jobs/{id}/run", h.JobRun)
	protected.HandleFunc("POST /jobs/{id}/toggle", h.JobToggle)

	protected.HandleFunc("GET /logs", h.LogList)

	protected.HandleFunc("GET /queue", h.QueuePage)
	protected.HandleFunc("POST /queue/drain", h.QueueDrain)
	protected.HandleFunc("POST /queue/retry/{id}", h.QueueRetry)
	protected.HandleFunc("DELETE /queue/messages/{id}", h.QueueDelete)

	protected.HandleFunc("GET /settings", h.SettingsPage)
	protected.HandleFunc("POST /settings/smtp", h.SettingsSMTP)
	protected.HandleFunc("POST /settings/test-mail", h.SettingsTestMail)
	protected.HandleFunc("POST /settings/dns-check", h.SettingsDNSCheck)
	protected.HandleFunc("POST /settings/api-keys", h.APIKeyCreate)
	protected.HandleFunc("DELETE /settings/api-keys/{id}", h.APIKeyDelete)
	protected.HandleFunc("POST /settings/users", h.UserCreate)
	protected.HandleFunc("DELETE /settings/users/{id}", h.UserDelete)

	authGate := middleware.Auth(deps.Users, deps.Logger)
	mux.Handle("/", authGate(protected))

	handler := middleware.MethodOverride(mux)
	handler = middleware.Logger(deps.Logger)(handler)
	handler = middleware.Recovery(deps.Logger)(handler)
	return handler
}

func (s *Server) setupTLS() error {
	tlsCfg := s.cfg.Server.TLS
	if !tlsCfg.Enabled {
		return nil
	}

	if tlsCfg.ACME.Enabled {
		s.acme = gratulotls.NewACMEManager(tlsCfg.ACME.Email, tlsCfg.ACME.Domains, tlsCfg.ACME.CacheDir)
		s.http.TLSConfig = s.acme.TLSConfig()
		return nil
	}

	cfg, err := gratulotls.LoadCertificate(tlsCfg.CertFile, tlsCfg.KeyFile)
	if err != nil {
		return err
	}
	s.http.TLSConfig = cfg
	return nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	// ACME needs port 80 for http-01 challenges; everything else on it
	// is redirected to HTTPS.
	var challenge *http.Server
	if s.acme != nil {
		challenge = &http.Server{Addr: ":80", Handler: s.acme.HTTPHandler(nil)}
		go func() {
			if err := challenge.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("acme challenge listener failed", "error", err)
			}
		}()
	}

	go func() {
		s.logger.Info("web server listening",
			"addr", s.cfg.Server.ListenAddr,
			"tls", s.cfg.Server.TLS.Enabled)
		if s.http.TLSConfig != nil {
			errCh <- s.http.ListenAndServeTLS("", "")
		} else {
			errCh <- s.http.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if challenge != nil {
			_ = challenge.Shutdown(shutdownCtx)
		}
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("web server shutdown failed", "error", err)
		}
		return nil
	}
}
