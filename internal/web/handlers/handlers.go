// Package handlers implements the HTTP handlers of the web UI.
package handlers

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/foxzi/gratulo/internal/config"
	"github.com/foxzi/gratulo/internal/dnscheck"
	"github.com/foxzi/gratulo/internal/mailer"
	"github.com/foxzi/gratulo/internal/queue"
	"github.com/foxzi/gratulo/internal/repository"
	"github.com/foxzi/gratulo/internal/scheduler"
	"github.com/foxzi/gratulo/internal/web/auth"
	"github.com/foxzi/gratulo/internal/web/middleware"
	"github.com/foxzi/gratulo/internal/web/views"
)

// pageSize is the row count of paginated listings.
const pageSize = 50

// Config carries the dependencies of the web handlers.
type Config struct {
	Members   *repository.MemberRepository
	Groups    *repository.GroupRepository
	Templates *repository.TemplateRepository
	Jobs      *repository.JobRepository
	Users     *repository.UserRepository
	APIKeys   *repository.APIKeyRepository
	Settings  *repository.SettingsRepository

	Mailer    *mailer.Service
	Scheduler *scheduler.Scheduler
	Queue     queue.Queue
	Drainer   *queue.Drainer
	DNS       *dnscheck.Checker
	Views     *views.Engine
	OIDC      *auth.OIDCProvider
	App       *config.Config
	Logger    *slog.Logger
}

// Handlers bundles the web UI endpoints.
type Handlers struct {
	cfg    Config
	logger *slog.Logger
}

// New creates the handler set.
func New(cfg Config) *Handlers {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{cfg: cfg, logger: logger}
}

// Health reports liveness. It answers without authentication.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// render executes a page into a buffer first so template errors become a
// clean 500 instead of a torn response.
func (h *Handlers) render(w http.ResponseWriter, r *http.Request, status int, page string, data map[string]any) {
	if data == nil {
		data = make(map[string]any)
	}
	if _, ok := data["Title"]; !ok {
		data["Title"] = "gratulo"
	}
	if _, ok := data["Active"]; !ok {
		data["Active"] = ""
	}
	data["User"] = middleware.CurrentUser(r)
	if _, ok := data["Flash"]; !ok {
		data["Flash"] = r.URL.Query().Get("msg")
	}
	if _, ok := data["Error"]; !ok {
		data["Error"] = r.URL.Query().Get("err")
	}

	var buf bytes.Buffer
	if err := h.cfg.Views.Render(&buf, page, data); err != nil {
		h.logger.Error("template render failed", "page", page, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// redirect issues a see-other redirect, attaching msg as a flash.
func (h *Handlers) redirect(w http.ResponseWriter, r *http.Request, target, msg string) {
	if msg != "" {
		target += "?msg=" + url.QueryEscape(msg)
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// redirectError is redirect with the message shown as an error flash.
func (h *Handlers) redirectError(w http.ResponseWriter, r *http.Request, target, msg string) {
	if msg != "" {
		target += "?err=" + url.QueryEscape(msg)
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// serverError logs err and answers 500.
func (h *Handlers) serverError(w http.ResponseWriter, err error) {
	h.logger.Error("request failed", "error", err)
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}

// pathID parses the {id} path value as int64.
func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// pagination computes the page window for a one-based page parameter.
func pagination(r *http.Request, total int) (page, pages, offset int) {
	page = 1
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	pages = (total + pageSize - 1) / pageSize
	if pages < 1 {
		pages = 1
	}
	if page > pages {
		page = pages
	}
	offset = (page - 1) * pageSize
	return page, pages, offset
}
