package handlers

import (
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/foxzi/gratulo/internal/models"
	"github.com/foxzi/gratulo/internal/web/middleware"
)

// LoginPage shows the login form. A valid session skips straight to the
// dashboard.
func (h *Handlers) LoginPage(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.SessionCookie); err == nil {
		if session, err := h.cfg.Users.GetSession(cookie.Value); err == nil && session != nil {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
	}
	h.renderLogin(w, r, "", "")
}

func (h *Handlers) renderLogin(w http.ResponseWriter, r *http.Request, email, errMsg string) {
	h.render(w, r, http.StatusOK, "login", map[string]any{
		"Title":       "Anmelden",
		"Email":       email,
		"Error":       errMsg,
		"OIDCEnabled": h.cfg.OIDC != nil,
	})
}

// Login checks the credentials and starts a session.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	email := r.FormValue("email")
	password := r.FormValue("password")

	user, err := h.cfg.Users.GetByEmail(email)
	if err != nil {
		h.serverError(w, err)
		return
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		h.logger.Warn("login failed", "email", email)
		h.renderLogin(w, r, email, "E-Mail oder Passwort falsch.")
		return
	}

	h.startSession(w, r, user)
}

// Logout removes the session and its cookie.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.SessionCookie); err == nil {
		if err := h.cfg.Users.DeleteSession(cookie.Value); err != nil {
			h.logger.Warn("failed to delete session", "error", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
}

// OIDCLogin starts the OIDC flow.
func (h *Handlers) OIDCLogin(w http.ResponseWriter, r *http.Request) {
	if h.cfg.OIDC == nil {
		http.NotFound(w, r)
		return
	}
	authURL, _, err := h.cfg.OIDC.AuthCodeURL()
	if err != nil {
		h.serverError(w, err)
		return
	}
	http.Redirect(w, r, authURL, http.StatusSeeOther)
}

// OIDCCallback finishes the OIDC flow. Unknown users are created on the
// fly without a local password.
func (h *Handlers) OIDCCallback(w http.ResponseWriter, r *http.Request) {
	if h.cfg.OIDC == nil {
		http.NotFound(w, r)
		return
	}

	info, err := h.cfg.OIDC.Exchange(r.Context(), r.URL.Query().Get("state"), r.URL.Query().Get("code"))
	if err != nil {
		h.logger.Warn("oidc login failed", "error", err)
		h.renderLogin(w, r, "", "OIDC-Anmeldung fehlgeschlagen.")
		return
	}

	user, err := h.cfg.Users.GetByEmail(info.Email)
	if err != nil {
		h.serverError(w, err)
		return
	}
	if user == nil {
		user = &models.User{Email: info.Email, Name: info.Name}
		if err := h.cfg.Users.Create(user); err != nil {
			h.serverError(w, err)
			return
		}
		h.logger.Info("created user from oidc login", "email", info.Email)
	}

	h.startSession(w, r, user)
}

func (h *Handlers) startSession(w http.ResponseWriter, r *http.Request, user *models.User) {
	ttl := h.cfg.App.Auth.SessionTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	session, err := h.cfg.Users.CreateSession(user.ID, ttl)
	if err != nil {
		h.serverError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    session.ID,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.cfg.App.Server.TLS.Enabled,
	})

	h.logger.Info("user logged in", "email", user.Email)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
