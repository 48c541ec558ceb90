package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/foxzi/gratulo/internal/dnscheck"
	"github.com/foxzi/gratulo/internal/email"
	"github.com/foxzi/gratulo/internal/models"
	"github.com/foxzi/gratulo/internal/web/middleware"
)

// testMailBody is the fixed content of the settings page test mail.
const testMailBody = `<p>Diese Testmail wurde über die Einstellungen von gratulo verschickt.</p>
<p>Wenn sie ankommt, ist der SMTP-Versand korrekt konfiguriert.</p>`

// settingsData loads everything the settings page shows. Callers add
// their own keys on top.
func (h *Handlers) settingsData(r *http.Request) (map[string]any, error) {
	smtp, err := h.cfg.Settings.GetSMTP()
	if err != nil {
		return nil, err
	}
	keys, err := h.cfg.APIKeys.List()
	if err != nil {
		return nil, err
	}
	users, err := h.cfg.Users.List()
	if err != nil {
		return nil, err
	}

	currentID := ""
	if u := middleware.CurrentUser(r); u != nil {
		currentID = u.ID
	}

	return map[string]any{
		"Title":         "Einstellungen",
		"Active":        "settings",
		"SMTP":          smtp,
		"DNSDomain":     email.ExtractDomain(smtp.From),
		"APIKeys":       keys,
		"Users":         users,
		"CurrentUserID": currentID,
	}, nil
}

// SettingsPage shows SMTP, DNS check, API keys and users.
func (h *Handlers) SettingsPage(w http.ResponseWriter, r *http.Request) {
	data, err := h.settingsData(r)
	if err != nil {
		h.serverError(w, err)
		return
	}
	h.render(w, r, http.StatusOK, "settings", data)
}

// SettingsSMTP stores the relay configuration. An empty password keeps
// the stored one.
func (h *Handlers) SettingsSMTP(w http.ResponseWriter, r *http.Request) {
	current, err := h.cfg.Settings.GetSMTP()
	if err != nil {
		h.serverError(w, err)
		return
	}

	port := current.Port
	if v, err := strconv.Atoi(r.FormValue("port")); err == nil && v > 0 && v < 65536 {
		port = v
	}

	from := strings.TrimSpace(r.FormValue("from"))
	if from != "" {
		if err := email.Validate(from); err != nil {
			h.redirectError(w, r, "/settings", "Ungültige Absenderadresse.")
			return
		}
	}
	selector := strings.TrimSpace(r.FormValue("dkim_selector"))
	if err := dnscheck.ValidateSelector(selector); err != nil {
		h.redirectError(w, r, "/settings", "Ungültiger DKIM-Selector.")
		return
	}

	password := r.FormValue("password")
	if password == "" {
		password = current.Password
	}

	settings := &models.SMTPSettings{
		Host:         strings.TrimSpace(r.FormValue("host")),
		Port:         port,
		Username:     strings.TrimSpace(r.FormValue("username")),
		Password:     password,
		Encryption:   r.FormValue("encryption"),
		From:         from,
		FromName:     strings.TrimSpace(r.FormValue("from_name")),
		DKIMSelector: selector,
		DKIMKeyFile:  strings.TrimSpace(r.FormValue("dkim_key_file")),
	}

	if err := h.cfg.Settings.SaveSMTP(settings); err != nil {
		h.serverError(w, err)
		return
	}
	h.logger.Info("smtp settings saved", "host", settings.Host, "from", settings.From)
	h.redirect(w, r, "/settings", "SMTP-Einstellungen gespeichert.")
}

// SettingsTestMail sends a fixed test mail to one address.
func (h *Handlers) SettingsTestMail(w http.ResponseWriter, r *http.Request) {
	to := strings.TrimSpace(r.FormValue("to"))
	if err := h.cfg.Mailer.SendTest(r.Context(), to, "gratulo Testmail", testMailBody); err != nil {
		h.logger.Warn("test mail failed", "to", to, "error", err)
		h.redirectError(w, r, "/settings", "Testmail fehlgeschlagen: "+err.Error())
		return
	}
	h.redirect(w, r, "/settings", "Testmail an "+to+" gesendet.")
}

// SettingsDNSCheck runs the deliverability checks and renders the
// results inline.
func (h *Handlers) SettingsDNSCheck(w http.ResponseWriter, r *http.Request) {
	domain := strings.TrimSpace(r.FormValue("domain"))
	selector := strings.TrimSpace(r.FormValue("selector"))

	data, err := h.settingsData(r)
	if err != nil {
		h.serverError(w, err)
		return
	}
	data["DNSDomain"] = domain

	if err := dnscheck.ValidateDomain(domain); err != nil {
		data["Error"] = "Ungültige Domain."
		h.render(w, r, http.StatusOK, "settings", data)
		return
	}

	report, err := h.cfg.DNS.Check(r.Context(), domain, dnscheck.Options{
		MX: true, SPF: true, DKIM: selector != "", DMARC: true, Selector: selector,
	})
	if err != nil {
		h.serverError(w, err)
		return
	}
	data["DNSReport"] = report
	h.render(w, r, http.StatusOK, "settings", data)
}

// APIKeyCreate mints a key and shows it once.
func (h *Handlers) APIKeyCreate(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		h.redirectError(w, r, "/settings", "Der Name darf nicht leer sein.")
		return
	}

	result, err := h.cfg.APIKeys.Create(name)
	if err != nil {
		h.serverError(w, err)
		return
	}
	h.logger.Info("api key created", "name", name, "prefix", result.KeyPrefix)

	// Rendered directly: the plaintext key must not travel through a
	// redirect.
	data, err := h.settingsData(r)
	if err != nil {
		h.serverError(w, err)
		return
	}
	data["NewKey"] = result
	h.render(w, r, http.StatusOK, "settings", data)
}

// APIKeyDelete revokes a key.
func (h *Handlers) APIKeyDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.cfg.APIKeys.Delete(r.PathValue("id")); err != nil {
		h.serverError(w, err)
		return
	}
	h.redirect(w, r, "/settings", "API-Schlüssel widerrufen.")
}

// UserCreate adds an admin account.
func (h *Handlers) UserCreate(w http.ResponseWriter, r *http.Request) {
	addr := email.Normalize(r.FormValue("email"))
	password := r.FormValue("password")

	if err := email.Validate(addr); err != nil {
		h.redirectError(w, r, "/settings", "Ungültige E-Mail-Adresse.")
		return
	}
	if len(password) < 8 {
		h.redirectError(w, r, "/settings", "Das Passwort braucht mindestens 8 Zeichen.")
		return
	}
	if existing, err := h.cfg.Users.GetByEmail(addr); err != nil {
		h.serverError(w, err)
		return
	} else if existing != nil {
		h.redirectError(w, r, "/settings", "Es gibt bereits einen Benutzer mit dieser E-Mail-Adresse.")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		h.serverError(w, err)
		return
	}
	user := &models.User{
		Email:        addr,
		Name:         strings.TrimSpace(r.FormValue("name")),
		PasswordHash: string(hash),
	}
	if err := h.cfg.Users.Create(user); err != nil {
		h.serverError(w, err)
		return
	}
	h.logger.Info("user created", "email", addr)
	h.redirect(w, r, "/settings", "Benutzer "+addr+" angelegt.")
}

// UserDelete removes an admin account. The logged-in user stays.
func (h *Handlers) UserDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if u := middleware.CurrentUser(r); u != nil && u.ID == id {
		h.redirectError(w, r, "/settings", "Der eigene Benutzer kann nicht gelöscht werden.")
		return
	}
	if err := h.cfg.Users.Delete(id); err != nil {
		h.serverError(w, err)
		return
	}
	h.redirect(w, r, "/settings", "Benutzer gelöscht.")
}
