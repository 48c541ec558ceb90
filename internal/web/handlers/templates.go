package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/foxzi/gratulo/internal/models"
	"github.com/foxzi/gratulo/internal/repository"
	"github.com/foxzi/gratulo/internal/template"
)

// TemplateList shows all mail templates.
func (h *Handlers) TemplateList(w http.ResponseWriter, r *http.Request) {
	templates, err := h.cfg.Templates.List()
	if err != nil {
		h.serverError(w, err)
		return
	}
	h.render(w, r, http.StatusOK, "templates", map[string]any{
		"Title":     "Vorlagen",
		"Active":    "templates",
		"Templates": templates,
	})
}

// TemplateNew shows the empty editor.
func (h *Handlers) TemplateNew(w http.ResponseWriter, r *http.Request) {
	h.renderTemplateForm(w, r, &models.Template{}, nil, "")
}

// TemplateEdit shows the editor for an existing template, with warnings
// for placeholders the renderer cannot resolve.
func (h *Handlers) TemplateEdit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	tmpl, err := h.cfg.Templates.GetByID(id)
	if err != nil {
		h.serverError(w, err)
		return
	}
	if tmpl == nil {
		http.NotFound(w, r)
		return
	}
	warnings := h.cfg.Mailer.Renderer().Validate(tmpl.Subject + " " + tmpl.ContentHTML)
	h.renderTemplateForm(w, r, tmpl, warnings, "")
}

func (h *Handlers) renderTemplateForm(w http.ResponseWriter, r *http.Request, tmpl *models.Template, warnings []string, errMsg string) {
	h.render(w, r, http.StatusOK, "template_form", map[string]any{
		"Title":        "Vorlage",
		"Active":       "templates",
		"Template":     tmpl,
		"Placeholders": h.cfg.Mailer.Renderer().Names(),
		"Warnings":     warnings,
		"Error":        errMsg,
	})
}

// TemplateCreate stores a new template.
func (h *Handlers) TemplateCreate(w http.ResponseWriter, r *http.Request) {
	tmpl := &models.Template{}
	if msg := fillTemplateFromForm(tmpl, r); msg != "" {
		h.renderTemplateForm(w, r, tmpl, nil, msg)
		return
	}
	if err := h.cfg.Templates.Create(tmpl); err != nil {
		h.serverError(w, err)
		return
	}
	h.redirect(w, r, "/templates", "Vorlage "+tmpl.Name+" angelegt.")
}

// TemplateUpdate stores changes to a template.
func (h *Handlers) TemplateUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	tmpl, err := h.cfg.Templates.GetByID(id)
	if err != nil {
		h.serverError(w, err)
		return
	}
	if tmpl == nil {
		http.NotFound(w, r)
		return
	}
	if msg := fillTemplateFromForm(tmpl, r); msg != "" {
		h.renderTemplateForm(w, r, tmpl, nil, msg)
		return
	}
	if err := h.cfg.Templates.Update(tmpl); err != nil {
		h.serverError(w, err)
		return
	}
	h.redirect(w, r, "/templates", "Vorlage gespeichert.")
}

// TemplateDelete removes a template unless a job still references it.
func (h *Handlers) TemplateDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if err := h.cfg.Templates.Delete(id); err != nil {
		if errors.Is(err, repository.ErrTemplateInUse) {
			h.redirectError(w, r, "/templates", "Die Vorlage wird noch von einem Job verwendet.")
			return
		}
		h.serverError(w, err)
		return
	}
	h.redirect(w, r, "/templates", "Vorlage gelöscht.")
}

// TemplatePreview renders the submitted draft against the sample member
// and returns the fragment for the editor's preview pane.
func (h *Handlers) TemplatePreview(w http.ResponseWriter, r *http.Request) {
	subject := r.FormValue("subject")
	content := r.FormValue("content")

	renderer := h.cfg.Mailer.Renderer()
	sample := template.SampleMember()
	now := time.Now()

	h.render(w, r, http.StatusOK, "partial_preview", map[string]any{
		"Subject":  renderer.Render(subject, sample, now),
		"Body":     renderer.Render(content, sample, now),
		"Warnings": renderer.Validate(subject + " " + content),
	})
}

// TemplateTest mails the rendered draft to one address, bypassing queue
// and dedup. The response is plain text for the editor.
func (h *Handlers) TemplateTest(w http.ResponseWriter, r *http.Request) {
	to := strings.TrimSpace(r.FormValue("to"))
	renderer := h.cfg.Mailer.Renderer()
	sample := template.SampleMember()
	now := time.Now()

	subject := renderer.Render(r.FormValue("subject"), sample, now)
	body := renderer.Render(r.FormValue("content"), sample, now)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := h.cfg.Mailer.SendTest(r.Context(), to, subject, body); err != nil {
		h.logger.Warn("test mail failed", "to", to, "error", err)
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("Senden fehlgeschlagen: " + err.Error()))
		return
	}
	_, _ = w.Write([]byte("Testmail an " + to + " gesendet."))
}

func fillTemplateFromForm(t *models.Template, r *http.Request) string {
	t.Name = strings.TrimSpace(r.FormValue("name"))
	t.Subject = strings.TrimSpace(r.FormValue("subject"))
	t.ContentHTML = r.FormValue("content")

	if t.Name == "" {
		return "Der Name darf nicht leer sein."
	}
	if t.Subject == "" {
		return "Der Betreff darf nicht leer sein."
	}
	if strings.TrimSpace(t.ContentHTML) == "" {
		return "Der Inhalt darf nicht leer sein."
	}
	return ""
}
