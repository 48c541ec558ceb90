package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/foxzi/gratulo/internal/models"
	"github.com/foxzi/gratulo/internal/repository"
)

// GroupList shows all groups with member counts.
func (h *Handlers) GroupList(w http.ResponseWriter, r *http.Request) {
	groups, err := h.cfg.Groups.List()
	if err != nil {
		h.serverError(w, err)
		return
	}
	h.render(w, r, http.StatusOK, "groups", map[string]any{
		"Title":  "Gruppen",
		"Active": "groups",
		"Groups": groups,
	})
}

// GroupCreate adds a group.
func (h *Handlers) GroupCreate(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		h.redirectError(w, r, "/groups", "Der Gruppenname darf nicht leer sein.")
		return
	}
	group := &models.Group{Name: name, IsDefault: r.FormValue("is_default") == "1"}
	if err := h.cfg.Groups.Create(group); err != nil {
		h.serverError(w, err)
		return
	}
	h.redirect(w, r, "/groups", "Gruppe "+name+" angelegt.")
}

// GroupEdit shows the edit form.
func (h *Handlers) GroupEdit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	group, err := h.cfg.Groups.GetByID(id)
	if err != nil {
		h.serverError(w, err)
		return
	}
	if group == nil {
		http.NotFound(w, r)
		return
	}
	h.render(w, r, http.StatusOK, "group_form", map[string]any{
		"Title":  "Gruppe",
		"Active": "groups",
		"Group":  group,
	})
}

// GroupUpdate renames a group or moves the default flag.
func (h *Handlers) GroupUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	group, err := h.cfg.Groups.GetByID(id)
	if err != nil {
		h.serverError(w, err)
		return
	}
	if group == nil {
		http.NotFound(w, r)
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		h.redirectError(w, r, "/groups", "Der Gruppenname darf nicht leer sein.")
		return
	}
	wantDefault := r.FormValue("is_default") == "1"
	if group.IsDefault && !wantDefault {
		// The default moves by marking another group, not by unmarking.
		wantDefault = true
	}
	group.Name = name
	group.IsDefault = wantDefault

	if err := h.cfg.Groups.Update(group); err != nil {
		h.serverError(w, err)
		return
	}
	h.redirect(w, r, "/groups", "Gruppe gespeichert.")
}

// GroupDelete removes a group; its members fall back to no group.
func (h *Handlers) GroupDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if err := h.cfg.Groups.Delete(id); err != nil {
		if errors.Is(err, repository.ErrDefaultGroup) {
			h.redirectError(w, r, "/groups", "Die Standardgruppe kann nicht gelöscht werden.")
			return
		}
		h.serverError(w, err)
		return
	}
	h.redirect(w, r, "/groups", "Gruppe gelöscht.")
}
