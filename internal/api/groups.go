package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/foxzi/gratulo/internal/models"
	"github.com/foxzi/gratulo/internal/repository"
)

type groupRequest struct {
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

// handleGroupList handles GET /api/v1/groups.
func (s *Server) handleGroupList(w http.ResponseWriter, r *http.Request) {
	groups, err := s.deps.Groups.List()
	if err != nil {
		s.logger.Error("failed to list groups", "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to list groups")
		return
	}
	s.sendJSON(w, http.StatusOK, groups)
}

// handleGroupCreate handles POST /api/v1/groups.
func (s *Server) handleGroupCreate(w http.ResponseWriter, r *http.Request) {
	group, ok := s.decodeGroup(w, r)
	if !ok {
		return
	}

	if err := s.deps.Groups.Create(group); err != nil {
		s.logger.Error("failed to create group", "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to create group")
		return
	}

	s.sendJSON(w, http.StatusCreated, group)
}

// handleGroupGet handles GET /api/v1/groups/{id}.
func (s *Server) handleGroupGet(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	group, err := s.deps.Groups.GetByID(id)
	if err != nil {
		s.logger.Error("failed to load group", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to load group")
		return
	}
	if group == nil {
		s.sendError(w, http.StatusNotFound, "group not found")
		return
	}

	s.sendJSON(w, http.StatusOK, group)
}

// handleGroupUpdate handles PUT /api/v1/groups/{id}.
func (s *Server) handleGroupUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	existing, err := s.deps.Groups.GetByID(id)
	if err != nil {
		s.logger.Error("failed to load group", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to load group")
		return
	}
	if existing == nil {
		s.sendError(w, http.StatusNotFound, "group not found")
		return
	}

	group, ok := s.decodeGroup(w, r)
	if !ok {
		return
	}
	group.ID = id

	// The default moves by marking another group, not by unmarking.
	if existing.IsDefault {
		group.IsDefault = true
	}

	if err := s.deps.Groups.Update(group); err != nil {
		s.logger.Error("failed to update group", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to update group")
		return
	}

	s.sendJSON(w, http.StatusOK, group)
}

// handleGroupDelete handles DELETE /api/v1/groups/{id}.
func (s *Server) handleGroupDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	if err := s.deps.Groups.Delete(id); err != nil {
		if errors.Is(err, repository.ErrDefaultGroup) {
			s.sendError(w, http.StatusConflict, "the default group cannot be deleted")
			return
		}
		s.logger.Error("failed to delete group", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to delete group")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) decodeGroup(w http.ResponseWriter, r *http.Request) (*models.Group, bool) {
	var req groupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		s.sendError(w, http.StatusBadRequest, "name is required")
		return nil, false
	}

	return &models.Group{Name: name, IsDefault: req.IsDefault}, true
}
