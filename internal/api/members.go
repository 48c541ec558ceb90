package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/gratulo/internal/email"
	"github.com/foxzi/gratulo/internal/models"
	"github.com/foxzi/gratulo/internal/repository"
)

// memberRequest is the request body for member create and update. Dates
// travel as ISO strings.
type memberRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Gender    string `json:"gender"`
	Date1     string `json:"date1"`
	Date2     string `json:"date2,omitempty"`
	GroupID   *int64 `json:"group_id,omitempty"`
}

type memberListResponse struct {
	Members []models.Member `json:"members"`
	Total   int             `json:"total"`
}

// handleMemberList handles GET /api/v1/members.
func (s *Server) handleMemberList(w http.ResponseWriter, r *http.Request) {
	filter := models.MemberListFilter{
		Search: strings.TrimSpace(r.URL.Query().Get("q")),
	}
	if v := r.URL.Query().Get("group"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "group must be a numeric ID")
			return
		}
		filter.GroupID = id
	}
	var err error
	if filter.Limit, err = queryInt(r, "limit", 100); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.Offset, err = queryInt(r, "offset", 0); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	members, total, err := s.deps.Members.List(filter)
	if err != nil {
		s.logger.Error("failed to list members", "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to list members")
		return
	}

	s.sendJSON(w, http.StatusOK, memberListResponse{Members: members, Total: total})
}

// handleMemberCreate handles POST /api/v1/members.
func (s *Server) handleMemberCreate(w http.ResponseWriter, r *http.Request) {
	member, ok := s.decodeMember(w, r)
	if !ok {
		return
	}

	if err := s.deps.Members.Create(member); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			s.sendError(w, http.StatusConflict, "email already in use")
			return
		}
		s.logger.Error("failed to create member", "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to create member")
		return
	}

	s.sendJSON(w, http.StatusCreated, member)
}

// handleMemberGet handles GET /api/v1/members/{id}.
func (s *Server) handleMemberGet(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	member, err := s.deps.Members.GetByID(id)
	if err != nil {
		s.logger.Error("failed to load member", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to load member")
		return
	}
	if member == nil {
		s.sendError(w, http.StatusNotFound, "member not found")
		return
	}

	s.sendJSON(w, http.StatusOK, member)
}

// handleMemberUpdate handles PUT /api/v1/members/{id}.
func (s *Server) handleMemberUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	existing, err := s.deps.Members.GetByID(id)
	if err != nil {
		s.logger.Error("failed to load member", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to load member")
		return
	}
	if existing == nil {
		s.sendError(w, http.StatusNotFound, "member not found")
		return
	}

	member, ok := s.decodeMember(w, r)
	if !ok {
		return
	}
	member.ID = id

	if err := s.deps.Members.Update(member); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			s.sendError(w, http.StatusConflict, "email already in use")
			return
		}
		s.logger.Error("failed to update member", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to update member")
		return
	}

	s.sendJSON(w, http.StatusOK, member)
}

// handleMemberDelete handles DELETE /api/v1/members/{id}.
func (s *Server) handleMemberDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	if err := s.deps.Members.SoftDelete(id); err != nil {
		s.logger.Error("failed to delete member", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to delete member")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// decodeMember parses and validates a member body. On failure it writes
// the error response and returns false.
func (s *Server) decodeMember(w http.ResponseWriter, r *http.Request) (*models.Member, bool) {
	var req memberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}

	member := &models.Member{
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Email:     email.Normalize(req.Email),
		Gender:    req.Gender,
		GroupID:   req.GroupID,
	}

	if member.FirstName == "" {
		s.sendError(w, http.StatusBadRequest, "first_name is required")
		return nil, false
	}
	if member.LastName == "" {
		s.sendError(w, http.StatusBadRequest, "last_name is required")
		return nil, false
	}
	if err := email.Validate(member.Email); err != nil {
		s.sendError(w, http.StatusBadRequest, "email is invalid")
		return nil, false
	}
	if !models.ValidGender(member.Gender) {
		s.sendError(w, http.StatusBadRequest, "gender must be m, w or d")
		return nil, false
	}

	date1, err := time.Parse("2006-01-02", req.Date1)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "date1 must be YYYY-MM-DD")
		return nil, false
	}
	member.Date1 = date1

	if req.Date2 != "" {
		date2, err := time.Parse("2006-01-02", req.Date2)
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "date2 must be YYYY-MM-DD")
			return nil, false
		}
		member.Date2 = &date2
	}

	return member, true
}

// pathID parses the {id} route parameter. On failure it writes the error
// response and returns false.
func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		s.sendError(w, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}
