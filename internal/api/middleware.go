package api

import (
	"net/http"
	"strings"

	"github.com/foxzi/gratulo/internal/repository"
)

// allowIP enforces the configured IP allowlist. RealIP has already
// resolved proxy headers into RemoteAddr.
func (s *Server) allowIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.filter.Enabled() && !s.filter.AllowsAddr(r.RemoteAddr) {
			s.logger.Warn("api request outside allowlist",
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			s.sendError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireKey authenticates via X-API-Key or a bearer token. Keys are
// stored hashed; the lookup goes through the hash.
func (s *Server) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if key == "" {
			s.sendError(w, http.StatusUnauthorized, "API key required")
			return
		}

		stored, err := s.deps.Keys.GetByHash(repository.HashKey(key))
		if err != nil {
			s.logger.Error("api key lookup failed", "error", err)
			s.sendError(w, http.StatusInternalServerError, "key lookup failed")
			return
		}
		if stored == nil {
			s.logger.Warn("rejected api key",
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			s.sendError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		if err := s.deps.Keys.TouchLastUsed(stored.ID); err != nil {
			s.logger.Warn("failed to stamp api key", "error", err)
		}

		next.ServeHTTP(w, r)
	})
}
