package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/foxzi/gratulo/internal/ipfilter"
)

// Server serves Prometheus metrics on a dedicated listener with an
// optional client IP allowlist.
type Server struct {
	server  *http.Server
	metrics *Metrics
	logger  *slog.Logger
	filter  *ipfilter.Filter
}

// NewServer creates a metrics server. allowedIPs holds IPs or CIDR
// ranges; an empty list admits everyone.
func NewServer(m *Metrics, addr string, allowedIPs []string, logger *slog.Logger) (*Server, error) {
	filter, err := ipfilter.New(allowedIPs)
	if err != nil {
		return nil, err
	}

	s := &Server{
		metrics: m,
		logger:  logger,
		filter:  filter,
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", s.ipFilter(promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s, nil
}

// Start begins serving metrics. Blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("metrics server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the metrics server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) ipFilter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.filter.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		ip := getClientIP(r)
		if ip == nil || !s.filter.Allows(ip) {
			s.logger.Warn("metrics access denied", "remote", r.RemoteAddr)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// getClientIP extracts the client IP, preferring proxy headers.
func getClientIP(r *http.Request) net.IP {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(parts[0])); ip != nil {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if ip := net.ParseIP(strings.TrimSpace(xri)); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return net.ParseIP(r.RemoteAddr)
	}
	return net.ParseIP(host)
}
