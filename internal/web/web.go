// Package web serves the published calendar feed over HTTP so calendar
// clients can subscribe to it, plus health and metrics endpoints.
package web

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"untisfeed/internal/config"
	appLog "untisfeed/internal/log"
	"untisfeed/internal/metrics"
)

// feedCacheTTL bounds how stale a served feed can be relative to the
// file on disk. Short on purpose: the cache only absorbs bursts of
// client polling, the file stays the source of truth.
const feedCacheTTL = 30 * time.Second

// Server provides the feed endpoints:
//
//	GET /calendar.ics  — the published feed
//	GET /exams.ics     — the exam feed, when configured
//	GET /health        — liveness probe, always unauthenticated
//	GET /metrics       — Prometheus metrics
type Server struct {
	cfg    *config.Config
	router *mux.Router
	cache  *gocache.Cache
}

// NewServer constructs a Server for the given configuration.
func NewServer(cfg *config.Config) *Server {
	s := &Server{
		cfg:    cfg,
		router: mux.NewRouter(),
		cache:  gocache.New(feedCacheTTL, 2*feedCacheTTL),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/calendar.ics", s.handleFeed(s.cfg.Output)).Methods(http.MethodGet)
	if s.cfg.ExamsOutput != "" {
		s.router.HandleFunc("/exams.ics", s.handleFeed(s.cfg.ExamsOutput)).Methods(http.MethodGet)
	}
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
}

// Handler returns the full middleware stack: CORS so browser-based
// calendar clients can fetch the feed, and optional basic auth.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		h = s.basicAuthMiddleware(h)
	}
	return cors.Default().Handler(h)
}

// handleFeed serves the feed file at path, with a short-lived in-memory
// cache of the bytes.
func (s *Server) handleFeed(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := s.readFeed(path)
		if err != nil {
			if os.IsNotExist(err) {
				http.Error(w, "feed not generated yet", http.StatusServiceUnavailable)
				return
			}
			appLog.Error("feed read failed", err, "path", path)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		w.Header().Set("Cache-Control", "max-age=300")
		w.Write(data)
	}
}

func (s *Server) readFeed(path string) ([]byte, error) {
	if cached, ok := s.cache.Get(path); ok {
		return cached.([]byte), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s.cache.Set(path, data, gocache.DefaultExpiration)
	return data, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) basicAuthEnabled() bool {
	ba := s.cfg.BasicAuth
	return ba != nil && ba.Username != "" && ba.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="untisfeed", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
