package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"aichat/internal/catalog"
	"aichat/internal/gate"
	"aichat/internal/metrics"
	"aichat/internal/providers"
	"aichat/internal/providers/registry"
	"aichat/internal/ratelimit"
	"aichat/internal/session"
	"aichat/internal/storage"
)

// BuildFunc constructs a provider client for a catalog entry.
type BuildFunc func(cfg catalog.ProviderConfig, opts registry.Options) (providers.Provider, error)

type Config struct {
	Store    storage.Repository
	Sessions *session.Manager
	Gate     *gate.Gate
	Limiter  *ratelimit.Limiter

	ProviderOptions registry.Options
	BuildProvider   BuildFunc

	AdminInitPassword string
	EnvGlobalAuth     bool
	ChatMaxDuration   time.Duration

	HealthPath  string
	MetricsPath string
	// TrustProxyHeaders lets X-Forwarded-For / X-Real-IP replace the socket
	// address. Only enable it behind a proxy that overwrites those headers.
	TrustProxyHeaders bool

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

type Server struct {
	cfg    Config
	logger zerolog.Logger
	m      *metrics.Metrics
	router chi.Router
}

func New(cfg Config) *Server {
	if cfg.BuildProvider == nil {
		cfg.BuildProvider = registry.Build
	}
	if cfg.ChatMaxDuration <= 0 {
		cfg.ChatMaxDuration = 60 * time.Second
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/healthz"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Global()
	}
	s := &Server{cfg: cfg, logger: cfg.Logger, m: cfg.Metrics}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if s.cfg.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if s.cfg.Gate != nil {
		r.Use(s.cfg.Gate.Middleware)
	}

	r.Get(s.cfg.HealthPath, s.handleHealth)
	r.Handle(s.cfg.MetricsPath, promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Post("/auth/admin-login", s.handleAdminLogin)
		api.Post("/auth/site-login", s.handleSiteLogin)
		api.Post("/auth/logout", s.handleLogout)

		api.Post("/chat", s.handleChat)
		api.Get("/models", s.handlePublicModels)

		api.Group(func(admin chi.Router) {
			admin.Use(s.cfg.Sessions.RequireAdmin)
			admin.Get("/config/models", s.handleGetModels)
			admin.Post("/config/models", s.handleReplaceModels)
			admin.Get("/config/settings", s.handleGetSettings)
			admin.Post("/config/settings", s.handleUpdateSettings)
		})
	})

	s.pageRoutes(r)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.cfg.Store.Ping(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("health check: store unreachable")
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("http request")
		}()
		next.ServeHTTP(ww, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
