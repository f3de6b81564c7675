// Package api provides the HTTP surface of the activity server: ingestion,
// listing, analytics, retention and the live feed.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/graaaaa/activity-telemetry/internal/api/dashtoken"
	"github.com/graaaaa/activity-telemetry/internal/app"
)

// DefaultQueryTimeout bounds a single analytics query.
const DefaultQueryTimeout = 30 * time.Second

// Server represents the HTTP API server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger

	// Use case dependencies
	health     app.HealthUsecase
	ingest     app.IngestUsecase
	activities app.ActivitiesUsecase
	analytics  app.AnalyticsUsecase
	retention  app.RetentionUsecase
	presence   app.PresenceUsecase

	// SSE hub
	hub *Hub

	// Auth configuration
	authEnabled  bool
	authUsername string
	authPassword string
	authLimiter  *AuthFailureLimiter
	tokens       *dashtoken.Issuer

	ingestLimiter  *RateLimiter
	cors           CORSConfig
	trustForwarded bool
	queryTimeout   time.Duration
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithIngestUsecase enables the ingestion endpoints.
func WithIngestUsecase(u app.IngestUsecase) ServerOption {
	return func(s *Server) { s.ingest = u }
}

// WithActivitiesUsecase enables the raw listing endpoint.
func WithActivitiesUsecase(u app.ActivitiesUsecase) ServerOption {
	return func(s *Server) { s.activities = u }
}

// WithAnalyticsUsecase enables the analytics endpoints.
func WithAnalyticsUsecase(u app.AnalyticsUsecase) ServerOption {
	return func(s *Server) { s.analytics = u }
}

// WithRetentionUsecase enables the purge endpoint.
func WithRetentionUsecase(u app.RetentionUsecase) ServerOption {
	return func(s *Server) { s.retention = u }
}

// WithPresenceUsecase enables the live presence endpoint.
func WithPresenceUsecase(u app.PresenceUsecase) ServerOption {
	return func(s *Server) { s.presence = u }
}

// WithHub sets the SSE hub.
func WithHub(hub *Hub) ServerOption {
	return func(s *Server) { s.hub = hub }
}

// WithBasicAuth enables HTTP Basic Auth on the read and purge surfaces.
func WithBasicAuth(username, password string) ServerOption {
	return func(s *Server) {
		if username != "" && password != "" {
			s.authEnabled = true
			s.authUsername = username
			s.authPassword = password
		}
	}
}

// WithAuthFailureLimiter locks out clients after repeated bad credentials.
func WithAuthFailureLimiter(afl *AuthFailureLimiter) ServerOption {
	return func(s *Server) { s.authLimiter = afl }
}

// WithTokenIssuer lets dashboards authenticate with short-lived tokens
// issued by POST /api/v1/auth/token.
func WithTokenIssuer(i *dashtoken.Issuer) ServerOption {
	return func(s *Server) { s.tokens = i }
}

// WithIngestRateLimiter applies a per-IP rate limit to the ingestion endpoints.
func WithIngestRateLimiter(rl *RateLimiter) ServerOption {
	return func(s *Server) { s.ingestLimiter = rl }
}

// WithCORS sets the browser origins allowed to call the API.
func WithCORS(cfg CORSConfig) ServerOption {
	return func(s *Server) { s.cors = cfg }
}

// WithTrustForwardedFor takes the client IP from X-Forwarded-For.
// Enable only behind a reverse proxy that sets the header.
func WithTrustForwardedFor(trust bool) ServerOption {
	return func(s *Server) { s.trustForwarded = trust }
}

// WithQueryTimeout bounds each analytics query.
func WithQueryTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.queryTimeout = d
		}
	}
}

// WithLogger sets the logger for the Server.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates a new API server with the given dependencies.
func NewServer(addr string, health app.HealthUsecase, opts ...ServerOption) *Server {
	mux := http.NewServeMux()
	s := &Server{
		mux:          mux,
		logger:       slog.Default(),
		health:       health,
		queryTimeout: DefaultQueryTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // Disable for SSE (long-lived connections)
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the routed handler wrapped in the global middleware.
func (s *Server) Handler() http.Handler {
	return securityHeadersMiddleware(corsMiddleware(s.cors)(s.mux))
}

// wrapAuth wraps a handler with Basic Auth if auth is enabled.
func (s *Server) wrapAuth(h http.Handler) http.Handler {
	if !s.authEnabled {
		return h
	}
	return basicAuthMiddleware(s.authUsername, s.authPassword, s.authLimiter)(h)
}

// wrapRead guards a read surface: Basic Auth, or a dashboard token with scope.
func (s *Server) wrapRead(scope dashtoken.Scope, h http.Handler) http.Handler {
	if !s.authEnabled {
		return h
	}
	return tokenOrBasicAuthMiddleware(s.authUsername, s.authPassword, s.authLimiter, s.tokens, scope)(h)
}

// wrapIngest applies the ingestion rate limit, if any.
func (s *Server) wrapIngest(h http.Handler) http.Handler {
	if s.ingestLimiter == nil {
		return h
	}
	return s.ingestLimiter.Middleware(h)
}

// registerRoutes sets up the API routes.
func (s *Server) registerRoutes() {
	// Health and metrics (no auth required)
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	// Ingestion (collectors are unauthenticated; rate limited per IP)
	if s.ingest != nil {
		s.mux.Handle("POST /api/v1/activities", s.wrapIngest(http.HandlerFunc(s.handleIngestOne)))
		s.mux.Handle("POST /api/v1/activities/batch", s.wrapIngest(http.HandlerFunc(s.handleIngestBatch)))
	}

	if s.activities != nil {
		s.mux.Handle("GET /api/v1/activities", s.wrapRead(dashtoken.ScopeRead, http.HandlerFunc(s.handleListActivities)))
	}

	if s.analytics != nil {
		s.mux.Handle("GET /api/v1/analytics", s.wrapRead(dashtoken.ScopeRead, http.HandlerFunc(s.handleAnalytics)))
		s.mux.Handle("GET /api/v1/analytics/popular", s.wrapRead(dashtoken.ScopeRead, http.HandlerFunc(s.handlePopular)))
	}

	if s.presence != nil {
		s.mux.Handle("GET /api/v1/now", s.wrapRead(dashtoken.ScopeRead, http.HandlerFunc(s.handleNow)))
	}

	// Purge is destructive: admin credentials only, never a dashboard token
	if s.retention != nil {
		s.mux.Handle("POST /api/v1/activities/purge",
			s.wrapAuth(csrfMiddleware(s.cors.AllowedOrigins)(http.HandlerFunc(s.handlePurge))))
	}

	if s.hub != nil && s.activities != nil {
		s.mux.Handle("GET /api/v1/stream", s.wrapRead(dashtoken.ScopeStream, http.HandlerFunc(s.handleStream)))
	}

	if s.tokens != nil && s.authEnabled {
		s.mux.Handle("POST /api/v1/auth/token", s.wrapAuth(http.HandlerFunc(s.handleAuthToken)))
	}
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	result, err := s.health.Handle(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}
