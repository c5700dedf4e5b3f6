// Package web provides the HTTP server of the CRM: the spreadsheet import API,
// the duplicate-check endpoint and the schema manager endpoints.
package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/tricyclecrm/internal/crm"
	"github.com/JonMunkholm/tricyclecrm/internal/importer"
	"github.com/JonMunkholm/tricyclecrm/internal/logging"
	"github.com/JonMunkholm/tricyclecrm/internal/metrics"
	"github.com/JonMunkholm/tricyclecrm/internal/schema"
	mw "github.com/JonMunkholm/tricyclecrm/internal/web/middleware"
)

// Deps are the collaborators the server routes requests to.
type Deps struct {
	Backend  *crm.Backend
	Schema   *schema.Schema
	Sessions *importer.SessionStore
	Limiter  *importer.Limiter
	Metrics  *metrics.Metrics

	// Executor applies DDL for POST /api/schema/sync. Nil disables the endpoint.
	// Schema mutation routes always require one of Options.APIKeys.
	Executor schema.Executor
}

// Options tune the HTTP surface. Zero values fall back to defaults.
type Options struct {
	// Import limits
	MaxFileSize      int64
	PreviewRows      int
	LargeFileRows    int
	OperationTimeout time.Duration

	// SyncMode labels schema sync metrics ("direct" or "rpc").
	SyncMode string

	// HTTP server timeouts
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration

	// Rate limits per client IP per minute. Zero disables a limiter.
	RequestsPerMinute int
	UploadsPerMinute  int

	TrustedProxies []string
	EnableCSP      bool
	RequireAPIKey  bool
	APIKeys        []string
}

func (o Options) withDefaults() Options {
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = importer.DefaultMaxFileSize
	}
	if o.PreviewRows <= 0 {
		o.PreviewRows = importer.DefaultPreviewRows
	}
	if o.LargeFileRows <= 0 {
		o.LargeFileRows = importer.DefaultLargeFileRows
	}
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = 2 * time.Minute
	}
	if o.SyncMode == "" {
		o.SyncMode = "direct"
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 2 * time.Minute
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 60 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 90 * time.Second
	}
	return o
}

// Server is the HTTP server of the CRM.
type Server struct {
	deps     Deps
	opts     Options
	router   *chi.Mux
	server   *http.Server
	limiters []*rateLimiter
}

// NewServer creates a Server. Deps.Backend, Schema, Sessions, Limiter and
// Metrics must be set.
func NewServer(deps Deps, opts Options) *Server {
	s := &Server{
		deps:   deps,
		opts:   opts.withDefaults(),
		router: chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.opts.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(s.deps.Metrics.Middleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(s.opts.RequestTimeout))
	s.router.Use(securityHeaders(s.opts.EnableCSP))

	if s.opts.RequestsPerMinute > 0 {
		limiter := newRateLimiter(s.opts.RequestsPerMinute, time.Minute)
		s.limiters = append(s.limiters, limiter)
		s.router.Use(limiter.middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())

	uploadLimit := func(next http.Handler) http.Handler { return next }
	if s.opts.UploadsPerMinute > 0 {
		limiter := newRateLimiter(s.opts.UploadsPerMinute, time.Minute)
		s.limiters = append(s.limiters, limiter)
		uploadLimit = limiter.middleware
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(s.opts.RequireAPIKey, s.opts.APIKeys))

		r.Route("/import", func(r chi.Router) {
			r.Get("/entities", s.handleListEntities)

			// Sessions
			r.Get("/sessions/{id}", s.handleGetSession)
			r.Post("/sessions/{id}/submit", s.handleSubmit)
			r.Post("/sessions/{id}/resolve", s.handleResolve)
			r.Post("/sessions/{id}/retry", s.handleRetry)
			r.Delete("/sessions/{id}", s.handleDeleteSession)

			// Per entity
			r.Get("/{entity}/template", s.handleTemplate)
			r.With(uploadLimit).Post("/{entity}", s.handleUpload)
			r.Post("/{entity}/rows", s.handlePersistRows)
		})

		r.Post("/duplicates/{entity}", s.handleCheckDuplicates)

		r.Route("/schema", func(r chi.Router) {
			r.Get("/sql", s.handleSchemaSQL)
			r.Get("/types", s.handleSchemaTypes)
			r.Get("/tables", s.handleListTables)

			// Mutations always need a key, even when the rest of /api is open.
			r.Group(func(r chi.Router) {
				r.Use(mw.APIKeyAuth(true, s.opts.APIKeys))
				r.Post("/tables", s.handleAddTable)
				r.Patch("/tables/{table}", s.handleUpdateTable)
				r.Post("/sync", s.handleSchemaSync)
			})
		})
	})
}

// Start begins listening for HTTP requests. It returns nil after Shutdown.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  s.opts.IdleTimeout,
	}

	logging.FromContext(context.Background()).Info("starting server", "addr", addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then waits for in-flight imports to
// release their slots.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.Close()

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return err
		}
	}
	return s.deps.Limiter.WaitForDrain(ctx)
}

// Close stops background goroutines owned by the server.
func (s *Server) Close() {
	for _, l := range s.limiters {
		l.stop()
	}
	s.limiters = nil
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.deps.Sessions.Len(),
		"imports":  s.deps.Limiter.Active(),
	})
}

const cspPolicy = "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; font-src 'self'"

// securityHeaders adds security headers to all responses.
func securityHeaders(enableCSP bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			if enableCSP {
				h.Set("Content-Security-Policy", cspPolicy)
			}
			next.ServeHTTP(w, r)
		})
	}
}
