// Package api serves a read-only HTTP view of a running dispatcher: its
// conditions, the invocation journal and the live event stream.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/mattjoyce/intertalk/internal/dispatch"
	"github.com/mattjoyce/intertalk/internal/events"
	"github.com/mattjoyce/intertalk/internal/journal"
)

// Inspector exposes dispatcher state.
type Inspector interface {
	Snapshot() dispatch.Snapshot
}

// InvocationLister reads the invocation journal.
type InvocationLister interface {
	List(ctx context.Context, limit int) ([]journal.Entry, error)
	Get(ctx context.Context, id string) (*journal.Entry, error)
}

// Config holds API server configuration
type Config struct {
	Listen      string
	APIKey      string
	CORSOrigins []string
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	inspector Inspector
	journal   InvocationLister
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. journal may be nil when the
// journal is disabled; hub may be nil when no event stream is wired.
func New(config Config, inspector Inspector, journal InvocationLister, hub *events.Hub, logger *slog.Logger) *Server {
	if hub == nil {
		hub = events.NewHub(0)
	}
	return &Server{
		config:    config,
		inspector: inspector,
		journal:   journal,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE streams stay open
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if len(s.config.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: s.config.CORSOrigins,
			AllowedMethods: []string{http.MethodGet},
			AllowedHeaders: []string{"Authorization", "Last-Event-ID"},
			MaxAge:         300,
		}).Handler)
	}
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/conditions", s.handleListConditions)
		r.Get("/conditions/{depth}", s.handleListConditions)
		r.Get("/invocations", s.handleListInvocations)
		r.Get("/invocations/{id}", s.handleGetInvocation)
		r.Get("/events", s.handleEvents)
		r.Get("/openapi.json", s.handleOpenAPI)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
