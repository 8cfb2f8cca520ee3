package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"speakerscribe/internal/config"
	"speakerscribe/internal/deps"
	"speakerscribe/internal/jobs"
	"speakerscribe/internal/logging"
)

// JobRunner schedules and removes jobs.
type JobRunner interface {
	Submit(ctx context.Context, job *jobs.Job) error
	Remove(ctx context.Context, id string) error
}

// DependencyCheck reports external tool availability for the health route.
type DependencyCheck func(ctx context.Context) []deps.Status

// Server is the web-mode HTTP surface.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *jobs.Store
	runner JobRunner
	deps   DependencyCheck

	router   chi.Router
	listener net.Listener
	http     *http.Server
}

// Option customizes a Server.
type Option func(*Server)

// WithDependencyCheck sets the probe reported by GET /api/health.
func WithDependencyCheck(fn DependencyCheck) Option {
	return func(s *Server) { s.deps = fn }
}

// New builds the router. Call Start to listen.
func New(cfg *config.Config, store *jobs.Store, runner JobRunner, logger *slog.Logger, opts ...Option) (*Server, error) {
	if cfg == nil || store == nil || runner == nil {
		return nil, errors.New("server requires config, store, and runner")
	}
	s := &Server{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "api-server"),
		store:  store,
		runner: runner,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.router = s.routes()
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(requestContext)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(s.logger))
	r.Use(cors.Handler(corsOptions(s.cfg.Server.AllowedOrigins)))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(s.cfg.Server.APIToken))

			r.Post("/jobs", s.handleCreateJob)
			r.Get("/jobs", s.handleListJobs)
			r.Get("/jobs/{id}", s.handleGetJob)
			r.Get("/jobs/{id}/transcript", s.handleTranscript)
			r.Get("/jobs/{id}/results/{format}", s.handleResult)
			r.Delete("/jobs/{id}", s.handleDeleteJob)
		})
	})
	return r
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on server.bind and serves until ctx ends or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Server.Bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.http.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the listener down, waiting for in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil && logger != nil {
		logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	writeJSON(w, s.logger, status, payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
