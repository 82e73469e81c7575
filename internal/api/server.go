// Package api provides the HTTP server of the jobwatch reference relay.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/stacklok/jobwatch/internal/api/jobs"
	"github.com/stacklok/jobwatch/internal/api/system"
	"github.com/stacklok/jobwatch/internal/jobstore"
)

// ServerOption configures the relay API server
type ServerOption func(*serverConfig)

// serverConfig holds the server configuration
type serverConfig struct {
	middlewares    []func(http.Handler) http.Handler
	corsOrigins    []string
	requestTimeout time.Duration
	metricsHandler http.Handler
	readiness      system.ReadinessFunc
	jobOptions     []jobs.Option
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithCORSOrigins allows cross-origin requests from the given origins
func WithCORSOrigins(origins ...string) ServerOption {
	return func(cfg *serverConfig) {
		cfg.corsOrigins = append(cfg.corsOrigins, origins...)
	}
}

// WithRequestTimeout bounds every non-streaming request
func WithRequestTimeout(d time.Duration) ServerOption {
	return func(cfg *serverConfig) {
		cfg.requestTimeout = d
	}
}

// WithMetricsHandler serves the given handler at /metrics
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.metricsHandler = h
	}
}

// WithReadiness sets the readiness check
func WithReadiness(fn system.ReadinessFunc) ServerOption {
	return func(cfg *serverConfig) {
		cfg.readiness = fn
	}
}

// WithJobOptions passes options to the job routes
func WithJobOptions(opts ...jobs.Option) ServerOption {
	return func(cfg *serverConfig) {
		cfg.jobOptions = append(cfg.jobOptions, opts...)
	}
}

// NewServer creates and configures the HTTP router with the given store and options
func NewServer(store jobstore.Store, opts ...ServerOption) (*chi.Mux, error) {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	jobRoutes, err := jobs.NewRoutes(store, cfg.jobOptions...)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.corsOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.corsOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
		}).Handler)
	}
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.Mount("/", system.Router(cfg.readiness))
	if cfg.metricsHandler != nil {
		r.Handle("/metrics", cfg.metricsHandler)
	}

	r.Group(func(r chi.Router) {
		if cfg.requestTimeout > 0 {
			r.Use(middleware.Timeout(cfg.requestTimeout))
		}
		r.Mount("/jobs", jobRoutes.Router())
	})

	// The stream is long-lived and never gets the request timeout.
	r.Mount("/stream", jobRoutes.StreamRouter())

	return r, nil
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
