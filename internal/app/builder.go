package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/jobwatch/database"
	"github.com/stacklok/jobwatch/internal/api"
	"github.com/stacklok/jobwatch/internal/api/jobs"
	"github.com/stacklok/jobwatch/internal/config"
	"github.com/stacklok/jobwatch/internal/db"
	"github.com/stacklok/jobwatch/internal/jobstore"
	"github.com/stacklok/jobwatch/internal/telemetry"
)

const (
	defaultReadHeaderTimeout = 10 * time.Second
	defaultIdleTimeout       = 60 * time.Second
)

// RelayAppOptions is a function that configures the relay app builder
type RelayAppOptions func(*relayAppConfig) error

// relayAppConfig collects the pieces NewRelayApp wires together.
// Component overrides exist primarily for testing.
type relayAppConfig struct {
	config *config.Config
	store  jobstore.Store

	// HTTP server options
	address           string
	middlewares       []func(http.Handler) http.Handler
	readHeaderTimeout time.Duration
	idleTimeout       time.Duration

	// Telemetry components
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metricsHandler http.Handler
}

func baseConfig(opts ...RelayAppOptions) (*relayAppConfig, error) {
	cfg := &relayAppConfig{
		readHeaderTimeout: defaultReadHeaderTimeout,
		idleTimeout:       defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		cfg.config = &config.Config{}
	}
	if cfg.address == "" {
		cfg.address = cfg.config.Server.GetAddress()
	}

	return cfg, nil
}

// NewRelayApp builds the relay server from the given options
func NewRelayApp(ctx context.Context, opts ...RelayAppOptions) (*RelayApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	components, err := buildComponents(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build components: %w", err)
	}

	appCtx, cancel := context.WithCancel(ctx)

	httpServer, err := buildHTTPServer(appCtx, cfg, components)
	if err != nil {
		cancel()
		components.Close()
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	return &RelayApp{
		config:     cfg.config,
		components: components,
		httpServer: httpServer,
		ctx:        appCtx,
		cancelFunc: cancel,
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) RelayAppOptions {
	return func(cfg *relayAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address, overriding the configuration
func WithAddress(addr string) RelayAppOptions {
	return func(cfg *relayAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return fmt.Errorf("address is not a valid host:port: %w", err)
		}
		if port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		switch host {
		case "localhost":
			host = "127.0.0.1"
		case "":
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(net.JoinHostPort(host, port)); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares adds HTTP middlewares after the built-in ones
func WithMiddlewares(mw ...func(http.Handler) http.Handler) RelayAppOptions {
	return func(cfg *relayAppConfig) error {
		cfg.middlewares = append(cfg.middlewares, mw...)
		return nil
	}
}

// WithStore replaces the in-memory job store
func WithStore(store jobstore.Store) RelayAppOptions {
	return func(cfg *relayAppConfig) error {
		cfg.store = store
		return nil
	}
}

// WithMeterProvider enables HTTP and job metrics
func WithMeterProvider(mp metric.MeterProvider) RelayAppOptions {
	return func(cfg *relayAppConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// WithTracerProvider enables request tracing
func WithTracerProvider(tp trace.TracerProvider) RelayAppOptions {
	return func(cfg *relayAppConfig) error {
		cfg.tracerProvider = tp
		return nil
	}
}

// WithMetricsHandler serves a Prometheus scrape handler at /metrics
func WithMetricsHandler(h http.Handler) RelayAppOptions {
	return func(cfg *relayAppConfig) error {
		cfg.metricsHandler = h
		return nil
	}
}

// buildComponents creates the job store unless one was injected
func buildComponents(ctx context.Context, b *relayAppConfig) (*AppComponents, error) {
	components := &AppComponents{Store: b.store}

	if b.meterProvider != nil {
		jobMetrics, err := telemetry.NewJobMetrics(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create job metrics: %w", err)
		}
		components.JobMetrics = jobMetrics
	}

	if components.Store != nil {
		return components, nil
	}

	serverCfg := b.config.Server
	storeOpts := []jobstore.Option{
		jobstore.WithMaxLogLines(serverCfg.GetMaxLogLines()),
		jobstore.WithSnapshotLogLines(serverCfg.GetSnapshotLogLines()),
		jobstore.WithMetrics(components.JobMetrics),
	}

	if serverCfg.Database != nil {
		if err := buildPostgresStore(ctx, serverCfg.Database, components, storeOpts); err != nil {
			return nil, err
		}
		return components, nil
	}

	components.Store = jobstore.NewMemoryStore(storeOpts...)
	slog.Info("In-memory job store initialized",
		"max_log_lines", serverCfg.GetMaxLogLines(),
		"snapshot_log_lines", serverCfg.GetSnapshotLogLines())

	return components, nil
}

// buildPostgresStore connects to the database, optionally migrates it and
// creates the PostgreSQL job store
func buildPostgresStore(
	ctx context.Context,
	dbCfg *config.DatabaseConfig,
	components *AppComponents,
	opts []jobstore.Option,
) error {
	if dbCfg.MigrateOnStart {
		connString, err := db.ConnectionString(ctx, dbCfg)
		if err != nil {
			return fmt.Errorf("failed to get database connection string: %w", err)
		}
		if err := database.MigrateUp(connString); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	pool, err := db.NewPool(ctx, dbCfg)
	if err != nil {
		return err
	}

	store, err := jobstore.NewPostgresStore(ctx, pool, opts...)
	if err != nil {
		pool.Close()
		return fmt.Errorf("failed to create job store: %w", err)
	}

	components.Store = store
	components.Readiness = pool.Ping
	components.addCleanup(store.Close)
	components.addCleanup(pool.Close)

	slog.Info("PostgreSQL job store initialized", "host", dbCfg.Host, "database", dbCfg.Database)
	return nil
}

// buildHTTPServer builds the HTTP server with router and middleware
func buildHTTPServer(
	ctx context.Context,
	b *relayAppConfig,
	components *AppComponents,
) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	middlewares := []func(http.Handler) http.Handler{api.LoggingMiddleware}

	// Metrics and tracing go first so they observe every request
	if b.tracerProvider != nil {
		middlewares = append([]func(http.Handler) http.Handler{telemetry.TracingMiddleware(b.tracerProvider)}, middlewares...)
		slog.Info("HTTP tracing middleware enabled")
	}
	if b.meterProvider != nil {
		metricsMiddleware, err := telemetry.MetricsMiddleware(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics middleware: %w", err)
		}
		if metricsMiddleware != nil {
			middlewares = append([]func(http.Handler) http.Handler{metricsMiddleware}, middlewares...)
			slog.Info("HTTP metrics middleware enabled")
		}
	}
	middlewares = append(middlewares, b.middlewares...)

	serverCfg := b.config.Server
	router, err := api.NewServer(components.Store,
		api.WithMiddlewares(middlewares...),
		api.WithReadiness(components.Readiness),
		api.WithCORSOrigins(serverCfg.CORSOrigins...),
		api.WithRequestTimeout(serverCfg.GetRequestTimeout()),
		api.WithMetricsHandler(b.metricsHandler),
		api.WithJobOptions(jobs.WithKeepAliveInterval(serverCfg.GetKeepAliveInterval())),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	// No WriteTimeout: event streams stay open for the lifetime of a job.
	server := &http.Server{
		Addr:              b.address,
		Handler:           router,
		ReadHeaderTimeout: b.readHeaderTimeout,
		IdleTimeout:       b.idleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}
