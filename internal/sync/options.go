package sync

import (
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/jobwatch/internal/sync/poller"
	"github.com/stacklok/jobwatch/internal/telemetry"
)

const (
	// DefaultInitialFetchRetries is how many times a failed initial snapshot
	// fetch is retried before the error is shown
	DefaultInitialFetchRetries = 2

	// DefaultQueueSize is the capacity of the session message queue
	DefaultQueueSize = 64
)

// watcherConfig holds the settings shared by every session of a watcher
type watcherConfig struct {
	pollInterval        time.Duration
	initialFetchRetries uint
	queueSize           int
	newBackOff          func() backoff.BackOff
	metrics             *telemetry.WatchMetrics
	tracer              trace.Tracer
}

func defaultWatcherConfig() watcherConfig {
	return watcherConfig{
		pollInterval:        poller.DefaultInterval,
		initialFetchRetries: DefaultInitialFetchRetries,
		queueSize:           DefaultQueueSize,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
}

// Option is a function that configures a Watcher
type Option func(*watcherConfig)

// WithPollInterval sets the fallback polling interval
func WithPollInterval(interval time.Duration) Option {
	return func(c *watcherConfig) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// WithInitialFetchRetries sets how many times the initial snapshot fetch is
// retried on transient errors. Zero disables retries.
func WithInitialFetchRetries(retries uint) Option {
	return func(c *watcherConfig) {
		c.initialFetchRetries = retries
	}
}

// WithQueueSize sets the capacity of the message queue
func WithQueueSize(size int) Option {
	return func(c *watcherConfig) {
		if size > 0 {
			c.queueSize = size
		}
	}
}

// WithBackOff sets the factory for the initial fetch retry policy
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(c *watcherConfig) {
		if newBackOff != nil {
			c.newBackOff = newBackOff
		}
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(metrics *telemetry.WatchMetrics) Option {
	return func(c *watcherConfig) {
		c.metrics = metrics
	}
}

// WithTracer sets the tracer used for session spans
func WithTracer(tracer trace.Tracer) Option {
	return func(c *watcherConfig) {
		c.tracer = tracer
	}
}
