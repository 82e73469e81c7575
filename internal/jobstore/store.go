// Package jobstore holds job state for the reference relay server and fans
// worker events out to push channel subscribers. MemoryStore keeps everything
// in process; PostgresStore persists jobs and shares events between relay
// instances through LISTEN/NOTIFY.
package jobstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/stacklok/jobwatch/internal/events"
	"github.com/stacklok/jobwatch/internal/job"
	"github.com/stacklok/jobwatch/internal/telemetry"
)

const (
	// DefaultMaxLogLines is how many log lines are kept per job
	DefaultMaxLogLines = 500

	// DefaultSnapshotLogLines is how many trailing log lines a snapshot carries
	DefaultSnapshotLogLines = 200
)

var (
	// ErrNotFound is returned for unknown job ids
	ErrNotFound = errors.New("job not found")

	// ErrInvalidEvent is returned when a published frame is not a recognized event
	ErrInvalidEvent = errors.New("invalid job event")
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/stacklok/jobwatch/internal/jobstore Store

// Store is the job state backend of the relay server
type Store interface {
	// Create registers a new QUEUED job and returns its id
	Create(ctx context.Context, req job.CreateRequest) (string, error)

	// Get returns the current snapshot of a job
	Get(ctx context.Context, jobID string) (*job.Snapshot, error)

	// Request returns the creation request of a job
	Request(ctx context.Context, jobID string) (*job.CreateRequest, error)

	// Publish applies a worker event frame to a job and forwards it to subscribers
	Publish(ctx context.Context, jobID string, frame []byte) (events.Event, error)

	// Subscribe returns a channel of encoded event frames for a job.
	// The channel is closed by the returned cancel function.
	Subscribe(ctx context.Context, jobID string) (<-chan []byte, func(), error)
}

// storeConfig holds the settings shared by every Store implementation
type storeConfig struct {
	maxLogLines      int
	snapshotLogLines int
	metrics          *telemetry.JobMetrics
	newID            func() string
}

func newStoreConfig(opts []Option) storeConfig {
	cfg := storeConfig{
		maxLogLines:      DefaultMaxLogLines,
		snapshotLogLines: DefaultSnapshotLogLines,
		newID:            newJobID,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Option is a function that configures a store
type Option func(*storeConfig)

// WithMaxLogLines sets how many log lines are kept per job
func WithMaxLogLines(n int) Option {
	return func(c *storeConfig) {
		if n > 0 {
			c.maxLogLines = n
		}
	}
}

// WithSnapshotLogLines sets how many trailing log lines Get returns
func WithSnapshotLogLines(n int) Option {
	return func(c *storeConfig) {
		if n > 0 {
			c.snapshotLogLines = n
		}
	}
}

// WithMetrics sets the job metrics recorder
func WithMetrics(metrics *telemetry.JobMetrics) Option {
	return func(c *storeConfig) {
		c.metrics = metrics
	}
}

// WithIDGenerator replaces the job id generator
func WithIDGenerator(newID func() string) Option {
	return func(c *storeConfig) {
		if newID != nil {
			c.newID = newID
		}
	}
}

// newJobID returns a random id as 32 hex characters
func newJobID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// parseFrame parses a worker frame and returns its canonical encoding
func parseFrame(frame []byte) (events.Event, []byte, error) {
	ev, ok := events.Parse(frame)
	if !ok {
		return nil, nil, ErrInvalidEvent
	}

	encoded, err := events.Encode(ev)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode event: %w", err)
	}
	return ev, encoded, nil
}

func notFound(jobID string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, jobID)
}
