// Package poller implements the pull-based fallback used once a job's push
// channel has failed. It re-fetches the full job snapshot on a fixed interval
// until a terminal status is observed.
package poller

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/jobwatch/internal/job"
	"github.com/stacklok/jobwatch/internal/otel"
	"github.com/stacklok/jobwatch/internal/telemetry"
)

// DefaultInterval is the delay between two snapshot fetches
const DefaultInterval = 1500 * time.Millisecond

// FetchFunc fetches the current full snapshot of the job
type FetchFunc func(ctx context.Context) (*job.Snapshot, error)

// SinkFunc receives every successfully fetched snapshot, in fetch order.
// A non-nil error stops the poller and is returned from Run.
type SinkFunc func(ctx context.Context, snap *job.Snapshot) error

// Poller re-fetches a job snapshot until it reaches a terminal status
type Poller struct {
	fetch    FetchFunc
	interval time.Duration
	jobID    string
	metrics  *telemetry.WatchMetrics
	tracer   trace.Tracer
}

// Option is a function that configures the poller
type Option func(*Poller)

// WithInterval sets the polling interval. Non-positive values keep DefaultInterval.
func WithInterval(interval time.Duration) Option {
	return func(p *Poller) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

// WithJobID sets the job id used in logs and spans
func WithJobID(jobID string) Option {
	return func(p *Poller) {
		p.jobID = jobID
	}
}

// WithMetrics sets the metrics recorder for poll attempts
func WithMetrics(metrics *telemetry.WatchMetrics) Option {
	return func(p *Poller) {
		p.metrics = metrics
	}
}

// WithTracer sets the tracer used to create a span per poll
func WithTracer(tracer trace.Tracer) Option {
	return func(p *Poller) {
		p.tracer = tracer
	}
}

// New creates a poller around fetch
func New(fetch FetchFunc, opts ...Option) *Poller {
	p := &Poller{
		fetch:    fetch,
		interval: DefaultInterval,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Interval returns the configured polling interval
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Run polls until a fetched snapshot has a terminal status, the sink fails or
// ctx is cancelled. The first fetch happens one interval after Run is called.
// Failed fetches are skipped and retried on the next tick.
//
// Run returns nil once a terminal snapshot was delivered to sink.
func (p *Poller) Run(ctx context.Context, sink SinkFunc) error {
	slog.Debug("Starting snapshot polling", "job_id", p.jobID, "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			slog.Debug("Snapshot polling cancelled", "job_id", p.jobID)
			return ctx.Err()
		case <-ticker.C:
		}

		snap, ok := p.poll(ctx, attempt)
		if !ok {
			continue
		}

		if err := sink(ctx, snap); err != nil {
			return err
		}

		if snap.Status.IsTerminal() {
			slog.Info("Snapshot polling finished",
				"job_id", p.jobID,
				"status", snap.Status,
				"attempts", attempt)
			return nil
		}
	}
}

// poll performs one fetch; errors are logged and swallowed
func (p *Poller) poll(ctx context.Context, attempt int) (*job.Snapshot, bool) {
	ctx, span := otel.StartSpan(ctx, p.tracer, "poller.Poll",
		trace.WithAttributes(
			otel.AttrJobID.String(p.jobID),
			otel.AttrAttempt.Int(attempt),
		),
	)
	defer span.End()

	snap, err := p.fetch(ctx)
	if err != nil {
		otel.RecordError(span, err)
		p.metrics.RecordPoll(ctx, false)
		if ctx.Err() == nil {
			slog.Debug("Snapshot poll failed, retrying on next tick",
				"job_id", p.jobID,
				"attempt", attempt,
				"error", err)
		}
		return nil, false
	}

	span.SetAttributes(otel.AttrJobStatus.String(string(snap.Status)))
	p.metrics.RecordPoll(ctx, true)
	return snap, true
}
