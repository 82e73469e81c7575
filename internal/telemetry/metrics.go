package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// WatchMetricsMeterName is the name used for the client-side synchronization meter
	WatchMetricsMeterName = "github.com/stacklok/jobwatch/sync"

	// JobMetricsMeterName is the name used for the relay server job meter
	JobMetricsMeterName = "github.com/stacklok/jobwatch/jobs"
)

// Frame outcomes recorded by WatchMetrics.RecordFrame
const (
	FrameApplied   = "applied"
	FrameMalformed = "malformed"
	FrameDropped   = "dropped"
)

// WatchMetrics holds the OpenTelemetry instruments for job synchronization
type WatchMetrics struct {
	framesTotal    metric.Int64Counter
	fallbacksTotal metric.Int64Counter
	pollsTotal     metric.Int64Counter
	activeWatches  metric.Int64UpDownCounter
}

// NewWatchMetrics creates a new WatchMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewWatchMetrics(provider metric.MeterProvider) (*WatchMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(WatchMetricsMeterName)

	framesTotal, err := meter.Int64Counter(
		"jobwatch_stream_frames_total",
		metric.WithDescription("Push channel frames received, by outcome"),
		metric.WithUnit("{frame}"),
	)
	if err != nil {
		return nil, err
	}

	fallbacksTotal, err := meter.Int64Counter(
		"jobwatch_poll_fallbacks_total",
		metric.WithDescription("Number of sessions that fell back to polling"),
		metric.WithUnit("{fallback}"),
	)
	if err != nil {
		return nil, err
	}

	pollsTotal, err := meter.Int64Counter(
		"jobwatch_polls_total",
		metric.WithDescription("Snapshot polls issued in fallback mode"),
		metric.WithUnit("{poll}"),
	)
	if err != nil {
		return nil, err
	}

	activeWatches, err := meter.Int64UpDownCounter(
		"jobwatch_active_watches",
		metric.WithDescription("Number of open watch sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	return &WatchMetrics{
		framesTotal:    framesTotal,
		fallbacksTotal: fallbacksTotal,
		pollsTotal:     pollsTotal,
		activeWatches:  activeWatches,
	}, nil
}

// RecordFrame counts one push channel frame with its outcome
func (m *WatchMetrics) RecordFrame(ctx context.Context, outcome string) {
	if m == nil || m.framesTotal == nil {
		return
	}
	m.framesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordFallback counts a transition into polling mode
func (m *WatchMetrics) RecordFallback(ctx context.Context) {
	if m == nil || m.fallbacksTotal == nil {
		return
	}
	m.fallbacksTotal.Add(ctx, 1)
}

// RecordPoll counts one fallback poll and whether it succeeded
func (m *WatchMetrics) RecordPoll(ctx context.Context, success bool) {
	if m == nil || m.pollsTotal == nil {
		return
	}
	m.pollsTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}

// SessionStarted increments the open session gauge
func (m *WatchMetrics) SessionStarted(ctx context.Context) {
	if m == nil || m.activeWatches == nil {
		return
	}
	m.activeWatches.Add(ctx, 1)
}

// SessionEnded decrements the open session gauge
func (m *WatchMetrics) SessionEnded(ctx context.Context) {
	if m == nil || m.activeWatches == nil {
		return
	}
	m.activeWatches.Add(ctx, -1)
}

// JobMetrics holds the OpenTelemetry instruments for the relay server
type JobMetrics struct {
	jobsCreated       metric.Int64Counter
	eventsTotal       metric.Int64Counter
	activeSubscribers metric.Int64UpDownCounter
}

// NewJobMetrics creates a new JobMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewJobMetrics(provider metric.MeterProvider) (*JobMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(JobMetricsMeterName)

	jobsCreated, err := meter.Int64Counter(
		"jobwatch_jobs_created_total",
		metric.WithDescription("Number of jobs created"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, err
	}

	eventsTotal, err := meter.Int64Counter(
		"jobwatch_events_published_total",
		metric.WithDescription("Job events published to subscribers, by kind"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	activeSubscribers, err := meter.Int64UpDownCounter(
		"jobwatch_stream_subscribers",
		metric.WithDescription("Number of connected push channel subscribers"),
		metric.WithUnit("{subscriber}"),
	)
	if err != nil {
		return nil, err
	}

	return &JobMetrics{
		jobsCreated:       jobsCreated,
		eventsTotal:       eventsTotal,
		activeSubscribers: activeSubscribers,
	}, nil
}

// RecordJobCreated counts a newly created job
func (m *JobMetrics) RecordJobCreated(ctx context.Context) {
	if m == nil || m.jobsCreated == nil {
		return
	}
	m.jobsCreated.Add(ctx, 1)
}

// RecordEvent counts one published event of the given kind
func (m *JobMetrics) RecordEvent(ctx context.Context, kind string) {
	if m == nil || m.eventsTotal == nil {
		return
	}
	m.eventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// AddSubscribers adjusts the connected subscriber count by delta
func (m *JobMetrics) AddSubscribers(ctx context.Context, delta int64) {
	if m == nil || m.activeSubscribers == nil {
		return
	}
	m.activeSubscribers.Add(ctx, delta)
}
