package jobstore

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/stacklok/jobwatch/internal/events"
	"github.com/stacklok/jobwatch/internal/job"
	"github.com/stacklok/jobwatch/internal/reducer"
)

// record is the stored state of one job
type record struct {
	view    job.View
	request job.CreateRequest
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	storeConfig

	mu   sync.RWMutex
	jobs map[string]*record
	hub  *hub
}

// NewMemoryStore creates an empty in-process store
func NewMemoryStore(opts ...Option) *MemoryStore {
	cfg := newStoreConfig(opts)
	return &MemoryStore{
		storeConfig: cfg,
		jobs:        make(map[string]*record),
		hub:         newHub(cfg.metrics),
	}
}

// Create registers a new QUEUED job
func (s *MemoryStore) Create(ctx context.Context, req job.CreateRequest) (string, error) {
	if err := job.ValidateCreateRequest(&req); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newID()
	if _, exists := s.jobs[id]; exists {
		return "", fmt.Errorf("job id collision: %s", id)
	}

	s.jobs[id] = &record{
		view:    job.NewView(),
		request: req,
	}
	s.metrics.RecordJobCreated(ctx)

	slog.Info("Job created", "job_id", id, "youtube_url", req.YoutubeURL)
	return id, nil
}

// Get returns the current snapshot of a job with its trailing log lines
func (s *MemoryStore) Get(_ context.Context, jobID string) (*job.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return nil, notFound(jobID)
	}

	snap := job.SnapshotOf(rec.view, s.snapshotLogLines)
	return &snap, nil
}

// Request returns a copy of the creation request of a job
func (s *MemoryStore) Request(_ context.Context, jobID string) (*job.CreateRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return nil, notFound(jobID)
	}

	req := rec.request
	req.Options = maps.Clone(rec.request.Options)
	return &req, nil
}

// Publish applies an event frame to a job and forwards its canonical encoding
// to every subscriber. Subscribers whose buffer is full skip the frame.
func (s *MemoryStore) Publish(ctx context.Context, jobID string, frame []byte) (events.Event, error) {
	ev, encoded, err := parseFrame(frame)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return nil, notFound(jobID)
	}

	view := reducer.Merge(rec.view, ev)
	if len(view.LogLines) > s.maxLogLines {
		view.LogLines = slices.Clone(view.LogLines[len(view.LogLines)-s.maxLogLines:])
	}
	rec.view = view

	s.hub.broadcast(jobID, encoded)
	s.metrics.RecordEvent(ctx, string(ev.Kind()))

	return ev, nil
}

// Subscribe registers a push channel subscriber for a job
func (s *MemoryStore) Subscribe(ctx context.Context, jobID string) (<-chan []byte, func(), error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.jobs[jobID]; !ok {
		return nil, nil, notFound(jobID)
	}

	ch, cancel := s.hub.subscribe(ctx, jobID)
	return ch, cancel, nil
}

// SubscriberCount returns the number of push subscribers of a job
func (s *MemoryStore) SubscriberCount(jobID string) int {
	return s.hub.count(jobID)
}

// Len returns the number of stored jobs
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
