package sync

import (
	"context"
	"errors"

	"github.com/stacklok/jobwatch/internal/httpclient"
)

// ErrEmptyJobID is returned by Watch when no job id is given
var ErrEmptyJobID = errors.New("job id is required")

// Watcher starts synchronization sessions against one job API
type Watcher struct {
	client httpclient.Client
	config watcherConfig
}

// NewWatcher creates a watcher that uses client for every session
func NewWatcher(client httpclient.Client, opts ...Option) *Watcher {
	cfg := defaultWatcherConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Watcher{
		client: client,
		config: cfg,
	}
}

// Watch starts a session for jobID. The push channel and the initial snapshot
// fetch start immediately and run in the background.
//
// The session runs until Close is called or ctx is cancelled. The caller must
// call Close to release its resources.
func (w *Watcher) Watch(ctx context.Context, jobID string) (*Session, error) {
	if jobID == "" {
		return nil, ErrEmptyJobID
	}

	s := newSession(ctx, w.client, jobID, w.config)
	s.start()

	return s, nil
}
