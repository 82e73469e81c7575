package app

import (
	"sync"

	"github.com/stacklok/jobwatch/internal/api/system"
	"github.com/stacklok/jobwatch/internal/jobstore"
	"github.com/stacklok/jobwatch/internal/telemetry"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Store holds job state and stream subscribers
	Store jobstore.Store

	// JobMetrics records relay metrics (nil when metrics are disabled)
	JobMetrics *telemetry.JobMetrics

	// Readiness reports whether the store backend is reachable (nil for memory)
	Readiness system.ReadinessFunc

	cleanups  []func()
	closeOnce sync.Once
}

func (c *AppComponents) addCleanup(fn func()) {
	c.cleanups = append(c.cleanups, fn)
}

// Close releases resources owned by the components in the order they were
// registered. It is safe to call more than once.
func (c *AppComponents) Close() {
	c.closeOnce.Do(func() {
		for _, fn := range c.cleanups {
			fn()
		}
	})
}
