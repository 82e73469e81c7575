package jobstore

import (
	"context"
	"log/slog"
	"sync"

	"github.com/stacklok/jobwatch/internal/telemetry"
)

// subscriberBuffer is the number of frames queued per subscriber before
// frames are skipped for it
const subscriberBuffer = 16

// hub fans encoded event frames out to the push subscribers of each job
type hub struct {
	mu      sync.Mutex
	subs    map[string]map[chan []byte]struct{}
	metrics *telemetry.JobMetrics
}

func newHub(metrics *telemetry.JobMetrics) *hub {
	return &hub{
		subs:    make(map[string]map[chan []byte]struct{}),
		metrics: metrics,
	}
}

// subscribe registers a subscriber. The returned cancel function closes the
// channel and may be called more than once.
func (h *hub) subscribe(ctx context.Context, jobID string) (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)

	h.mu.Lock()
	subs, ok := h.subs[jobID]
	if !ok {
		subs = make(map[chan []byte]struct{})
		h.subs[jobID] = subs
	}
	subs[ch] = struct{}{}
	count := len(subs)
	h.mu.Unlock()

	h.metrics.AddSubscribers(ctx, 1)
	slog.Debug("Subscriber registered", "job_id", jobID, "subscribers", count)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			if h.remove(jobID, ch) {
				h.metrics.AddSubscribers(context.Background(), -1)
				slog.Debug("Subscriber deregistered", "job_id", jobID)
			}
		})
	}

	return ch, cancel
}

// remove closes ch unless closeAll already did
func (h *hub) remove(jobID string, ch chan []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subs[jobID]
	if _, ok := subs[ch]; !ok {
		return false
	}
	delete(subs, ch)
	if len(subs) == 0 {
		delete(h.subs, jobID)
	}
	close(ch)
	return true
}

// broadcast offers frame to every subscriber of a job without blocking
func (h *hub) broadcast(jobID string, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs[jobID] {
		select {
		case ch <- frame:
		default:
			slog.Warn("Skipping event for slow subscriber", "job_id", jobID)
		}
	}
}

// count returns the number of subscribers of a job
func (h *hub) count(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID])
}

// closeAll closes every subscriber channel
func (h *hub) closeAll() {
	h.mu.Lock()
	var closed int64
	for jobID, subs := range h.subs {
		for ch := range subs {
			close(ch)
			closed++
		}
		delete(h.subs, jobID)
	}
	h.mu.Unlock()

	if closed > 0 {
		h.metrics.AddSubscribers(context.Background(), -closed)
	}
}
