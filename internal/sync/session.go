package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/stacklok/jobwatch/internal/events"
	"github.com/stacklok/jobwatch/internal/httpclient"
	"github.com/stacklok/jobwatch/internal/job"
	"github.com/stacklok/jobwatch/internal/otel"
	"github.com/stacklok/jobwatch/internal/reducer"
	"github.com/stacklok/jobwatch/internal/sync/poller"
	"github.com/stacklok/jobwatch/internal/sync/supervisor"
	"github.com/stacklok/jobwatch/internal/telemetry"
)

var (
	// ErrSessionClosed is returned by Wait when the session ends before the
	// job reaches a terminal status
	ErrSessionClosed = errors.New("session closed")

	// errStreamClosed replaces io.EOF when the server ends the push channel
	errStreamClosed = errors.New("push channel closed by server")
)

// Update is a read-only copy of the session state
type Update struct {
	// View is the job as currently known by the client
	View job.View

	// Connection is the push channel state, for diagnostics
	Connection supervisor.State

	// Revision increases by one for every published change
	Revision uint64
}

type messageKind int

const (
	msgStreamOpened messageKind = iota
	msgStreamFrame
	msgStreamFailed
	msgInitialSnapshot
	msgInitialFailed
	msgPolledSnapshot
)

// message is what producers post to the session queue
type message struct {
	kind     messageKind
	frame    []byte
	snapshot *job.Snapshot
	err      error
}

// Session synchronizes the view of one job
type Session struct {
	jobID  string
	client httpclient.Client
	config watcherConfig

	ctx        context.Context
	cancel     context.CancelFunc
	group      *errgroup.Group
	streamCtx  context.Context
	stopStream context.CancelFunc
	queue      chan message

	// Owned by the consumer goroutine
	view       job.View
	supervisor *supervisor.Supervisor
	revision   uint64
	pushed     reducer.Fields
	polled     bool
	loadError  string

	mu          sync.RWMutex
	current     Update
	changed     chan struct{}
	subscribers map[chan Update]struct{}
	finished    bool

	done      chan struct{}
	closeOnce sync.Once
}

func newSession(parent context.Context, client httpclient.Client, jobID string, cfg watcherConfig) *Session {
	ctx, cancel := context.WithCancel(parent)
	group, groupCtx := errgroup.WithContext(ctx)
	streamCtx, stopStream := context.WithCancel(groupCtx)

	s := &Session{
		jobID:       jobID,
		client:      client,
		config:      cfg,
		ctx:         groupCtx,
		cancel:      cancel,
		group:       group,
		streamCtx:   streamCtx,
		stopStream:  stopStream,
		queue:       make(chan message, cfg.queueSize),
		view:        job.NewView(),
		supervisor:  supervisor.New(),
		changed:     make(chan struct{}),
		subscribers: make(map[chan Update]struct{}),
		done:        make(chan struct{}),
	}
	s.current = Update{
		View:       s.view.Clone(),
		Connection: s.supervisor.State(),
	}

	return s
}

// start launches the consumer and the two initial producers
func (s *Session) start() {
	slog.Debug("Starting job session", "job_id", s.jobID)
	s.config.metrics.SessionStarted(s.ctx)

	s.group.Go(s.consume)
	s.group.Go(s.pumpStream)
	s.group.Go(s.loadInitial)

	go func() {
		_ = s.group.Wait()
		s.stopStream()
		s.cancel()
		s.finish()
		s.config.metrics.SessionEnded(context.Background())
		slog.Debug("Job session ended", "job_id", s.jobID)
		close(s.done)
	}()
}

// JobID returns the id of the watched job
func (s *Session) JobID() string {
	return s.jobID
}

// Current returns the latest published state
func (s *Session) Current() Update {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.clone()
}

// ConnectionState returns the latest published push channel state
func (s *Session) ConnectionState() supervisor.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Connection
}

// Subscribe returns a channel that receives the latest state on every change,
// starting with the current one. Slow readers only ever miss intermediate
// states, never the most recent one. The channel is closed when the session
// ends or the returned cancel function is called.
func (s *Session) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 1)

	s.mu.Lock()
	defer s.mu.Unlock()

	ch <- s.current.clone()
	if s.finished {
		close(ch)
		return ch, func() {}
	}
	s.subscribers[ch] = struct{}{}

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
	}
}

// Wait blocks until the job reaches a terminal status and returns that state.
// It returns ErrSessionClosed if the session ends first, or the context error
// if ctx is done first.
func (s *Session) Wait(ctx context.Context) (Update, error) {
	for {
		s.mu.RLock()
		current, changed := s.current, s.changed
		s.mu.RUnlock()

		if current.View.Status.IsTerminal() {
			return current.clone(), nil
		}

		select {
		case <-changed:
		case <-s.done:
			last := s.Current()
			if last.View.Status.IsTerminal() {
				return last, nil
			}
			return last, ErrSessionClosed
		case <-ctx.Done():
			return s.Current(), ctx.Err()
		}
	}
}

// Done returns a channel that is closed once every session goroutine has exited
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close stops the session: the push channel is closed, polling stops and all
// goroutines have exited when Close returns. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		slog.Debug("Closing job session", "job_id", s.jobID)
		s.cancel()
	})
	<-s.done
	return nil
}

// consume is the single reader of the queue and the only writer of the view
func (s *Session) consume() error {
	for {
		select {
		case <-s.ctx.Done():
			return nil
		case msg := <-s.queue:
			s.handle(msg)
		}
	}
}

func (s *Session) handle(msg message) {
	switch msg.kind {
	case msgStreamOpened:
		if s.supervisor.Open() {
			slog.Debug("Push channel open", "job_id", s.jobID)
			s.publish()
		}
	case msgStreamFrame:
		s.applyFrame(msg.frame)
	case msgStreamFailed:
		s.fallBack(msg.err)
	case msgInitialSnapshot:
		if s.polled {
			slog.Debug("Ignoring initial snapshot older than a polled one", "job_id", s.jobID)
			return
		}
		s.view = reducer.Initial(s.view, *msg.snapshot, s.pushed)
		s.publish()
	case msgPolledSnapshot:
		s.polled = true
		s.view = reducer.Replace(s.view, *msg.snapshot)
		s.publish()
	case msgInitialFailed:
		s.loadError = fmt.Sprintf("failed to load job: %v", msg.err)
		s.view = reducer.SetError(s.view, s.loadError)
		s.publish()
	}
}

func (s *Session) applyFrame(frame []byte) {
	if !s.supervisor.AcceptsFrames() {
		s.config.metrics.RecordFrame(s.ctx, telemetry.FrameDropped)
		return
	}

	// The first frame also proves the channel is open
	opened := s.supervisor.Open()

	ev, ok := events.Parse(frame)
	if !ok {
		s.config.metrics.RecordFrame(s.ctx, telemetry.FrameMalformed)
		slog.Debug("Dropping unrecognized push frame", "job_id", s.jobID, "size", len(frame))
		if opened {
			s.publish()
		}
		return
	}

	s.view = reducer.Merge(s.view, ev)
	s.pushed |= reducer.Written(ev)
	s.config.metrics.RecordFrame(s.ctx, telemetry.FrameApplied)
	s.publish()
}

// fallBack handles a transport error. Only the first one has effects.
// The displayed error is cleared unless it reports a failed initial load,
// which stays until a poll replaces it.
func (s *Session) fallBack(cause error) {
	if !s.supervisor.Fail(cause) {
		return
	}

	s.stopStream()
	if s.loadError == "" || s.view.LastError != s.loadError {
		s.view = reducer.ClearError(s.view)
	}
	s.config.metrics.RecordFallback(s.ctx)

	slog.Warn("Push channel failed, falling back to polling",
		"job_id", s.jobID,
		"error", cause,
		"open_duration", s.supervisor.OpenDuration(),
		"poll_interval", s.config.pollInterval)

	p := poller.New(s.fetchSnapshot,
		poller.WithInterval(s.config.pollInterval),
		poller.WithJobID(s.jobID),
		poller.WithMetrics(s.config.metrics),
		poller.WithTracer(s.config.tracer),
	)
	s.group.Go(func() error {
		if err := p.Run(s.ctx, s.postPolled); err != nil && s.ctx.Err() == nil {
			slog.Error("Snapshot polling stopped unexpectedly", "job_id", s.jobID, "error", err)
		}
		return nil
	})

	s.publish()
}

// publish makes the consumer's state visible to readers
func (s *Session) publish() {
	s.revision++
	update := Update{
		View:       s.view.Clone(),
		Connection: s.supervisor.State(),
		Revision:   s.revision,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = update
	close(s.changed)
	s.changed = make(chan struct{})

	for ch := range s.subscribers {
		offer(ch, update.clone())
	}
}

// finish closes every subscriber channel once the session has ended
func (s *Session) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.finished = true
	for ch := range s.subscribers {
		close(ch)
	}
	clear(s.subscribers)
}

// offer replaces any unread update in ch with u. Callers hold s.mu.
func offer(ch chan Update, u Update) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- u:
	default:
	}
}

// post hands a message to the consumer, giving up when ctx is done
func (s *Session) post(ctx context.Context, msg message) error {
	select {
	case s.queue <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pumpStream reads the push channel until it fails or the session stops
func (s *Session) pumpStream() error {
	ctx := s.streamCtx

	stream, err := s.client.OpenStream(ctx, s.jobID)
	if err != nil {
		if ctx.Err() == nil {
			_ = s.post(ctx, message{kind: msgStreamFailed, err: err})
		}
		return nil
	}

	// Closing the stream unblocks a pending Next
	stop := context.AfterFunc(ctx, func() {
		_ = stream.Close()
	})
	defer func() {
		stop()
		_ = stream.Close()
	}()

	if err := s.post(ctx, message{kind: msgStreamOpened}); err != nil {
		return nil
	}

	for {
		frame, err := stream.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				err = errStreamClosed
			}
			_ = s.post(ctx, message{kind: msgStreamFailed, err: err})
			return nil
		}

		if err := s.post(ctx, message{kind: msgStreamFrame, frame: frame}); err != nil {
			return nil
		}
	}
}

// loadInitial fetches the first full snapshot, retrying transient failures
func (s *Session) loadInitial() error {
	ctx, span := otel.StartSpan(s.ctx, s.config.tracer, "sync.LoadInitialSnapshot",
		trace.WithAttributes(otel.AttrJobID.String(s.jobID)),
	)
	defer span.End()

	attempts := 0
	snap, err := backoff.Retry(ctx, func() (*job.Snapshot, error) {
		attempts++
		snap, err := s.client.GetJob(ctx, s.jobID)
		if err != nil && !isTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return snap, err
	},
		backoff.WithBackOff(s.config.newBackOff()),
		backoff.WithMaxTries(s.config.initialFetchRetries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Debug("Initial snapshot fetch failed, retrying",
				"job_id", s.jobID,
				"error", err,
				"retry_in", next)
		}),
	)
	span.SetAttributes(otel.AttrAttempt.Int(attempts))

	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		otel.RecordError(span, err)
		slog.Warn("Failed to load job snapshot",
			"job_id", s.jobID,
			"attempts", attempts,
			"error", err)
		_ = s.post(ctx, message{kind: msgInitialFailed, err: err})
		return nil
	}

	span.SetAttributes(otel.AttrJobStatus.String(string(snap.Status)))
	_ = s.post(ctx, message{kind: msgInitialSnapshot, snapshot: snap})
	return nil
}

func (s *Session) fetchSnapshot(ctx context.Context) (*job.Snapshot, error) {
	return s.client.GetJob(ctx, s.jobID)
}

func (s *Session) postPolled(ctx context.Context, snap *job.Snapshot) error {
	return s.post(ctx, message{kind: msgPolledSnapshot, snapshot: snap})
}

// isTransient reports whether a fetch error is worth retrying.
// Client errors such as 404 are final.
func isTransient(err error) bool {
	var httpErr *httpclient.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Temporary()
	}
	return true
}

func (u Update) clone() Update {
	u.View = u.View.Clone()
	return u
}
