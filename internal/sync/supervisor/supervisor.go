// Package supervisor tracks the lifecycle of a job's push channel.
//
// The state machine has three states. It starts in CONNECTING, moves to OPEN
// when the transport signals the stream is established, and moves to FAILED on
// any transport error. FAILED is sticky: a supervisor never leaves it, and a new
// job id needs a new supervisor.
package supervisor

import (
	"time"
)

// State is the push channel connection state
type State string

const (
	// StateConnecting is the initial state, before the stream is established
	StateConnecting State = "CONNECTING"

	// StateOpen means frames are being received from the push channel
	StateOpen State = "OPEN"

	// StateFailed means the push channel is gone and polling has taken over
	StateFailed State = "FAILED"
)

// String returns the state name
func (s State) String() string {
	return string(s)
}

// Supervisor holds the connection state of one push channel.
// It is not safe for concurrent use; a single goroutine owns it.
type Supervisor struct {
	state    State
	cause    error
	openedAt time.Time
	failedAt time.Time
	now      func() time.Time
}

// New creates a supervisor in the CONNECTING state
func New() *Supervisor {
	return &Supervisor{
		state: StateConnecting,
		now:   time.Now,
	}
}

// State returns the current connection state
func (s *Supervisor) State() State {
	return s.state
}

// Open records that the push channel is established.
// It reports whether the call moved the supervisor from CONNECTING to OPEN.
func (s *Supervisor) Open() bool {
	if s.state != StateConnecting {
		return false
	}
	s.state = StateOpen
	s.openedAt = s.now()
	return true
}

// Fail records a transport error.
// It reports whether the call moved the supervisor into FAILED; only the first
// failure does, and the caller performs the fallback side effects exactly then.
func (s *Supervisor) Fail(cause error) bool {
	if s.state == StateFailed {
		return false
	}
	s.state = StateFailed
	s.cause = cause
	s.failedAt = s.now()
	return true
}

// AcceptsFrames reports whether frames from the push channel may still be applied
func (s *Supervisor) AcceptsFrames() bool {
	return s.state != StateFailed
}

// Cause returns the transport error that failed the channel, if any
func (s *Supervisor) Cause() error {
	return s.cause
}

// OpenDuration returns how long the channel was open before it failed.
// It is zero if the channel never opened or has not failed.
func (s *Supervisor) OpenDuration() time.Duration {
	if s.openedAt.IsZero() || s.failedAt.IsZero() {
		return 0
	}
	return s.failedAt.Sub(s.openedAt)
}
