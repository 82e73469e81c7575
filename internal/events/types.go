package events

import "github.com/stacklok/jobwatch/internal/job"

// Kind discriminates event types on the wire
type Kind string

const (
	// KindStatus carries a partial job update
	KindStatus Kind = "status"

	// KindResult carries the result locator
	KindResult Kind = "result"

	// KindLog carries a single log message
	KindLog Kind = "log"
)

// Event is one decoded push-channel message.
// The concrete types are StatusEvent, ResultEvent and LogEvent.
type Event interface {
	Kind() Kind
}

// StatusEvent is a partial update. Nil fields were absent from the frame.
type StatusEvent struct {
	Status    *job.Status
	Progress  *int
	ResultRef *string
	Error     *string
}

// Kind implements Event
func (StatusEvent) Kind() Kind { return KindStatus }

// ResultEvent announces the result locator
type ResultEvent struct {
	ResultRef string
}

// Kind implements Event
func (ResultEvent) Kind() Kind { return KindResult }

// LogEvent carries one log line
type LogEvent struct {
	Message string
}

// Kind implements Event
func (LogEvent) Kind() Kind { return KindLog }
