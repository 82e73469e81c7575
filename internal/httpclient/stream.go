package httpclient

import (
	"io"
	"sync"

	"github.com/stacklok/jobwatch/internal/events"
)

// eventStream adapts a text/event-stream body to the Stream interface
type eventStream struct {
	body      io.ReadCloser
	decoder   *events.Decoder
	closeOnce sync.Once
	closeErr  error
}

func newEventStream(body io.ReadCloser) *eventStream {
	return &eventStream{
		body:    body,
		decoder: events.NewDecoder(body),
	}
}

// Next returns the data of the next message frame.
// Named events other than "message" are skipped, as EventSource.onmessage would.
func (s *eventStream) Next() ([]byte, error) {
	for {
		frame, err := s.decoder.Next()
		if err != nil {
			return nil, err
		}
		if !frame.IsMessage() {
			continue
		}
		return frame.Data, nil
	}
}

// Close closes the response body. It is safe to call more than once.
func (s *eventStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
