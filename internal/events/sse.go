package events

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// DefaultEventName is the SSE event name delivered to EventSource.onmessage
const DefaultEventName = "message"

// Frame is one dispatched server-sent event
type Frame struct {
	// Event is the event name, empty when the stream did not set one
	Event string
	// ID is the last event id field seen in this event
	ID string
	// Data is the payload, with multiple data lines joined by "\n"
	Data []byte
}

// IsMessage reports whether the frame would be delivered to onmessage
func (f Frame) IsMessage() bool {
	return f.Event == "" || f.Event == DefaultEventName
}

// Decoder reads frames from a text/event-stream body
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder creates a decoder reading from r
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next blocks until the next frame is complete.
// It returns io.EOF when the stream ends; a partially received frame is discarded.
func (d *Decoder) Next() (Frame, error) {
	var (
		frame   Frame
		data    strings.Builder
		hasData bool
	)

	for {
		line, err := d.r.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return Frame{}, err
		}
		eof := err != nil
		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")

		if line == "" {
			if hasData {
				frame.Data = []byte(strings.TrimSuffix(data.String(), "\n"))
				return frame, nil
			}
			// Event without data: reset and keep reading
			frame = Frame{}
			if eof {
				return Frame{}, io.EOF
			}
			continue
		}

		if !eof {
			d.applyField(&frame, &data, &hasData, line)
			continue
		}

		// Unterminated last line: the event was never dispatched
		return Frame{}, io.EOF
	}
}

func (*Decoder) applyField(frame *Frame, data *strings.Builder, hasData *bool, line string) {
	if strings.HasPrefix(line, ":") {
		return
	}

	field, value, found := strings.Cut(line, ":")
	if found {
		value = strings.TrimPrefix(value, " ")
	}

	switch field {
	case "data":
		data.WriteString(value)
		data.WriteByte('\n')
		*hasData = true
	case "event":
		frame.Event = value
	case "id":
		frame.ID = value
	}
}
