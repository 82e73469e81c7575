package events

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/stacklok/jobwatch/internal/job"
)

// Accepted spellings of the result locator field
const (
	fieldResultSnake = "result_url"
	fieldResultCamel = "resultUrl"
)

// Parse decodes a raw frame into an event.
// It returns false for malformed JSON, non-object payloads, unknown types and
// frames missing the payload their type requires.
func Parse(frame []byte) (Event, bool) {
	if !gjson.ValidBytes(frame) {
		return nil, false
	}

	doc := gjson.ParseBytes(frame)
	if !doc.IsObject() {
		return nil, false
	}

	typ := doc.Get("type")
	if typ.Type != gjson.String {
		return nil, false
	}

	switch Kind(typ.Str) {
	case KindStatus:
		return parseStatus(doc), true
	case KindResult:
		ref, ok := resultRef(doc)
		if !ok {
			return nil, false
		}
		return ResultEvent{ResultRef: ref}, true
	case KindLog:
		msg := doc.Get("message")
		if msg.Type != gjson.String {
			return nil, false
		}
		return LogEvent{Message: msg.Str}, true
	default:
		return nil, false
	}
}

// parseStatus keeps every well-typed field and ignores the rest
func parseStatus(doc gjson.Result) StatusEvent {
	var ev StatusEvent

	if v := doc.Get("status"); v.Type == gjson.String {
		if st, err := job.ParseStatus(v.Str); err == nil {
			ev.Status = &st
		}
	}

	if v := doc.Get("progress"); v.Type == gjson.Number {
		p := job.ProgressFromFloat(v.Num)
		ev.Progress = &p
	}

	if ref, ok := resultRef(doc); ok {
		ev.ResultRef = &ref
	}

	if v := doc.Get("error"); v.Type == gjson.String {
		msg := v.Str
		ev.Error = &msg
	}

	return ev
}

// resultRef normalizes the two accepted result field names.
// The snake_case name wins when both are present and non-empty.
func resultRef(doc gjson.Result) (string, bool) {
	for _, name := range []string{fieldResultSnake, fieldResultCamel} {
		if v := doc.Get(name); v.Type == gjson.String && v.Str != "" {
			return v.Str, true
		}
	}
	return "", false
}

// wireFrame is the canonical outbound shape of an event
type wireFrame struct {
	Type      Kind    `json:"type"`
	Status    *string `json:"status,omitempty"`
	Progress  *int    `json:"progress,omitempty"`
	ResultURL *string `json:"result_url,omitempty"`
	Error     *string `json:"error,omitempty"`
	Message   *string `json:"message,omitempty"`
}

// Encode renders an event as a canonical JSON frame.
// Parse(Encode(ev)) yields an event equal to ev.
func Encode(ev Event) ([]byte, error) {
	frame := wireFrame{Type: ev.Kind()}

	switch e := ev.(type) {
	case StatusEvent:
		if e.Status != nil {
			s := string(*e.Status)
			frame.Status = &s
		}
		frame.Progress = e.Progress
		frame.ResultURL = e.ResultRef
		frame.Error = e.Error
	case ResultEvent:
		frame.ResultURL = &e.ResultRef
	case LogEvent:
		frame.Message = &e.Message
	}

	return json.Marshal(frame)
}
