package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/jobwatch/internal/job"
)

func ptr[T any](v T) *T { return &v }

func TestParse_Status(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		frame    string
		expected StatusEvent
	}{
		{
			name:     "status and progress",
			frame:    `{"type":"status","status":"RUNNING","progress":40}`,
			expected: StatusEvent{Status: ptr(job.StatusRunning), Progress: ptr(40)},
		},
		{
			name:     "empty delta",
			frame:    `{"type":"status"}`,
			expected: StatusEvent{},
		},
		{
			name:     "error only",
			frame:    `{"type":"status","error":"download failed"}`,
			expected: StatusEvent{Error: ptr("download failed")},
		},
		{
			name:     "camelCase result in status frame",
			frame:    `{"type":"status","status":"DONE","resultUrl":"/r/1"}`,
			expected: StatusEvent{Status: ptr(job.StatusDone), ResultRef: ptr("/r/1")},
		},
		{
			name:     "progress is clamped",
			frame:    `{"type":"status","progress":250}`,
			expected: StatusEvent{Progress: ptr(100)},
		},
		{
			name:     "progress beyond the int range is clamped",
			frame:    `{"type":"status","progress":1e300}`,
			expected: StatusEvent{Progress: ptr(100)},
		},
		{
			name:     "progress just past int64 is clamped",
			frame:    `{"type":"status","progress":1e19}`,
			expected: StatusEvent{Progress: ptr(100)},
		},
		{
			name:     "large negative progress is clamped",
			frame:    `{"type":"status","progress":-1e300}`,
			expected: StatusEvent{Progress: ptr(0)},
		},
		{
			name:     "wrongly typed fields are ignored",
			frame:    `{"type":"status","status":3,"progress":"40","error":null}`,
			expected: StatusEvent{},
		},
		{
			name:     "unknown status value is ignored but the rest applies",
			frame:    `{"type":"status","status":"PAUSED","progress":12}`,
			expected: StatusEvent{Progress: ptr(12)},
		},
		{
			name:     "unknown fields are ignored",
			frame:    `{"type":"status","status":"QUEUED","youtube_url":"x"}`,
			expected: StatusEvent{Status: ptr(job.StatusQueued)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ev, ok := Parse([]byte(tt.frame))
			require.True(t, ok)
			assert.Equal(t, KindStatus, ev.Kind())
			assert.Equal(t, tt.expected, ev)
		})
	}
}

func TestParse_Result(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		frame    string
		expected string
	}{
		{name: "snake_case field", frame: `{"type":"result","result_url":"/results/a.mp4"}`, expected: "/results/a.mp4"},
		{name: "camelCase field", frame: `{"type":"result","resultUrl":"/results/b.mp4"}`, expected: "/results/b.mp4"},
		{
			name:     "snake_case wins when both are present",
			frame:    `{"type":"result","result_url":"/snake","resultUrl":"/camel"}`,
			expected: "/snake",
		},
		{
			name:     "empty snake_case falls back to camelCase",
			frame:    `{"type":"result","result_url":"","resultUrl":"/camel"}`,
			expected: "/camel",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ev, ok := Parse([]byte(tt.frame))
			require.True(t, ok)
			assert.Equal(t, ResultEvent{ResultRef: tt.expected}, ev)
		})
	}
}

func TestParse_Log(t *testing.T) {
	t.Parallel()

	ev, ok := Parse([]byte(`{"type":"log","message":"step1"}`))
	require.True(t, ok)
	assert.Equal(t, LogEvent{Message: "step1"}, ev)

	ev, ok = Parse([]byte(`{"type":"log","message":""}`))
	require.True(t, ok)
	assert.Equal(t, LogEvent{Message: ""}, ev)
}

func TestParse_Dropped(t *testing.T) {
	t.Parallel()

	frames := map[string]string{
		"not json":             `not json`,
		"truncated json":       `{"type":"status"`,
		"json array":           `[{"type":"log","message":"x"}]`,
		"json string":          `"status"`,
		"missing type":         `{"status":"RUNNING"}`,
		"non-string type":      `{"type":1}`,
		"unknown type":         `{"type":"heartbeat"}`,
		"result without url":   `{"type":"result"}`,
		"result with null url": `{"type":"result","result_url":null}`,
		"log without message":  `{"type":"log"}`,
		"log with number":      `{"type":"log","message":5}`,
		"empty frame":          ``,
	}

	for name, frame := range frames {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ev, ok := Parse([]byte(frame))
			assert.False(t, ok)
			assert.Nil(t, ev)
		})
	}
}

func TestEncode_ParsesBack(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		event Event
		wire  string
	}{
		{
			name:  "status event",
			event: StatusEvent{Status: ptr(job.StatusRunning), Progress: ptr(40)},
			wire:  `{"type":"status","status":"RUNNING","progress":40}`,
		},
		{
			name:  "result event uses snake_case",
			event: ResultEvent{ResultRef: "/r/1"},
			wire:  `{"type":"result","result_url":"/r/1"}`,
		},
		{
			name:  "log event",
			event: LogEvent{Message: "hello"},
			wire:  `{"type":"log","message":"hello"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data, err := Encode(tt.event)
			require.NoError(t, err)
			assert.JSONEq(t, tt.wire, string(data))

			parsed, ok := Parse(data)
			require.True(t, ok)
			assert.Equal(t, tt.event, parsed)
		})
	}
}
