package reducer

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/jobwatch/internal/events"
	"github.com/stacklok/jobwatch/internal/job"
)

func ptr[T any](v T) *T { return &v }

func parse(t *testing.T, frame string) events.Event {
	t.Helper()
	ev, ok := events.Parse([]byte(frame))
	require.True(t, ok, "frame should parse: %s", frame)
	return ev
}

func TestMerge_StatusLastWriteWinsPerField(t *testing.T) {
	t.Parallel()

	view := job.NewView()
	view = Merge(view, events.StatusEvent{Status: ptr(job.StatusRunning), Progress: ptr(10)})
	view = Merge(view, events.StatusEvent{Progress: ptr(55)})
	view = Merge(view, events.StatusEvent{Error: ptr("transient")})
	view = Merge(view, events.StatusEvent{Status: ptr(job.StatusRunning)})

	assert.Equal(t, job.StatusRunning, view.Status)
	assert.Equal(t, 55, view.Progress, "progress comes from the last event that set it")
	assert.Equal(t, "transient", view.LastError)
	assert.Empty(t, view.ResultRef)
}

func TestMerge_StatusRegressionIsApplied(t *testing.T) {
	t.Parallel()

	view := job.NewView()
	view = Merge(view, events.StatusEvent{Status: ptr(job.StatusDone), Progress: ptr(100)})
	view = Merge(view, events.StatusEvent{Status: ptr(job.StatusRunning)})

	// No monotonicity guard: the most recent write wins
	assert.Equal(t, job.StatusRunning, view.Status)
	assert.Equal(t, 100, view.Progress)
}

func TestMerge_StatusSequences(t *testing.T) {
	t.Parallel()

	sequences := [][]events.StatusEvent{
		{
			{Status: ptr(job.StatusQueued)},
			{Status: ptr(job.StatusRunning), Progress: ptr(5)},
			{Progress: ptr(60), Error: ptr("")},
			{Status: ptr(job.StatusDone), Progress: ptr(100), ResultRef: ptr("/r/1")},
		},
		{
			{Error: ptr("x")},
			{Progress: ptr(3)},
			{Status: ptr(job.StatusFailed), Error: ptr("boom")},
			{Progress: ptr(7)},
		},
	}

	for i, seq := range sequences {
		view := job.NewView()
		expected := job.NewView()
		for _, ev := range seq {
			view = Merge(view, ev)
			if ev.Status != nil {
				expected.Status = *ev.Status
			}
			if ev.Progress != nil {
				expected.Progress = *ev.Progress
			}
			if ev.ResultRef != nil {
				expected.ResultRef = *ev.ResultRef
			}
			if ev.Error != nil {
				expected.LastError = *ev.Error
			}
		}
		assert.Equal(t, expected, view, "sequence %d", i)
	}
}

func TestMerge_ResultIsIdempotent(t *testing.T) {
	t.Parallel()

	base := Merge(job.NewView(), events.StatusEvent{Status: ptr(job.StatusRunning)})
	ev := parse(t, `{"type":"result","result_url":"/r/1"}`)

	once := Merge(base, ev)
	twice := Merge(once, ev)

	assert.Equal(t, "/r/1", once.ResultRef)
	assert.Equal(t, once, twice)
}

func TestMerge_ResultBeforeStatus(t *testing.T) {
	t.Parallel()

	view := job.NewView()
	view = Merge(view, parse(t, `{"type":"result","resultUrl":"/r/2"}`))
	assert.Equal(t, job.StatusQueued, view.Status)
	assert.Equal(t, "/r/2", view.ResultRef)

	view = Merge(view, parse(t, `{"type":"status","status":"DONE","progress":100}`))
	assert.Equal(t, job.StatusDone, view.Status)
	assert.Equal(t, "/r/2", view.ResultRef, "late status must not clear an early result")
}

func TestMerge_LogsAppendInArrivalOrder(t *testing.T) {
	t.Parallel()

	view := job.NewView()
	messages := []string{"download", "transcribe", "translate", "render"}
	for _, msg := range messages {
		view = Merge(view, events.LogEvent{Message: msg})
	}

	assert.Len(t, view.LogLines, len(messages))
	assert.Equal(t, messages, view.LogLines)
}

func TestMerge_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	original := job.View{Status: job.StatusRunning, LogLines: make([]string, 1, 8)}
	original.LogLines[0] = "first"

	next := Merge(original, events.LogEvent{Message: "second"})
	next.LogLines[0] = "mutated"

	assert.Equal(t, []string{"first"}, original.LogLines)
	assert.Equal(t, "first", original.LogLines[0])
	assert.Len(t, next.LogLines, 2)
}

func TestReplace(t *testing.T) {
	t.Parallel()

	t.Run("overwrites push appended logs", func(t *testing.T) {
		t.Parallel()

		view := job.NewView()
		view = Merge(view, events.LogEvent{Message: "pushed-1"})
		view = Merge(view, events.LogEvent{Message: "pushed-2"})

		view = Replace(view, job.Snapshot{
			Status:   job.StatusRunning,
			Progress: 70,
			Logs:     []string{"pushed-1", "polled"},
		})

		assert.Equal(t, []string{"pushed-1", "polled"}, view.LogLines)
		assert.Equal(t, job.StatusRunning, view.Status)
		assert.Equal(t, 70, view.Progress)
	})

	t.Run("snapshot without logs empties the log", func(t *testing.T) {
		t.Parallel()

		view := Merge(job.NewView(), events.LogEvent{Message: "x"})
		view = Replace(view, job.Snapshot{Status: job.StatusQueued})

		assert.NotNil(t, view.LogLines)
		assert.Empty(t, view.LogLines)
	})

	t.Run("error is replaced wholesale", func(t *testing.T) {
		t.Parallel()

		view := SetError(job.NewView(), "initial load failed")
		view = Replace(view, job.Snapshot{Status: job.StatusRunning})
		assert.Empty(t, view.LastError)

		view = Replace(view, job.Snapshot{Status: job.StatusFailed, Error: "boom"})
		assert.Equal(t, "boom", view.LastError)
	})

	t.Run("result ref is never cleared", func(t *testing.T) {
		t.Parallel()

		view := Merge(job.NewView(), events.ResultEvent{ResultRef: "/r/1"})
		view = Replace(view, job.Snapshot{Status: job.StatusDone, Progress: 100})
		assert.Equal(t, "/r/1", view.ResultRef)

		view = Replace(view, job.Snapshot{Status: job.StatusDone, Progress: 100, ResultURL: "/r/2"})
		assert.Equal(t, "/r/2", view.ResultRef)
	})

	t.Run("does not alias snapshot logs", func(t *testing.T) {
		t.Parallel()

		snap := job.Snapshot{Status: job.StatusRunning, Logs: []string{"a"}}
		view := Replace(job.NewView(), snap)
		view.LogLines[0] = "b"
		assert.Equal(t, "a", snap.Logs[0])
	})
}

func TestSetAndClearError(t *testing.T) {
	t.Parallel()

	view := SetError(job.NewView(), "oops")
	assert.Equal(t, "oops", view.LastError)

	cleared := ClearError(view)
	assert.Empty(t, cleared.LastError)
	assert.Equal(t, "oops", view.LastError)
}

func TestWritten(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		event    events.Event
		expected Fields
	}{
		{
			name:     "status and progress",
			event:    events.StatusEvent{Status: ptr(job.StatusRunning), Progress: ptr(40)},
			expected: FieldStatus | FieldProgress,
		},
		{
			name:     "empty result ref is not a write",
			event:    events.StatusEvent{ResultRef: ptr(""), Error: ptr("")},
			expected: FieldError,
		},
		{
			name:     "result",
			event:    events.ResultEvent{ResultRef: "/r/1"},
			expected: FieldResultRef,
		},
		{
			name:     "log",
			event:    events.LogEvent{Message: "step1"},
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, Written(tt.event))
		})
	}
}

func TestInitial(t *testing.T) {
	t.Parallel()

	t.Run("before any push applies the whole snapshot", func(t *testing.T) {
		t.Parallel()

		view := Initial(job.NewView(), job.Snapshot{
			Status:    job.StatusRunning,
			Progress:  20,
			ResultURL: "/r/1",
			Logs:      []string{"a"},
			Error:     "slow",
		}, 0)

		assert.Equal(t, job.View{
			Status:    job.StatusRunning,
			Progress:  20,
			ResultRef: "/r/1",
			LogLines:  []string{"a"},
			LastError: "slow",
		}, view)
	})

	t.Run("keeps pushed fields and lines", func(t *testing.T) {
		t.Parallel()

		var pushed Fields
		view := job.NewView()
		for _, ev := range []events.Event{
			events.StatusEvent{Status: ptr(job.StatusRunning), Progress: ptr(40)},
			events.LogEvent{Message: "step1"},
		} {
			view = Merge(view, ev)
			pushed |= Written(ev)
		}

		view = Initial(view, job.Snapshot{Status: job.StatusQueued, Error: "queued behind 3 jobs"}, pushed)

		assert.Equal(t, job.View{
			Status:    job.StatusRunning,
			Progress:  40,
			LogLines:  []string{"step1"},
			LastError: "queued behind 3 jobs",
		}, view)
	})

	t.Run("reconciles overlapping logs", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			fetched  []string
			pushed   []string
			expected []string
		}{
			{fetched: nil, pushed: nil, expected: []string{}},
			{fetched: []string{"a", "b"}, pushed: nil, expected: []string{"a", "b"}},
			{fetched: nil, pushed: []string{"c"}, expected: []string{"c"}},
			{fetched: []string{"a", "b"}, pushed: []string{"c"}, expected: []string{"a", "b", "c"}},
			{fetched: []string{"a", "b"}, pushed: []string{"b", "c"}, expected: []string{"a", "b", "c"}},
			{fetched: []string{"a", "b"}, pushed: []string{"a", "b"}, expected: []string{"a", "b"}},
			{fetched: []string{"b"}, pushed: []string{"a", "b", "c"}, expected: []string{"b", "a", "b", "c"}},
		}

		for _, tt := range tests {
			view := job.NewView()
			view.LogLines = slices.Clone(tt.pushed)

			next := Initial(view, job.Snapshot{Status: job.StatusRunning, Logs: tt.fetched}, 0)
			assert.Equal(t, tt.expected, next.LogLines, "fetched %v, pushed %v", tt.fetched, tt.pushed)
		}
	})

	t.Run("does not mutate input", func(t *testing.T) {
		t.Parallel()

		view := Merge(job.NewView(), events.LogEvent{Message: "x"})
		snap := job.Snapshot{Status: job.StatusRunning, Logs: []string{"w"}}

		next := Initial(view, snap, 0)
		next.LogLines[0] = "mutated"

		assert.Equal(t, []string{"x"}, view.LogLines)
		assert.Equal(t, []string{"w"}, snap.Logs)
	})
}
