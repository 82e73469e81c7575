// Package reducer folds job events and snapshots into a job view.
//
// Every function is pure: the input view, including its log slice, is never
// modified, and the returned view shares no mutable state with it.
package reducer

import (
	"slices"

	"github.com/stacklok/jobwatch/internal/events"
	"github.com/stacklok/jobwatch/internal/job"
)

// Merge applies a single push event to the view.
//
// Status events overwrite each field they carry (last write wins per field,
// with no lifecycle ordering enforced). Result events set the result locator.
// Log events append one line.
func Merge(view job.View, ev events.Event) job.View {
	next := view.Clone()

	switch e := ev.(type) {
	case events.StatusEvent:
		if e.Status != nil {
			next.Status = *e.Status
		}
		if e.Progress != nil {
			next.Progress = job.ClampProgress(*e.Progress)
		}
		if e.ResultRef != nil && *e.ResultRef != "" {
			next.ResultRef = *e.ResultRef
		}
		if e.Error != nil {
			next.LastError = *e.Error
		}
	case events.ResultEvent:
		if e.ResultRef != "" {
			next.ResultRef = e.ResultRef
		}
	case events.LogEvent:
		next.LogLines = append(next.LogLines, e.Message)
	}

	return next
}

// Fields is a set of view fields written by push events
type Fields uint8

// View fields a status or result event can set
const (
	FieldStatus Fields = 1 << iota
	FieldProgress
	FieldResultRef
	FieldError
)

// Has reports whether every field in f2 is in f
func (f Fields) Has(f2 Fields) bool {
	return f&f2 == f2
}

// Written returns the fields Merge overwrites when applying ev. Log events
// only append, so they write none.
func Written(ev events.Event) Fields {
	var f Fields
	switch e := ev.(type) {
	case events.StatusEvent:
		if e.Status != nil {
			f |= FieldStatus
		}
		if e.Progress != nil {
			f |= FieldProgress
		}
		if e.ResultRef != nil && *e.ResultRef != "" {
			f |= FieldResultRef
		}
		if e.Error != nil {
			f |= FieldError
		}
	case events.ResultEvent:
		if e.ResultRef != "" {
			f |= FieldResultRef
		}
	}
	return f
}

// Initial applies the snapshot fetched when watching starts. It may arrive
// after push events, which are newer, so fields in pushed keep their current
// value. Log lines are reconciled rather than replaced: the snapshot's lines
// come first, followed by the pushed lines it does not already end with.
func Initial(view job.View, snap job.Snapshot, pushed Fields) job.View {
	next := view.Clone()

	if !pushed.Has(FieldStatus) {
		next.Status = snap.Status
	}
	if !pushed.Has(FieldProgress) {
		next.Progress = job.ClampProgress(snap.Progress)
	}
	if !pushed.Has(FieldResultRef) && snap.ResultURL != "" {
		next.ResultRef = snap.ResultURL
	}
	if !pushed.Has(FieldError) {
		next.LastError = snap.Error
	}
	next.LogLines = reconcileLogs(snap.Logs, view.LogLines)

	return next
}

// reconcileLogs joins fetched and pushed lines, dropping the longest run of
// pushed lines the fetched log already ends with
func reconcileLogs(fetched, pushed []string) []string {
	overlap := 0
	for k := min(len(fetched), len(pushed)); k > 0; k-- {
		if slices.Equal(fetched[len(fetched)-k:], pushed[:k]) {
			overlap = k
			break
		}
	}

	lines := make([]string, 0, len(fetched)+len(pushed)-overlap)
	lines = append(lines, fetched...)
	return append(lines, pushed[overlap:]...)
}

// Replace applies a full snapshot, as fetched by a poll.
//
// Status, progress, error and log lines are replaced wholesale. Log lines
// appended from the push channel are discarded unless the snapshot carries
// them too. The result locator is only replaced when the snapshot has one.
func Replace(view job.View, snap job.Snapshot) job.View {
	next := job.View{
		Status:    snap.Status,
		Progress:  job.ClampProgress(snap.Progress),
		ResultRef: view.ResultRef,
		LogLines:  slices.Clone(snap.Logs),
		LastError: snap.Error,
	}
	if next.LogLines == nil {
		next.LogLines = []string{}
	}
	if snap.ResultURL != "" {
		next.ResultRef = snap.ResultURL
	}
	return next
}

// SetError records a displayable error message on the view
func SetError(view job.View, msg string) job.View {
	next := view.Clone()
	next.LastError = msg
	return next
}

// ClearError removes any displayed error message
func ClearError(view job.View) job.View {
	return SetError(view, "")
}
