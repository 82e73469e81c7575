// Package job provides the job lifecycle types shared by the synchronization
// subsystem, the API client and the reference relay server.
package job

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// Status represents the lifecycle state of a job on the server
type Status string

const (
	// StatusQueued means the job was accepted but processing has not started
	StatusQueued Status = "QUEUED"

	// StatusRunning means the job is being processed
	StatusRunning Status = "RUNNING"

	// StatusDone means the job finished successfully
	StatusDone Status = "DONE"

	// StatusFailed means the job finished with an error
	StatusFailed Status = "FAILED"
)

// ParseStatus converts a wire value into a Status.
// Matching is case-insensitive; unknown values return an error.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusQueued, StatusRunning, StatusDone, StatusFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown job status %q", s)
	}
}

// IsTerminal reports whether no further processing happens after this status
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

// ClampProgress bounds a progress percentage to 0..100
func ClampProgress(p int) int {
	return max(0, min(p, 100))
}

// ProgressFromFloat rounds a wire progress value to a percentage in 0..100.
// The bound is applied before the integer conversion, which is undefined for
// values outside the int range.
func ProgressFromFloat(f float64) int {
	if math.IsNaN(f) {
		return 0
	}
	return int(math.Round(max(0, min(f, 100))))
}

// View is the client-side snapshot of a job, as consumed by the rendering layer.
//
// A View is owned by a single writer. Readers must work on a Clone.
type View struct {
	// Status is the last applied lifecycle status
	Status Status `json:"status"`

	// Progress is the completion percentage (0-100)
	Progress int `json:"progress"`

	// ResultRef locates the job result. Empty until set, never cleared afterwards.
	ResultRef string `json:"resultRef,omitempty"`

	// LogLines holds log messages in arrival order
	LogLines []string `json:"logLines"`

	// LastError is a displayable error message, either reported by the server
	// or produced locally when the initial load fails
	LastError string `json:"lastError,omitempty"`
}

// NewView returns the view of a job that just became known
func NewView() View {
	return View{
		Status:   StatusQueued,
		LogLines: []string{},
	}
}

// Clone returns a deep copy of the view
func (v View) Clone() View {
	out := v
	out.LogLines = slices.Clone(v.LogLines)
	if out.LogLines == nil {
		out.LogLines = []string{}
	}
	return out
}

// HasResult reports whether a result locator has been received
func (v View) HasResult() bool {
	return v.ResultRef != ""
}
