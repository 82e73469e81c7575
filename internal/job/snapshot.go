package job

import (
	"encoding/json"
	"fmt"
)

// Snapshot is the full, self-contained job state returned by GET /jobs/{id}
type Snapshot struct {
	Status    Status   `json:"status"`
	Progress  int      `json:"progress"`
	ResultURL string   `json:"resultUrl,omitempty"`
	Logs      []string `json:"logs,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// wireSnapshot tolerates fractional progress values
type wireSnapshot struct {
	Status    string   `json:"status"`
	Progress  float64  `json:"progress"`
	ResultURL *string  `json:"resultUrl"`
	Logs      []string `json:"logs"`
	Error     *string  `json:"error"`
}

// DecodeSnapshot parses a snapshot body.
// The status must be one of the known values; progress is clamped to 0..100.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var w wireSnapshot
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to decode job snapshot: %w", err)
	}

	status, err := ParseStatus(w.Status)
	if err != nil {
		return nil, fmt.Errorf("invalid job snapshot: %w", err)
	}

	snap := &Snapshot{
		Status:   status,
		Progress: ProgressFromFloat(w.Progress),
		Logs:     w.Logs,
	}
	if w.ResultURL != nil {
		snap.ResultURL = *w.ResultURL
	}
	if w.Error != nil {
		snap.Error = *w.Error
	}
	return snap, nil
}

// SnapshotOf builds the wire snapshot of a view, keeping at most logLimit
// trailing log lines. A logLimit <= 0 keeps every line.
func SnapshotOf(v View, logLimit int) Snapshot {
	logs := v.LogLines
	if logLimit > 0 && len(logs) > logLimit {
		logs = logs[len(logs)-logLimit:]
	}
	out := make([]string, len(logs))
	copy(out, logs)

	return Snapshot{
		Status:    v.Status,
		Progress:  v.Progress,
		ResultURL: v.ResultRef,
		Logs:      out,
		Error:     v.LastError,
	}
}
