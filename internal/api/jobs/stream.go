package jobs

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// streamJob handles GET /stream/{jobId}. Each stored event is written as one
// "data:" frame; a comment line is sent when the stream has been idle for the
// keepalive interval. The stream ends when the client goes away.
func (rr *Routes) streamJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	frames, unsubscribe, err := rr.store.Subscribe(r.Context(), id)
	if err != nil {
		writeStoreError(w, id, err)
		return
	}
	defer unsubscribe()

	rc := http.NewResponseController(w)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		slog.Error("Streaming not supported by response writer", "job_id", id, "error", err)
		return
	}

	slog.Debug("Stream opened", "job_id", id)
	defer slog.Debug("Stream closed", "job_id", id)

	ticker := time.NewTicker(rr.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", frame); err != nil {
				return
			}
			ticker.Reset(rr.keepAlive)
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
