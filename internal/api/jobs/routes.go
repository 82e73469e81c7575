// Package jobs provides the job endpoints of the reference relay server:
// creation, snapshot reads, worker event ingestion and the push stream.
package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/stacklok/jobwatch/internal/api/common"
	"github.com/stacklok/jobwatch/internal/job"
	"github.com/stacklok/jobwatch/internal/jobstore"
)

const (
	// DefaultKeepAliveInterval is the period between stream keepalive comments
	DefaultKeepAliveInterval = 15 * time.Second

	maxCreateBodySize = 1 << 20
	maxEventBodySize  = 64 << 10

	jobIDParam = "jobId"
)

var errMalformedBody = errors.New("request body is not valid JSON")

// Routes holds the job handlers and their dependencies
type Routes struct {
	store     jobstore.Store
	schema    *jsonschema.Schema
	keepAlive time.Duration
}

// Option configures Routes
type Option func(*Routes)

// WithKeepAliveInterval sets the period between stream keepalive comments
func WithKeepAliveInterval(d time.Duration) Option {
	return func(rr *Routes) {
		if d > 0 {
			rr.keepAlive = d
		}
	}
}

// NewRoutes creates the job handlers backed by the given store
func NewRoutes(store jobstore.Store, opts ...Option) (*Routes, error) {
	if store == nil {
		return nil, fmt.Errorf("job store is required")
	}

	schema, err := compileCreateJobSchema()
	if err != nil {
		return nil, err
	}

	rr := &Routes{
		store:     store,
		schema:    schema,
		keepAlive: DefaultKeepAliveInterval,
	}
	for _, opt := range opts {
		opt(rr)
	}
	return rr, nil
}

// Router returns the /jobs routes
func (rr *Routes) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/", rr.createJob)
	r.Get("/{jobId}", rr.getJob)
	r.Get("/{jobId}/request", rr.getRequest)
	r.Post("/{jobId}/events", rr.postEvent)

	return r
}

// StreamRouter returns the /stream routes
func (rr *Routes) StreamRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/{jobId}", rr.streamJob)
	return r
}

// createJob handles POST /jobs
func (rr *Routes) createJob(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r, maxCreateBodySize)
	if err != nil {
		writeBodyError(w, err)
		return
	}

	if err := validateCreateBody(rr.schema, body); err != nil {
		if errors.Is(err, errMalformedBody) {
			common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		common.WriteErrorResponse(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	var req job.CreateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		common.WriteErrorResponse(w, errMalformedBody.Error(), http.StatusBadRequest)
		return
	}

	id, err := rr.store.Create(r.Context(), req)
	if err != nil {
		if errors.Is(err, job.ErrInvalidURL) {
			common.WriteErrorResponse(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		slog.Error("Failed to create job", "error", err)
		common.WriteErrorResponse(w, "Failed to create job", http.StatusInternalServerError)
		return
	}

	common.WriteJSONResponse(w, job.CreateResponse{JobID: id}, http.StatusOK)
}

// getJob handles GET /jobs/{jobId}
func (rr *Routes) getJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	snap, err := rr.store.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, id, err)
		return
	}

	common.WriteJSONResponse(w, snap, http.StatusOK)
}

// getRequest handles GET /jobs/{jobId}/request
func (rr *Routes) getRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	req, err := rr.store.Request(r.Context(), id)
	if err != nil {
		writeStoreError(w, id, err)
		return
	}

	common.WriteJSONResponse(w, req, http.StatusOK)
}

// postEvent handles POST /jobs/{jobId}/events
func (rr *Routes) postEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	body, err := readBody(r, maxEventBodySize)
	if err != nil {
		writeBodyError(w, err)
		return
	}

	ev, err := rr.store.Publish(r.Context(), id, body)
	if err != nil {
		writeStoreError(w, id, err)
		return
	}

	common.WriteJSONResponse(w, map[string]string{"type": string(ev.Kind())}, http.StatusAccepted)
}

// jobID extracts the job id path parameter, writing a 400 when it is invalid
func jobID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := common.GetAndValidateURLParam(r, jobIDParam)
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return "", false
	}
	return id, true
}

var errBodyTooLarge = errors.New("request body too large")

// readBody reads at most limit bytes of the request body
func readBody(r *http.Request, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, errBodyTooLarge
	}
	return body, nil
}

func writeBodyError(w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		common.WriteErrorResponse(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
}

func writeStoreError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, jobstore.ErrNotFound):
		common.WriteErrorResponse(w, "Job not found", http.StatusNotFound)
	case errors.Is(err, jobstore.ErrInvalidEvent):
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error("Job store operation failed", "job_id", id, "error", err)
		common.WriteErrorResponse(w, "Internal server error", http.StatusInternalServerError)
	}
}
