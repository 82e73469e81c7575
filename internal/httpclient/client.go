// Package httpclient provides the HTTP client for the job API: snapshot
// fetches, job creation and the server-sent event stream.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/jobwatch/internal/job"
	"github.com/stacklok/jobwatch/internal/otel"
	"github.com/stacklok/jobwatch/internal/versions"
)

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks github.com/stacklok/jobwatch/internal/httpclient Client,Stream

const (
	// DefaultTimeout is the default timeout for HTTP requests
	DefaultTimeout = 10 * time.Second

	// MaxResponseSize is the maximum allowed response size (100MB)
	MaxResponseSize = 100 * 1024 * 1024

	// maxErrorBodySize bounds how much of an error response is read
	maxErrorBodySize = 4 * 1024

	// UserAgent is the user agent string for HTTP requests
	UserAgent = "jobwatch/1.0"

	// eventStreamContentType is the media type of the push channel
	eventStreamContentType = "text/event-stream"
)

// ErrEmptyJobID is returned when an operation needs a job id and none was given
var ErrEmptyJobID = errors.New("job id is required")

// Client is an interface for job API operations
type Client interface {
	// GetJob fetches the full snapshot of a job (GET /jobs/{id})
	GetJob(ctx context.Context, jobID string) (*job.Snapshot, error)

	// CreateJob submits a new job (POST /jobs)
	CreateJob(ctx context.Context, req *job.CreateRequest) (*job.CreateResponse, error)

	// OpenStream opens the push channel of a job (GET /stream/{id}).
	// The stream stays open until the server closes it, a read fails,
	// Close is called or ctx is cancelled.
	OpenStream(ctx context.Context, jobID string) (Stream, error)
}

// Stream is an open push channel
type Stream interface {
	// Next blocks until the next message frame and returns its data.
	// It returns io.EOF when the server closes the stream.
	Next() ([]byte, error)

	// Close releases the underlying connection
	Close() error
}

// DefaultClient is the default HTTP client implementation
type DefaultClient struct {
	baseURL      *url.URL
	client       *http.Client
	streamClient *http.Client
	timeout      time.Duration
	tracer       trace.Tracer
}

// Option configures a DefaultClient
type Option func(*DefaultClient)

// WithTimeout sets the timeout of non-streaming requests.
// A zero timeout keeps DefaultTimeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *DefaultClient) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithTracer sets the tracer used to create request spans
func WithTracer(tracer trace.Tracer) Option {
	return func(c *DefaultClient) {
		c.tracer = tracer
	}
}

// NewDefaultClient creates a client for the job API served at baseURL
func NewDefaultClient(baseURL string, opts ...Option) (*DefaultClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid API base URL %q: scheme must be http or https", baseURL)
	}

	c := &DefaultClient{
		baseURL: u,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.client = &http.Client{Timeout: c.timeout}
	// The push channel is long-lived; it is bounded by its context only
	c.streamClient = &http.Client{}

	return c, nil
}

// GetJob fetches the full snapshot of a job
func (c *DefaultClient) GetJob(ctx context.Context, jobID string) (*job.Snapshot, error) {
	if jobID == "" {
		return nil, ErrEmptyJobID
	}

	ctx, span := otel.StartSpan(ctx, c.tracer, "httpclient.GetJob")
	defer span.End()
	span.SetAttributes(otel.AttrJobID.String(jobID))

	body, err := c.Get(ctx, c.endpoint("jobs", url.PathEscape(jobID)))
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}

	snap, err := job.DecodeSnapshot(body)
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(otel.AttrJobStatus.String(string(snap.Status)))

	return snap, nil
}

// CreateJob submits a new job
func (c *DefaultClient) CreateJob(ctx context.Context, req *job.CreateRequest) (*job.CreateResponse, error) {
	if err := job.ValidateCreateRequest(req); err != nil {
		return nil, err
	}

	ctx, span := otel.StartSpan(ctx, c.tracer, "httpclient.CreateJob")
	defer span.End()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	body, err := c.Post(ctx, c.endpoint("jobs"), payload)
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}

	var resp job.CreateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to decode create response: %w", err)
	}
	if resp.JobID == "" {
		return nil, fmt.Errorf("create response did not include a job id")
	}
	span.SetAttributes(otel.AttrJobID.String(resp.JobID))

	return &resp, nil
}

// OpenStream opens the push channel of a job
func (c *DefaultClient) OpenStream(ctx context.Context, jobID string) (Stream, error) {
	if jobID == "" {
		return nil, ErrEmptyJobID
	}

	target := c.endpoint("stream", url.PathEscape(jobID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", eventStreamContentType)
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer func() {
			_ = resp.Body.Close()
		}()
		return nil, NewHTTPError(resp.StatusCode, target, errorMessage(resp))
	}

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, eventStreamContentType) {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected stream content type %q", ct)
	}

	return newEventStream(resp.Body), nil
}

// GetVersion fetches the build information reported by the server
func (c *DefaultClient) GetVersion(ctx context.Context) (*versions.VersionInfo, error) {
	body, err := c.Get(ctx, c.endpoint("version"))
	if err != nil {
		return nil, err
	}

	var info versions.VersionInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to decode version info: %w", err)
	}
	return &info, nil
}

// Get performs an HTTP GET request and returns the response body
func (c *DefaultClient) Get(ctx context.Context, target string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, target, nil)
}

// Post performs an HTTP POST request with a JSON body
func (c *DefaultClient) Post(ctx context.Context, target string, payload []byte) ([]byte, error) {
	return c.do(ctx, http.MethodPost, target, payload)
}

func (c *DefaultClient) do(ctx context.Context, method, target string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Set headers
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// Execute request
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// Check status code
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, NewHTTPError(resp.StatusCode, target, errorMessage(resp))
	}

	// Check Content-Length header if available
	if resp.ContentLength > MaxResponseSize {
		return nil, fmt.Errorf("response size %d bytes exceeds maximum allowed size of %d bytes (%.2f MB)",
			resp.ContentLength, MaxResponseSize, float64(MaxResponseSize)/(1024*1024))
	}

	// Use LimitReader to prevent reading more than MaxResponseSize
	limitedReader := io.LimitReader(resp.Body, MaxResponseSize+1) // +1 to detect if limit exceeded
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response size exceeds maximum allowed size of %d bytes (%.2f MB)",
			MaxResponseSize, float64(MaxResponseSize)/(1024*1024))
	}

	return body, nil
}

// endpoint joins escaped path segments onto the base URL
func (c *DefaultClient) endpoint(segments ...string) string {
	return c.baseURL.JoinPath(segments...).String()
}

// errorMessage prefers the API's {"error": "..."} message over the status line
func errorMessage(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err == nil {
		if msg := gjson.GetBytes(body, "error"); msg.Type == gjson.String && msg.Str != "" {
			return msg.Str
		}
	}
	return resp.Status
}
