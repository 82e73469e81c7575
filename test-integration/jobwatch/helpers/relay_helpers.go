// Package helpers provides test helpers for the job sync integration tests.
package helpers

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/onsi/gomega"

	relay "github.com/stacklok/jobwatch/internal/app"
	"github.com/stacklok/jobwatch/internal/config"
	"github.com/stacklok/jobwatch/internal/httpclient"
	"github.com/stacklok/jobwatch/internal/job"
	"github.com/stacklok/jobwatch/internal/jobstore"
)

// RelayTestHelper manages a relay server for testing
type RelayTestHelper struct {
	ctx     context.Context
	app     *relay.RelayApp
	store   *jobstore.MemoryStore
	baseURL string
	client  *httpclient.DefaultClient
	done    chan error
}

// NewRelayTestHelper builds a relay listening on a random local port
func NewRelayTestHelper(ctx context.Context, cfg *config.Config) *RelayTestHelper {
	if cfg == nil {
		cfg = &config.Config{}
	}

	store := jobstore.NewMemoryStore(
		jobstore.WithMaxLogLines(cfg.Server.GetMaxLogLines()),
		jobstore.WithSnapshotLogLines(cfg.Server.GetSnapshotLogLines()),
	)
	app, err := relay.NewRelayApp(ctx,
		relay.WithConfig(cfg),
		relay.WithStore(store),
	)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())

	return &RelayTestHelper{
		ctx:   ctx,
		app:   app,
		store: store,
		done:  make(chan error, 1),
	}
}

// Start serves the relay in the background and waits until it is healthy
func (r *RelayTestHelper) Start() {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	gomega.Expect(err).NotTo(gomega.HaveOccurred())

	r.baseURL = "http://" + listener.Addr().String()
	r.client, err = httpclient.NewDefaultClient(r.baseURL, httpclient.WithTimeout(5*time.Second))
	gomega.Expect(err).NotTo(gomega.HaveOccurred())

	go func() {
		err := r.app.Serve(listener)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Relay serve failed: %v\n", err)
		}
		r.done <- err
	}()

	r.WaitForReady(10 * time.Second)
}

// Stop shuts the relay down and waits for Serve to return
func (r *RelayTestHelper) Stop() {
	gomega.Expect(r.app.Stop(5 * time.Second)).To(gomega.Succeed())
	gomega.Eventually(r.done, 5*time.Second).Should(gomega.Receive(gomega.BeNil()))
}

// WaitForReady polls /health until the relay answers
func (r *RelayTestHelper) WaitForReady(timeout time.Duration) {
	gomega.Eventually(func() error {
		_, err := r.client.Get(r.ctx, r.baseURL+"/health")
		return err
	}, timeout, 50*time.Millisecond).Should(gomega.Succeed(), "Relay should be ready")
}

// BaseURL returns the relay's base URL
func (r *RelayTestHelper) BaseURL() string {
	return r.baseURL
}

// Client returns a job API client pointed at the relay
func (r *RelayTestHelper) Client() *httpclient.DefaultClient {
	return r.client
}

// Store returns the relay's job store
func (r *RelayTestHelper) Store() *jobstore.MemoryStore {
	return r.store
}

// CreateJob submits a job over HTTP and returns its id
func (r *RelayTestHelper) CreateJob(videoURL string) string {
	resp, err := r.client.CreateJob(r.ctx, &job.CreateRequest{YoutubeURL: videoURL})
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	gomega.Expect(resp.JobID).NotTo(gomega.BeEmpty())
	return resp.JobID
}

// PostEvents posts event frames for a job over HTTP
func (r *RelayTestHelper) PostEvents(jobID string, frames ...string) {
	for _, frame := range frames {
		_, err := r.client.Post(r.ctx, fmt.Sprintf("%s/jobs/%s/events", r.baseURL, jobID), []byte(frame))
		gomega.Expect(err).NotTo(gomega.HaveOccurred(), "posting %s", frame)
	}
}

// WaitForStreamClients waits until n stream clients follow the job
func (r *RelayTestHelper) WaitForStreamClients(jobID string, n int) {
	gomega.Eventually(func() int {
		return r.store.SubscriberCount(jobID)
	}, 5*time.Second, 10*time.Millisecond).Should(gomega.Equal(n))
}
