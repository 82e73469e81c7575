package integration

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stacklok/jobwatch/internal/httpclient"
	"github.com/stacklok/jobwatch/internal/job"
	jobsync "github.com/stacklok/jobwatch/internal/sync"
	"github.com/stacklok/jobwatch/internal/sync/supervisor"
	"github.com/stacklok/jobwatch/test-integration/jobwatch/helpers"
)

const videoURL = "https://www.youtube.com/watch?v=integration"

var _ = Describe("Job synchronization", Label("sync"), func() {
	var relay *helpers.RelayTestHelper

	BeforeEach(func() {
		relay = helpers.NewRelayTestHelper(ctx, nil)
		relay.Start()
	})

	AfterEach(func() {
		relay.Stop()
	})

	watch := func(client httpclient.Client, jobID string, opts ...jobsync.Option) *jobsync.Session {
		opts = append([]jobsync.Option{jobsync.WithPollInterval(50 * time.Millisecond)}, opts...)
		session, err := jobsync.NewWatcher(client, opts...).Watch(ctx, jobID)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() {
			Expect(session.Close()).To(Succeed())
		})
		return session
	}

	Context("over the event stream", func() {
		It("should follow a job to completion", func() {
			jobID := relay.CreateJob(videoURL)
			session := watch(relay.Client(), jobID)

			Eventually(session.ConnectionState, 5*time.Second).Should(Equal(supervisor.StateOpen))
			relay.WaitForStreamClients(jobID, 1)

			relay.PostEvents(jobID,
				`{"type":"status","status":"RUNNING","progress":25}`,
				`{"type":"log","message":"downloading"}`,
				`{"type":"log","message":"transcoding"}`,
				`{"type":"result","result_url":"https://cdn.example.com/out.mp4"}`,
				`{"type":"status","status":"DONE","progress":100}`,
			)

			final, err := session.Wait(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(final.View.Status).To(Equal(job.StatusDone))
			Expect(final.View.Progress).To(Equal(100))
			Expect(final.View.ResultRef).To(Equal("https://cdn.example.com/out.mp4"))
			Expect(final.View.LogLines).To(Equal([]string{"downloading", "transcoding"}))
			Expect(final.Connection).To(Equal(supervisor.StateOpen))
		})

		It("should report a failed job", func() {
			jobID := relay.CreateJob(videoURL)
			session := watch(relay.Client(), jobID)
			relay.WaitForStreamClients(jobID, 1)

			relay.PostEvents(jobID, `{"type":"status","status":"FAILED","error":"no audio track"}`)

			final, err := session.Wait(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(final.View.Status).To(Equal(job.StatusFailed))
			Expect(final.View.LastError).To(Equal("no audio track"))
		})

		It("should fan events out to every session", func() {
			jobID := relay.CreateJob(videoURL)
			sessions := []*jobsync.Session{
				watch(relay.Client(), jobID),
				watch(relay.Client(), jobID),
				watch(relay.Client(), jobID),
			}
			relay.WaitForStreamClients(jobID, len(sessions))

			relay.PostEvents(jobID,
				`{"type":"log","message":"shared"}`,
				`{"type":"status","status":"DONE","progress":100}`,
			)

			for _, s := range sessions {
				final, err := s.Wait(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(final.View.Status).To(Equal(job.StatusDone))
				Expect(final.View.LogLines).To(ContainElement("shared"))
			}
		})

		It("should pick up state that existed before the session started", func() {
			jobID := relay.CreateJob(videoURL)
			relay.PostEvents(jobID,
				`{"type":"status","status":"RUNNING","progress":60}`,
				`{"type":"log","message":"already here"}`,
			)

			session := watch(relay.Client(), jobID)

			Eventually(func() job.View {
				return session.Current().View
			}, 5*time.Second).Should(And(
				HaveField("Status", job.StatusRunning),
				HaveField("Progress", 60),
				HaveField("LogLines", ContainElement("already here")),
			))
		})
	})

	Context("after the event stream fails", func() {
		var breaker *helpers.StreamBreaker

		BeforeEach(func() {
			breaker = helpers.NewStreamBreaker(relay.BaseURL())
		})

		AfterEach(func() {
			breaker.Close()
		})

		It("should fall back to polling and never reconnect", func() {
			client, err := httpclient.NewDefaultClient(breaker.URL())
			Expect(err).NotTo(HaveOccurred())

			jobID := relay.CreateJob(videoURL)
			session := watch(client, jobID)

			Eventually(session.ConnectionState, 5*time.Second).Should(Equal(supervisor.StateOpen))
			relay.WaitForStreamClients(jobID, 1)

			relay.PostEvents(jobID, `{"type":"status","status":"RUNNING","progress":10}`)
			Eventually(func() job.Status {
				return session.Current().View.Status
			}, 5*time.Second).Should(Equal(job.StatusRunning))

			breaker.Break()
			Eventually(session.ConnectionState, 5*time.Second).Should(Equal(supervisor.StateFailed))
			relay.WaitForStreamClients(jobID, 0)

			relay.PostEvents(jobID,
				`{"type":"log","message":"seen by polling"}`,
				`{"type":"status","status":"DONE","progress":100}`,
			)

			final, err := session.Wait(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(final.View.Status).To(Equal(job.StatusDone))
			Expect(final.View.LogLines).To(ContainElement("seen by polling"))
			Expect(final.Connection).To(Equal(supervisor.StateFailed))

			Consistently(breaker.StreamRequests, 200*time.Millisecond).Should(Equal(1))
		})

		It("should fall back when the stream cannot be opened", func() {
			breaker.Break()

			client, err := httpclient.NewDefaultClient(breaker.URL())
			Expect(err).NotTo(HaveOccurred())

			jobID := relay.CreateJob(videoURL)
			session := watch(client, jobID)

			Eventually(session.ConnectionState, 5*time.Second).Should(Equal(supervisor.StateFailed))

			relay.PostEvents(jobID, `{"type":"status","status":"DONE","progress":100}`)

			final, err := session.Wait(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(final.View.Status).To(Equal(job.StatusDone))
		})
	})

	Context("for an unknown job", func() {
		It("should keep the initial view and poll without a stream", func() {
			session := watch(relay.Client(), "missing", jobsync.WithInitialFetchRetries(0))

			Eventually(session.ConnectionState, 5*time.Second).Should(Equal(supervisor.StateFailed))
			Consistently(func() job.Status {
				return session.Current().View.Status
			}, 200*time.Millisecond).Should(Equal(job.StatusQueued))
		})
	})

	Context("when the relay stops", func() {
		It("should end open streams", func() {
			jobID := relay.CreateJob(videoURL)
			session := watch(relay.Client(), jobID)
			relay.WaitForStreamClients(jobID, 1)

			relay.Stop()
			Eventually(session.ConnectionState, 5*time.Second).Should(Equal(supervisor.StateFailed))

			// AfterEach stops again
			relay = helpers.NewRelayTestHelper(ctx, nil)
			relay.Start()
		})
	})
})
