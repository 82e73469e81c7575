package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stacklok/jobwatch/internal/config"
	"github.com/stacklok/jobwatch/internal/httpclient"
	"github.com/stacklok/jobwatch/internal/job"
	jobsync "github.com/stacklok/jobwatch/internal/sync"
	"github.com/stacklok/jobwatch/internal/telemetry"
)

// ErrJobFailed is returned when a watched job ends in FAILED
var ErrJobFailed = errors.New("job failed")

const (
	summaryLogLines = 5
	syncTracerName  = "github.com/stacklok/jobwatch/sync"
)

func (c *cli) newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Follow a job until it finishes",
		Long: `Follow a job until it reaches DONE or FAILED, printing status, progress and
log lines as they arrive. Exits with status 1 when the job fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}

			tel, err := startClientTelemetry(ctx, cfg)
			if err != nil {
				return err
			}
			defer shutdownTelemetry(tel)

			client, err := newClient(cfg, httpclient.WithTracer(tel.Tracer(syncTracerName)))
			if err != nil {
				return err
			}
			return watchJob(ctx, cmd.OutOrStdout(), client, watcherOptions(cfg, tel), args[0])
		},
	}
}

// startClientTelemetry initializes telemetry for client commands
func startClientTelemetry(ctx context.Context, cfg *config.Config) (*telemetry.Telemetry, error) {
	tel, err := telemetry.New(ctx, telemetry.WithTelemetryConfig(cfg.Telemetry))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	return tel, nil
}

func shutdownTelemetry(tel *telemetry.Telemetry) {
	if err := tel.Shutdown(context.Background()); err != nil {
		slog.Warn("Failed to shut down telemetry", "error", err)
	}
}

// watcherOptions maps the sync configuration onto watcher options
func watcherOptions(cfg *config.Config, tel *telemetry.Telemetry) []jobsync.Option {
	opts := []jobsync.Option{
		jobsync.WithPollInterval(cfg.Sync.GetPollInterval()),
		jobsync.WithInitialFetchRetries(cfg.Sync.GetInitialFetchRetries()),
		jobsync.WithQueueSize(cfg.Sync.GetQueueSize()),
	}

	if tel != nil {
		opts = append(opts, jobsync.WithTracer(tel.Tracer(syncTracerName)))
		metrics, err := telemetry.NewWatchMetrics(tel.MeterProvider())
		if err != nil {
			slog.Warn("Watch metrics disabled", "error", err)
		} else {
			opts = append(opts, jobsync.WithMetrics(metrics))
		}
	}
	return opts
}

// watchJob follows a job until it is terminal and prints a summary.
// It returns ErrJobFailed for FAILED jobs.
func watchJob(ctx context.Context, out io.Writer, client httpclient.Client, opts []jobsync.Option, jobID string) error {
	// Sessions keep polling on errors, so an unknown job is rejected up front.
	// Transient failures are left to the session's own retries.
	if _, err := client.GetJob(ctx, jobID); err != nil {
		var httpErr *httpclient.HTTPError
		if errors.As(err, &httpErr) && !httpErr.Temporary() {
			return fmt.Errorf("failed to watch job %s: %w", jobID, err)
		}
	}

	session, err := jobsync.NewWatcher(client, opts...).Watch(ctx, jobID)
	if err != nil {
		return err
	}
	defer func() {
		_ = session.Close()
	}()

	updates, unsubscribe := session.Subscribe()
	defer unsubscribe()

	printer := newProgressPrinter(out)
	for u := range updates {
		printer.print(u)
		if !u.View.Status.IsTerminal() {
			continue
		}

		if err := renderSummary(out, jobID, u.View, summaryLogLines); err != nil {
			return err
		}
		if u.View.Status == job.StatusFailed {
			return ErrJobFailed
		}
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return jobsync.ErrSessionClosed
}
