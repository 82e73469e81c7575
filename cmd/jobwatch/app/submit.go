package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stacklok/jobwatch/internal/httpclient"
	"github.com/stacklok/jobwatch/internal/job"
)

func (c *cli) newSubmitCmd() *cobra.Command {
	var (
		optionsPath string
		follow      bool
	)

	cmd := &cobra.Command{
		Use:   "submit <youtube-url>",
		Short: "Submit a new processing job",
		Long: `Submit a new processing job for a video URL and print its id.

Processing options can be read from a JSON or HuJSON file with --options.
With --watch the command keeps following the job until it finishes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &job.CreateRequest{YoutubeURL: args[0]}
			if optionsPath != "" {
				options, err := job.LoadOptions(optionsPath)
				if err != nil {
					return err
				}
				req.Options = options
			}
			if err := job.ValidateCreateRequest(req); err != nil {
				return err
			}

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

			resp, err := client.CreateJob(ctx, req)
			if err != nil {
				return fmt.Errorf("failed to submit job: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), resp.JobID)

			if !follow {
				return nil
			}
			return watchJob(ctx, cmd.OutOrStdout(), client, watcherOptions(cfg, tel), resp.JobID)
		},
	}

	cmd.Flags().StringVar(&optionsPath, "options", "", "Path to a JSON or HuJSON file with processing options")
	cmd.Flags().BoolVar(&follow, "watch", false, "Follow the job until it finishes")

	return cmd
}
