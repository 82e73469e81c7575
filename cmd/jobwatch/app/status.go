package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stacklok/jobwatch/internal/job"
	"github.com/stacklok/jobwatch/internal/reducer"
)

func (c *cli) newStatusCmd() *cobra.Command {
	var logLines int

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the current state of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			client, err := newClient(cfg)
			if err != nil {
				return err
			}

			snap, err := client.GetJob(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get job %s: %w", args[0], err)
			}

			view := reducer.Replace(job.NewView(), *snap)
			return renderSummary(cmd.OutOrStdout(), args[0], view, logLines)
		},
	}

	cmd.Flags().IntVar(&logLines, "logs", summaryLogLines, "Number of recent log lines to show (-1 for all)")

	return cmd
}
