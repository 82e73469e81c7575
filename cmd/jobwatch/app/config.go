package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stacklok/jobwatch/internal/config"
)

func (*cli) newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with jobwatch configuration files",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(config.WithConfigPath(args[0]))
			if err != nil {
				return fmt.Errorf("error loading config: %w", err)
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, "✓ Valid configuration")
			_, _ = fmt.Fprintf(out, "  API base URL: %s\n", cfg.GetAPIBaseURL())
			_, _ = fmt.Fprintf(out, "  Poll interval: %s\n", cfg.Sync.GetPollInterval())
			_, _ = fmt.Fprintf(out, "  Server address: %s\n", cfg.Server.GetAddress())
			if db := cfg.Server.Database; db != nil {
				_, _ = fmt.Fprintf(out, "  Job store: postgres %s\n", describeDatabase(db))
			}
			if cfg.Telemetry != nil && cfg.Telemetry.Enabled {
				_, _ = fmt.Fprintf(out, "  Telemetry: %s\n", cfg.Telemetry.GetServiceName())
			}
			return nil
		},
	})

	return cmd
}
