// Package app provides the commands of the jobwatch CLI.
package app

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/jobwatch/internal/config"
	"github.com/stacklok/jobwatch/internal/httpclient"
)

// cli carries state shared by every command of one root command tree
type cli struct {
	v *viper.Viper
}

// NewRootCmd creates a new root command for jobwatch
func NewRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}
	c.v.SetEnvPrefix(config.EnvPrefix)
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	c.v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:               "jobwatch",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		SilenceErrors:     true,
		Short:             "Submit and follow video processing jobs",
		Long: `jobwatch submits jobs to a video processing API and follows their progress.

Progress is pushed over a server-sent event stream. When the stream fails,
jobwatch falls back to polling the job snapshot until the job finishes.`,
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				slog.Error("Error displaying help", "error", err)
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to configuration file (YAML format)")
	flags.String("api-url", "", "Base URL of the job API (default "+config.DefaultAPIBaseURL+")")
	flags.Duration("poll-interval", 0, "Polling interval used after the event stream fails (default 1.5s)")
	for _, name := range []string{"config", "api-url", "poll-interval"} {
		if err := c.v.BindPFlag(name, flags.Lookup(name)); err != nil {
			slog.Error("Error binding flag", "flag", name, "error", err)
		}
	}

	rootCmd.AddCommand(
		c.newSubmitCmd(),
		c.newWatchCmd(),
		c.newStatusCmd(),
		c.newServeCmd(),
		c.newConfigCmd(),
		c.newMigrateCmd(),
		c.newVersionCmd(),
	)

	return rootCmd
}

// loadConfig loads the config file, if any, and applies flag and env overrides
func (c *cli) loadConfig() (*config.Config, error) {
	var opts []config.Option
	if path := c.v.GetString("config"); path != "" {
		opts = append(opts, config.WithConfigPath(path))
	}

	cfg, err := config.LoadConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if apiURL := c.v.GetString("api-url"); apiURL != "" {
		cfg.APIBaseURL = apiURL
	}
	if interval := c.v.GetDuration("poll-interval"); interval > 0 {
		cfg.Sync.PollInterval = interval.String()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newClient builds the job API client from the configuration
func newClient(cfg *config.Config, opts ...httpclient.Option) (*httpclient.DefaultClient, error) {
	opts = append([]httpclient.Option{httpclient.WithTimeout(cfg.Sync.GetRequestTimeout())}, opts...)
	return httpclient.NewDefaultClient(cfg.GetAPIBaseURL(), opts...)
}
