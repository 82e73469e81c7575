package app

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stacklok/jobwatch/internal/versions"
)

func (c *cli) newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long: `Print version information. With --remote the job API's version is fetched
too and a warning is printed when client and server are on different minor versions.`,
		Args: cobra.NoArgs,
		RunE: c.runVersion,
	}

	cmd.Flags().String("format", "", "Output format (json)")
	cmd.Flags().Bool("remote", false, "Also report the job API's version")

	return cmd
}

// versionReport is the JSON output of the version command
type versionReport struct {
	versions.VersionInfo
	Server *versions.VersionInfo `json:"server,omitempty"`
	Skew   string                `json:"skew,omitempty"`
}

func (c *cli) runVersion(cmd *cobra.Command, _ []string) error {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	remote, err := cmd.Flags().GetBool("remote")
	if err != nil {
		return err
	}

	report := versionReport{VersionInfo: versions.GetVersionInfo()}

	if remote {
		cfg, err := c.loadConfig()
		if err != nil {
			return err
		}
		client, err := newClient(cfg)
		if err != nil {
			return err
		}
		server, err := client.GetVersion(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to fetch server version: %w", err)
		}
		report.Server = server
		report.Skew = versions.CompareServer(server.Version, report.Version).String()
	}

	out := cmd.OutOrStdout()
	if format == "json" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format version info as JSON: %w", err)
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}

	_, _ = fmt.Fprintf(out, "jobwatch %s (commit %s, built %s, %s, %s)\n",
		report.Version, report.Commit, report.BuildDate, report.GoVersion, report.Platform)
	if report.Server != nil {
		_, _ = fmt.Fprintf(out, "server   %s (commit %s)\n", report.Server.Version, report.Server.Commit)
		switch versions.CompareServer(report.Server.Version, report.Version) {
		case versions.SkewServerNewer:
			_, _ = fmt.Fprintln(out, "warning: the server is newer than this client, consider upgrading")
		case versions.SkewServerOlder:
			_, _ = fmt.Fprintln(out, "warning: the server is older than this client")
		}
	}
	return nil
}
