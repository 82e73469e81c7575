package app

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stacklok/jobwatch/database"
	"github.com/stacklok/jobwatch/internal/config"
	"github.com/stacklok/jobwatch/internal/db"
)

// errNoDatabase is returned when a migrate command runs without server.database
var errNoDatabase = errors.New("database configuration is required (server.database)")

func (c *cli) newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the relay's PostgreSQL schema",
		Long: `Apply or revert the schema of the PostgreSQL job store.
The connection parameters are read from server.database in the config file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Usage()
		},
	}
	cmd.PersistentFlags().BoolP("yes", "y", false, "Answer yes to all questions")

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runMigrate(cmd, "apply pending migrations", database.MigrateUp)
		},
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Revert database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			steps, err := cmd.Flags().GetInt("num-steps")
			if err != nil {
				return fmt.Errorf("failed to get num-steps flag: %w", err)
			}
			return c.runMigrate(cmd, fmt.Sprintf("revert %d migration(s)", steps), func(connString string) error {
				return database.MigrateDown(connString, steps)
			})
		},
	}
	downCmd.Flags().IntP("num-steps", "n", 1, "Number of migrations to revert")

	cmd.AddCommand(upCmd, downCmd)
	return cmd
}

func (c *cli) runMigrate(cmd *cobra.Command, action string, migrate func(connString string) error) error {
	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return fmt.Errorf("failed to get yes flag: %w", err)
	}

	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	dbCfg := cfg.Server.Database
	if dbCfg == nil {
		return errNoDatabase
	}

	connString, err := db.ConnectionString(cmd.Context(), dbCfg)
	if err != nil {
		return fmt.Errorf("failed to get database connection string: %w", err)
	}

	if !yes {
		ok, err := confirm(cmd.InOrStdin(), cmd.OutOrStdout(),
			fmt.Sprintf("About to %s on %s", action, describeDatabase(dbCfg)))
		if err != nil {
			return err
		}
		if !ok {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Migration cancelled")
			return nil
		}
	}

	slog.Info("Running database migrations", "action", action, "database", dbCfg.Database)
	if err := migrate(connString); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Migrations complete")
	return nil
}

func describeDatabase(d *config.DatabaseConfig) string {
	return fmt.Sprintf("%s@%s:%d/%s", d.User, d.Host, d.Port, d.Database)
}

// confirm asks a yes/no question and reports whether the answer was yes
func confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	_, _ = fmt.Fprintf(out, "%s\nContinue? (yes/no): ", prompt)

	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return false, fmt.Errorf("failed to read user input: %w", err)
		}
		return false, nil
	}

	switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
