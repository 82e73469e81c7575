package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	relay "github.com/stacklok/jobwatch/internal/app"
	"github.com/stacklok/jobwatch/internal/config"
	"github.com/stacklok/jobwatch/internal/telemetry"
)

const defaultGracefulTimeout = 30 * time.Second

func (c *cli) newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the job relay API server",
		Long: `Start an in-memory job relay that implements the job API.

Jobs are created with POST /jobs and their state is advanced by posting
events to /jobs/{jobId}/events. Every accepted event is fanned out to
clients following /stream/{jobId}. The relay is useful for local
development and for exercising watch clients end to end.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runServe(cmd)
		},
	}

	cmd.Flags().String("address", "", "Address to listen on (default "+config.DefaultServerAddress+")")
	if err := c.v.BindPFlag("address", cmd.Flags().Lookup("address")); err != nil {
		slog.Error("Error binding flag", "flag", "address", "error", err)
	}

	return cmd
}

func (c *cli) runServe(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	if address := c.v.GetString("address"); address != "" {
		cfg.Server.Address = address
	}

	tel, err := telemetry.New(ctx, telemetry.WithTelemetryConfig(cfg.Telemetry))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Error("Telemetry shutdown failed", "error", err)
		}
	}()

	opts := []relay.RelayAppOptions{
		relay.WithConfig(cfg),
		relay.WithAddress(cfg.Server.GetAddress()),
		relay.WithMeterProvider(tel.MeterProvider()),
		relay.WithTracerProvider(tel.TracerProvider()),
	}
	if h := tel.MetricsHandler(); h != nil {
		opts = append(opts, relay.WithMetricsHandler(h))
	}

	// The relay's base context is not the signal context; Stop cancels it
	relayApp, err := relay.NewRelayApp(context.Background(), opts...)
	if err != nil {
		return fmt.Errorf("failed to create relay: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- relayApp.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	}

	if err := relayApp.Stop(defaultGracefulTimeout); err != nil {
		return err
	}
	return <-errCh
}
