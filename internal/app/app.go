// Package app provides application lifecycle management for the jobwatch relay server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/stacklok/jobwatch/internal/config"
)

// RelayApp encapsulates all components needed to run the relay server.
// It provides lifecycle management and graceful shutdown.
type RelayApp struct {
	config     *config.Config
	components *AppComponents
	httpServer *http.Server

	// Cancelling ctx ends every open event stream
	ctx        context.Context
	cancelFunc context.CancelFunc
}

// Start listens on the configured address and serves until Stop is called
func (app *RelayApp) Start() error {
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	return app.Serve(listener)
}

// Serve serves on the given listener until Stop is called
func (app *RelayApp) Serve(listener net.Listener) error {
	slog.Info("Server listening", "address", listener.Addr().String())
	if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Stop ends open streams and gracefully shuts the HTTP server down
func (app *RelayApp) Stop(timeout time.Duration) error {
	slog.Info("Shutting down server")

	if app.cancelFunc != nil {
		app.cancelFunc()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if app.components != nil {
		defer app.components.Close()
	}

	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server shutdown complete")
	return nil
}

// GetConfig returns the application configuration
func (app *RelayApp) GetConfig() *config.Config {
	return app.config
}

// GetHTTPServer returns the HTTP server
func (app *RelayApp) GetHTTPServer() *http.Server {
	return app.httpServer
}

// Components returns the components served by the app
func (app *RelayApp) Components() *AppComponents {
	return app.components
}
