// Package config provides configuration loading for the jobwatch CLI and relay server.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/jobwatch/internal/api/jobs"
	"github.com/stacklok/jobwatch/internal/httpclient"
	"github.com/stacklok/jobwatch/internal/jobstore"
	jobsync "github.com/stacklok/jobwatch/internal/sync"
	"github.com/stacklok/jobwatch/internal/sync/poller"
	"github.com/stacklok/jobwatch/internal/telemetry"
)

const (
	// EnvPrefix is the prefix of environment variables read by the CLI
	EnvPrefix = "JOBWATCH"

	// DefaultAPIBaseURL is the job API used when none is configured
	DefaultAPIBaseURL = "http://localhost:8000"

	// DefaultServerAddress is the listen address of the relay server
	DefaultServerAddress = ":8000"

	// DefaultServerRequestTimeout bounds non-streaming relay requests
	DefaultServerRequestTimeout = 30 * time.Second
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// EvalSymlinks also cleans the path
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) && !filepath.IsLocal(realPath) {
			return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// APIBaseURL is the base URL of the job API, e.g. "http://localhost:8000"
	APIBaseURL string `yaml:"apiBaseURL,omitempty"`

	// Sync holds the client-side synchronization settings
	Sync SyncConfig `yaml:"sync,omitempty"`

	// Server holds the relay server settings
	Server ServerConfig `yaml:"server,omitempty"`

	// Telemetry is the OpenTelemetry configuration
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// SyncConfig defines the settings of watch sessions
type SyncConfig struct {
	// PollInterval is the delay between snapshot fetches after the push
	// channel failed (e.g. "1500ms")
	PollInterval string `yaml:"pollInterval,omitempty"`

	// RequestTimeout bounds each snapshot and create request
	RequestTimeout string `yaml:"requestTimeout,omitempty"`

	// InitialFetchRetries is how many times a failed initial load is retried
	InitialFetchRetries *uint `yaml:"initialFetchRetries,omitempty"`

	// QueueSize is the capacity of the per-session message queue
	QueueSize int `yaml:"queueSize,omitempty"`
}

// ServerConfig defines the relay server settings
type ServerConfig struct {
	// Address is the listen address
	Address string `yaml:"address,omitempty"`

	// MaxLogLines is how many log lines are kept per job
	MaxLogLines int `yaml:"maxLogLines,omitempty"`

	// SnapshotLogLines is how many trailing log lines a snapshot returns
	SnapshotLogLines int `yaml:"snapshotLogLines,omitempty"`

	// RequestTimeout bounds every request except the event stream
	RequestTimeout string `yaml:"requestTimeout,omitempty"`

	// KeepAliveInterval is the idle period after which the stream sends a comment
	KeepAliveInterval string `yaml:"keepAliveInterval,omitempty"`

	// CORSOrigins lists the browser origins allowed to call the API
	CORSOrigins []string `yaml:"corsOrigins,omitempty"`

	// Database enables the PostgreSQL job store
	Database *DatabaseConfig `yaml:"database,omitempty"`
}

// LoadConfig loads configuration. Without a path the defaults are returned.
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	var config Config
	if loaderCfg.path != "" {
		data, err := os.ReadFile(loaderCfg.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// GetAPIBaseURL returns the job API base URL, using DefaultAPIBaseURL if not specified
func (c *Config) GetAPIBaseURL() string {
	if c.APIBaseURL == "" {
		return DefaultAPIBaseURL
	}
	return c.APIBaseURL
}

// GetPollInterval returns the polling interval, using poller.DefaultInterval if not specified
func (s *SyncConfig) GetPollInterval() time.Duration {
	return durationOr(s.PollInterval, poller.DefaultInterval)
}

// GetRequestTimeout returns the client request timeout
func (s *SyncConfig) GetRequestTimeout() time.Duration {
	return durationOr(s.RequestTimeout, httpclient.DefaultTimeout)
}

// GetInitialFetchRetries returns the initial load retry count. Zero disables retries.
func (s *SyncConfig) GetInitialFetchRetries() uint {
	if s.InitialFetchRetries == nil {
		return jobsync.DefaultInitialFetchRetries
	}
	return *s.InitialFetchRetries
}

// GetQueueSize returns the session queue size
func (s *SyncConfig) GetQueueSize() int {
	if s.QueueSize == 0 {
		return jobsync.DefaultQueueSize
	}
	return s.QueueSize
}

// GetAddress returns the relay listen address
func (s *ServerConfig) GetAddress() string {
	if s.Address == "" {
		return DefaultServerAddress
	}
	return s.Address
}

// GetMaxLogLines returns the per-job log retention
func (s *ServerConfig) GetMaxLogLines() int {
	if s.MaxLogLines == 0 {
		return jobstore.DefaultMaxLogLines
	}
	return s.MaxLogLines
}

// GetSnapshotLogLines returns the number of log lines in a snapshot
func (s *ServerConfig) GetSnapshotLogLines() int {
	if s.SnapshotLogLines == 0 {
		return jobstore.DefaultSnapshotLogLines
	}
	return s.SnapshotLogLines
}

// GetRequestTimeout returns the relay request timeout
func (s *ServerConfig) GetRequestTimeout() time.Duration {
	return durationOr(s.RequestTimeout, DefaultServerRequestTimeout)
}

// GetKeepAliveInterval returns the stream keepalive period
func (s *ServerConfig) GetKeepAliveInterval() time.Duration {
	return durationOr(s.KeepAliveInterval, jobs.DefaultKeepAliveInterval)
}

// durationOr parses a validated duration, returning def when empty
func durationOr(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}

// Validate performs validation on the configuration
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if c.APIBaseURL != "" {
		if err := validateBaseURL(c.APIBaseURL); err != nil {
			return fmt.Errorf("apiBaseURL: %w", err)
		}
	}

	if err := c.Sync.validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	if err := c.Server.validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	if c.Telemetry != nil {
		if err := c.Telemetry.Validate(); err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
	}

	return nil
}

func (s *SyncConfig) validate() error {
	if err := validateDuration("pollInterval", s.PollInterval); err != nil {
		return err
	}
	if err := validateDuration("requestTimeout", s.RequestTimeout); err != nil {
		return err
	}
	if s.QueueSize < 0 {
		return fmt.Errorf("queueSize must not be negative, got %d", s.QueueSize)
	}
	return nil
}

func (s *ServerConfig) validate() error {
	if s.MaxLogLines < 0 {
		return fmt.Errorf("maxLogLines must not be negative, got %d", s.MaxLogLines)
	}
	if s.SnapshotLogLines < 0 {
		return fmt.Errorf("snapshotLogLines must not be negative, got %d", s.SnapshotLogLines)
	}
	if s.GetSnapshotLogLines() > s.GetMaxLogLines() {
		return fmt.Errorf("snapshotLogLines (%d) must not exceed maxLogLines (%d)",
			s.GetSnapshotLogLines(), s.GetMaxLogLines())
	}
	if err := validateDuration("requestTimeout", s.RequestTimeout); err != nil {
		return err
	}
	if err := validateDuration("keepAliveInterval", s.KeepAliveInterval); err != nil {
		return err
	}
	for i, origin := range s.CORSOrigins {
		if origin == "" {
			return fmt.Errorf("corsOrigins[%d] must not be empty", i)
		}
	}
	if s.Database != nil {
		if err := s.Database.validate(); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	return nil
}

// validateDuration accepts an empty value or a positive Go duration
func validateDuration(field, value string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s must be a valid duration (e.g., '1500ms', '10s'): %w", field, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", field, value)
	}
	return nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
