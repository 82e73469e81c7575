package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DatabasePasswordEnv is read when no password file is configured
const DatabasePasswordEnv = EnvPrefix + "_DATABASE_PASSWORD"

// DatabaseConfig selects the PostgreSQL job store of the relay server.
// Without it the relay keeps jobs in memory.
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password.
	// The file should contain only the password with optional trailing whitespace.
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxOpenConns is the maximum number of pooled connections.
	// One of them is held by the event listener.
	MaxOpenConns int32 `yaml:"maxOpenConns,omitempty"`

	// MaxIdleConns is the minimum number of connections kept open
	MaxIdleConns int32 `yaml:"maxIdleConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`

	// MigrateOnStart applies pending schema migrations when the relay starts
	MigrateOnStart bool `yaml:"migrateOnStart,omitempty"`

	// AWSRDSIAM replaces the static password with short-lived RDS IAM tokens
	AWSRDSIAM *AWSRDSIAMConfig `yaml:"awsRdsIam,omitempty"`
}

// AWSRDSIAMConfig configures AWS RDS IAM authentication
type AWSRDSIAMConfig struct {
	// Region is the AWS region of the database, or "detect" to read it from
	// the instance metadata service
	Region string `yaml:"region"`
}

// GetPassword returns the database password from PasswordFile, falling back
// to the JOBWATCH_DATABASE_PASSWORD environment variable
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		data, err := os.ReadFile(filepath.Clean(d.PasswordFile))
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv(DatabasePasswordEnv); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf("no database password configured: set passwordFile or %s", DatabasePasswordEnv)
}

// GetConnectionString builds a postgres:// URL from the configuration
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}
	return d.ConnectionStringWithPassword(password), nil
}

// ConnectionStringWithPassword builds a postgres:// URL using the given
// password. An empty password leaves it out of the URL.
func (d *DatabaseConfig) ConnectionStringWithPassword(password string) string {
	userInfo := url.User(d.User)
	if password != "" {
		userInfo = url.UserPassword(d.User, password)
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     userInfo,
		Host:     d.Host + ":" + strconv.Itoa(d.Port),
		Path:     "/" + d.Database,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	return u.String()
}

// GetConnMaxLifetime returns the parsed connection lifetime, or zero when unset
func (d *DatabaseConfig) GetConnMaxLifetime() time.Duration {
	if d.ConnMaxLifetime == "" {
		return 0
	}
	lifetime, err := time.ParseDuration(d.ConnMaxLifetime)
	if err != nil {
		return 0
	}
	return lifetime
}

func (d *DatabaseConfig) validate() error {
	if d.Host == "" {
		return fmt.Errorf("host is required")
	}
	if d.Port <= 0 || d.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", d.Port)
	}
	if d.User == "" {
		return fmt.Errorf("user is required")
	}
	if d.Database == "" {
		return fmt.Errorf("database is required")
	}
	switch d.SSLMode {
	case "", "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("sslMode %q is not supported", d.SSLMode)
	}
	if d.MaxOpenConns < 0 || d.MaxIdleConns < 0 {
		return fmt.Errorf("connection limits must not be negative")
	}
	if d.MaxOpenConns > 0 && d.MaxOpenConns < 2 {
		return fmt.Errorf("maxOpenConns must be at least 2, one connection is reserved for the event listener")
	}
	if d.AWSRDSIAM != nil && d.AWSRDSIAM.Region == "" {
		return fmt.Errorf("awsRdsIam.region is required")
	}
	return validateDuration("connMaxLifetime", d.ConnMaxLifetime)
}
