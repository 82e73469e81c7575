package db

import (
	"context"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/jobwatch/database"
	"github.com/stacklok/jobwatch/internal/config"
)

func TestNewPool_Errors(t *testing.T) {
	t.Setenv(config.DatabasePasswordEnv, "")

	_, err := NewPool(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database configuration is required")

	_, err = NewPool(context.Background(), &config.DatabaseConfig{
		Host: "localhost", Port: 5432, User: "u", Database: "d",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no database password configured")
}

func TestNewPool(t *testing.T) {
	connString := database.SetupTestDB(t)

	u, err := url.Parse(connString)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	password, _ := u.User.Password()
	t.Setenv(config.DatabasePasswordEnv, password)

	pool, err := NewPool(context.Background(), &config.DatabaseConfig{
		Host:         u.Hostname(),
		Port:         port,
		User:         u.User.Username(),
		Database:     u.Path[1:],
		SSLMode:      "disable",
		MaxOpenConns: 4,
	})
	require.NoError(t, err)
	defer pool.Close()

	assert.Equal(t, int32(4), pool.Config().MaxConns)

	var one int
	require.NoError(t, pool.QueryRow(context.Background(), "SELECT 1").Scan(&one))
	assert.Equal(t, 1, one)
}
