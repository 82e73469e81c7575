// Package db contains code for connecting to the job store database.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stacklok/jobwatch/internal/config"
)

const defaultConnectTimeout = 10 * time.Second

// NewPool creates a connection pool from the provided configuration and
// verifies that the database is reachable
func NewPool(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration is required")
	}

	var connStr string
	if cfg.AWSRDSIAM != nil {
		connStr = cfg.ConnectionStringWithPassword("")
	} else {
		var err error
		connStr, err = cfg.GetConnectionString()
		if err != nil {
			return nil, fmt.Errorf("failed to get database connection string: %w", err)
		}
	}

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database connection string: %w", err)
	}

	if cfg.AWSRDSIAM != nil {
		beforeConnect, err := rdsBeforeConnect(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to configure RDS IAM authentication: %w", err)
		}
		poolConfig.BeforeConnect = beforeConnect
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = cfg.MaxIdleConns
	}
	if lifetime := cfg.GetConnMaxLifetime(); lifetime > 0 {
		poolConfig.MaxConnLifetime = lifetime
	}
	poolConfig.ConnConfig.ConnectTimeout = defaultConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("Database connection pool created",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.Database,
		"user", cfg.User,
		"max_conns", poolConfig.MaxConns)

	return pool, nil
}
