package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string

	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultPostgresConfig returns defaults for a local catalog database.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "catalog",
		Password:        "catalog_secret",
		DBName:          "catalog",
		SSLMode:         "disable",
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// DSN returns the PostgreSQL connection string.
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

const startupAttempts = 3

// startupBackOff yields roughly 1s, 2s, 4s with 25% jitter.
func startupBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0.25
	b.MaxInterval = 4 * time.Second
	return b
}

// NewPostgresPool connects to PostgreSQL, retrying connection failures up to
// three times. A nil logger silences retry warnings.
func NewPostgresPool(ctx context.Context, cfg *PostgresConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	attempt := 0
	connect := func() (*pgxpool.Pool, error) {
		attempt++
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			if !IsConnectionError(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return pool, nil
	}

	notify := func(err error, wait time.Duration) {
		if logger == nil {
			return
		}
		logger.Warn("postgres connection failed, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", startupAttempts),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)
	}

	pool, err := backoff.Retry(ctx, connect,
		backoff.WithBackOff(startupBackOff()),
		backoff.WithMaxTries(startupAttempts),
		backoff.WithNotify(notify),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres after %d attempts: %w", attempt, err)
	}
	return pool, nil
}
