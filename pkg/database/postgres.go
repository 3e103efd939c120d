// Package database opens the catalog's PostgreSQL pool and applies its migrations.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/logging"
	"github.com/ekaya-inc/ekaya-connect/pkg/retry"
)

const (
	defaultMaxConns     = 10
	defaultConnLifetime = time.Hour
	defaultConnIdleTime = 30 * time.Minute
)

// DB is the catalog connection pool.
type DB struct {
	*pgxpool.Pool
}

// Config describes the catalog pool. Zero values take the package defaults.
type Config struct {
	URL             string
	MaxConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	// Retry governs the initial ping; nil means retry.DefaultConfig.
	Retry *retry.Config
}

func (c *Config) poolConfig() (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(c.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog URL: %w", err)
	}
	pc.MaxConns = valueOr(c.MaxConnections, defaultMaxConns)
	pc.MaxConnLifetime = valueOr(c.MaxConnLifetime, defaultConnLifetime)
	pc.MaxConnIdleTime = valueOr(c.MaxConnIdleTime, defaultConnIdleTime)
	return pc, nil
}

func valueOr[T comparable](v, fallback T) T {
	var zero T
	if v == zero {
		return fallback
	}
	return v
}

// NewConnection opens the catalog pool and pings it. A ping that fails with a
// retryable error (the server still starting, a dropped connection) is retried
// with backoff; anything else closes the pool and returns.
func NewConnection(ctx context.Context, cfg *Config, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pc, err := cfg.poolConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog pool: %w", err)
	}

	attempt := 0
	err = retry.DoIfRetryable(ctx, cfg.Retry, func() error {
		attempt++
		if err := pool.Ping(ctx); err != nil {
			logger.Debug("Catalog ping failed",
				zap.Int("attempt", attempt),
				zap.String("error", logging.SanitizeError(err)))
			return err
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping catalog database: %w", err)
	}

	logger.Info("Catalog database connected",
		zap.String("host", pc.ConnConfig.Host),
		zap.String("database", pc.ConnConfig.Database),
		zap.Int32("max_conns", pc.MaxConns))
	return &DB{Pool: pool}, nil
}

// Close closes the pool.
func (db *DB) Close() {
	db.Pool.Close()
}
