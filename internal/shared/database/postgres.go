package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/safecity/platform/internal/shared/config"
	"github.com/safecity/platform/internal/shared/metrics"
)

// DB owns the pgx connection pool shared by every repository.
type DB struct {
	Pool *pgxpool.Pool
}

// New opens a pool against the configured Postgres instance and pings it
// once so misconfiguration surfaces at startup, not on the first request.
func New(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	tunePool(poolConfig, cfg)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// tunePool applies pool limits. A small MinConns keeps warm connections
// available after idle periods without holding the whole pool open.
func tunePool(pc *pgxpool.Config, cfg config.DatabaseConfig) {
	pc.MaxConns = cfg.MaxConns
	pc.MinConns = 2
	pc.MaxConnLifetime = time.Hour
	pc.MaxConnIdleTime = 30 * time.Minute
	pc.HealthCheckPeriod = time.Minute
}

// Close releases the pool. Safe to call on a nil-pool DB.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// Health pings the database and refreshes the connection gauge.
func (db *DB) Health(ctx context.Context) error {
	metrics.RecordDBConnections(int(db.Pool.Stat().TotalConns()))
	return db.Pool.Ping(ctx)
}
