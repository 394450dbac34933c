// Package storage provides the relational persistence layer backing the
// reward path and event cache: RewardLog, BanditLog, and EventCache. See
// SPEC_FULL.md §4.6.
//
// Grounded on koshedutech-binance-trading-app/internal/database/db.go's
// pgxpool construction and RunMigrations raw-SQL-statement-list pattern;
// the teacher itself carries no database layer, so this concern is
// adopted wholesale from the rest of the retrieval pack rather than
// adapted from teacher code (see DESIGN.md).
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool   *pgxpool.Pool
	logger *zap.Logger
}

// Open creates a connection pool against databaseURL and verifies
// connectivity with a bounded ping, same shape as the teacher's NewDB.
func Open(ctx context.Context, logger *zap.Logger, databaseURL string) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger.Info("connected to postgres")
	return &DB{Pool: pool, logger: logger}, nil
}

// Close releases the connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info("database connection closed")
	}
}

// RunMigrations creates the tables this service needs if they don't
// already exist. Each statement is idempotent (IF NOT EXISTS), same
// discipline as the teacher's RunMigrations.
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info("running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS reward_log (
			decision_id TEXT PRIMARY KEY,
			arm_name VARCHAR(32) NOT NULL,
			context DOUBLE PRECISION[] NOT NULL,
			reward DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS bandit_log (
			id BIGSERIAL PRIMARY KEY,
			decision_id TEXT NOT NULL REFERENCES reward_log(decision_id),
			context_dim INT NOT NULL,
			arm_name VARCHAR(32) NOT NULL,
			reward DOUBLE PRECISION NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bandit_log_decision_id ON bandit_log(decision_id)`,
		`CREATE TABLE IF NOT EXISTS event_cache (
			ticker VARCHAR(20) PRIMARY KEY,
			event_type VARCHAR(64) NOT NULL,
			event_time TIMESTAMPTZ NOT NULL,
			source VARCHAR(64) NOT NULL,
			fetched_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			stale BOOLEAN NOT NULL DEFAULT false,
			estimated BOOLEAN NOT NULL DEFAULT false
		)`,
	}

	for _, stmt := range migrations {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	db.logger.Info("migrations complete")
	return nil
}
