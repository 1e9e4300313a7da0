// Package database opens the Postgres pool and applies the embedded goose
// migrations.
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nmslite/netmon/internal/config"
	"github.com/pressly/goose/v3"
)

// Open creates a pgx connection pool from configuration and verifies it.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MinIdleConns > 0 {
		poolCfg.MinConns = int32(cfg.MinIdleConns)
	}
	if lifetime := cfg.GetConnMaxLifetime(); lifetime > 0 {
		poolCfg.MaxConnLifetime = lifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// RunMigrations runs all pending database migrations using embedded SQL files.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	return migrate(ctx, pool, func(db gooseDB) error {
		return goose.UpContext(ctx, db, "migrations")
	})
}

// RollbackMigration reverts the most recent migration.
func RollbackMigration(ctx context.Context, pool *pgxpool.Pool) error {
	return migrate(ctx, pool, func(db gooseDB) error {
		return goose.DownContext(ctx, db, "migrations")
	})
}

// MigrationStatus logs the applied state of every migration through goose.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool) error {
	return migrate(ctx, pool, func(db gooseDB) error {
		return goose.StatusContext(ctx, db, "migrations")
	})
}
