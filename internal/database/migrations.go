package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// EmbeddedMigrations contains all SQL migration files embedded into the binary.
//
//go:embed migrations/*.sql
var EmbeddedMigrations embed.FS

type gooseDB = *sql.DB

// migrate opens a database/sql handle over the pool for goose, which does
// not speak pgx natively.
func migrate(ctx context.Context, pool *pgxpool.Pool, fn func(db gooseDB) error) error {
	if pool == nil {
		return fmt.Errorf("database not initialized: call Open first")
	}

	goose.SetBaseFS(EmbeddedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to reach database: %w", err)
	}

	if err := fn(db); err != nil {
		return fmt.Errorf("goose migration failed: %w", err)
	}
	return nil
}
