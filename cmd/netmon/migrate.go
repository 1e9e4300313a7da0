package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nmslite/netmon/internal/config"
	"github.com/nmslite/netmon/internal/database"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down|status]",
	Short: "Apply, roll back or inspect the embedded database migrations",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		action := "up"
		if len(args) == 1 {
			action = args[0]
		}

		var fn func(context.Context, *pgxpool.Pool) error
		switch action {
		case "up":
			fn = database.RunMigrations
		case "down":
			fn = database.RollbackMigration
		case "status":
			fn = database.MigrationStatus
		default:
			return fmt.Errorf("unknown migrate action %q", action)
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cfg.Database.Driver != "postgres" {
			return fmt.Errorf("migrations require the postgres driver, got %q", cfg.Database.Driver)
		}

		ctx := cmd.Context()
		pool, err := database.Open(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := fn(ctx, pool); err != nil {
			return err
		}
		fmt.Printf("migrate %s: done\n", action)
		return nil
	},
}
