package main

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/setu/events-api/internal/config"
	"github.com/setu/events-api/internal/storage/migrations"
	"github.com/setu/events-api/internal/storage/sqlite"
)

var migrateSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back schema migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		if err := migrateUp(cfg); err != nil {
			return err
		}
		log.Info("migrations applied", slog.String("driver", cfg.Storage.Driver))
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the last --steps migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		if err := migrateDown(cfg, migrateSteps); err != nil {
			return err
		}
		log.Info("migrations rolled back",
			slog.String("driver", cfg.Storage.Driver),
			slog.Int("steps", migrateSteps),
		)
		return nil
	},
}

func init() {
	migrateDownCmd.Flags().IntVar(&migrateSteps, "steps", 1, "number of migrations to roll back")
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}

func migrateUp(cfg *config.Config) error {
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		return sqlite.Migrate(sqlite.DSN(cfg.Storage.Path))
	case config.DriverPostgres:
		return migrations.PostgresUp(cfg.Storage.DatabaseURL)
	}
	return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

func migrateDown(cfg *config.Config, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("--steps must be greater than 0")
	}
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		db, err := sql.Open("sqlite3", sqlite.DSN(cfg.Storage.Path))
		if err != nil {
			return fmt.Errorf("open migration db: %w", err)
		}
		return migrations.SQLiteDown(db, steps)
	case config.DriverPostgres:
		return migrations.PostgresDown(cfg.Storage.DatabaseURL, steps)
	}
	return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}
