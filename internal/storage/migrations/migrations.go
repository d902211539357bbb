// Package migrations embeds the schema for both storage backends and
// applies it with golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sqlite/*.sql postgres/*.sql
var files embed.FS

// SQLiteUp applies all pending migrations to db. The migrator takes
// ownership of db and closes it, so callers pass a dedicated handle.
func SQLiteUp(db *sql.DB) error {
	m, err := newSQLite(db)
	if err != nil {
		return err
	}
	return run(m, func(m *migrate.Migrate) error { return m.Up() })
}

// SQLiteDown rolls back the given number of migrations and closes db.
func SQLiteDown(db *sql.DB, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("migrations: down: steps must be > 0")
	}
	m, err := newSQLite(db)
	if err != nil {
		return err
	}
	return run(m, func(m *migrate.Migrate) error { return m.Steps(-steps) })
}

func newSQLite(db *sql.DB) (*migrate.Migrate, error) {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migrations: sqlite driver: %w", err)
	}
	src, err := iofs.New(files, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migrations: init: %w", err)
	}
	return m, nil
}

// PostgresUp applies all pending migrations to the database at url.
func PostgresUp(url string) error {
	m, err := newPostgres(url)
	if err != nil {
		return err
	}
	return run(m, func(m *migrate.Migrate) error { return m.Up() })
}

// PostgresDown rolls back the given number of migrations.
func PostgresDown(url string, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("migrations: down: steps must be > 0")
	}
	m, err := newPostgres(url)
	if err != nil {
		return err
	}
	return run(m, func(m *migrate.Migrate) error { return m.Steps(-steps) })
}

func newPostgres(url string) (*migrate.Migrate, error) {
	src, err := iofs.New(files, "postgres")
	if err != nil {
		return nil, fmt.Errorf("migrations: source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, url)
	if err != nil {
		return nil, fmt.Errorf("migrations: init: %w", err)
	}
	return m, nil
}

func run(m *migrate.Migrate, step func(*migrate.Migrate) error) error {
	defer m.Close()
	if err := step(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: %w", err)
	}
	return nil
}
