package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsTable = "budgeteer_schema_migrations"

// RunMigrations brings the database at dbPath up to the newest embedded
// schema version. The migrate driver takes a table lock, so it gets its own
// connection rather than sharing the repository pool.
func RunMigrations(dbPath string) error {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer conn.Close()

	driver, err := sqlite.WithInstance(conn, &sqlite.Config{
		MigrationsTable: migrationsTable,
	})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("read embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	switch err := m.Up(); {
	case err == nil:
		if version, dirty, verr := m.Version(); verr == nil {
			slog.Info("Database schema migrated", "version", version, "dirty", dirty)
		}
	case errors.Is(err, migrate.ErrNoChange):
		slog.Debug("Database schema already current")
	default:
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}
