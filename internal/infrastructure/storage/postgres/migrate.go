package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/stdlib"

	"lotledger/pkg/logger"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// MigrationsTable records the applied schema version.
const MigrationsTable = "schema_migrations"

// newMigrator builds a golang-migrate instance over the embedded migrations.
// It talks to the database through its own database/sql handle so that
// closing the migrator leaves pool untouched.
func newMigrator(pool *Pool) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}

	db := stdlib.OpenDB(*pool.Config().ConnConfig.Copy())
	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{MigrationsTable: MigrationsTable})
	if err != nil {
		_ = db.Close()
		_ = src.Close()
		return nil, fmt.Errorf("create migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		_ = driver.Close()
		_ = src.Close()
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	return m, nil
}

// Migrate applies every pending up migration.
func Migrate(ctx context.Context, pool *Pool) error {
	m, err := newMigrator(pool)
	if err != nil {
		return err
	}
	defer closeMigrator(ctx, m)

	logger.Info(ctx, "running migrations up")
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info(ctx, "no migrations to apply")
			return nil
		}
		return fmt.Errorf("migration up failed: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("read migration version: %w", err)
	}
	logger.Info(ctx, "migrations completed", "version", version, "dirty", dirty)
	return nil
}

func closeMigrator(ctx context.Context, m *migrate.Migrate) {
	srcErr, dbErr := m.Close()
	if err := errors.Join(srcErr, dbErr); err != nil {
		logger.Warn(ctx, "close migrator", "error", err)
	}
}
