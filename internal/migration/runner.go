// Package migration applies the embedded SQL schema with golang-migrate.
package migration

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/prperemyshlev/credential-service/migrations"
	"go.uber.org/zap"
)

// Runner wraps a migrate instance bound to an open database handle.
type Runner struct {
	m      *migrate.Migrate
	logger *zap.Logger
}

// NewRunner prepares migrations against db. The caller keeps ownership of db.
func NewRunner(db *sql.DB, logger *zap.Logger) (*Runner, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{logger: logger}

	return &Runner{m: m, logger: logger}, nil
}

// Up applies all pending migrations. A database already at the latest version is not an error.
func (r *Runner) Up() error {
	version, dirty, err := r.Version()
	if err != nil {
		return err
	}
	if dirty {
		return fmt.Errorf("database is in a dirty state (version %d), manual intervention required", version)
	}

	if err := r.m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			r.logger.Info("Database schema is up to date", zap.Uint("version", version))
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	newVersion, _, _ := r.Version()
	r.logger.Info("Database migrated",
		zap.Uint("from_version", version),
		zap.Uint("to_version", newVersion),
	)
	return nil
}

// Down rolls back steps migrations, or all of them when steps is 0.
func (r *Runner) Down(steps int) error {
	var err error
	if steps > 0 {
		err = r.m.Steps(-steps)
	} else {
		err = r.m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to roll back migrations: %w", err)
	}
	return nil
}

// Version returns the current schema version; zero when no migration has run.
func (r *Runner) Version() (uint, bool, error) {
	version, dirty, err := r.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read migration version: %w", err)
	}
	return version, dirty, nil
}

// Force sets the version without running migrations, clearing the dirty flag.
func (r *Runner) Force(version int) error {
	if err := r.m.Force(version); err != nil {
		return fmt.Errorf("failed to force version %d: %w", version, err)
	}
	return nil
}

type migrateLogger struct {
	logger *zap.Logger
}

func (l *migrateLogger) Printf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *migrateLogger) Verbose() bool {
	return false
}
