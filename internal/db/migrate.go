package db

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// ErrDirtySchema means a previous migration failed halfway and the
// schema needs manual repair before the service can use it.
var ErrDirtySchema = errors.New("db: schema is dirty")

// migrator is the part of *migrate.Migrate that apply drives.
type migrator interface {
	Up() error
	Version() (uint, bool, error)
}

// Migrate brings the signals schema in migrationsDir up to date.
func Migrate(dsn, migrationsDir string) error {
	m, err := migrate.New("file://"+migrationsDir, dsn)
	if err != nil {
		return fmt.Errorf("migrate new: %w", err)
	}
	defer m.Close()
	return apply(m)
}

func apply(m migrator) error {
	upErr := m.Up()
	var dirty migrate.ErrDirty
	switch {
	case errors.As(upErr, &dirty):
		return fmt.Errorf("%w at version %d", ErrDirtySchema, dirty.Version)
	case upErr != nil && !errors.Is(upErr, migrate.ErrNoChange):
		return fmt.Errorf("migrate up: %w", upErr)
	}

	version, isDirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		slog.Info("no migrations to apply")
		return nil
	case err != nil:
		return fmt.Errorf("migrate version: %w", err)
	case isDirty:
		return fmt.Errorf("%w at version %d", ErrDirtySchema, version)
	}
	slog.Info("schema ready", "version", version, "changed", upErr == nil)
	return nil
}
