package store

import (
	"database/sql"
	"embed"
	stderrors "errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/NikhilSetiya/smart-bug-triage/pkg/config"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/errors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrator applies the embedded schema migrations
type Migrator struct {
	migrate *migrate.Migrate
	db      *sql.DB
}

// NewMigrator creates a migrator for the database described by cfg
func NewMigrator(cfg *config.DatabaseConfig) (*Migrator, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("database configuration is required")
	}

	db, err := sql.Open("postgres", ConnString(cfg))
	if err != nil {
		return nil, errors.NewInternalError("failed to open database connection").WithCause(err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.NewExternalError("postgres", "failed to ping database").WithCause(err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, errors.NewInternalError("failed to create postgres driver").WithCause(err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		db.Close()
		return nil, errors.NewInternalError("failed to open embedded migrations").WithCause(err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, errors.NewInternalError("failed to create migrate instance").WithCause(err)
	}

	return &Migrator{
		migrate: m,
		db:      db,
	}, nil
}

// Close closes the migrator and database connection
func (m *Migrator) Close() error {
	var err error
	if m.migrate != nil {
		if sourceErr, dbErr := m.migrate.Close(); sourceErr != nil || dbErr != nil {
			err = fmt.Errorf("source error: %v, db error: %v", sourceErr, dbErr)
		}
	}
	if m.db != nil {
		if dbErr := m.db.Close(); dbErr != nil && err == nil {
			err = dbErr
		}
	}
	return err
}

// Up runs all available migrations
func (m *Migrator) Up() error {
	if err := m.migrate.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return errors.NewInternalError("failed to run migrations").WithCause(err)
	}
	return nil
}

// Down rolls back all migrations
func (m *Migrator) Down() error {
	if err := m.migrate.Down(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return errors.NewInternalError("failed to rollback migrations").WithCause(err)
	}
	return nil
}

// Steps runs n migrations up (positive) or down (negative)
func (m *Migrator) Steps(n int) error {
	if err := m.migrate.Steps(n); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return errors.NewInternalError("failed to run migration steps").WithCause(err)
	}
	return nil
}

// Version returns the current migration version
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if err != nil {
		if stderrors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, errors.NewInternalError("failed to get migration version").WithCause(err)
	}
	return version, dirty, nil
}

// Force sets the migration version without running migrations
func (m *Migrator) Force(version int) error {
	if err := m.migrate.Force(version); err != nil {
		return errors.NewInternalError("failed to force migration version").WithCause(err)
	}
	return nil
}

// Migration is one embedded schema migration
type Migration struct {
	Version uint
	Name    string
}

// Migrations lists the embedded migrations in version order
func Migrations() ([]Migration, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, errors.NewInternalError("failed to open embedded migrations").WithCause(err)
	}
	defer src.Close()

	var out []Migration
	version, err := src.First()
	for err == nil {
		body, name, readErr := src.ReadUp(version)
		if readErr != nil {
			return nil, errors.NewInternalError(fmt.Sprintf("failed to read migration %d", version)).WithCause(readErr)
		}
		body.Close()
		out = append(out, Migration{Version: version, Name: name})
		version, err = src.Next(version)
	}
	if !stderrors.Is(err, fs.ErrNotExist) {
		return nil, errors.NewInternalError("failed to list embedded migrations").WithCause(err)
	}
	return out, nil
}

// MigrationsBetween returns the migrations that move the schema between two
// versions, in the order they run: ascending going up, descending going down.
func MigrationsBetween(all []Migration, from, to uint) []Migration {
	var out []Migration
	switch {
	case to > from:
		for _, m := range all {
			if m.Version > from && m.Version <= to {
				out = append(out, m)
			}
		}
	case to < from:
		for i := len(all) - 1; i >= 0; i-- {
			if m := all[i]; m.Version > to && m.Version <= from {
				out = append(out, m)
			}
		}
	}
	return out
}
