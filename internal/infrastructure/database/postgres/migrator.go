package postgres

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // Postgres driver
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/GUI0609/rdkit/internal/config"
	"github.com/GUI0609/rdkit/internal/infrastructure/monitoring/logging"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// MigrationSource returns the embedded migration files as a golang-migrate
// source driver.
func MigrationSource() (source.Driver, error) {
	return iofs.New(migrationFiles, "migrations")
}

// Migrator applies the embedded schema migrations.  Each call opens and
// closes its own connection, independent of the search pool.
type Migrator struct {
	dsn    string
	logger logging.Logger
}

// NewMigrator builds a Migrator for the configured database.
func NewMigrator(cfg config.DatabaseConfig, log logging.Logger) *Migrator {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Migrator{dsn: buildDSN(cfg), logger: log}
}

func (m *Migrator) open() (*migrate.Migrate, error) {
	src, err := MigrationSource()
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	mg, err := migrate.NewWithSourceInstance("iofs", src, m.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return mg, nil
}

func closeMigrate(mg *migrate.Migrate, log logging.Logger) {
	srcErr, dbErr := mg.Close()
	if srcErr != nil || dbErr != nil {
		log.Warn("failed to close migrate instance", logging.Err(errors.Join(srcErr, dbErr)))
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Up: apply all pending migrations
// ─────────────────────────────────────────────────────────────────────────────

// Up applies every pending migration.  No pending migration is not an error.
func (m *Migrator) Up() error {
	mg, err := m.open()
	if err != nil {
		return err
	}
	defer closeMigrate(mg, m.logger)

	if err := mg.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Info("schema is up to date")
			return nil
		}
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	version, dirty, _ := mg.Version()
	m.logger.Info("migrations applied", logging.Int64("version", int64(version)), logging.Bool("dirty", dirty))
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Down: roll back by a number of steps
// ─────────────────────────────────────────────────────────────────────────────

// Down rolls the schema back by steps migrations.
func (m *Migrator) Down(steps int) error {
	if steps <= 0 {
		return fmt.Errorf("steps must be greater than 0, got %d", steps)
	}
	mg, err := m.open()
	if err != nil {
		return err
	}
	defer closeMigrate(mg, m.logger)

	if err := mg.Steps(-steps); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("no migrations to roll back")
		}
		return fmt.Errorf("failed to rollback %d step(s): %w", steps, err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Status / Force
// ─────────────────────────────────────────────────────────────────────────────

// Status returns the applied version (0 when none) and the dirty flag.
func (m *Migrator) Status() (version uint, dirty bool, err error) {
	mg, err := m.open()
	if err != nil {
		return 0, false, err
	}
	defer closeMigrate(mg, m.logger)

	version, dirty, err = mg.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

// Force sets the recorded version without running migrations, to recover from
// a dirty state.
func (m *Migrator) Force(version int) error {
	mg, err := m.open()
	if err != nil {
		return err
	}
	defer closeMigrate(mg, m.logger)

	if err := mg.Force(version); err != nil {
		return fmt.Errorf("failed to force version %d: %w", version, err)
	}
	return nil
}
