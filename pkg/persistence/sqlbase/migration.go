// Package sqlbase provides the base functionality for SQL database persistence.
package sqlbase

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
)

// Migration is one forward-only schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// MigrationManager applies pending migrations in version order, one transaction per migration.
type MigrationManager struct {
	db         *sql.DB
	logger     *slog.Logger
	dialect    Dialect
	migrations []Migration
}

// NewMigrationManager creates a new migration manager.
func NewMigrationManager(logger *slog.Logger, db *sql.DB, dialect Dialect, migrations []Migration) *MigrationManager {
	sorted := slices.Clone(migrations)
	slices.SortFunc(sorted, func(a, b Migration) int { return a.Version - b.Version })

	return &MigrationManager{
		db:         db,
		logger:     logger.With("dialect", dialect.Name),
		dialect:    dialect,
		migrations: sorted,
	}
}

// LatestVersion returns the highest migration version known to the manager.
func (m *MigrationManager) LatestVersion() int {
	if len(m.migrations) == 0 {
		return 0
	}

	return m.migrations[len(m.migrations)-1].Version
}

func (m *MigrationManager) validate() error {
	for i, migration := range m.migrations {
		if migration.Version <= 0 {
			return fmt.Errorf("migration %q has non-positive version %d", migration.Description, migration.Version)
		}

		if i > 0 && m.migrations[i-1].Version == migration.Version {
			return fmt.Errorf("duplicate migration version %d", migration.Version)
		}
	}

	return nil
}

// RunMigrations brings the schema up to LatestVersion. Several replicas may call it concurrently
// on dialects that define a MigrationLock.
func (m *MigrationManager) RunMigrations(ctx context.Context) error {
	err := m.validate()
	if err != nil {
		return err
	}

	_, err = m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL DEFAULT '',
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "Checking database schema", "current_version", current, "latest_version", m.LatestVersion())

	for _, migration := range m.migrations {
		if migration.Version <= current {
			continue
		}

		err := m.apply(ctx, migration)
		if err != nil {
			return err
		}
	}

	return nil
}

// CurrentVersion returns the highest applied migration version, zero for an empty database.
func (m *MigrationManager) CurrentVersion(ctx context.Context) (int, error) {
	return currentVersion(ctx, m.db)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func currentVersion(ctx context.Context, q queryer) (int, error) {
	var version int

	err := q.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to query current schema version: %w", err)
	}

	return version, nil
}

func (m *MigrationManager) apply(ctx context.Context, migration Migration) error {
	transaction, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for migration %d: %w", migration.Version, err)
	}

	defer func() { _ = transaction.Rollback() }()

	if m.dialect.MigrationLock != "" {
		_, err = transaction.ExecContext(ctx, m.dialect.MigrationLock)
		if err != nil {
			return fmt.Errorf("failed to lock schema for migration %d: %w", migration.Version, err)
		}
	}

	// another replica may have applied it while we waited for the lock
	current, err := currentVersion(ctx, transaction)
	if err != nil {
		return err
	}

	if migration.Version <= current {
		return nil
	}

	m.logger.InfoContext(ctx, "Applying migration", "version", migration.Version, "description", migration.Description)

	_, err = transaction.ExecContext(ctx, migration.SQL)
	if err != nil {
		return fmt.Errorf("failed to execute migration %d (%s): %w", migration.Version, migration.Description, err)
	}

	_, err = transaction.ExecContext(ctx,
		m.dialect.Rebind("INSERT INTO schema_migrations (version, description) VALUES ($1, $2)"),
		migration.Version, migration.Description)
	if err != nil {
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}

	err = transaction.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
	}

	return nil
}
