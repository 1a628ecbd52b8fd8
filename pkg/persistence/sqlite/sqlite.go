// Package sqlite provides an embedded SQLite persistence implementation for the WFM engine.
// It backs local development and the service test suites.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pipecrm/wfm/pkg/persistence/sqlbase"
	"github.com/pipecrm/wfm/pkg/persistence/sqlstore"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const driverName = "sqlite"

// Dialect is the SQLite flavour of the shared SQL repositories.
var Dialect = sqlbase.Dialect{
	Name:        "sqlite",
	Placeholder: sqlbase.PlaceholderQuestion,
	IsUniqueViolation: func(err error) bool {
		var sqliteErr *sqlite.Error
		if errors.As(err, &sqliteErr) {
			code := sqliteErr.Code()
			if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
				return true
			}
		}

		return strings.Contains(err.Error(), "UNIQUE constraint failed")
	},
	IsForeignKeyViolation: func(err error) bool {
		var sqliteErr *sqlite.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY {
			return true
		}

		return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
	},
}

// Persistence implements the persistence layer for SQLite.
type Persistence struct {
	*sqlstore.Store
}

// Open opens (or creates) the database file at path and migrates the schema.
func Open(ctx context.Context, logger *slog.Logger, path string) (*Persistence, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}

	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}

	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	return open(ctx, logger, dsn, 0)
}

// OpenInMemory opens a private in-memory database. All access goes through a single connection
// since every SQLite memory connection is its own database.
func OpenInMemory(ctx context.Context, logger *slog.Logger) (*Persistence, error) {
	return open(ctx, logger, "file::memory:?_pragma=foreign_keys(1)", 1)
}

func open(ctx context.Context, logger *slog.Logger, dsn string, maxConns int) (*Persistence, error) {
	database, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if maxConns > 0 {
		database.SetMaxOpenConns(maxConns)
		database.SetMaxIdleConns(maxConns)
		database.SetConnMaxLifetime(0)
	}

	err = database.PingContext(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	err = sqlbase.NewMigrationManager(logger, database, Dialect, migrations()).RunMigrations(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{Store: sqlstore.New(database, logger, Dialect)}, nil
}
