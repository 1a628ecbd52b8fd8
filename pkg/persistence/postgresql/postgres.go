// Package postgresql provides the PostgreSQL persistence implementation for the WFM engine.
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
	"github.com/pipecrm/wfm/pkg/persistence/sqlbase"
	"github.com/pipecrm/wfm/pkg/persistence/sqlstore"
)

const (
	uniqueViolationCode     = "23505"
	foreignKeyViolationCode = "23503"
)

// Dialect is the PostgreSQL flavour of the shared SQL repositories.
var Dialect = sqlbase.Dialect{
	Name:        "postgres",
	Placeholder: sqlbase.PlaceholderDollar,
	IsUniqueViolation: func(err error) bool {
		var pqErr *pq.Error

		return errors.As(err, &pqErr) && pqErr.Code == uniqueViolationCode
	},
	IsForeignKeyViolation: func(err error) bool {
		var pqErr *pq.Error

		return errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolationCode
	},
	MigrationLock: "SELECT pg_advisory_xact_lock(hashtext('wfm_schema_migrations'))",
}

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	*sqlstore.Store
}

// NewPersistence creates a new PostgreSQL persistence layer and migrates the schema.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
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
