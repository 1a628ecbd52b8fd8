// Package sqlstore implements the persistence repositories over database/sql.
// The PostgreSQL and SQLite backends share these repositories and differ only in their sqlbase.Dialect
// and migrations.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pipecrm/wfm/pkg/persistence"
	"github.com/pipecrm/wfm/pkg/persistence/sqlbase"
)

// Store implements persistence.Persistence for an open *sql.DB.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	dialect sqlbase.Dialect

	workflowRepo    *WorkflowRepository
	statusRepo      *StatusRepository
	projectTypeRepo *ProjectTypeRepository
	projectRepo     *ProjectRepository
	historyRepo     *HistoryRepository
	leadRepo        *LeadRepository
	dealRepo        *DealRepository
}

// New wires all repositories to db. The schema must already be migrated.
func New(db *sql.DB, logger *slog.Logger, dialect sqlbase.Dialect) *Store {
	base := repo{db: db, logger: logger, dialect: dialect}

	return &Store{
		db:              db,
		logger:          logger,
		dialect:         dialect,
		workflowRepo:    &WorkflowRepository{repo: base},
		statusRepo:      &StatusRepository{repo: base},
		projectTypeRepo: &ProjectTypeRepository{repo: base},
		projectRepo:     &ProjectRepository{repo: base},
		historyRepo:     &HistoryRepository{repo: base},
		leadRepo:        &LeadRepository{repo: base},
		dealRepo:        &DealRepository{repo: base},
	}
}

// DB exposes the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close(_ context.Context) error {
	if s.db != nil {
		err := s.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *Store) HealthCheck(ctx context.Context) error {
	err := s.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (s *Store) WorkflowRepository() persistence.WorkflowRepository { return s.workflowRepo }

func (s *Store) StatusRepository() persistence.StatusRepository { return s.statusRepo }

func (s *Store) ProjectTypeRepository() persistence.ProjectTypeRepository { return s.projectTypeRepo }

func (s *Store) ProjectRepository() persistence.ProjectRepository { return s.projectRepo }

func (s *Store) HistoryRepository() persistence.HistoryRepository { return s.historyRepo }

func (s *Store) LeadRepository() persistence.LeadRepository { return s.leadRepo }

func (s *Store) DealRepository() persistence.DealRepository { return s.dealRepo }

// repo holds what every repository needs.
type repo struct {
	db      *sql.DB
	logger  *slog.Logger
	dialect sqlbase.Dialect
}

type scanner interface {
	Scan(dest ...any) error
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r repo) q(query string) string {
	return r.dialect.Rebind(query)
}

func (r repo) closeRows(ctx context.Context, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

// withTx runs fn in a transaction, rolling back on error.
func (r repo) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	err = fn(tx)
	if err != nil {
		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// uniqueErr maps unique constraint violations to persistence.ErrDuplicate.
func (r repo) uniqueErr(err error, format string) error {
	if r.dialect.UniqueViolation(err) {
		return fmt.Errorf(format+": %w", persistence.ErrDuplicate)
	}

	return fmt.Errorf(format+": %w", err)
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate ID: %w", err)
	}

	return id.String(), nil
}

func now() time.Time {
	return time.Now().UTC()
}

// nullString stores empty strings as NULL so optional foreign keys stay valid.
func nullString(s string) any {
	if s == "" {
		return nil
	}

	return s
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "{}", nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func unmarshalJSON[T any](data []byte) (T, error) {
	var v T

	if len(data) == 0 {
		return v, nil
	}

	err := json.Unmarshal(data, &v)

	return v, err
}
