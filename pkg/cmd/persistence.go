// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pipecrm/wfm/pkg/persistence"
	"github.com/pipecrm/wfm/pkg/persistence/postgresql"
	"github.com/pipecrm/wfm/pkg/persistence/sqlite"
)

var supportedPersistenceProviders = []string{"postgres", "postgresql", "sqlite"}

// NewPersistence opens the store selected by the URL scheme:
// postgres:// or postgresql:// for PostgreSQL, sqlite://path or file:path for SQLite,
// and sqlite://:memory: for a throwaway in-memory database.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider, location := parsePersistenceProvider(databaseURL)

	switch provider {
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, err
		}

		return store, nil
	case "sqlite":
		var (
			store *sqlite.Persistence
			err   error
		)

		if location == ":memory:" {
			store, err = sqlite.OpenInMemory(ctx, logger)
		} else {
			store, err = sqlite.Open(ctx, logger, location)
		}

		if err != nil {
			return nil, err
		}

		return store, nil
	default:
		return nil, fmt.Errorf("unsupported database URL %q: expected one of %s", databaseURL,
			strings.Join(supportedPersistenceProviders, ", "))
	}
}

func parsePersistenceProvider(databaseURL string) (string, string) {
	if location, ok := strings.CutPrefix(databaseURL, "file:"); ok {
		return "sqlite", location
	}

	provider, location, ok := strings.Cut(databaseURL, "://")
	if !ok {
		return "", databaseURL
	}

	return provider, location
}
