// Package ledgerstore opens the ledger backend named by DATABASE_URL.
package ledgerstore

import (
	"context"
	"fmt"
	"strings"

	"riskLedger/internal/adapters/postgres"
	"riskLedger/internal/adapters/sqlite"
	"riskLedger/internal/ports"
)

var (
	_ ports.LedgerStore = (*sqlite.Repository)(nil)
	_ ports.LedgerStore = (*postgres.Repository)(nil)
)

type backend int

const (
	backendSQLite backend = iota
	backendPostgres
)

// resolve maps a DATABASE_URL to a backend and its connection target.
// Empty selects the default SQLite file.
func resolve(databaseURL string) (backend, string, error) {
	u := strings.TrimSpace(databaseURL)
	switch {
	case u == "":
		return backendSQLite, "", nil
	case strings.HasPrefix(u, "postgres://"), strings.HasPrefix(u, "postgresql://"):
		return backendPostgres, u, nil
	case strings.HasPrefix(u, "file:"):
		path := strings.TrimPrefix(strings.TrimPrefix(u, "file:"), "//")
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		if path == "" {
			return 0, "", fmt.Errorf("%w: DATABASE_URL %q has no path", ports.ErrConfigurationError, databaseURL)
		}
		return backendSQLite, path, nil
	case strings.Contains(u, "://"):
		return 0, "", fmt.Errorf("%w: unsupported DATABASE_URL scheme in %q", ports.ErrConfigurationError, databaseURL)
	default:
		return backendSQLite, u, nil
	}
}

// Open connects to the ledger and ensures its schema exists.
func Open(ctx context.Context, databaseURL string, logger ports.Logger) (ports.LedgerStore, error) {
	kind, target, err := resolve(databaseURL)
	if err != nil {
		return nil, err
	}

	if kind == backendPostgres {
		logger.Info(ctx, "Opening Postgres ledger")
		repo, err := postgres.NewRepository(ctx, postgres.Config{DSN: target, Logger: logger})
		if err != nil {
			return nil, err
		}
		return repo, nil
	}

	logger.Info(ctx, "Opening SQLite ledger", map[string]interface{}{"path": target})
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: target, Logger: logger})
	if err != nil {
		return nil, err
	}
	return repo, nil
}
