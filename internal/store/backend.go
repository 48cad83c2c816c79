// Package store selects the persistence backend named by configuration.
// Every backend implements the same Backend contract, verified by the shared
// conformance suite in storetest; callers never branch on backend type.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"nasferry/internal/config"
	"nasferry/internal/logging"
	"nasferry/internal/records"
	"nasferry/internal/services"
	"nasferry/internal/shows"
	"nasferry/internal/store/memory"
	"nasferry/internal/store/postgres"
	"nasferry/internal/store/sqlite"
)

// Backend is the combined file-record, snapshot, and show registry store.
type Backend interface {
	records.Store
	shows.Registry
}

var (
	_ Backend = (*sqlite.Store)(nil)
	_ Backend = (*postgres.Store)(nil)
	_ Backend = (*memory.Store)(nil)
)

// Open connects to the backend selected by cfg.Database.Backend.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "store")
	backend := cfg.Database.Backend
	switch backend {
	case config.BackendSQLite:
		st, err := sqlite.Open(ctx, cfg.Database.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		logger.Debug("store opened", logging.String("backend", backend), logging.String("path", cfg.Database.SQLitePath))
		return st, nil
	case config.BackendPostgres:
		st, err := postgres.Open(ctx, cfg.Database.PostgresDSN, int32(cfg.Database.MaxConnections))
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		logger.Debug("store opened", logging.String("backend", backend))
		return st, nil
	case config.BackendMemory:
		logger.Debug("store opened", logging.String("backend", backend))
		return memory.New(), nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "store", "open", fmt.Sprintf("unknown backend %q", backend), nil)
	}
}
