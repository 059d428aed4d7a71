// Package storage persists enriched product records keyed by id.
package storage

import (
	"context"
	"fmt"

	"github.com/aluiziolira/catalog-ingest/config"
	"github.com/aluiziolira/catalog-ingest/models"
)

// Store upserts records by id: writing an existing id overwrites it wholesale.
// Implementations must be safe for concurrent Put calls.
type Store interface {
	Put(ctx context.Context, record *models.EnrichedProductRecord) error
	// Ping reports whether the backend is reachable at all.
	Ping(ctx context.Context) error
	Close() error
}

// Lister is implemented by stores that can enumerate their records.
type Lister interface {
	Each(ctx context.Context, fn func(models.EnrichedProductRecord) error) error
}

// Open builds the store selected by cfg.StoreDriver and probes it once.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	var (
		store Store
		err   error
	)
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		store, err = OpenSQLite(cfg.StoreDSN)
	case config.StorePostgres:
		store, err = OpenPostgres(ctx, cfg.StoreDSN, cfg.WriteConcurrency)
	case config.StoreMemory:
		store = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.StoreDriver)
	}
	if err != nil {
		return nil, err
	}

	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("store health probe: %w", err)
	}
	return store, nil
}
