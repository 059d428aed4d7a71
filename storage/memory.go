package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/aluiziolira/catalog-ingest/models"
)

// MemoryStore keeps records in a map. Used for dry runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]models.EnrichedProductRecord
	puts    int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]models.EnrichedProductRecord)}
}

// Put upserts record.
func (m *MemoryStore) Put(ctx context.Context, record *models.EnrichedProductRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.ID] = *record
	m.puts++
	return nil
}

// Len returns the number of distinct records.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Puts returns how many writes were accepted, overwrites included.
func (m *MemoryStore) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

// Each visits records in id order.
func (m *MemoryStore) Each(ctx context.Context, fn func(models.EnrichedProductRecord) error) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	snapshot := make([]models.EnrichedProductRecord, 0, len(ids))
	for _, id := range ids {
		snapshot = append(snapshot, m.records[id])
	}
	m.mu.Unlock()

	for _, rec := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
func (m *MemoryStore) Close() error               { return nil }
