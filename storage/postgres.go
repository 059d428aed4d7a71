package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aluiziolira/catalog-ingest/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS products (
	id          TEXT PRIMARY KEY,
	source_name TEXT NOT NULL,
	record      JSONB NOT NULL,
	crawled_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_products_source ON products(source_name);
`

const postgresUpsert = `
INSERT INTO products (id, source_name, record, crawled_at, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (id) DO UPDATE SET
	source_name = EXCLUDED.source_name,
	record      = EXCLUDED.record,
	crawled_at  = EXCLUDED.crawled_at,
	updated_at  = now()`

// PostgresStore keeps records in a JSONB table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string, maxConns int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 2
	}
	cfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Put upserts record by id.
func (s *PostgresStore) Put(ctx context.Context, record *models.EnrichedProductRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", record.ID, err)
	}
	if _, err := s.pool.Exec(ctx, postgresUpsert, record.ID, record.SourceName, payload, record.CrawledAt); err != nil {
		return fmt.Errorf("upsert %s: %w", record.ID, err)
	}
	return nil
}

// Each visits records in id order.
func (s *PostgresStore) Each(ctx context.Context, fn func(models.EnrichedProductRecord) error) error {
	rows, err := s.pool.Query(ctx, `SELECT record FROM products ORDER BY id`)
	if err != nil {
		return fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return fmt.Errorf("scan product: %w", err)
		}
		var rec models.EnrichedProductRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return fmt.Errorf("decode product: %w", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Ping checks the server is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
