package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/aluiziolira/catalog-ingest/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS products (
	id          TEXT PRIMARY KEY,
	source_name TEXT NOT NULL,
	record      TEXT NOT NULL,
	crawled_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_products_source ON products(source_name);
`

const sqliteUpsert = `
INSERT INTO products (id, source_name, record, crawled_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	source_name = excluded.source_name,
	record      = excluded.record,
	crawled_at  = excluded.crawled_at,
	updated_at  = excluded.updated_at`

// SQLiteStore is an embedded key-value table of records.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("ensure data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serialises writers; concurrent upserts queue instead of
	// failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Put upserts record by id.
func (s *SQLiteStore) Put(ctx context.Context, record *models.EnrichedProductRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", record.ID, err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, sqliteUpsert,
		record.ID,
		record.SourceName,
		string(payload),
		record.CrawledAt.UTC().Format(time.RFC3339Nano),
		now,
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", record.ID, err)
	}
	return nil
}

// Each visits records in id order.
func (s *SQLiteStore) Each(ctx context.Context, fn func(models.EnrichedProductRecord) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM products ORDER BY id`)
	if err != nil {
		return fmt.Errorf("list products: %w", err)
	}
	var records []models.EnrichedProductRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			rows.Close()
			return fmt.Errorf("scan product: %w", err)
		}
		var rec models.EnrichedProductRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			rows.Close()
			return fmt.Errorf("decode product: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate products: %w", err)
	}
	rows.Close()

	// fn runs after the cursor is released so it never holds the single
	// connection while doing its own work.
	for _, rec := range records {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// Ping checks the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
