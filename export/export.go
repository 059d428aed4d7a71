// Package export dumps a persisted catalog to CSV and/or JSONL files.
package export

import (
	"context"
	"fmt"

	"github.com/aluiziolira/catalog-ingest/models"
	"github.com/aluiziolira/catalog-ingest/storage"
)

const (
	FormatCSV  = "csv"
	FormatJSON = "jsonl"
	FormatBoth = "both"
)

const batchSize = 64

// Writer receives batches of records.
type Writer interface {
	Write(records []*models.EnrichedProductRecord) error
	Close() error
}

// NewWriter opens the writer for format. base is the output path without
// extension.
func NewWriter(format, base string) (Writer, error) {
	switch format {
	case FormatCSV:
		return NewCSVWriter(base + ".csv")
	case FormatJSON:
		return NewJSONWriter(base + ".jsonl")
	case FormatBoth:
		return NewDualWriter(base+".csv", base+".jsonl")
	default:
		return nil, fmt.Errorf("unsupported export format %q (want csv, jsonl, or both)", format)
	}
}

// Run streams every record from lister into w in batches and returns the
// number written. It does not close w.
func Run(ctx context.Context, lister storage.Lister, w Writer) (int, error) {
	batch := make([]*models.EnrichedProductRecord, 0, batchSize)
	written := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := w.Write(batch); err != nil {
			return err
		}
		written += len(batch)
		batch = batch[:0]
		return nil
	}

	err := lister.Each(ctx, func(rec models.EnrichedProductRecord) error {
		batch = append(batch, &rec)
		if len(batch) >= batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return written, fmt.Errorf("export records: %w", err)
	}
	if err := flush(); err != nil {
		return written, fmt.Errorf("export records: %w", err)
	}
	return written, nil
}
