package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/catalog-ingest/models"
	"github.com/aluiziolira/catalog-ingest/storage"
)

// ErrWriterClosed is returned when Submit is called after Close.
var ErrWriterClosed = errors.New("pipeline: batch writer closed")

// BatchWriter buffers records and upserts each full batch with bounded
// concurrency. A failed write is counted against that record only.
type BatchWriter struct {
	store       storage.Store
	size        int
	concurrency int
	timeout     time.Duration

	mu     sync.Mutex // guards buf/closed
	buf    []*models.EnrichedProductRecord
	closed bool

	flushMu  sync.Mutex // one flush at a time keeps writes bounded by concurrency
	inflight sync.WaitGroup

	uploaded atomic.Int64
	failed   atomic.Int64
}

// NewBatchWriter returns a writer flushing every size records with at most
// concurrency simultaneous upserts, each limited to timeout.
func NewBatchWriter(store storage.Store, size, concurrency int, timeout time.Duration) *BatchWriter {
	if size <= 0 {
		size = 1
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &BatchWriter{
		store:       store,
		size:        size,
		concurrency: concurrency,
		timeout:     timeout,
		buf:         make([]*models.EnrichedProductRecord, 0, size),
	}
}

// Submit buffers record and, when the buffer is full, flushes it before
// returning.
func (w *BatchWriter) Submit(ctx context.Context, record *models.EnrichedProductRecord) error {
	if record == nil {
		return nil
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWriterClosed
	}
	w.buf = append(w.buf, record)
	var batch []*models.EnrichedProductRecord
	if len(w.buf) >= w.size {
		batch = w.buf
		w.buf = make([]*models.EnrichedProductRecord, 0, w.size)
		w.inflight.Add(1)
	}
	w.mu.Unlock()

	if batch != nil {
		defer w.inflight.Done()
		w.flush(ctx, batch)
	}
	return nil
}

// Close flushes any trailing partial batch and waits for every flush already
// started. Once Close returns, no record submitted earlier is still pending.
func (w *BatchWriter) Close(ctx context.Context) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.inflight.Wait()
		return
	}
	w.closed = true
	batch := w.buf
	w.buf = nil
	w.mu.Unlock()

	if len(batch) > 0 {
		w.flush(ctx, batch)
	}
	w.inflight.Wait()
}

// Counts returns the records written and the records whose write failed.
func (w *BatchWriter) Counts() (uploaded, failed int64) {
	return w.uploaded.Load(), w.failed.Load()
}

func (w *BatchWriter) flush(ctx context.Context, batch []*models.EnrichedProductRecord) {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	// A plain Group: one record's failure must not cancel its siblings.
	var g errgroup.Group
	g.SetLimit(w.concurrency)
	for _, rec := range batch {
		g.Go(func() error {
			if err := w.put(ctx, rec); err != nil {
				w.failed.Add(1)
				slog.Warn("record write failed",
					slog.String("item", rec.ID),
					slog.String("source", rec.SourceName),
					slog.Any("error", err),
				)
				return nil
			}
			w.uploaded.Add(1)
			return nil
		})
	}
	_ = g.Wait()
}

func (w *BatchWriter) put(ctx context.Context, rec *models.EnrichedProductRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: store put: %v", ErrWorkerPanic, r)
		}
	}()
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	return w.store.Put(ctx, rec)
}
