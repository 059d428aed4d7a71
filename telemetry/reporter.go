package telemetry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/catalog-ingest/models"
)

// Reporter logs aggregate progress on a fixed interval.
type Reporter struct {
	interval time.Duration
	snapshot func() models.RunSummary
	logger   *slog.Logger

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewReporter builds a reporter that logs snapshot() every interval.
func NewReporter(interval time.Duration, snapshot func() models.RunSummary, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		interval: interval,
		snapshot: snapshot,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the reporting goroutine. A non-positive interval disables it.
func (r *Reporter) Start() {
	if r.interval <= 0 || r.snapshot == nil {
		close(r.done)
		return
	}

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.Report()
			case <-r.stop:
				return
			}
		}
	}()
}

// Report logs one progress line immediately.
func (r *Reporter) Report() {
	s := r.snapshot()
	r.logger.Info("ingest progress",
		slog.Int("sources_completed", s.SourcesCompleted),
		slog.Int("sources_failed", s.SourcesFailed),
		slog.Int64("items_fetched", s.ItemsFetched),
		slog.Int64("items_uploaded", s.ItemsUploaded),
		slog.Int64("items_write_failed", s.ItemsWriteFailed),
		slog.Int64("items_rejected", s.ItemsRejected),
		slog.Int64("enriched_ai", s.EnrichedAI),
		slog.Int64("enriched_fallback", s.EnrichedFallback),
	)
}

// Stop ends reporting and waits for the goroutine to exit.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	<-r.done
}
