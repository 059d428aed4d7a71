// Package pipeline runs the per-source state machine: fetch, validate,
// enrich, and persist, with bounded source and item concurrency.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aluiziolira/catalog-ingest/checkpoint"
	"github.com/aluiziolira/catalog-ingest/config"
	"github.com/aluiziolira/catalog-ingest/enrich"
	"github.com/aluiziolira/catalog-ingest/models"
	"github.com/aluiziolira/catalog-ingest/parser"
	"github.com/aluiziolira/catalog-ingest/storage"
	"github.com/aluiziolira/catalog-ingest/telemetry"
)

// SourceFetcher pulls the raw listings of one source.
type SourceFetcher interface {
	Fetch(ctx context.Context, src models.Source) ([]models.RawListing, error)
}

// Enricher derives attributes for a listing. It must not fail.
type Enricher interface {
	Enrich(ctx context.Context, listing models.ValidatedListing) enrich.Result
}

// CheckpointStore records terminal source states durably.
type CheckpointStore interface {
	Snapshot() checkpoint.Progress
	MarkCompleted(name string) error
	MarkFailed(name string) error
	IncrementProcessed(n int64) error
}

// Deps are the collaborators of a Runner.
type Deps struct {
	Config     *config.Config
	Fetcher    SourceFetcher
	Enricher   Enricher
	Store      storage.Store
	Checkpoint CheckpointStore
	Metrics    *telemetry.Metrics
	Logger     *slog.Logger
	Now        func() time.Time
}

// Runner drives one ingestion run.
type Runner struct {
	cfg        *config.Config
	fetcher    SourceFetcher
	enricher   Enricher
	store      storage.Store
	checkpoint CheckpointStore
	metrics    *telemetry.Metrics
	logger     *slog.Logger
	now        func() time.Time

	state *State
}

// NewRunner validates deps and builds a Runner.
func NewRunner(deps Deps) (*Runner, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("pipeline: fetcher is required")
	case deps.Enricher == nil:
		return nil, errors.New("pipeline: enricher is required")
	case deps.Store == nil:
		return nil, errors.New("pipeline: store is required")
	case deps.Checkpoint == nil:
		return nil, errors.New("pipeline: checkpoint store is required")
	}

	cfg := deps.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	progress := deps.Checkpoint.Snapshot()
	return &Runner{
		cfg:        cfg,
		fetcher:    deps.Fetcher,
		enricher:   deps.Enricher,
		store:      deps.Store,
		checkpoint: deps.Checkpoint,
		metrics:    deps.Metrics,
		logger:     logger,
		now:        now,
		state:      newState(progress.RunID, now()),
	}, nil
}

// State exposes live counters, for progress reporting.
func (r *Runner) State() *State { return r.state }

// Run processes every source not already recorded in the checkpoint. When ctx
// is cancelled no further sources start; sources already running finish and
// are checkpointed. Per-source and per-item failures are reported in the
// summary, not returned.
func (r *Runner) Run(ctx context.Context, sources []models.Source) (models.RunSummary, error) {
	progress := r.checkpoint.Snapshot()

	pending := make([]models.Source, 0, len(sources))
	for _, src := range sources {
		if progress.Done(src.Name) {
			r.logger.Info("skipping checkpointed source",
				slog.String("source", src.Name),
				slog.Bool("failed", progress.Failed(src.Name)),
			)
			r.metrics.IncSource("skipped")
			continue
		}
		pending = append(pending, src)
	}

	r.state.mu.Lock()
	r.state.sourcesTotal = len(sources)
	r.state.sourcesSkipped = len(sources) - len(pending)
	r.state.mu.Unlock()

	// Sources keep running on a context that ignores the caller's cancellation
	// so that an interrupt only stops dispatch.
	work := context.WithoutCancel(ctx)
	pool := NewWorkerPool(r.cfg.SourceWorkers, func(_ context.Context, src models.Source) error {
		return r.runSource(work, src)
	})

	errs := pool.Run(ctx, pending)
	interrupted := 0
	for i, err := range errs {
		switch {
		case err == nil:
		case errors.Is(err, ErrWorkerPanic):
			r.failSource(pending[i], err)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			interrupted++
		default:
			r.failSource(pending[i], err)
		}
	}
	if interrupted > 0 {
		r.state.addInterrupted(interrupted)
		r.logger.Warn("run interrupted, remaining sources left pending", slog.Int("sources", interrupted))
	}

	summary := r.state.Snapshot()
	summary.EndTime = r.now()
	return summary, nil
}

func (r *Runner) runSource(ctx context.Context, src models.Source) error {
	log := r.logger.With(slog.String("source", src.Name))

	r.transition(log, src.Name, StateFetching)
	raws, err := r.fetcher.Fetch(ctx, src)
	if err != nil {
		r.failSource(src, err)
		return nil
	}

	r.transition(log, src.Name, StateProcessing)
	r.state.itemsFetched.Add(int64(len(raws)))
	r.metrics.AddItems("fetched", len(raws))

	listings := r.validate(log, src, raws)

	writer := NewBatchWriter(r.store, r.cfg.BatchSize, r.cfg.WriteConcurrency, r.cfg.WriteTimeout)
	items := NewWorkerPool(r.cfg.ItemWorkers, func(ctx context.Context, listing models.ValidatedListing) error {
		return r.processItem(ctx, writer, listing)
	})
	for i, err := range items.Run(ctx, listings) {
		if err == nil {
			continue
		}
		r.state.itemsSkipped.Add(1)
		r.metrics.AddItems("skipped", 1)
		log.Error("item processing failed",
			slog.String("item", listings[i].ID),
			slog.Any("error", err),
		)
	}

	// Every flush must land before the source is marked done.
	writer.Close(ctx)
	uploaded, failed := writer.Counts()
	r.state.itemsUploaded.Add(uploaded)
	r.state.itemsWriteFailed.Add(failed)
	r.metrics.AddItems("uploaded", int(uploaded))
	r.metrics.AddItems("write_failed", int(failed))

	if err := r.checkpoint.MarkCompleted(src.Name); err != nil {
		r.checkpointError(log, err)
	}
	if err := r.checkpoint.IncrementProcessed(uploaded); err != nil {
		r.checkpointError(log, err)
	}
	r.transition(log, src.Name, StateCompleted,
		slog.Int64("uploaded", uploaded),
		slog.Int64("write_failed", failed),
	)
	r.metrics.IncSource(string(StateCompleted))
	return nil
}

// validate filters raws down to listings fit for enrichment, dropping
// repeated ids within the source.
func (r *Runner) validate(log *slog.Logger, src models.Source, raws []models.RawListing) []models.ValidatedListing {
	seen := make(map[string]struct{}, len(raws))
	listings := make([]models.ValidatedListing, 0, len(raws))
	for _, raw := range raws {
		if raw.SourceName == "" {
			raw.SourceName = src.Name
		}
		if raw.StoreURL == "" {
			raw.StoreURL = src.Endpoint
		}

		listing, rejection := parser.Validate(raw)
		if rejection == nil {
			if _, dup := seen[listing.ID]; dup {
				rejection = &parser.Rejection{Reason: parser.ReasonDuplicate, ListingID: listing.ListingID, Title: listing.Title}
			}
		}
		if rejection != nil {
			r.state.addRejection(string(rejection.Reason))
			r.metrics.IncRejection(string(rejection.Reason))
			log.Debug("listing rejected",
				slog.String("item", rejection.ListingID),
				slog.String("reason", string(rejection.Reason)),
			)
			continue
		}
		seen[listing.ID] = struct{}{}
		listings = append(listings, listing)
	}
	return listings
}

func (r *Runner) processItem(ctx context.Context, writer *BatchWriter, listing models.ValidatedListing) error {
	result := r.enricher.Enrich(ctx, listing)
	switch {
	case result.Kind == models.AnalysisAI && result.Cached:
		r.state.enrichedAI.Add(1)
		r.state.enrichedCached.Add(1)
	case result.Kind == models.AnalysisAI:
		r.state.enrichedAI.Add(1)
	default:
		r.state.enrichedFallback.Add(1)
	}

	record := Assemble(listing, result, r.now())
	if err := writer.Submit(ctx, record); err != nil {
		return fmt.Errorf("submit %s: %w", listing.ID, err)
	}
	return nil
}

func (r *Runner) failSource(src models.Source, cause error) {
	log := r.logger.With(slog.String("source", src.Name))
	if err := r.checkpoint.MarkFailed(src.Name); err != nil {
		r.checkpointError(log, err)
	}
	r.transition(log, src.Name, StateFailed, slog.Any("error", cause))
	r.metrics.IncSource(string(StateFailed))
}

func (r *Runner) transition(log *slog.Logger, name string, state SourceState, attrs ...slog.Attr) {
	r.state.setSource(name, state)
	args := make([]any, 0, len(attrs)+1)
	args = append(args, slog.String("state", string(state)))
	for _, a := range attrs {
		args = append(args, a)
	}
	if state == StateFailed {
		log.Error("source failed", args...)
		return
	}
	log.Info("source state", args...)
}

func (r *Runner) checkpointError(log *slog.Logger, err error) {
	r.state.checkpointErrors.Add(1)
	log.Error("checkpoint write failed", slog.Any("error", err))
}

// Assemble builds the persisted record for listing.
func Assemble(listing models.ValidatedListing, result enrich.Result, crawledAt time.Time) *models.EnrichedProductRecord {
	kind := result.Kind
	if !kind.IsValid() {
		kind = models.AnalysisFallback
	}
	attrs := result.Attributes
	attrs.Colors = copyList(attrs.Colors)
	attrs.Materials = copyList(attrs.Materials)
	attrs.Features = copyList(attrs.Features)
	attrs.SearchTerms = copyList(attrs.SearchTerms)
	return &models.EnrichedProductRecord{
		ID:             listing.ID,
		Name:           listing.Title,
		Price:          listing.Price,
		Image:          listing.ImageURL,
		ProductURL:     listing.ProductURL,
		SourceName:     listing.SourceName,
		Vendor:         listing.Vendor,
		ProductType:    listing.ProductType,
		Tags:           copyList(listing.Tags),
		Attributes:     attrs,
		SearchableText: SearchableText(listing, attrs),
		CrawledAt:      crawledAt.UTC(),
		AnalysisKind:   kind,
	}
}

// SearchableText flattens the listing and its attributes into one
// lower-cased, de-duplicated string of terms.
func SearchableText(listing models.ValidatedListing, attrs models.EnrichedAttributes) string {
	parts := []string{listing.Title, listing.Vendor, listing.ProductType,
		attrs.Category, attrs.Subcategory, attrs.Style, attrs.Activity}
	for _, list := range [][]string{listing.Tags, attrs.Colors, attrs.Materials, attrs.Features, attrs.SearchTerms} {
		parts = append(parts, list...)
	}

	seen := make(map[string]struct{})
	terms := make([]string, 0, len(parts))
	for _, part := range parts {
		for _, word := range strings.Fields(strings.ToLower(part)) {
			if _, ok := seen[word]; ok {
				continue
			}
			seen[word] = struct{}{}
			terms = append(terms, word)
		}
	}
	return strings.Join(terms, " ")
}

// copyList never returns nil, so persisted lists encode as [] rather than null.
func copyList(list []string) []string {
	out := make([]string, len(list))
	copy(out, list)
	return out
}
