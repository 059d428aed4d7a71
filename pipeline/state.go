package pipeline

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/catalog-ingest/models"
)

// SourceState is a position in the per-source lifecycle.
type SourceState string

const (
	StatePending    SourceState = "pending"
	StateFetching   SourceState = "fetching"
	StateProcessing SourceState = "processing"
	StateCompleted  SourceState = "completed"
	StateFailed     SourceState = "failed"
)

// Terminal reports whether s is Completed or Failed.
func (s SourceState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// State owns the mutable counters of one run. The checkpoint is its only
// durable projection.
type State struct {
	runID string
	start time.Time

	sourcesTotal   int
	sourcesSkipped int

	itemsFetched     atomic.Int64
	itemsUploaded    atomic.Int64
	itemsWriteFailed atomic.Int64
	itemsRejected    atomic.Int64
	itemsSkipped     atomic.Int64
	enrichedAI       atomic.Int64
	enrichedFallback atomic.Int64
	enrichedCached   atomic.Int64
	checkpointErrors atomic.Int64

	mu          sync.Mutex
	sources     map[string]SourceState
	rejections  map[string]int64
	interrupted int
}

func newState(runID string, start time.Time) *State {
	return &State{
		runID:      runID,
		start:      start,
		sources:    make(map[string]SourceState),
		rejections: make(map[string]int64),
	}
}

func (s *State) setSource(name string, state SourceState) {
	s.mu.Lock()
	s.sources[name] = state
	s.mu.Unlock()
}

// Source returns the current state of name, Pending if unknown.
func (s *State) Source(name string) SourceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.sources[name]; ok {
		return st
	}
	return StatePending
}

func (s *State) addRejection(reason string) {
	s.itemsRejected.Add(1)
	s.mu.Lock()
	s.rejections[reason]++
	s.mu.Unlock()
}

func (s *State) addInterrupted(n int) {
	s.mu.Lock()
	s.interrupted += n
	s.mu.Unlock()
}

// Snapshot returns the run's counters so far. EndTime is left zero.
func (s *State) Snapshot() models.RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := models.RunSummary{
		RunID:              s.runID,
		StartTime:          s.start,
		SourcesTotal:       s.sourcesTotal,
		SourcesSkipped:     s.sourcesSkipped,
		SourcesInterrupted: s.interrupted,
		ItemsFetched:       s.itemsFetched.Load(),
		ItemsUploaded:      s.itemsUploaded.Load(),
		ItemsWriteFailed:   s.itemsWriteFailed.Load(),
		ItemsRejected:      s.itemsRejected.Load(),
		ItemsSkipped:       s.itemsSkipped.Load(),
		EnrichedAI:         s.enrichedAI.Load(),
		EnrichedFallback:   s.enrichedFallback.Load(),
		EnrichedCached:     s.enrichedCached.Load(),
		CheckpointErrors:   s.checkpointErrors.Load(),
		RejectionsByReason: make(map[string]int64, len(s.rejections)),
	}
	for reason, n := range s.rejections {
		summary.RejectionsByReason[reason] = n
	}
	for name, st := range s.sources {
		switch st {
		case StateCompleted:
			summary.SourcesCompleted++
		case StateFailed:
			summary.SourcesFailed++
			summary.FailedSources = append(summary.FailedSources, name)
		}
	}
	sort.Strings(summary.FailedSources)
	return summary
}
