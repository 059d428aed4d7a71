package models

import "time"

// AnalysisKind records where a record's attributes came from.
type AnalysisKind string

const (
	AnalysisAI       AnalysisKind = "ai"
	AnalysisFallback AnalysisKind = "fallback"
)

// IsValid reports whether k is a known analysis kind.
func (k AnalysisKind) IsValid() bool {
	switch k {
	case AnalysisAI, AnalysisFallback:
		return true
	}
	return false
}

// EnrichedAttributes are the structured attributes derived for a listing.
// Every list is non-nil so persisted records keep a stable shape.
type EnrichedAttributes struct {
	Category     string   `json:"category"`
	Subcategory  string   `json:"subcategory"`
	Colors       []string `json:"colors"`
	Materials    []string `json:"materials"`
	Style        string   `json:"style"`
	Activity     string   `json:"activity"`
	TargetGender string   `json:"target_gender"`
	Features     []string `json:"features"`
	SearchTerms  []string `json:"search_terms"`
}

// EnrichedProductRecord is the unit persisted to storage, upserted by ID.
type EnrichedProductRecord struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	Price          float64            `json:"price"`
	Image          string             `json:"image"`
	ProductURL     string             `json:"product_url"`
	SourceName     string             `json:"source_name"`
	Vendor         string             `json:"vendor"`
	ProductType    string             `json:"product_type"`
	Tags           []string           `json:"tags"`
	Attributes     EnrichedAttributes `json:"attributes"`
	SearchableText string             `json:"searchable_text"`
	CrawledAt      time.Time          `json:"crawled_at"`
	AnalysisKind   AnalysisKind       `json:"analysis_kind"`
}

// RunSummary holds the aggregate outcome of one pipeline run.
type RunSummary struct {
	RunID              string
	StartTime          time.Time
	EndTime            time.Time
	SourcesTotal       int
	SourcesSkipped     int
	SourcesInterrupted int
	SourcesCompleted   int
	SourcesFailed      int
	FailedSources      []string
	ItemsFetched       int64
	ItemsUploaded      int64
	ItemsWriteFailed   int64
	ItemsRejected      int64
	RejectionsByReason map[string]int64
	ItemsSkipped       int64
	EnrichedAI         int64
	EnrichedFallback   int64
	EnrichedCached     int64
	CheckpointErrors   int64
}

// Duration returns the wall time of the run.
func (s RunSummary) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}
