package config

import (
	"fmt"
	"net/url"
	"time"
)

// Store drivers understood by storage.Open.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds pipeline configuration.
type Config struct {
	SourcesFile    string
	CheckpointFile string

	SourceWorkers    int
	ItemWorkers      int
	BatchSize        int
	WriteConcurrency int
	WriteTimeout     time.Duration

	FetchTimeout      time.Duration
	MaxRetries        int
	RetryBackoff      time.Duration
	RetryBackoffMax   time.Duration
	FetchRPS          float64
	FetchMaxBodyBytes int
	UserAgent         string

	EnrichURL       string
	EnrichAPIKey    string
	EnrichModel     string
	EnrichTimeout   time.Duration
	EnrichCapacity  int
	EnrichWindow    time.Duration
	EnrichCacheSize int

	StoreDriver string
	StoreDSN    string

	MetricsAddr    string
	ReportInterval time.Duration
	Verbose        bool
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() *Config {
	return &Config{
		SourcesFile:       "sources.yaml",
		CheckpointFile:    "data/checkpoint.json",
		SourceWorkers:     4,
		ItemWorkers:       8,
		BatchSize:         10,
		WriteConcurrency:  5,
		WriteTimeout:      10 * time.Second,
		FetchTimeout:      30 * time.Second,
		MaxRetries:        2,
		RetryBackoff:      time.Second,
		RetryBackoffMax:   time.Second,
		FetchRPS:          0,
		FetchMaxBodyBytes: 32 << 20,
		UserAgent:         "catalog-ingest/1.0 (+https://github.com/aluiziolira/catalog-ingest)",
		EnrichModel:       "gpt-4o-mini",
		EnrichTimeout:     30 * time.Second,
		EnrichCapacity:    60,
		EnrichWindow:      time.Minute,
		EnrichCacheSize:   4096,
		StoreDriver:       StoreSQLite,
		StoreDSN:          "data/catalog.db",
		ReportInterval:    10 * time.Second,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.SourcesFile == "" {
		return fmt.Errorf("sources file cannot be empty")
	}
	if c.CheckpointFile == "" {
		return fmt.Errorf("checkpoint file cannot be empty")
	}
	if c.SourceWorkers <= 0 {
		return fmt.Errorf("source workers must be positive")
	}
	if c.ItemWorkers <= 0 {
		return fmt.Errorf("item workers must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.WriteConcurrency <= 0 {
		return fmt.Errorf("write concurrency must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.FetchRPS < 0 {
		return fmt.Errorf("fetch rps cannot be negative")
	}
	if c.FetchMaxBodyBytes < 0 {
		return fmt.Errorf("fetch max body bytes cannot be negative")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.EnrichURL != "" {
		parsed, err := url.Parse(c.EnrichURL)
		if err != nil {
			return fmt.Errorf("invalid enrichment URL: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("enrichment URL must be absolute")
		}
	}
	if c.EnrichTimeout <= 0 {
		return fmt.Errorf("enrichment timeout must be positive")
	}
	if c.EnrichCapacity <= 0 {
		return fmt.Errorf("enrichment capacity must be positive")
	}
	if c.EnrichWindow <= 0 {
		return fmt.Errorf("enrichment window must be positive")
	}
	if c.EnrichCacheSize < 0 {
		return fmt.Errorf("enrichment cache size cannot be negative")
	}
	switch c.StoreDriver {
	case StoreSQLite, StorePostgres:
		if c.StoreDSN == "" {
			return fmt.Errorf("store dsn cannot be empty for %s", c.StoreDriver)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("store driver must be sqlite, postgres, or memory")
	}
	if c.ReportInterval < 0 {
		return fmt.Errorf("report interval cannot be negative")
	}

	return nil
}
