package config

import (
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "negative source workers",
			mutate: func(cfg *Config) {
				cfg.SourceWorkers = -1
			},
			wantErr: "source workers",
		},
		{
			name: "zero item workers",
			mutate: func(cfg *Config) {
				cfg.ItemWorkers = 0
			},
			wantErr: "item workers",
		},
		{
			name: "zero batch size",
			mutate: func(cfg *Config) {
				cfg.BatchSize = 0
			},
			wantErr: "batch size",
		},
		{
			name: "relative enrichment url",
			mutate: func(cfg *Config) {
				cfg.EnrichURL = "/v1/enrich"
			},
			wantErr: "enrichment URL",
		},
		{
			name: "negative fetch timeout",
			mutate: func(cfg *Config) {
				cfg.FetchTimeout = -1 * time.Second
			},
			wantErr: "fetch timeout",
		},
		{
			name: "backoff above max",
			mutate: func(cfg *Config) {
				cfg.RetryBackoff = 5 * time.Second
				cfg.RetryBackoffMax = time.Second
			},
			wantErr: "retry backoff",
		},
		{
			name: "zero enrichment capacity",
			mutate: func(cfg *Config) {
				cfg.EnrichCapacity = 0
			},
			wantErr: "enrichment capacity",
		},
		{
			name: "unknown store driver",
			mutate: func(cfg *Config) {
				cfg.StoreDriver = "redis"
			},
			wantErr: "store driver",
		},
		{
			name: "postgres without dsn",
			mutate: func(cfg *Config) {
				cfg.StoreDriver = StorePostgres
				cfg.StoreDSN = ""
			},
			wantErr: "store dsn",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestMemoryStoreNeedsNoDSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StoreDriver = StoreMemory
	cfg.StoreDSN = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("memory store should validate without dsn, got %v", err)
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("INGEST_TEST_INT", " 12 ")
	got, ok, err := EnvInt("INGEST_TEST_INT")
	if err != nil || !ok || got != 12 {
		t.Fatalf("EnvInt = %d, %v, %v; want 12, true, nil", got, ok, err)
	}

	t.Setenv("INGEST_TEST_INT", "twelve")
	if _, _, err := EnvInt("INGEST_TEST_INT"); err == nil {
		t.Fatalf("expected parse error")
	}

	if _, ok, err := EnvInt("INGEST_TEST_UNSET"); ok || err != nil {
		t.Fatalf("unset variable should report ok=false, err=nil")
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("INGEST_TEST_DUR", "1500ms")
	got, ok, err := EnvDuration("INGEST_TEST_DUR")
	if err != nil || !ok || got != 1500*time.Millisecond {
		t.Fatalf("EnvDuration = %v, %v, %v", got, ok, err)
	}
}
