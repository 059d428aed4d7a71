package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/catalog-ingest/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("ingest failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.DefaultConfig()
	envErr := applyEnv(cfg)

	root := &cobra.Command{
		Use:           "ingest",
		Short:         "Ingest storefront catalogs into an enriched product store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if envErr != nil {
				return envErr
			}
			logger, level := newLogger(cfg.Verbose)
			slog.SetDefault(logger)
			slog.SetLogLoggerLevel(level.Level())
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfg.CheckpointFile, "checkpoint", cfg.CheckpointFile, "Checkpoint file path")
	flags.StringVar(&cfg.StoreDriver, "store", cfg.StoreDriver, "Storage backend: sqlite, postgres, or memory")
	flags.StringVar(&cfg.StoreDSN, "store-dsn", cfg.StoreDSN, "Storage DSN (sqlite path or postgres URL)")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		runCmd(cfg),
		statusCmd(cfg),
		resetCmd(cfg),
		exportCmd(cfg),
	)
	return root
}

// applyEnv overlays INGEST_* environment variables onto cfg so flags default
// to them.
func applyEnv(cfg *config.Config) error {
	stringVars := map[string]*string{
		"INGEST_SOURCES":        &cfg.SourcesFile,
		"INGEST_ENRICH_URL":     &cfg.EnrichURL,
		"INGEST_ENRICH_API_KEY": &cfg.EnrichAPIKey,
		"INGEST_STORE":          &cfg.StoreDriver,
		"INGEST_STORE_DSN":      &cfg.StoreDSN,
		"INGEST_CHECKPOINT":     &cfg.CheckpointFile,
		"INGEST_METRICS_ADDR":   &cfg.MetricsAddr,
	}
	for key, dst := range stringVars {
		if value, ok := config.EnvString(key); ok {
			*dst = value
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"INGEST_SOURCE_WORKERS", &cfg.SourceWorkers},
		{"INGEST_ITEM_WORKERS", &cfg.ItemWorkers},
		{"INGEST_BATCH_SIZE", &cfg.BatchSize},
		{"INGEST_ENRICH_RPM", &cfg.EnrichCapacity},
	}
	for _, item := range ints {
		value, ok, err := config.EnvInt(item.key)
		if err != nil {
			return fmt.Errorf("invalid %w", err)
		}
		if ok {
			*item.dst = value
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"INGEST_FETCH_TIMEOUT", &cfg.FetchTimeout},
		{"INGEST_ENRICH_TIMEOUT", &cfg.EnrichTimeout},
		{"INGEST_WRITE_TIMEOUT", &cfg.WriteTimeout},
		{"INGEST_REPORT_INTERVAL", &cfg.ReportInterval},
	}
	for _, item := range durations {
		value, ok, err := config.EnvDuration(item.key)
		if err != nil {
			return fmt.Errorf("invalid %w", err)
		}
		if ok {
			*item.dst = value
		}
	}
	return nil
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
