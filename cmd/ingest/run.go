package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aluiziolira/catalog-ingest/checkpoint"
	"github.com/aluiziolira/catalog-ingest/config"
	"github.com/aluiziolira/catalog-ingest/enrich"
	"github.com/aluiziolira/catalog-ingest/fetcher"
	"github.com/aluiziolira/catalog-ingest/models"
	"github.com/aluiziolira/catalog-ingest/pipeline"
	"github.com/aluiziolira/catalog-ingest/ratelimit"
	"github.com/aluiziolira/catalog-ingest/storage"
	"github.com/aluiziolira/catalog-ingest/telemetry"
)

func runCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch, validate, enrich, and persist every pending source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runIngest(ctx, cfg, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.SourcesFile, "sources", cfg.SourcesFile, "YAML file listing catalog sources")
	flags.IntVar(&cfg.SourceWorkers, "source-workers", cfg.SourceWorkers, "Sources processed concurrently")
	flags.IntVar(&cfg.ItemWorkers, "item-workers", cfg.ItemWorkers, "Items processed concurrently per source")
	flags.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Records per storage flush")
	flags.IntVar(&cfg.WriteConcurrency, "write-concurrency", cfg.WriteConcurrency, "Concurrent upserts per flush")
	flags.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "Timeout for one record upsert")
	flags.DurationVar(&cfg.FetchTimeout, "fetch-timeout", cfg.FetchTimeout, "Timeout for one catalog page request")
	flags.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "Retries for a transient page failure")
	flags.DurationVar(&cfg.RetryBackoff, "retry-backoff", cfg.RetryBackoff, "Initial retry backoff")
	flags.DurationVar(&cfg.RetryBackoffMax, "retry-backoff-max", cfg.RetryBackoffMax, "Maximum retry backoff")
	flags.Float64Var(&cfg.FetchRPS, "fetch-rps", cfg.FetchRPS, "Page requests per second across sources (0 = unlimited)")
	flags.StringVar(&cfg.EnrichURL, "enrich-url", cfg.EnrichURL, "Enrichment service URL (empty = fallback attributes only)")
	flags.StringVar(&cfg.EnrichAPIKey, "enrich-api-key", cfg.EnrichAPIKey, "Bearer token for the enrichment service")
	flags.StringVar(&cfg.EnrichModel, "enrich-model", cfg.EnrichModel, "Model name sent to the enrichment service")
	flags.DurationVar(&cfg.EnrichTimeout, "enrich-timeout", cfg.EnrichTimeout, "Timeout for one enrichment call")
	flags.IntVar(&cfg.EnrichCapacity, "enrich-rpm", cfg.EnrichCapacity, "Enrichment calls allowed per window")
	flags.DurationVar(&cfg.EnrichWindow, "enrich-window", cfg.EnrichWindow, "Enrichment rate window")
	flags.IntVar(&cfg.EnrichCacheSize, "enrich-cache", cfg.EnrichCacheSize, "Cached enrichment results (0 disables)")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	flags.DurationVar(&cfg.ReportInterval, "report-interval", cfg.ReportInterval, "Progress log interval (0 disables)")
	return cmd
}

func runIngest(ctx context.Context, cfg *config.Config, out io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	sources, err := config.LoadSources(cfg.SourcesFile)
	if err != nil {
		return err
	}

	ckpt, err := checkpoint.Open(cfg.CheckpointFile)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	store, err := storage.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("close store", slog.Any("error", err))
		}
	}()

	metrics := telemetry.NewMetrics()
	limiter := ratelimit.New(cfg.EnrichCapacity, cfg.EnrichWindow, nil)
	enricher, err := enrich.New(cfg, limiter, metrics)
	if err != nil {
		return err
	}

	runner, err := pipeline.NewRunner(pipeline.Deps{
		Config:     cfg,
		Fetcher:    fetcher.New(cfg, metrics),
		Enricher:   enricher,
		Store:      store,
		Checkpoint: ckpt,
		Metrics:    metrics,
		Logger:     slog.Default(),
	})
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight sources to finish")
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	slog.Info("starting ingest",
		slog.Int("sources", len(sources)),
		slog.Int("source_workers", cfg.SourceWorkers),
		slog.Int("item_workers", cfg.ItemWorkers),
		slog.String("store", cfg.StoreDriver),
		slog.Bool("enrichment", cfg.EnrichURL != ""),
		slog.String("run_id", ckpt.Snapshot().RunID),
	)

	reporter := telemetry.NewReporter(cfg.ReportInterval, runner.State().Snapshot, slog.Default())
	reporter.Start()
	summary, err := runner.Run(ctx, sources)
	reporter.Stop()
	if err != nil {
		return err
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(out, summary)
	return nil
}

func printSummary(out io.Writer, s models.RunSummary) {
	duration := s.Duration()
	itemsPerSec := 0.0
	if duration.Seconds() > 0 {
		itemsPerSec = float64(s.ItemsUploaded) / duration.Seconds()
	}

	separator := "--------------------------------------------------"
	fmt.Fprintln(out, "\n"+separator)
	fmt.Fprintln(out, "Ingest complete")
	fmt.Fprintf(out, "  Run id:          %s\n", s.RunID)
	fmt.Fprintf(out, "  Sources:         %d total, %d completed, %d failed, %d skipped\n",
		s.SourcesTotal, s.SourcesCompleted, s.SourcesFailed, s.SourcesSkipped)
	if s.SourcesInterrupted > 0 {
		fmt.Fprintf(out, "  Interrupted:     %d sources left pending\n", s.SourcesInterrupted)
	}
	if len(s.FailedSources) > 0 {
		fmt.Fprintf(out, "  Failed sources:  %v\n", s.FailedSources)
	}
	fmt.Fprintf(out, "  Items fetched:   %d\n", s.ItemsFetched)
	fmt.Fprintf(out, "  Items uploaded:  %d\n", s.ItemsUploaded)
	fmt.Fprintf(out, "  Write failures:  %d\n", s.ItemsWriteFailed)
	fmt.Fprintf(out, "  Rejected:        %d\n", s.ItemsRejected)
	if len(s.RejectionsByReason) > 0 {
		reasons := make([]string, 0, len(s.RejectionsByReason))
		for reason := range s.RejectionsByReason {
			reasons = append(reasons, reason)
		}
		sort.Strings(reasons)
		for _, reason := range reasons {
			fmt.Fprintf(out, "    %-14s %d\n", reason+":", s.RejectionsByReason[reason])
		}
	}
	fmt.Fprintf(out, "  Skipped items:   %d\n", s.ItemsSkipped)
	fmt.Fprintf(out, "  Enrichment:      %d ai (%d cached), %d fallback\n", s.EnrichedAI, s.EnrichedCached, s.EnrichedFallback)
	if s.CheckpointErrors > 0 {
		fmt.Fprintf(out, "  Checkpoint errs: %d\n", s.CheckpointErrors)
	}
	fmt.Fprintf(out, "  Duration:        %v\n", duration.Round(time.Millisecond))
	fmt.Fprintf(out, "  Items/sec:       %.2f\n", itemsPerSec)
	fmt.Fprintln(out, separator)
}
