package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/catalog-ingest/config"
	"github.com/aluiziolira/catalog-ingest/export"
	"github.com/aluiziolira/catalog-ingest/storage"
)

func exportCmd(cfg *config.Config) *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Dump the persisted catalog to CSV and/or JSONL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := storage.Open(ctx, cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			lister, ok := store.(storage.Lister)
			if !ok {
				return fmt.Errorf("store %s cannot be listed", cfg.StoreDriver)
			}

			writer, err := export.NewWriter(format, output)
			if err != nil {
				return err
			}
			n, err := export.Run(ctx, lister, writer)
			if closeErr := writer.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
			if err != nil {
				return err
			}

			slog.Info("export complete", slog.Int("records", n), slog.String("format", format))
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d records\n", n)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&format, "format", export.FormatCSV, "Output format: csv, jsonl, or both")
	flags.StringVar(&output, "output", "data/catalog", "Output path without extension")
	return cmd
}
