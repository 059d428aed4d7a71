package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/catalog-ingest/checkpoint"
	"github.com/aluiziolira/catalog-ingest/config"
)

func statusCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the checkpoint: completed and failed sources and counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ckpt, err := checkpoint.Open(cfg.CheckpointFile)
			if err != nil {
				return fmt.Errorf("load checkpoint: %w", err)
			}
			printStatus(cmd.OutOrStdout(), ckpt.Snapshot())
			return nil
		},
	}
}

func printStatus(out io.Writer, p checkpoint.Progress) {
	fmt.Fprintf(out, "Run id:          %s\n", p.RunID)
	fmt.Fprintf(out, "Completed:       %d\n", len(p.ProcessedSources))
	for _, name := range p.ProcessedSources {
		fmt.Fprintf(out, "  + %s\n", name)
	}
	fmt.Fprintf(out, "Failed:          %d\n", len(p.FailedSources))
	for _, name := range p.FailedSources {
		fmt.Fprintf(out, "  - %s\n", name)
	}
	fmt.Fprintf(out, "Items processed: %d\n", p.TotalItemsProcessed)
	if p.LastUpdated.IsZero() {
		fmt.Fprintln(out, "Last updated:    never")
		return
	}
	fmt.Fprintf(out, "Last updated:    %s\n", p.LastUpdated.Format(time.RFC3339))
}
