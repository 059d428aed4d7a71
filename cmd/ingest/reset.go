package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/catalog-ingest/checkpoint"
	"github.com/aluiziolira/catalog-ingest/config"
)

func resetCmd(cfg *config.Config) *cobra.Command {
	var (
		failed  bool
		all     bool
		sources []string
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Return sources to pending so the next run processes them again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !failed && !all && len(sources) == 0 {
				return errors.New("reset needs --failed, --source, or --all")
			}

			ckpt, err := checkpoint.Open(cfg.CheckpointFile)
			if err != nil {
				return fmt.Errorf("load checkpoint: %w", err)
			}

			if all {
				if err := ckpt.ClearAll(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "checkpoint cleared")
				return nil
			}

			cleared := 0
			if failed {
				n, err := ckpt.ClearFailed()
				if err != nil {
					return err
				}
				cleared += n
			}
			if len(sources) > 0 {
				n, err := ckpt.Clear(sources...)
				if err != nil {
					return err
				}
				cleared += n
			}
			slog.Debug("checkpoint reset", slog.Int("sources", cleared))
			fmt.Fprintf(cmd.OutOrStdout(), "%d sources reset to pending\n", cleared)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&failed, "failed", false, "Reset every failed source")
	flags.StringSliceVar(&sources, "source", nil, "Reset the named source (repeatable)")
	flags.BoolVar(&all, "all", false, "Discard the whole checkpoint and start a new run id")
	return cmd
}
