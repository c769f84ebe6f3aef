package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/lming/mimir/internal/ingest"
)

func newWatchCmd() *cobra.Command {
	var indexUID string

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Ingest document files from a directory, then watch for changes",
		Long: `Ingest every .json and .ndjson file under the directory into the
target index, then keep watching and ingest files as they appear or
change. A manifest in the instance data directory makes ingestion
idempotent: unchanged files are skipped across runs.

Runs until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			inst, err := openInstance(ctx)
			if err != nil {
				return err
			}

			idxName := indexUID
			if idxName == "" {
				idxName = cfg.Ingest.Index
			}

			ing, err := ingest.New(inst.Index(idxName), manifestPath(inst), ingest.Options{
				DebounceWindow: cfg.IngestDebounceDuration(),
				ScanWorkers:    cfg.Ingest.Workers,
				Logger:         logger,
			})
			if err != nil {
				return err
			}
			defer ing.Close()

			if err := ing.Scan(ctx, args[0]); err != nil {
				return err
			}
			if err := ing.Watch(ctx, args[0]); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&indexUID, "index", "i", "", "Target index uid (default from config)")
	return cmd
}
