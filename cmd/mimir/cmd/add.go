package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lming/mimir"
	"github.com/lming/mimir/internal/ui"
)

func newAddCmd() *cobra.Command {
	var (
		indexUID   string
		primaryKey string
	)

	cmd := &cobra.Command{
		Use:   "add <file.json|file.ndjson>...",
		Short: "Add documents from JSON files",
		Long: `Add documents to an index from files. A .json file holds a single
object or an array of objects; each batch is one engine task and the
command waits for all of them.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			inst, err := openInstance(ctx)
			if err != nil {
				return err
			}
			idx := inst.Index(indexUID)
			out := ui.New(cmd.OutOrStdout())

			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				docs, err := decodeBatch(data)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				var task mimir.Task
				if primaryKey != "" {
					task, err = idx.AddDocumentsWithPrimaryKey(ctx, docs, primaryKey)
				} else {
					task, err = idx.AddDocuments(ctx, docs)
				}
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				done, err := idx.WaitForTask(ctx, task.UID)
				if err != nil {
					return err
				}
				if terr := done.Err(); terr != nil {
					return fmt.Errorf("%s: %w", path, terr)
				}
				out.Task(done)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&indexUID, "index", "i", "documents", "Target index uid")
	cmd.Flags().StringVarP(&primaryKey, "primary-key", "k", "", "Primary key field (inferred when empty)")
	return cmd
}

// decodeBatch accepts either a JSON array of objects or a single object.
func decodeBatch(data []byte) ([]mimir.Document, error) {
	if docs, err := mimir.DecodeDocuments(data); err == nil {
		return docs, nil
	}
	var doc mimir.Document
	if err := doc.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return []mimir.Document{doc}, nil
}
