package cmd

import (
	"github.com/spf13/cobra"

	"github.com/lming/mimir/internal/ui"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage indexes",
	}
	cmd.AddCommand(newIndexCreateCmd())
	cmd.AddCommand(newIndexDeleteCmd())
	cmd.AddCommand(newIndexListCmd())
	return cmd
}

func newIndexCreateCmd() *cobra.Command {
	var primaryKey string

	cmd := &cobra.Command{
		Use:   "create <uid>",
		Short: "Create an index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			inst, err := openInstance(ctx)
			if err != nil {
				return err
			}
			task, err := inst.CreateIndex(ctx, args[0], primaryKey)
			if err != nil {
				return err
			}
			done, err := inst.WaitForTask(ctx, task.UID)
			if err != nil {
				return err
			}
			if terr := done.Err(); terr != nil {
				return terr
			}
			ui.New(cmd.OutOrStdout()).Task(done)
			return nil
		},
	}
	cmd.Flags().StringVarP(&primaryKey, "primary-key", "k", "", "Primary key field (inferred when empty)")
	return cmd
}

func newIndexDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <uid>",
		Short: "Delete an index and its documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			inst, err := openInstance(ctx)
			if err != nil {
				return err
			}
			task, err := inst.DeleteIndex(ctx, args[0])
			if err != nil {
				return err
			}
			done, err := inst.WaitForTask(ctx, task.UID)
			if err != nil {
				return err
			}
			if terr := done.Err(); terr != nil {
				return terr
			}
			ui.New(cmd.OutOrStdout()).Task(done)
			return nil
		},
	}
}

func newIndexListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List indexes",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			inst, err := openInstance(ctx)
			if err != nil {
				return err
			}
			infos, err := inst.ListIndexes(ctx)
			if err != nil {
				return err
			}
			ui.New(cmd.OutOrStdout()).Indexes(infos)
			return nil
		},
	}
}
