package cmd

import (
	"github.com/spf13/cobra"

	"github.com/lming/mimir"
	"github.com/lming/mimir/internal/ui"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show instance status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			inst, err := openInstance(ctx)
			if err != nil {
				return err
			}

			healthy := inst.Health(ctx) == nil
			var infos []mimir.IndexInfo
			if healthy {
				infos, err = inst.ListIndexes(ctx)
				if err != nil {
					return err
				}
			}
			ui.New(cmd.OutOrStdout()).Status(
				inst.Name(), inst.DataDirectory(), inst.URL(), healthy, infos)
			return nil
		},
	}
}
