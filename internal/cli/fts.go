package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var ftsCmd = &cobra.Command{
	Use:   "fts",
	Short: "Verify or rebuild the full-text indexes",
}

var ftsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Compare full-text indexes with their base tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(rt *runtime) error {
			if err := rt.store.CheckFullText(cmd.Context()); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s full-text index out of sync\n", check(false))
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s full-text index in sync\n", check(true))
			return nil
		})
	},
}

var ftsRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the full-text indexes from the base tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(rt *runtime) error {
			if err := rt.store.RebuildFullText(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s full-text index rebuilt\n", check(true))
			return nil
		})
	},
}

func init() {
	ftsCmd.AddCommand(ftsCheckCmd, ftsRebuildCmd)
}
