package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var contextJSON bool

var contextCmd = &cobra.Command{
	Use:   "context QUERY",
	Short: "Print the memory context the assistant would see for a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(rt *runtime) error {
			c, err := rt.newContextBuilder().Build(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if contextJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(c)
			}
			if c.Degraded {
				fmt.Fprintln(out, "(embedding unavailable, keyword fallback)")
			}
			fmt.Fprintln(out, c.Prompt())
			return nil
		})
	},
}

func init() {
	contextCmd.Flags().BoolVar(&contextJSON, "json", false, "Print the structured context")
}
