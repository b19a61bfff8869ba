package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/duckmemory/duckmem/internal/hygiene"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store totals and the current user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(rt *runtime) error {
			ctx, out := cmd.Context(), cmd.OutOrStdout()
			printHeader(out, "📊 duckmem status")
			s, err := rt.store.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Database:       %s (%.2f MB)\n", rt.store.Path(), s.SizeMB)
			fmt.Fprintf(out, "API key:        %s\n", check(rt.ex != nil))
			fmt.Fprintf(out, "Messages:       %d (%d unprocessed)\n", s.Messages, s.Unprocessed)
			fmt.Fprintf(out, "Inbound SMS:    %d pending\n", s.PendingSMS)
			fmt.Fprintf(out, "Profile facts:  %d\n", s.ProfileFacts)
			fmt.Fprintf(out, "Memories:       %d (%d without vector)\n", s.Memories, s.MemoriesNoEmbedding)
			fmt.Fprintf(out, "Sessions:       %d summarised\n", s.SessionSummaries)
			fmt.Fprintf(out, "Images:         %d\n", s.Images)
			fmt.Fprintf(out, "Contradictions: %d open\n", s.OpenContradictions)

			sess := rt.users.CurrentUser(ctx)
			line := fmt.Sprintf("%s (%s)", sess.Username, sess.Relation)
			if left, ok := rt.users.TimeUntilRevert(ctx); ok {
				line += fmt.Sprintf(", reverts in %s", left.Round(time.Minute))
			}
			fmt.Fprintf(out, "Current user:   %s\n", line)
			return nil
		})
	},
}

func printReport(out io.Writer, r *hygiene.Report) {
	for _, s := range r.Steps {
		detail := fmt.Sprintf("%d rows", s.Rows)
		if s.Err != nil {
			detail = color.RedString(s.Err.Error())
		}
		fmt.Fprintf(out, "%s %-15s %s\n", check(s.Err == nil), s.Name, detail)
	}
	fmt.Fprintf(out, "Memories %d → %d, facts %d → %d, messages %d → %d, %.2f MB → %.2f MB (%s)\n",
		r.Before.Memories, r.After.Memories, r.Before.ProfileFacts, r.After.ProfileFacts,
		r.Before.Messages, r.After.Messages, r.Before.SizeMB, r.After.SizeMB,
		r.Elapsed.Round(time.Millisecond))
	if failed := r.Failed(); len(failed) > 0 {
		names := make([]string, len(failed))
		for i, s := range failed {
			names[i] = s.Name
		}
		fmt.Fprintf(out, "%s failed steps: %s\n", color.YellowString("!"), strings.Join(names, ", "))
	}
}
