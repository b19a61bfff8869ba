package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/duckmemory/duckmem/internal/store"
)

var factCmd = &cobra.Command{
	Use:   "fact",
	Short: "Inspect and edit profile facts",
}

var factLimit int

var factListCmd = &cobra.Command{
	Use:   "list [PREFIX]",
	Short: "List facts, most frequent first, or those under a key prefix",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(rt *runtime) error {
			var (
				facts []store.ProfileFact
				err   error
			)
			if len(args) == 1 {
				facts, err = rt.store.FactsByKeyPrefix(cmd.Context(), args[0])
			} else {
				facts, err = rt.store.GetProfileFacts(cmd.Context(), factLimit)
			}
			if err != nil {
				return err
			}
			for _, f := range facts {
				fmt.Fprintf(cmd.OutOrStdout(), "%-32s %-24s %-12s conf=%.2f freq=%d\n",
					f.Key, f.Value, f.Topic, f.Confidence, f.Frequency)
			}
			return nil
		})
	},
}

var factGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Show one fact with its metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(rt *runtime) error {
			f, ok, err := rt.store.GetProfileFact(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("fact %q not found", args[0])
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s = %s\n", f.Key, f.Value)
			fmt.Fprintf(out, "topic=%s confidence=%.2f frequency=%d source=%s\n", f.Topic, f.Confidence, f.Frequency, f.Source)
			fmt.Fprintf(out, "updated %s, vector %s\n", since(f.LastUpdated), check(len(f.Embedding) > 0))
			if f.Metadata.ExpiresAt != nil {
				fmt.Fprintf(out, "expires %s\n", f.Metadata.ExpiresAt.Format("2006-01-02 15:04"))
			}
			return nil
		})
	},
}

var (
	factTopic      string
	factConfidence float64
)

var factSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Write a fact as told by the user",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(rt *runtime) error {
			ctx := cmd.Context()
			f := store.ProfileFact{
				Key:        args[0],
				Value:      strings.Join(args[1:], " "),
				Topic:      factTopic,
				Confidence: factConfidence,
				Source:     store.SourceUser,
			}
			if rt.emb != nil {
				if vec, err := rt.emb.Embed(ctx, store.FactEmbeddingText(f.Key, f.Value)); err == nil {
					f.Embedding = vec
				}
			}
			res, err := rt.store.SaveProfileFact(ctx, f)
			if err != nil {
				return err
			}
			switch {
			case res.Blocked:
				return fmt.Errorf("fact %q is verified as %q; delete it first", f.Key, res.Previous)
			case res.Superseded:
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %q → %q\n", check(true), f.Key, res.Previous, f.Value)
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s = %s\n", check(true), f.Key, f.Value)
			}
			return nil
		})
	},
}

var factDeleteCmd = &cobra.Command{
	Use:   "delete KEY",
	Short: "Delete a fact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(rt *runtime) error {
			return rt.store.DeleteProfileFact(cmd.Context(), args[0])
		})
	},
}

var contradictionsAll bool

var factContradictionsCmd = &cobra.Command{
	Use:   "contradictions",
	Short: "List audited contradictions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(rt *runtime) error {
			list, err := rt.store.ListContradictions(cmd.Context(), !contradictionsAll)
			if err != nil {
				return err
			}
			for _, c := range list {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-28s %q (%.2f) vs %q (%.2f) %s\n",
					check(c.Resolved), c.Key, c.ExistingValue, c.ExistingConfidence, c.NewValue, c.NewConfidence, since(c.DetectedAt))
			}
			return nil
		})
	},
}

func init() {
	factListCmd.Flags().IntVar(&factLimit, "limit", 50, "Maximum facts (0 for all)")
	factSetCmd.Flags().StringVar(&factTopic, "topic", store.TopicGeneral, "Fact topic")
	factSetCmd.Flags().Float64Var(&factConfidence, "confidence", 0.95, "Fact confidence (1.0 marks it verified)")
	factContradictionsCmd.Flags().BoolVar(&contradictionsAll, "all", false, "Include resolved contradictions")
	factCmd.AddCommand(factListCmd, factGetCmd, factSetCmd, factDeleteCmd, factContradictionsCmd)
}
