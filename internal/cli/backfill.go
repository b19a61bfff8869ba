package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/duckmemory/duckmem/internal/store"
)

var backfillBatch int

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Embed facts and memories stored without a vector",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(rt *runtime) error {
			if rt.emb == nil {
				return fmt.Errorf("no API key configured, cannot embed")
			}
			ctx, stop := signalContext()
			defer stop()
			n, err := backfill(ctx, rt.store, rt.emb, backfillBatch)
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d rows embedded\n", check(err == nil), n)
			return err
		})
	},
}

type batchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// backfill embeds missing rows in batches until none are left.
func backfill(ctx context.Context, st *store.Store, emb batchEmbedder, batch int) (int, error) {
	if batch <= 0 {
		batch = 32
	}
	total := 0
	for {
		rows, err := st.RowsMissingEmbedding(ctx, batch)
		if err != nil {
			return total, err
		}
		if len(rows) == 0 {
			return total, nil
		}
		texts := make([]string, len(rows))
		for i, r := range rows {
			texts[i] = r.Text
		}
		vecs, err := emb.EmbedBatch(ctx, texts)
		if err != nil {
			return total, fmt.Errorf("embed batch: %w", err)
		}
		progressed := false
		for i, r := range rows {
			if len(vecs[i]) == 0 {
				continue
			}
			progressed = true
			switch r.Kind {
			case "fact":
				err = st.UpdateFactEmbedding(ctx, r.Key, vecs[i])
			default:
				err = st.UpdateMemoryEmbedding(ctx, r.ID, vecs[i])
			}
			if err != nil {
				return total, err
			}
			total++
		}
		if !progressed {
			slog.Warn("Embedding backfill stopped: remaining rows have no text", "rows", len(rows))
			return total, nil
		}
		slog.Info("Embedding backfill progress", "embedded", total)
	}
}

func init() {
	backfillCmd.Flags().IntVar(&backfillBatch, "batch", 32, "Rows per embedding request")
}
