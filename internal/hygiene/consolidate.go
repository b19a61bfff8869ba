package hygiene

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/duckmemory/duckmem/internal/store"
)

// consolidate merges old weak memories of the largest topics into summaries.
// It returns the number of original rows replaced.
func (h *Hygiene) consolidate(ctx context.Context, now time.Time) (int64, error) {
	if !h.opts.Consolidate || h.consolidator == nil {
		return 0, nil
	}
	topics, err := h.store.ConsolidationTopics(ctx, h.opts.ConsolidateMinTopic, h.opts.ConsolidateTopics)
	if err != nil {
		return 0, err
	}

	var (
		replaced int64
		errs     []error
	)
	for _, topic := range topics {
		if ctx.Err() != nil {
			return replaced, ctx.Err()
		}
		n, err := h.consolidateTopic(ctx, topic, now)
		if err != nil {
			slog.Warn("Consolidation failed", "topic", topic, "error", err)
			errs = append(errs, err)
			continue
		}
		replaced += n
	}
	return replaced, errors.Join(errs...)
}

func (h *Hygiene) consolidateTopic(ctx context.Context, topic string, now time.Time) (int64, error) {
	candidates, err := h.store.ConsolidationCandidates(ctx, store.CandidateParams{
		Topic:         topic,
		OlderThan:     now.AddDate(0, 0, -h.opts.ConsolidateAfterDays),
		MaxFrequency:  2,
		MaxConfidence: 0.9,
		Limit:         h.opts.ConsolidateBatch,
	})
	if err != nil {
		return 0, err
	}
	if len(candidates) < h.opts.ConsolidateMinBatch {
		return 0, nil
	}

	texts := make([]string, len(candidates))
	ids := make([]int64, len(candidates))
	importance := 0
	for i, m := range candidates {
		texts[i] = m.Text
		ids[i] = m.ID
		importance = max(importance, m.Metadata.Importance)
	}

	summaries, err := h.consolidator.Consolidate(ctx, topic, texts)
	if err != nil {
		return 0, err
	}

	learned := now
	user := commonUser(candidates)
	replacements := make([]store.Memory, 0, len(summaries))
	for _, text := range summaries {
		m := store.Memory{
			Text:       text,
			Topic:      topic,
			Confidence: h.opts.ConsolidatedConf,
			Source:     store.SourceConsolidated,
			UserName:   user,
			Metadata: store.MemoryMetadata{
				LearnedAt:        &learned,
				LearnedFrom:      store.SourceConsolidated,
				Importance:       importance,
				ConsolidatedFrom: len(candidates),
			},
		}
		if h.embedder != nil {
			if vec, err := h.embedder.Embed(ctx, text); err == nil {
				m.Embedding = vec
			} else {
				slog.Warn("Consolidated memory stored without vector", "topic", topic, "error", err)
			}
		}
		replacements = append(replacements, m)
	}

	if _, err := h.store.ReplaceMemories(ctx, ids, replacements); err != nil {
		return 0, err
	}
	slog.Info("Memories consolidated", "topic", topic, "originals", len(ids), "summaries", len(replacements))
	return int64(len(ids)), nil
}

// commonUser returns the shared user name of the memories, or "" when they differ.
func commonUser(mems []store.Memory) string {
	if len(mems) == 0 {
		return ""
	}
	user := mems[0].UserName
	for _, m := range mems[1:] {
		if !strings.EqualFold(m.UserName, user) {
			return ""
		}
	}
	return user
}
