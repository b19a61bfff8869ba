package contextbuilder

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/duckmemory/duckmem/internal/store"
)

// Setting keys read from the settings table.
const (
	KeyEmbeddingSearchLimit = "embedding_search_limit"
	KeyMemoryLimit          = "memory_limit"
	KeyMemoryThreshold      = "memory_threshold"
	KeyExpandThreshold      = "memory_expand_threshold"
	KeyFrequentFactsLimit   = "memory_frequent_facts_limit"
	KeyMaxContextFacts      = "max_context_facts"
)

// FactThreshold is the minimum similarity for a fact to be searched into context.
const FactThreshold = 0.25

// Settings bound the size of an assembled context.
type Settings struct {
	EmbeddingSearchLimit int
	MemoryLimit          int
	MemoryThreshold      float64
	ExpandThreshold      int
	FrequentFactsLimit   int
	MaxContextFacts      int
}

// DefaultSettings returns the values used when a setting row is missing.
func DefaultSettings() Settings {
	return Settings{
		EmbeddingSearchLimit: 30,
		MemoryLimit:          8,
		MemoryThreshold:      0.35,
		ExpandThreshold:      15,
		FrequentFactsLimit:   15,
		MaxContextFacts:      100,
	}
}

// LoadSettings reads the settings rows. Missing or malformed values keep their default.
func LoadSettings(ctx context.Context, st *store.Store) Settings {
	s := DefaultSettings()
	intSetting(ctx, st, KeyEmbeddingSearchLimit, &s.EmbeddingSearchLimit)
	intSetting(ctx, st, KeyMemoryLimit, &s.MemoryLimit)
	intSetting(ctx, st, KeyExpandThreshold, &s.ExpandThreshold)
	intSetting(ctx, st, KeyFrequentFactsLimit, &s.FrequentFactsLimit)
	intSetting(ctx, st, KeyMaxContextFacts, &s.MaxContextFacts)

	if raw, ok := setting(ctx, st, KeyMemoryThreshold); ok {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v >= 0 && v <= 1 {
			s.MemoryThreshold = v
		} else {
			slog.Warn("Ignoring invalid context setting", "key", KeyMemoryThreshold, "value", raw)
		}
	}
	return s
}

func intSetting(ctx context.Context, st *store.Store, key string, dst *int) {
	raw, ok := setting(ctx, st, key)
	if !ok {
		return
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		slog.Warn("Ignoring invalid context setting", "key", key, "value", raw)
		return
	}
	*dst = v
}

func setting(ctx context.Context, st *store.Store, key string) (string, bool) {
	raw, ok, err := st.GetSetting(ctx, key)
	if err != nil {
		slog.Debug("Context setting unavailable", "key", key, "error", err)
		return "", false
	}
	return raw, ok
}
