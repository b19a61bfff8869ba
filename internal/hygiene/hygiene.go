// Package hygiene runs the nightly memory maintenance pass: decay, expiry,
// retention cleanup, consolidation and vacuum.
package hygiene

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/duckmemory/duckmem/internal/metrics"
	"github.com/duckmemory/duckmem/internal/store"
)

// Step names, also used as metric labels.
const (
	StepDecay          = "decay"
	StepEphemeral      = "ephemeral"
	StepExpire         = "expire"
	StepContradictions = "contradictions"
	StepConsolidate    = "consolidate"
	StepMessages       = "messages"
	StepVacuum         = "vacuum"
)

// Consolidator condenses old memories of one topic into a few summaries.
type Consolidator interface {
	Consolidate(ctx context.Context, topic string, texts []string) ([]string, error)
}

// Embedder embeds consolidated summaries. Optional.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options holds the maintenance thresholds.
type Options struct {
	DecayAfterDays          int
	DecayMaxFrequency       int
	DecayFloor              float64 // only confidences above this decay
	DecayFactor             float64
	EphemeralBelow          float64
	EphemeralTopics         []string
	ContradictionRetainDays int
	MessageRetentionDays    int

	Consolidate          bool
	ConsolidateAfterDays int
	ConsolidateMinTopic  int // memories a topic needs before it is considered
	ConsolidateTopics    int // topics per run
	ConsolidateBatch     int // candidates per topic
	ConsolidateMinBatch  int
	ConsolidatedConf     float64

	Vacuum bool
}

// DefaultOptions returns the nightly defaults.
func DefaultOptions() Options {
	return Options{
		DecayAfterDays:          30,
		DecayMaxFrequency:       2,
		DecayFloor:              0.3,
		DecayFactor:             0.9,
		EphemeralBelow:          0.2,
		EphemeralTopics:         []string{store.TopicWeather, store.TopicTime, store.TopicGeneral},
		ContradictionRetainDays: 30,
		MessageRetentionDays:    90,
		Consolidate:             true,
		ConsolidateAfterDays:    14,
		ConsolidateMinTopic:     4,
		ConsolidateTopics:       5,
		ConsolidateBatch:        20,
		ConsolidateMinBatch:     2,
		ConsolidatedConf:        0.85,
		Vacuum:                  true,
	}
}

// StepResult is the outcome of one maintenance step.
type StepResult struct {
	Name    string
	Rows    int64
	Err     error
	Elapsed time.Duration
}

// Report summarises a maintenance run.
type Report struct {
	Started time.Time
	Elapsed time.Duration
	Before  store.Stats
	After   store.Stats
	Steps   []StepResult
}

// Failed returns the steps that returned an error.
func (r *Report) Failed() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Err != nil {
			out = append(out, s)
		}
	}
	return out
}

// Rows returns the rows affected by the named step.
func (r *Report) Rows(step string) int64 {
	for _, s := range r.Steps {
		if s.Name == step {
			return s.Rows
		}
	}
	return 0
}

// Hygiene performs maintenance on a store.
type Hygiene struct {
	store        *store.Store
	consolidator Consolidator
	embedder     Embedder
	opts         Options
}

// New creates a Hygiene runner. A nil consolidator disables consolidation.
func New(st *store.Store, c Consolidator, emb Embedder, opts Options) *Hygiene {
	return &Hygiene{store: st, consolidator: c, embedder: emb, opts: opts}
}

// Run executes every step in order. A failing step is logged and recorded;
// the remaining steps still run. Only cancellation stops the run early.
func (h *Hygiene) Run(ctx context.Context) (*Report, error) {
	now := h.store.Now()
	rep := &Report{Started: now}
	start := time.Now()

	before, err := h.store.Stats(ctx)
	if err != nil {
		slog.Warn("Hygiene stats unavailable", "error", err)
	}
	rep.Before = before
	slog.Info("Memory hygiene started", "memories", before.Memories, "facts", before.ProfileFacts,
		"messages", before.Messages, "db_mb", before.SizeMB)

	steps := []struct {
		name string
		fn   func(context.Context, time.Time) (int64, error)
	}{
		{StepDecay, h.decay},
		{StepEphemeral, h.ephemeral},
		{StepExpire, h.expire},
		{StepContradictions, h.contradictions},
		{StepConsolidate, h.consolidate},
		{StepMessages, h.messages},
		{StepVacuum, h.vacuum},
	}
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		t := time.Now()
		n, err := s.fn(ctx, now)
		res := StepResult{Name: s.name, Rows: n, Err: err, Elapsed: time.Since(t)}
		rep.Steps = append(rep.Steps, res)
		if err != nil {
			metrics.HygieneStepErrors.WithLabelValues(s.name).Inc()
			slog.Warn("Hygiene step failed", "step", s.name, "error", err)
			continue
		}
		metrics.HygieneRows.WithLabelValues(s.name).Add(float64(n))
		if n > 0 {
			slog.Info("Hygiene step done", "step", s.name, "rows", n)
		}
	}

	after, err := h.store.Stats(ctx)
	if err != nil {
		slog.Warn("Hygiene stats unavailable", "error", err)
	}
	rep.After = after
	rep.Elapsed = time.Since(start)
	slog.Info("Memory hygiene finished",
		"memories_before", before.Memories, "memories_after", after.Memories,
		"facts_before", before.ProfileFacts, "facts_after", after.ProfileFacts,
		"messages_before", before.Messages, "messages_after", after.Messages,
		"db_mb_before", fmt.Sprintf("%.2f", before.SizeMB), "db_mb_after", fmt.Sprintf("%.2f", after.SizeMB),
		"failed_steps", len(rep.Failed()), "elapsed", rep.Elapsed)
	return rep, nil
}

func (h *Hygiene) decay(ctx context.Context, now time.Time) (int64, error) {
	return h.store.DecayMemories(ctx, store.DecayParams{
		OlderThan:     now.AddDate(0, 0, -h.opts.DecayAfterDays),
		MaxFrequency:  h.opts.DecayMaxFrequency,
		MinConfidence: h.opts.DecayFloor,
		Factor:        h.opts.DecayFactor,
	})
}

func (h *Hygiene) ephemeral(ctx context.Context, _ time.Time) (int64, error) {
	return h.store.DeleteEphemeralMemories(ctx, h.opts.EphemeralBelow, h.opts.EphemeralTopics...)
}

func (h *Hygiene) expire(ctx context.Context, now time.Time) (int64, error) {
	facts, memories, err := h.store.DeleteExpired(ctx, now)
	if facts+memories > 0 {
		slog.Info("Expired rows removed", "facts", facts, "memories", memories)
	}
	return facts + memories, err
}

func (h *Hygiene) contradictions(ctx context.Context, now time.Time) (int64, error) {
	return h.store.DeleteResolvedContradictionsBefore(ctx, now.AddDate(0, 0, -h.opts.ContradictionRetainDays))
}

func (h *Hygiene) messages(ctx context.Context, now time.Time) (int64, error) {
	return h.store.DeleteMessagesBefore(ctx, now.AddDate(0, 0, -h.opts.MessageRetentionDays))
}

func (h *Hygiene) vacuum(ctx context.Context, _ time.Time) (int64, error) {
	if !h.opts.Vacuum {
		return 0, nil
	}
	return 0, h.store.Vacuum(ctx)
}
