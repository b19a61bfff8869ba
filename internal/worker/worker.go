// Package worker drains the unprocessed message and SMS queues through the
// extractor and writes the results to the store.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/duckmemory/duckmem/internal/extractor"
	"github.com/duckmemory/duckmem/internal/metrics"
	"github.com/duckmemory/duckmem/internal/store"
)

// Embedder produces vectors for facts and memories. A nil Embedder stores rows
// without embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config controls the worker loop.
type Config struct {
	Interval     time.Duration
	BatchSize    int
	MaxBackoff   time.Duration
	StatsEvery   time.Duration
	SummaryEvery time.Duration
	SessionIdle  time.Duration
	PrimaryUser  string
}

// DefaultConfig returns the production cadence.
func DefaultConfig() Config {
	return Config{
		Interval:     5 * time.Second,
		BatchSize:    5,
		MaxBackoff:   300 * time.Second,
		StatsEvery:   300 * time.Second,
		SummaryEvery: 600 * time.Second,
		SessionIdle:  30 * time.Minute,
		PrimaryUser:  "Osmund",
	}
}

// Stats is a snapshot of the worker counters.
type Stats struct {
	Processed          int64
	SMSProcessed       int64
	TrivialSkipped     int64
	Extractions        int64
	SessionExtractions int64
	Contradictions     int64
	Errors             int64
	Uptime             time.Duration
}

// Worker is the background extraction loop.
type Worker struct {
	store     *store.Store
	extractor *extractor.Extractor
	embedder  Embedder
	cfg       Config

	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	started time.Time

	lastStats   time.Time
	lastSummary time.Time

	processed      atomic.Int64
	smsProcessed   atomic.Int64
	trivial        atomic.Int64
	sessions       atomic.Int64
	contradictions atomic.Int64
	errors         atomic.Int64
}

// New creates a Worker. Zero config fields take DefaultConfig values.
func New(st *store.Store, ex *extractor.Extractor, emb Embedder, cfg Config) *Worker {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.StatsEvery <= 0 {
		cfg.StatsEvery = def.StatsEvery
	}
	if cfg.SummaryEvery <= 0 {
		cfg.SummaryEvery = def.SummaryEvery
	}
	if cfg.SessionIdle <= 0 {
		cfg.SessionIdle = def.SessionIdle
	}
	if cfg.PrimaryUser == "" {
		cfg.PrimaryUser = def.PrimaryUser
	}
	w := &Worker{
		store:     st,
		extractor: ex,
		embedder:  emb,
		cfg:       cfg,
		now:       st.Now,
		sleep:     sleepContext,
	}
	w.started = w.now()
	w.lastStats = w.started
	w.lastSummary = w.started
	return w
}

// Run loops until ctx is cancelled. Failed iterations back off up to
// MaxBackoff; errors never end the loop.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("Memory worker started",
		"interval", w.cfg.Interval, "batch_size", w.cfg.BatchSize, "trivial_topics", extractor.TrivialTopics)

	consecutive := 0
	for {
		delay := w.cfg.Interval
		if err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			consecutive++
			w.errors.Add(1)
			metrics.WorkerIterationErrors.Inc()
			delay = Backoff(consecutive, w.cfg.Interval, w.cfg.MaxBackoff)
			slog.Error("Memory worker iteration failed", "error", err, "consecutive", consecutive, "backoff", delay)
		} else {
			consecutive = 0
		}

		if err := w.sleep(ctx, delay); err != nil {
			slog.Info("Memory worker stopped")
			return ctx.Err()
		}
	}
}

// RunOnce performs one iteration: pending messages, pending SMS, and the
// periodic stats and session-summary passes when they are due.
func (w *Worker) RunOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker iteration panic: %v", r)
		}
	}()

	if _, err := w.ProcessMessages(ctx); err != nil {
		return err
	}
	if _, err := w.ProcessSMS(ctx); err != nil {
		return err
	}

	now := w.now()
	if now.Sub(w.lastStats) >= w.cfg.StatsEvery {
		w.lastStats = now
		w.LogStats(ctx)
	}
	if now.Sub(w.lastSummary) >= w.cfg.SummaryEvery {
		w.lastSummary = now
		if _, err := w.SummarizeSessions(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Backoff returns min(limit, base * 2^failures).
func Backoff(failures int, base, limit time.Duration) time.Duration {
	d := base
	for i := 0; i < failures; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return d
}

// Stats returns a snapshot of the counters.
func (w *Worker) Stats() Stats {
	return Stats{
		Processed:          w.processed.Load(),
		SMSProcessed:       w.smsProcessed.Load(),
		TrivialSkipped:     w.trivial.Load(),
		Extractions:        w.extractor.Calls(),
		SessionExtractions: w.sessions.Load(),
		Contradictions:     w.contradictions.Load(),
		Errors:             w.errors.Load(),
		Uptime:             w.now().Sub(w.started),
	}
}

// LogStats logs the counters together with the store totals.
func (w *Worker) LogStats(ctx context.Context) {
	s := w.Stats()
	dbStats, err := w.store.Stats(ctx)
	if err != nil {
		slog.Warn("Memory worker stats unavailable", "error", err)
		return
	}
	slog.Info("Memory worker stats",
		"uptime", s.Uptime.Truncate(time.Minute),
		"processed", s.Processed,
		"sms", s.SMSProcessed,
		"trivial_skipped", s.TrivialSkipped,
		"llm_extractions", s.Extractions,
		"session_extractions", s.SessionExtractions,
		"contradictions", s.Contradictions,
		"pending", dbStats.Unprocessed,
		"memories", dbStats.Memories,
		"facts", dbStats.ProfileFacts,
		"db_mb", dbStats.SizeMB,
	)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
