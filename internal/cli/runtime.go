package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"

	"github.com/duckmemory/duckmem/internal/config"
	"github.com/duckmemory/duckmem/internal/contextbuilder"
	"github.com/duckmemory/duckmem/internal/embedding"
	"github.com/duckmemory/duckmem/internal/extractor"
	"github.com/duckmemory/duckmem/internal/hygiene"
	"github.com/duckmemory/duckmem/internal/provider"
	"github.com/duckmemory/duckmem/internal/store"
	"github.com/duckmemory/duckmem/internal/users"
	"github.com/duckmemory/duckmem/internal/worker"
)

// loadConfig is replaced in tests.
var loadConfig = config.Load

// runtime bundles the components a command needs. LLM-backed parts are nil
// when no API key is configured.
type runtime struct {
	cfg   *config.Config
	store *store.Store
	users *users.Manager
	emb   *embedding.Client
	ex    *extractor.Extractor
}

func openRuntime() (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Paths.Database), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.Open(cfg.Paths.Database)
	if err != nil {
		return nil, err
	}
	rt := &runtime{
		cfg:   cfg,
		store: st,
		users: users.New(st, users.Options{
			PrimaryUser:   cfg.Users.PrimaryUser,
			RevertTimeout: cfg.Users.RevertTimeout,
			CacheTTL:      cfg.Users.CacheTTL,
		}),
	}

	if key := cfg.Providers.OpenAI.APIKey; key != "" {
		p := provider.NewOpenAIProvider(key, cfg.Providers.OpenAI.APIBase, cfg.Model.Name)
		rt.emb = embedding.New(p, embedding.Options{
			Model:        cfg.Model.EmbeddingModel,
			Dimension:    cfg.Model.EmbeddingDimension,
			CacheTTL:     cfg.Embedding.CacheTTL,
			Concurrency:  cfg.Embedding.Concurrency,
			RatePerSec:   cfg.Embedding.RatePerSec,
			Timeout:      cfg.Embedding.Timeout,
			Retries:      cfg.Embedding.Retries,
			BatchMaxSize: cfg.Embedding.BatchMaxSize,
		})
		opts := extractor.DefaultOptions()
		opts.Model = cfg.Model.Name
		opts.SMSModel = cfg.Model.SMSModel
		opts.MaxTokens = cfg.Model.ExtractionMaxTokens
		opts.Temperature = cfg.Model.Temperature
		opts.Timeout = cfg.Worker.ExtractionTimeout
		rt.ex = extractor.New(p, opts)
	}
	return rt, nil
}

func (rt *runtime) Close() error { return rt.store.Close() }

// embedder returns the embedding client as an untyped-nil-safe interface.
func (rt *runtime) embedder() worker.Embedder {
	if rt.emb == nil {
		return nil
	}
	return rt.emb
}

func (rt *runtime) requireLLM() error {
	if rt.ex == nil {
		return fmt.Errorf("no API key configured (set DUCKMEM_OPENAI_API_KEY or OPENAI_API_KEY)")
	}
	return nil
}

func (rt *runtime) newWorker() *worker.Worker {
	w := rt.cfg.Worker
	return worker.New(rt.store, rt.ex, rt.embedder(), worker.Config{
		Interval:     w.Interval,
		BatchSize:    w.BatchSize,
		MaxBackoff:   w.MaxBackoff,
		StatsEvery:   w.StatsEvery,
		SummaryEvery: w.SummaryEvery,
		SessionIdle:  w.SessionIdle,
		PrimaryUser:  rt.cfg.Users.PrimaryUser,
	})
}

func (rt *runtime) newHygiene() *hygiene.Hygiene {
	h := rt.cfg.Hygiene
	opts := hygiene.DefaultOptions()
	opts.DecayAfterDays = h.DecayAfterDays
	opts.DecayFactor = h.DecayFactor
	opts.MessageRetentionDays = h.MessageRetentionDays
	opts.ContradictionRetainDays = h.ContradictionRetainDays
	opts.ConsolidateAfterDays = h.ConsolidateAfterDays
	opts.Consolidate = h.Consolidate
	opts.Vacuum = h.Vacuum

	var c hygiene.Consolidator
	if rt.ex != nil {
		c = rt.ex
	}
	return hygiene.New(rt.store, c, rt.embedder(), opts)
}

func (rt *runtime) newContextBuilder() *contextbuilder.Builder {
	return contextbuilder.New(rt.store, rt.embedder(), rt.users)
}

// withRuntime opens the runtime for the duration of fn.
func withRuntime(fn func(rt *runtime) error) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

func printHeader(w io.Writer, title string) {
	fmt.Fprintln(w, color.CyanString(logo))
	if title != "" {
		fmt.Fprintln(w, title)
		fmt.Fprintln(w, "─────────────────────")
	}
}

func check(ok bool) string {
	if ok {
		return color.GreenString("✓")
	}
	return color.RedString("✗")
}

func since(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return contextbuilder.TimeAgo(t, time.Now())
}
