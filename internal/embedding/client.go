// Package embedding wraps the embedding service with a TTL cache, a bounded
// request pool, a rate limiter and retries.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/duckmemory/duckmem/internal/metrics"
	"github.com/duckmemory/duckmem/internal/provider"
	"github.com/duckmemory/duckmem/internal/vector"
)

// ErrEmptyText is returned for blank input; blank text has no useful embedding.
var ErrEmptyText = errors.New("embedding: empty text")

// Options configures a Client. Zero values fall back to the defaults below.
type Options struct {
	Model        string
	Dimension    int
	CacheTTL     time.Duration
	Concurrency  int
	RatePerSec   float64
	Timeout      time.Duration
	Retries      int
	BatchMaxSize int
}

func (o Options) withDefaults() Options {
	if o.Model == "" {
		o.Model = provider.DefaultEmbeddingModel
	}
	if o.Dimension <= 0 {
		o.Dimension = vector.Dimension
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = 10 * time.Minute
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 2
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.BatchMaxSize <= 0 {
		o.BatchMaxSize = 64
	}
	return o
}

// Client turns text into unit-length vectors.
type Client struct {
	embedder provider.Embedder
	opts     Options
	cache    *cache.Cache
	sem      chan struct{}
	limiter  *rate.Limiter
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates a Client over embedder.
func New(embedder provider.Embedder, opts Options) *Client {
	opts = opts.withDefaults()
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	return &Client{
		embedder: embedder,
		opts:     opts,
		cache:    cache.New(opts.CacheTTL, opts.CacheTTL*2),
		sem:      make(chan struct{}, opts.Concurrency),
		limiter:  rate.NewLimiter(limit, opts.Concurrency),
		sleep:    sleepContext,
	}
}

// Model returns the embedding model identifier.
func (c *Client) Model() string { return c.opts.Model }

// Embed returns the vector for text. On failure the vector is nil and the
// caller stores the row without an embedding.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	if v, ok := c.cached(text); ok {
		return v, nil
	}
	vecs, err := c.request(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	c.cache.Set(c.cacheKey(text), vecs[0], cache.DefaultExpiration)
	return vecs[0], nil
}

// EmbedBatch embeds texts in order, sending uncached entries in chunks of at
// most BatchMaxSize. Blank entries yield nil vectors.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		pending []string
		index   []int
	)
	for i, t := range texts {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if v, ok := c.cached(t); ok {
			out[i] = v
			continue
		}
		pending = append(pending, t)
		index = append(index, i)
	}

	for start := 0; start < len(pending); start += c.opts.BatchMaxSize {
		end := min(start+c.opts.BatchMaxSize, len(pending))
		vecs, err := c.request(ctx, pending[start:end])
		if err != nil {
			return nil, err
		}
		for j, v := range vecs {
			out[index[start+j]] = v
			c.cache.Set(c.cacheKey(pending[start+j]), v, cache.DefaultExpiration)
		}
	}
	return out, nil
}

// Cosine returns the cosine similarity of a and b.
func Cosine(a, b []float32) float64 {
	return float64(vector.Cosine(a, b))
}

func (c *Client) cacheKey(text string) string {
	return c.opts.Model + "\x00" + text
}

func (c *Client) cached(text string) ([]float32, bool) {
	if v, found := c.cache.Get(c.cacheKey(text)); found {
		if vec, ok := v.([]float32); ok {
			metrics.EmbeddingRequests.WithLabelValues("cache_hit").Inc()
			return vec, true
		}
	}
	return nil, false
}

// request performs one service call with retries, then validates and normalises the vectors.
func (c *Client) request(ctx context.Context, inputs []string) ([][]float32, error) {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var lastErr error
	for attempt := 0; attempt <= c.opts.Retries; attempt++ {
		if attempt > 0 {
			delay := provider.RetryAfter(lastErr)
			if delay <= 0 {
				delay = time.Duration(500<<(attempt-1)) * time.Millisecond
			}
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		vecs, err := c.once(ctx, inputs)
		if err == nil {
			metrics.EmbeddingRequests.WithLabelValues("ok").Inc()
			return vecs, nil
		}
		lastErr = err
		if ctx.Err() != nil || !provider.IsRetryable(err) {
			break
		}
		slog.Warn("Embedding request failed, retrying", "attempt", attempt+1, "error", err)
	}
	metrics.EmbeddingRequests.WithLabelValues("error").Inc()
	return nil, fmt.Errorf("embed %d input(s): %w", len(inputs), lastErr)
}

func (c *Client) once(ctx context.Context, inputs []string) ([][]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	started := time.Now()
	resp, err := c.embedder.Embed(callCtx, &provider.EmbeddingRequest{Inputs: inputs, Model: c.opts.Model})
	metrics.EmbeddingLatency.Observe(time.Since(started).Seconds())
	if err != nil {
		return nil, err
	}
	if len(resp.Vectors) != len(inputs) {
		return nil, fmt.Errorf("embedding service returned %d vectors for %d inputs", len(resp.Vectors), len(inputs))
	}
	out := make([][]float32, len(resp.Vectors))
	for i, v := range resp.Vectors {
		if len(v) != c.opts.Dimension {
			return nil, fmt.Errorf("embedding has %d dimensions, want %d", len(v), c.opts.Dimension)
		}
		out[i] = vector.Normalize(v)
	}
	return out, nil
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
