package embedding

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/duckmemory/duckmem/internal/provider"
)

type fakeEmbedder struct {
	mu      sync.Mutex
	calls   int
	batches [][]string
	failN   int   // fail the first failN calls
	failErr error // error returned while failing
}

func (f *fakeEmbedder) Embed(_ context.Context, req *provider.EmbeddingRequest) (*provider.EmbeddingResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.batches = append(f.batches, append([]string(nil), req.Inputs...))
	if f.calls <= f.failN {
		return nil, f.failErr
	}
	resp := &provider.EmbeddingResponse{}
	for _, in := range req.Inputs {
		resp.Vectors = append(resp.Vectors, []float32{float32(len(in)), 1, 0})
	}
	resp.Vector = resp.Vectors[0]
	return resp, nil
}

func newTestClient(f *fakeEmbedder, opts Options) *Client {
	opts.Dimension = 3
	c := New(f, opts)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestEmbedNormalisesAndCaches(t *testing.T) {
	f := &fakeEmbedder{}
	c := newTestClient(f, Options{})

	v, err := c.Embed(context.Background(), "  hei  ")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Fatalf("expected unit vector, got squared norm %f", norm)
	}
	if _, err := c.Embed(context.Background(), "hei"); err != nil {
		t.Fatalf("embed cached: %v", err)
	}
	if f.calls != 1 {
		t.Fatalf("expected one service call, got %d", f.calls)
	}
}

func TestEmbedRejectsBlankText(t *testing.T) {
	c := newTestClient(&fakeEmbedder{}, Options{})
	if _, err := c.Embed(context.Background(), "   "); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
}

func TestEmbedRetriesTransientFailures(t *testing.T) {
	f := &fakeEmbedder{failN: 2, failErr: &provider.APIError{Endpoint: "openai embeddings", StatusCode: 503}}
	c := newTestClient(f, Options{Retries: 2})

	if _, err := c.Embed(context.Background(), "retry me"); err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", f.calls)
	}
}

func TestEmbedStopsOnTerminalFailure(t *testing.T) {
	f := &fakeEmbedder{failN: 5, failErr: &provider.APIError{Endpoint: "openai embeddings", StatusCode: 401}}
	c := newTestClient(f, Options{Retries: 2})

	v, err := c.Embed(context.Background(), "nope")
	if err == nil || v != nil {
		t.Fatalf("expected nil vector and error, got %v, %v", v, err)
	}
	if f.calls != 1 {
		t.Fatalf("401 must not be retried, got %d calls", f.calls)
	}
}

func TestEmbedHonoursRetryAfter(t *testing.T) {
	f := &fakeEmbedder{failN: 1, failErr: &provider.APIError{StatusCode: 429, RetryAfter: 7 * time.Second}}
	c := newTestClient(f, Options{Retries: 1})
	var slept []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	if _, err := c.Embed(context.Background(), "slow down"); err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(slept) != 1 || slept[0] != 7*time.Second {
		t.Fatalf("expected one 7s wait, got %v", slept)
	}
}

func TestEmbedBatchChunksAndKeepsOrder(t *testing.T) {
	f := &fakeEmbedder{}
	c := newTestClient(f, Options{BatchMaxSize: 2})

	if _, err := c.Embed(context.Background(), "bb"); err != nil {
		t.Fatal(err)
	}
	texts := []string{"a", "bb", "", "cccc", "ddddd", "eeeeee"}
	vecs, err := c.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if vecs[2] != nil {
		t.Fatalf("blank input must yield nil vector")
	}
	// "bb" was cached, leaving four texts in two chunks after the first call.
	if f.calls != 3 {
		t.Fatalf("expected 3 service calls, got %d (%v)", f.calls, f.batches)
	}
	for i, text := range texts {
		if text == "" {
			continue
		}
		want, _ := c.Embed(context.Background(), text)
		if Cosine(vecs[i], want) < 0.99999 {
			t.Fatalf("vector %d out of order", i)
		}
	}
}

func TestEmbedRejectsWrongDimension(t *testing.T) {
	f := &fakeEmbedder{}
	c := New(f, Options{Dimension: 1536, Retries: 0})
	if _, err := c.Embed(context.Background(), "short vector"); err == nil {
		t.Fatal("expected dimension error")
	}
}

func TestEmbedCancelledContext(t *testing.T) {
	c := newTestClient(&fakeEmbedder{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Embed(ctx, "late"); err == nil {
		t.Fatal("expected cancellation error")
	}
}
