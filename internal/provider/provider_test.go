package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOpenAIProvider_DefaultModel(t *testing.T) {
	p := NewOpenAIProvider("test-key", "", "")
	if p.DefaultModel() != "gpt-4o-mini" {
		t.Errorf("expected default model gpt-4o-mini, got %s", p.DefaultModel())
	}

	p = NewOpenAIProvider("test-key", "", "gpt-4o")
	if p.DefaultModel() != "gpt-4o" {
		t.Errorf("expected model gpt-4o, got %s", p.DefaultModel())
	}
}

func TestOpenAIProvider_ChatJSONMode(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		resp := openAIResponse{
			Choices: []openAIChoice{{
				Message:      openAIMessage{Role: "assistant", Content: `{"profile_facts":[]}`},
				FinishReason: "stop",
			}},
			Usage: Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := NewOpenAIProvider("test-key", server.URL, "test-model")
	resp, err := p.Chat(context.Background(), &ChatRequest{
		Messages:    []Message{{Role: "system", Content: "Returner kun valid JSON."}, {Role: "user", Content: "Hei"}},
		Temperature: 0.3,
		JSONMode:    true,
	})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}

	if resp.Content != `{"profile_facts":[]}` {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("expected total_tokens 15, got %d", resp.Usage.TotalTokens)
	}
	rf, ok := got["response_format"].(map[string]any)
	if !ok || rf["type"] != "json_object" {
		t.Errorf("expected json_object response_format, got %v", got["response_format"])
	}
	if got["model"] != "test-model" {
		t.Errorf("expected default model in request, got %v", got["model"])
	}
	if _, ok := got["max_tokens"]; ok {
		t.Errorf("max_tokens must be omitted when unset")
	}
}

func TestOpenAIProvider_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": "Invalid API key"}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider("bad-key", server.URL, "test-model")
	_, err := p.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: "user", Content: "Hello"}},
	})

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected APIError 401, got %v", err)
	}
	if IsRetryable(err) {
		t.Error("401 must not be retryable")
	}
}

func TestOpenAIProvider_RateLimitRetryAfter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := NewOpenAIProvider("k", server.URL, "m")
	_, err := p.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}})
	if !IsRetryable(err) {
		t.Fatalf("429 must be retryable: %v", err)
	}
	if d := RetryAfter(err); d != 3*time.Second {
		t.Fatalf("expected 3s retry-after, got %v", d)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"2", 2 * time.Second},
		{"0.5", 500 * time.Millisecond},
		{"-1", 0},
		{now.Add(10 * time.Second).Format(http.TimeFormat), 10 * time.Second},
		{"garbage", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in, now); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestOpenAIProvider_EmbedBatchOrdered(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != DefaultEmbeddingModel || len(req.Input) != 2 {
			t.Errorf("unexpected request %+v", req)
		}
		w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}],"usage":{"prompt_tokens":4,"total_tokens":4}}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider("k", server.URL, "")
	resp, err := p.Embed(context.Background(), &EmbeddingRequest{Inputs: []string{"a", "b"}})
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	if len(resp.Vectors) != 2 || resp.Vectors[0][0] != 1 || resp.Vectors[1][1] != 1 {
		t.Fatalf("vectors not in input order: %v", resp.Vectors)
	}
	if resp.Vector[0] != 1 || resp.Usage.TotalTokens != 4 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestOpenAIProvider_EmbedCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider("k", server.URL, "")
	if _, err := p.Embed(context.Background(), &EmbeddingRequest{Input: "a"}); err == nil {
		t.Fatal("expected error for empty embedding data")
	}
}
