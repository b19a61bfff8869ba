// Package provider implements the chat-completion and embedding clients the
// memory core depends on.
package provider

import (
	"context"
)

// ChatModel is the interface for chat-completion API clients.
type ChatModel interface {
	// Chat sends a completion request and returns the response.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	// DefaultModel returns the configured default model.
	DefaultModel() string
}

// Embedder is implemented by clients that can produce embedding vectors.
type Embedder interface {
	Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error)
}

// ChatRequest contains the parameters for a chat completion request.
type ChatRequest struct {
	Messages    []Message
	Model       string
	MaxTokens   int
	Temperature float64
	// JSONMode asks the model for a single JSON object.
	JSONMode bool
}

// ChatResponse contains the response from a chat completion request.
type ChatResponse struct {
	Content      string
	FinishReason string
	Usage        Usage
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage contains token usage information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// EmbeddingRequest contains parameters for an embedding request.
// Inputs takes precedence over Input when both are set.
type EmbeddingRequest struct {
	Input  string
	Inputs []string
	Model  string // default: "text-embedding-3-small"
}

// EmbeddingResponse contains the embedding vectors in input order.
// Vector is the first entry of Vectors.
type EmbeddingResponse struct {
	Vector  []float32
	Vectors [][]float32
	Usage   Usage
}
