// Package embedder turns code blocks and queries into vectors through an
// external embedding provider.
package embedder

import (
	"context"
	"errors"
)

var (
	ErrMissingAPIKey  = errors.New("embedder API key not set")
	ErrCountMismatch  = errors.New("embedding count does not match input count")
	ErrEmptyEmbedding = errors.New("provider returned an empty embedding")
)

// Usage reports token accounting when the provider returns it.
type Usage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// EmbeddingResponse carries one vector per input text, in input order.
type EmbeddingResponse struct {
	Embeddings [][]float32
	Usage      Usage
}

// Embedder is the provider abstraction used by the scanner, the watcher and search.
type Embedder interface {
	// CreateEmbeddings embeds all texts in a single provider call.
	CreateEmbeddings(ctx context.Context, texts []string) (*EmbeddingResponse, error)

	// Dimensions returns the vector size the provider produces.
	Dimensions() int

	Close() error
}

// Pinger is implemented by providers that can verify connectivity up front.
type Pinger interface {
	Ping(ctx context.Context) error
}
