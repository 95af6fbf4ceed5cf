package embedder

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited wraps an Embedder so that provider calls never exceed a request rate.
type RateLimited struct {
	Embedder
	limiter *rate.Limiter
}

// NewRateLimited allows rps requests per second with a burst of one.
func NewRateLimited(inner Embedder, rps float64) *RateLimited {
	return &RateLimited{
		Embedder: inner,
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
	}
}

func (r *RateLimited) CreateEmbeddings(ctx context.Context, texts []string) (*EmbeddingResponse, error) {
	if len(texts) == 0 {
		return &EmbeddingResponse{}, nil
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	return r.Embedder.CreateEmbeddings(ctx, texts)
}
