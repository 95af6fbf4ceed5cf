package store

import (
	"context"
	"fmt"

	"github.com/yoanbernabeu/codeindex/config"
)

// CollectionName returns the configured collection, or the one derived from the workspace root.
func CollectionName(cfg *config.Config, projectRoot string) string {
	if cfg.Store.Backend == "qdrant" && cfg.Store.Qdrant.Collection != "" {
		return cfg.Store.Qdrant.Collection
	}
	return SanitizeCollectionName(projectRoot)
}

// NewFromConfig builds the backend selected by store.backend.
func NewFromConfig(ctx context.Context, cfg *config.Config, projectRoot string) (VectorStore, error) {
	dims := cfg.Embedder.GetDimensions()
	collection := CollectionName(cfg, projectRoot)

	switch cfg.Store.Backend {
	case "qdrant":
		q := cfg.Store.Qdrant
		return NewQdrantStore(ctx, q.Endpoint, q.Port, q.UseTLS, collection, q.APIKey, dims)
	case "postgres":
		return NewPostgresStore(ctx, cfg.Store.Postgres.DSN, collection, dims)
	case "gob":
		return NewGOBStore(config.GetIndexPath(projectRoot)), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
}
