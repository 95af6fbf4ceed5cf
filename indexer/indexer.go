package indexer

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/yoanbernabeu/codeindex/embedder"
	"github.com/yoanbernabeu/codeindex/store"
)

var ErrNotInitialized = errors.New("embedder or vector store not initialized")

// Indexer moves parsed blocks into the vector store. It is shared by the full
// scan and the file watcher so both replace a file's points the same way.
type Indexer struct {
	store    store.VectorStore
	embedder embedder.Embedder
}

func NewIndexer(st store.VectorStore, emb embedder.Embedder) *Indexer {
	return &Indexer{
		store:    st,
		embedder: emb,
	}
}

// Ready reports whether both dependencies are present.
func (idx *Indexer) Ready() bool {
	return idx != nil && idx.store != nil && idx.embedder != nil
}

// IndexBlocks embeds every block in one provider call, removes the existing
// points of replacePaths and upserts the new points. Embedding happens first so
// a provider failure leaves the previous points searchable.
func (idx *Indexer) IndexBlocks(ctx context.Context, blocks []CodeBlock, replacePaths []string) (int, error) {
	if !idx.Ready() {
		return 0, ErrNotInitialized
	}

	var vectors [][]float32
	if len(blocks) > 0 {
		texts := make([]string, len(blocks))
		for i, b := range blocks {
			texts[i] = b.Content
		}

		resp, err := idx.embedder.CreateEmbeddings(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("failed to embed %d blocks: %w", len(blocks), err)
		}
		if len(resp.Embeddings) != len(blocks) {
			return 0, fmt.Errorf("%w: expected %d, got %d", embedder.ErrCountMismatch, len(blocks), len(resp.Embeddings))
		}
		vectors = resp.Embeddings
	}

	if len(replacePaths) > 0 {
		if err := idx.store.DeletePointsByFilePaths(ctx, replacePaths); err != nil {
			return 0, fmt.Errorf("failed to delete stale points: %w", err)
		}
	}

	if len(blocks) == 0 {
		return 0, nil
	}

	points := make([]store.Point, 0, len(blocks))
	for i, b := range blocks {
		if len(vectors[i]) == 0 {
			return 0, fmt.Errorf("%w for %s:%d", embedder.ErrEmptyEmbedding, b.FilePath, b.StartLine)
		}
		points = append(points, store.NewPoint(b.FilePath, b.StartLine, b.EndLine, b.Content, vectors[i]))
	}

	if err := idx.store.UpsertPoints(ctx, points); err != nil {
		return 0, fmt.Errorf("failed to upsert points: %w", err)
	}
	return len(points), nil
}

// RemoveFile deletes every point of a file.
func (idx *Indexer) RemoveFile(ctx context.Context, path string) error {
	if !idx.Ready() {
		return ErrNotInitialized
	}
	if err := idx.store.DeletePointsByFilePath(ctx, path); err != nil {
		log.Printf("Failed to remove %s from index: %v", path, err)
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}
