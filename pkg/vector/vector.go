// Package vector defines the embedding-index interface consumed by the
// memory store and the context assembler, with an embedded chromem-go
// backend and an in-memory backend for tests.
package vector

import (
	"context"
	"fmt"

	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/embedders"
)

// SearchResult is one nearest-neighbor hit.
type SearchResult struct {
	ID         string
	Content    string
	Similarity float32
	Metadata   map[string]string
}

// Index is the nearest-neighbor store. Implementations synchronize
// internally; callers share one instance across goroutines.
type Index interface {
	// Upsert inserts or replaces a document under id in collection.
	Upsert(ctx context.Context, collection, id string, vector []float32, content string, metadata map[string]string) error

	// Search returns up to topK hits ordered by descending similarity.
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]SearchResult, error)

	// Delete removes a document. Deleting an absent id is not an error.
	Delete(ctx context.Context, collection, id string) error

	// Count reports the number of documents in collection.
	Count(ctx context.Context, collection string) (int, error)

	Close() error
}

// New constructs an index from config.
func New(cfg *config.VectorStoreConfig) (Index, error) {
	if cfg == nil {
		return nil, fmt.Errorf("vector store config cannot be nil")
	}
	switch cfg.Provider {
	case "chromem":
		return NewChromemIndex(cfg.Path, cfg.Compress)
	case "memory":
		return NewMemoryIndex(), nil
	default:
		return nil, fmt.Errorf("unsupported vector store provider: %s", cfg.Provider)
	}
}

// EmbeddingIndex pairs an Index with the shared embedder so callers can
// search by text.
type EmbeddingIndex struct {
	Index    Index
	Embedder embedders.Embedder
}

// SearchText embeds the query and searches collection.
func (e *EmbeddingIndex) SearchText(ctx context.Context, collection, query string, topK int) ([]SearchResult, error) {
	vec, err := e.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query embedding failed: %w", err)
	}
	return e.Index.Search(ctx, collection, vec, topK)
}

// UpsertText embeds content and stores it under id.
func (e *EmbeddingIndex) UpsertText(ctx context.Context, collection, id, content string, metadata map[string]string) error {
	vec, err := e.Embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("content embedding failed: %w", err)
	}
	return e.Index.Upsert(ctx, collection, id, vec, content, metadata)
}

// Delete removes a document from collection.
func (e *EmbeddingIndex) Delete(ctx context.Context, collection, id string) error {
	return e.Index.Delete(ctx, collection, id)
}
