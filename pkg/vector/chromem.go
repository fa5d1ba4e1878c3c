package vector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/nestorlabs/nestor/pkg/logger"
)

// ChromemIndex is the embedded default backend: pure Go, cosine similarity,
// optional gob persistence under a directory. Single-process and
// memory-bound, which matches the in-process coordination model.
type ChromemIndex struct {
	db          *chromem.DB
	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

// NewChromemIndex opens or creates a persistent index under dir. An empty
// dir keeps everything in memory.
func NewChromemIndex(dir string, compress bool) (*ChromemIndex, error) {
	log := logger.Component("vector.chromem")

	var db *chromem.DB
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create vector store directory: %w", err)
		}
		path := filepath.Join(dir, "vectors.gob")
		if compress {
			path += ".gz"
		}
		var err error
		db, err = chromem.NewPersistentDB(path, compress)
		if err != nil {
			log.Warn("failed to open persisted vector database, starting fresh",
				"path", path, "error", err)
			db = chromem.NewDB()
		}
	} else {
		db = chromem.NewDB()
	}

	return &ChromemIndex{
		db:          db,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// Vectors are computed externally; chromem must never embed on its own.
func rejectEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("embedding requested but vectors are pre-computed")
}

func (p *ChromemIndex) collection(name string) (*chromem.Collection, error) {
	p.mu.RLock()
	col, ok := p.collections[name]
	p.mu.RUnlock()
	if ok {
		return col, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if col, ok := p.collections[name]; ok {
		return col, nil
	}
	col, err := p.db.GetOrCreateCollection(name, nil, rejectEmbedding)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection %q: %w", name, err)
	}
	p.collections[name] = col
	return col, nil
}

func (p *ChromemIndex) Upsert(ctx context.Context, collection, id string, vector []float32, content string, metadata map[string]string) error {
	col, err := p.collection(collection)
	if err != nil {
		return err
	}
	doc := chromem.Document{
		ID:        id,
		Content:   content,
		Metadata:  metadata,
		Embedding: vector,
	}
	if err := col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	return nil
}

func (p *ChromemIndex) Search(ctx context.Context, collection string, vector []float32, topK int) ([]SearchResult, error) {
	col, err := p.collection(collection)
	if err != nil {
		return nil, err
	}
	if n := col.Count(); topK > n {
		topK = n
	}
	if topK == 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, vector, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, SearchResult{
			ID:         r.ID,
			Content:    r.Content,
			Similarity: r.Similarity,
			Metadata:   r.Metadata,
		})
	}
	return out, nil
}

func (p *ChromemIndex) Delete(ctx context.Context, collection, id string) error {
	col, err := p.collection(collection)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

func (p *ChromemIndex) Count(ctx context.Context, collection string) (int, error) {
	col, err := p.collection(collection)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

func (p *ChromemIndex) Close() error { return nil }
