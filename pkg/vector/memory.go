package vector

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is a brute-force cosine-similarity index used in tests and
// for ephemeral runs.
type MemoryIndex struct {
	mu          sync.RWMutex
	collections map[string]map[string]memoryDoc
}

type memoryDoc struct {
	vector   []float32
	content  string
	metadata map[string]string
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{collections: make(map[string]map[string]memoryDoc)}
}

func (m *MemoryIndex) Upsert(ctx context.Context, collection, id string, vector []float32, content string, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	col, ok := m.collections[collection]
	if !ok {
		col = make(map[string]memoryDoc)
		m.collections[collection] = col
	}
	col[id] = memoryDoc{vector: vector, content: content, metadata: metadata}
	return nil
}

func (m *MemoryIndex) Search(ctx context.Context, collection string, vector []float32, topK int) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	col := m.collections[collection]
	results := make([]SearchResult, 0, len(col))
	for id, doc := range col {
		results = append(results, SearchResult{
			ID:         id,
			Content:    doc.content,
			Similarity: CosineSimilarity(vector, doc.vector),
			Metadata:   doc.metadata,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (m *MemoryIndex) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections[collection], id)
	return nil
}

func (m *MemoryIndex) Count(ctx context.Context, collection string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections[collection]), nil
}

func (m *MemoryIndex) Close() error { return nil }

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched lengths or zero vectors score 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
