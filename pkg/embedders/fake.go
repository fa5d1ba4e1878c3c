package embedders

import (
	"context"
	"hash/fnv"
)

// FakeEmbedder produces deterministic vectors from text content, for tests.
// Similar prefixes produce similar vectors because each token contributes
// to a hashed bucket.
type FakeEmbedder struct {
	Dim   int
	Fail  error
	Calls int
}

func NewFakeEmbedder(dim int) *FakeEmbedder {
	if dim <= 0 {
		dim = 8
	}
	return &FakeEmbedder{Dim: dim}
}

func (f *FakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.Calls++
	if f.Fail != nil {
		return nil, f.Fail
	}
	vec := make([]float32, f.Dim)
	word := make([]rune, 0, 16)
	flush := func() {
		if len(word) == 0 {
			return
		}
		h := fnv.New32a()
		h.Write([]byte(string(word)))
		vec[int(h.Sum32())%f.Dim]++
		word = word[:0]
	}
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' {
			flush()
			continue
		}
		word = append(word, r)
	}
	flush()
	return vec, nil
}

func (f *FakeEmbedder) Dimension() int    { return f.Dim }
func (f *FakeEmbedder) ModelName() string { return "fake-embedder" }
func (f *FakeEmbedder) Close() error      { return nil }
