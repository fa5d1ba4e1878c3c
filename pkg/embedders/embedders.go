// Package embedders provides the shared text-embedding interface and its
// providers. One embedder instance is shared by the vector index and the
// memory store so the backing model loads once.
package embedders

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/registry"
)

// Embedder turns text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	ModelName() string
	Close() error
}

// Registry holds named embedders.
type Registry struct {
	*registry.BaseRegistry[Embedder]
}

func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[Embedder]()}
}

// NewEmbedder constructs an embedder from its config.
func NewEmbedder(cfg *config.EmbedderConfig) (Embedder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("embedder config cannot be nil")
	}
	switch cfg.Type {
	case "ollama":
		return NewOllamaEmbedder(cfg)
	case "openai":
		return NewOpenAIEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedder type: %s", cfg.Type)
	}
}

// CreateFromConfig constructs an embedder and registers it under name.
func (r *Registry) CreateFromConfig(name string, cfg *config.EmbedderConfig) (Embedder, error) {
	if name == "" {
		return nil, fmt.Errorf("embedder name cannot be empty")
	}
	e, err := NewEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder %q: %w", name, err)
	}
	if err := r.Register(name, e); err != nil {
		return nil, fmt.Errorf("failed to register embedder %q: %w", name, err)
	}
	return e, nil
}

// Lazy defers construction until the first Embed call and guarantees a
// single load even under concurrent first use. The underlying model is
// expensive to initialize and must never be started twice.
type Lazy struct {
	cfg      *config.EmbedderConfig
	loader   singleflight.Group
	delegate Embedder
}

func NewLazy(cfg *config.EmbedderConfig) *Lazy {
	return &Lazy{cfg: cfg}
}

func (l *Lazy) instance() (Embedder, error) {
	if l.delegate != nil {
		return l.delegate, nil
	}
	v, err, _ := l.loader.Do("load", func() (interface{}, error) {
		if l.delegate != nil {
			return l.delegate, nil
		}
		e, err := NewEmbedder(l.cfg)
		if err != nil {
			return nil, err
		}
		l.delegate = e
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Embedder), nil
}

func (l *Lazy) Embed(ctx context.Context, text string) ([]float32, error) {
	e, err := l.instance()
	if err != nil {
		return nil, err
	}
	return e.Embed(ctx, text)
}

func (l *Lazy) Dimension() int {
	if l.delegate != nil {
		return l.delegate.Dimension()
	}
	return l.cfg.Dimension
}

func (l *Lazy) ModelName() string { return l.cfg.Model }

func (l *Lazy) Close() error {
	if l.delegate != nil {
		return l.delegate.Close()
	}
	return nil
}
