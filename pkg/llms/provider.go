// Package llms defines the provider-neutral LLM surface: message and tool
// types, the provider interface, the named-provider registry, and the
// gateway that routes generation requests.
package llms

import (
	"context"
	"fmt"

	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/registry"
)

// LLMProvider is the contract all LLM backends implement.
type LLMProvider interface {
	// Generate produces a complete response for the conversation.
	Generate(ctx context.Context, req *Request) (*Response, error)

	// GenerateStreaming produces incremental chunks. The channel closes
	// after a terminal chunk ("done" or "error").
	GenerateStreaming(ctx context.Context, req *Request) (<-chan StreamChunk, error)

	// ListModels reports the models this provider can serve.
	ListModels(ctx context.Context) ([]string, error)

	Type() config.LLMProviderType
	ModelName() string
	SupportsStreaming() bool
	Close() error
}

// Registry holds named providers.
type Registry struct {
	*registry.BaseRegistry[LLMProvider]
}

func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[LLMProvider]()}
}

// CreateProvider builds a provider from its config and registers it.
func (r *Registry) CreateProvider(name string, cfg *config.LLMProviderConfig) (LLMProvider, error) {
	provider, err := NewProviderFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider %q: %w", name, err)
	}
	if err := r.Register(name, provider); err != nil {
		provider.Close()
		return nil, err
	}
	return provider, nil
}

// NewProviderFromConfig dispatches on the configured provider type.
func NewProviderFromConfig(cfg *config.LLMProviderConfig) (LLMProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("llm provider config is required")
	}
	switch cfg.Type {
	case config.ProviderOpenAI:
		return NewOpenAIProvider(cfg)
	case config.ProviderAnthropic:
		return NewAnthropicProvider(cfg)
	case config.ProviderOllama:
		return NewOllamaProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider type: %s", cfg.Type)
	}
}
