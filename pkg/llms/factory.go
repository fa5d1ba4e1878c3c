package llms

import (
	"fmt"

	"github.com/nestorlabs/nestor/pkg/config"
)

// NewProvider constructs a provider from its config.
func NewProvider(cfg *config.LLMProviderConfig) (LLMProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("LLM config cannot be nil")
	}
	switch cfg.Type {
	case config.ProviderOpenAI:
		return NewOpenAIProvider(cfg)
	case config.ProviderAnthropic:
		return NewAnthropicProvider(cfg)
	case config.ProviderOllama:
		return NewOllamaProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM type: %s (supported: openai, anthropic, ollama)", cfg.Type)
	}
}

// CreateFromConfig constructs a provider and registers it under name.
func (r *Registry) CreateFromConfig(name string, cfg *config.LLMProviderConfig) (LLMProvider, error) {
	if name == "" {
		return nil, fmt.Errorf("LLM name cannot be empty")
	}
	provider, err := NewProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider %q: %w", name, err)
	}
	if err := r.Register(name, provider); err != nil {
		return nil, fmt.Errorf("failed to register LLM %q: %w", name, err)
	}
	return provider, nil
}
