package llms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/httpclient"
	"github.com/nestorlabs/nestor/pkg/logger"
	"github.com/nestorlabs/nestor/pkg/metrics"
)

// Gateway routes generation requests to named providers with transient-error
// retry on top of the HTTP-level retry each provider already carries.
type Gateway struct {
	registry    *Registry
	configs     map[string]*config.LLMProviderConfig
	defaultName string
	metrics     *metrics.Set
}

// CallOptions select the provider and model for one gateway call.
type CallOptions struct {
	// Provider is a registered provider name; empty selects the default.
	Provider string

	// Model overrides the provider's default model. "auto" resolves via
	// ResolveModel.
	Model string

	// ServerURL overrides the provider endpoint for this call. Honored for
	// ollama providers only.
	ServerURL string
}

// NewGateway builds the provider set from config. Providers that fail to
// construct are skipped with a warning so one bad credential does not take
// down the rest.
func NewGateway(cfgs map[string]*config.LLMProviderConfig, defaultName string, m *metrics.Set) (*Gateway, error) {
	if m == nil {
		m = metrics.Default()
	}
	g := &Gateway{
		registry:    NewRegistry(),
		configs:     make(map[string]*config.LLMProviderConfig, len(cfgs)),
		defaultName: defaultName,
		metrics:     m,
	}
	log := logger.Component("llm.gateway")
	for name, cfg := range cfgs {
		if _, err := g.registry.CreateFromConfig(name, cfg); err != nil {
			log.Warn("skipping LLM provider", "name", name, "error", err)
			continue
		}
		g.configs[name] = cfg
	}
	if g.registry.Count() == 0 {
		return nil, fmt.Errorf("[llms] no usable LLM providers configured")
	}
	if _, ok := g.registry.Get(g.defaultName); !ok {
		// Prefer a local provider, then the first registered name.
		g.defaultName = ""
		for _, name := range g.registry.Names() {
			if cfg := g.configs[name]; cfg != nil && cfg.Type == config.ProviderOllama {
				g.defaultName = name
				break
			}
		}
		if g.defaultName == "" {
			g.defaultName = g.registry.Names()[0]
		}
	}
	return g, nil
}

// DefaultProvider returns the name used when a call does not select one.
func (g *Gateway) DefaultProvider() string { return g.defaultName }

// Provider resolves a provider by name, empty meaning the default.
func (g *Gateway) Provider(name string) (LLMProvider, error) {
	if name == "" {
		name = g.defaultName
	}
	p, ok := g.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("[llms] unknown provider %q", name)
	}
	return p, nil
}

// ResolveModel collapses the preferred/recommended/default model choice into
// one place. The literal "auto" always falls through to recommended then
// default, never a language name.
func ResolveModel(preferred, recommended, fallback string) string {
	if preferred != "" && preferred != "auto" {
		return preferred
	}
	if recommended != "" {
		return recommended
	}
	return fallback
}

func (g *Gateway) resolve(opts CallOptions) (LLMProvider, string, error) {
	provider, err := g.Provider(opts.Provider)
	if err != nil {
		return nil, "", err
	}
	name := opts.Provider
	if name == "" {
		name = g.defaultName
	}

	if opts.ServerURL != "" {
		cfg := g.configs[name]
		if cfg != nil && cfg.Type == config.ProviderOllama {
			override := *cfg
			override.Host = opts.ServerURL
			if p, err := NewOllamaProvider(&override); err == nil {
				provider = p
			}
		}
	}
	return provider, name, nil
}

// Generate runs one completion with fibonacci-backoff retry on transient
// provider failures.
func (g *Gateway) Generate(ctx context.Context, req *Request, opts CallOptions) (*Response, error) {
	provider, name, err := g.resolve(opts)
	if err != nil {
		return nil, err
	}
	if opts.Model != "" {
		req.Model = ResolveModel(opts.Model, "", provider.ModelName())
	}

	var resp *Response
	backoff := retry.WithMaxRetries(2, retry.NewFibonacci(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		var genErr error
		resp, genErr = provider.Generate(ctx, req)
		if genErr != nil && isTransient(genErr) {
			return retry.RetryableError(genErr)
		}
		return genErr
	})
	if err != nil {
		g.metrics.LLMCalls.WithLabelValues(name, "error").Inc()
		return nil, fmt.Errorf("[llms] generate via %s: %w", name, err)
	}

	g.metrics.LLMCalls.WithLabelValues(name, "success").Inc()
	g.metrics.LLMTokens.WithLabelValues(name, "prompt").Add(float64(resp.Usage.PromptTokens))
	g.metrics.LLMTokens.WithLabelValues(name, "completion").Add(float64(resp.Usage.CompletionTokens))
	return resp, nil
}

// Stream runs one streaming completion. Providers without streaming support
// degrade to a single-chunk stream built from Generate.
func (g *Gateway) Stream(ctx context.Context, req *Request, opts CallOptions) (<-chan StreamChunk, error) {
	provider, name, err := g.resolve(opts)
	if err != nil {
		return nil, err
	}
	if opts.Model != "" {
		req.Model = ResolveModel(opts.Model, "", provider.ModelName())
	}

	if !provider.SupportsStreaming() {
		out := make(chan StreamChunk, 2)
		go func() {
			defer close(out)
			resp, err := provider.Generate(ctx, req)
			if err != nil {
				out <- StreamChunk{Type: ChunkError, Error: err}
				return
			}
			out <- StreamChunk{Type: ChunkText, Text: resp.Content}
			out <- StreamChunk{Type: ChunkDone, Tokens: resp.Usage.TotalTokens}
		}()
		return out, nil
	}

	ch, err := provider.GenerateStreaming(ctx, req)
	if err != nil {
		g.metrics.LLMCalls.WithLabelValues(name, "error").Inc()
		return nil, fmt.Errorf("[llms] stream via %s: %w", name, err)
	}
	g.metrics.LLMCalls.WithLabelValues(name, "success").Inc()
	return ch, nil
}

// ListAvailableModels reports per-provider model lists for health checks.
// Providers that fail to answer are reported with an empty list.
func (g *Gateway) ListAvailableModels(ctx context.Context) map[string][]string {
	out := make(map[string][]string)
	log := logger.Component("llm.gateway")
	for _, name := range g.registry.Names() {
		provider, _ := g.registry.Get(name)
		models, err := provider.ListModels(ctx)
		if err != nil {
			log.Debug("model listing failed", "provider", name, "error", err)
			out[name] = nil
			continue
		}
		out[name] = models
	}
	return out
}

// Close shuts down every provider.
func (g *Gateway) Close() error {
	var first error
	for _, p := range g.registry.List() {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func isTransient(err error) bool {
	var retryable *httpclient.RetryableError
	if errors.As(err, &retryable) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
