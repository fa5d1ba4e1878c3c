package llms

import (
	"context"
	"fmt"
	"sync"

	"github.com/nestorlabs/nestor/pkg/config"
)

// FakeProvider is an in-memory provider with scripted responses, used by
// tests across the module. Responses are consumed in order; the last one
// repeats when the script runs out. A ScriptFunc takes precedence over the
// static script.
type FakeProvider struct {
	mu        sync.Mutex
	Name      string
	Responses []*Response
	Err       error

	// ScriptFunc, when set, computes the response from the request.
	ScriptFunc func(req *Request) (*Response, error)

	// Calls records every request received.
	Calls []*Request

	Streaming bool
	next      int
}

func NewFakeProvider(responses ...string) *FakeProvider {
	p := &FakeProvider{Name: "fake", Streaming: true}
	for _, r := range responses {
		p.Responses = append(p.Responses, &Response{Content: r})
	}
	return p
}

func (p *FakeProvider) Type() config.LLMProviderType { return config.ProviderOllama }
func (p *FakeProvider) ModelName() string            { return "fake-model" }
func (p *FakeProvider) SupportsStreaming() bool      { return p.Streaming }
func (p *FakeProvider) Close() error                 { return nil }

func (p *FakeProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Calls = append(p.Calls, req)
	if p.ScriptFunc != nil {
		return p.ScriptFunc(req)
	}
	if p.Err != nil {
		return nil, p.Err
	}
	if len(p.Responses) == 0 {
		return nil, fmt.Errorf("fake provider has no scripted responses")
	}
	resp := p.Responses[p.next]
	if p.next < len(p.Responses)-1 {
		p.next++
	}
	return resp, nil
}

func (p *FakeProvider) GenerateStreaming(ctx context.Context, req *Request) (<-chan StreamChunk, error) {
	resp, err := p.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make(chan StreamChunk, 2)
	out <- StreamChunk{Type: ChunkText, Text: resp.Content}
	out <- StreamChunk{Type: ChunkDone, Tokens: resp.Usage.TotalTokens}
	close(out)
	return out, nil
}

func (p *FakeProvider) ListModels(ctx context.Context) ([]string, error) {
	return []string{"fake-model"}, nil
}

// CallCount reports how many generate calls the provider served.
func (p *FakeProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastCall returns the most recent request, or nil.
func (p *FakeProvider) LastCall() *Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return nil
	}
	return p.Calls[len(p.Calls)-1]
}
