package embedders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/logger"
)

// Ollama's llama runner crashes under concurrent embedding requests, so all
// calls through this embedder are serialized.
var ollamaEmbedMu sync.Mutex

// OllamaEmbedder calls the local Ollama embeddings endpoint.
type OllamaEmbedder struct {
	config  *config.EmbedderConfig
	client  *http.Client
	baseURL string
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func NewOllamaEmbedder(cfg *config.EmbedderConfig) (*OllamaEmbedder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	baseURL := cfg.Host
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaEmbedder{
		config:  cfg,
		client:  &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ollamaEmbedMu.Lock()
	defer ollamaEmbedMu.Unlock()

	payload, err := json.Marshal(ollamaEmbedRequest{Model: e.config.Model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	log := logger.Component("embedder.ollama")
	var resp *http.Response
	// Three attempts with linear backoff; embedding failures are common
	// right after model load.
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			e.baseURL+"/api/embeddings", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err = e.client.Do(req)
		if err == nil {
			break
		}
		log.Debug("embedding attempt failed", "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * time.Second):
		}
		if attempt == 2 {
			return nil, fmt.Errorf("ollama embedding failed: %w", err)
		}
	}
	if resp == nil {
		return nil, fmt.Errorf("ollama embedding failed: no response")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama API returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode embedding: %w", err)
	}
	if len(parsed.Embedding) == 0 {
		return nil, fmt.Errorf("received empty embedding from ollama")
	}
	return parsed.Embedding, nil
}

func (e *OllamaEmbedder) Dimension() int    { return e.config.Dimension }
func (e *OllamaEmbedder) ModelName() string { return e.config.Model }
func (e *OllamaEmbedder) Close() error      { return nil }
