// Package assembler turns a user query into a bounded-token context string:
// optional LLM query expansion, multi-query retrieval against the vector
// index, token-budgeted concatenation, and summarization when the retrieval
// set is over threshold. Results are cached by fingerprint.
package assembler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/nestorlabs/nestor/pkg/cache"
	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/llms"
	"github.com/nestorlabs/nestor/pkg/logger"
	"github.com/nestorlabs/nestor/pkg/vector"
)

// Generator is the slice of the LLM gateway the assembler needs.
type Generator interface {
	Generate(ctx context.Context, req *llms.Request, opts llms.CallOptions) (*llms.Response, error)
}

// HistoryEntry is one conversational turn kept in the history slot.
type HistoryEntry struct {
	Role    string
	Content string
}

// Assembler builds retrieval contexts. The LLM and cache are optional:
// without an LLM expansion and abstractive summarization degrade to their
// deterministic fallbacks, without a cache every call assembles fresh.
type Assembler struct {
	cfg        *config.ContextConfig
	index      *vector.EmbeddingIndex
	collection string
	llm        Generator
	cache      *cache.ContextCache
	log        *slog.Logger

	mu      sync.Mutex
	history []HistoryEntry
}

func New(cfg *config.ContextConfig, index *vector.EmbeddingIndex, collection string, llm Generator, contextCache *cache.ContextCache) *Assembler {
	return &Assembler{
		cfg:        cfg,
		index:      index,
		collection: collection,
		llm:        llm,
		cache:      contextCache,
		log:        logger.Component("assembler"),
	}
}

// GetContext assembles a context string for query, at most maxTokens
// estimated tokens. maxTokens <= 0 uses the configured default.
func (a *Assembler) GetContext(ctx context.Context, query string, maxTokens int, useExpansion, useMultiQuery bool) (string, error) {
	if a.index == nil {
		return "", fmt.Errorf("[assembler] no vector index configured")
	}
	if maxTokens <= 0 {
		maxTokens = a.cfg.MaxTokens
	}

	key := cache.Fingerprint(query, strconv.Itoa(maxTokens),
		strconv.FormatBool(useExpansion), strconv.FormatBool(useMultiQuery))
	if a.cache != nil {
		if cached, ok := a.cache.Get(ctx, key); ok {
			return cached, nil
		}
	}

	queries := []string{query}
	if useExpansion && a.llm != nil {
		queries = a.expandQuery(ctx, query)
	}

	var results []vector.SearchResult
	var err error
	if useMultiQuery && len(queries) > 1 {
		results, err = a.multiQuerySearch(ctx, queries)
	} else {
		results, err = a.index.SearchText(ctx, a.collection, query, a.cfg.TopK)
		if err == nil {
			results = rerank(query, results)
		}
	}
	if err != nil {
		return "", fmt.Errorf("[assembler] retrieval failed: %w", err)
	}
	if len(results) == 0 {
		return "", nil
	}

	snippets := make([]string, 0, len(results))
	for _, r := range results {
		snippets = append(snippets, r.Content)
	}
	full := strings.Join(snippets, "\n\n")

	var assembled string
	if a.summarizationEnabled() && EstimateTokens(full) > a.cfg.Summarization.Threshold {
		assembled = a.summarize(ctx, full, maxTokens)
	} else {
		assembled = truncateToBudget(snippets, maxTokens)
	}

	if a.cache != nil {
		a.cache.Set(ctx, key, assembled)
	}
	return assembled, nil
}

func (a *Assembler) summarizationEnabled() bool {
	return a.cfg.Summarization.Enabled == nil || *a.cfg.Summarization.Enabled
}

// truncateToBudget concatenates snippets in order, stopping before the one
// that would push the estimate past maxTokens.
func truncateToBudget(snippets []string, maxTokens int) string {
	var b strings.Builder
	used := 0
	for _, s := range snippets {
		cost := EstimateTokens(s) + 2
		if used > 0 && used+cost > maxTokens {
			break
		}
		if used+cost > maxTokens {
			// A single oversized snippet still gets clipped in.
			s = clipToTokens(s, maxTokens-2)
			if s == "" {
				break
			}
			cost = EstimateTokens(s) + 2
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(s)
		used += cost
	}
	return b.String()
}

// clipToTokens returns the longest rune prefix of s the estimator scores
// at or under maxTokens. Clipping by rune count would overshoot on
// multibyte content, where a rune can cost a whole token.
func clipToTokens(s string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if EstimateTokens(s) <= maxTokens {
		return s
	}
	runes := []rune(s)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if EstimateTokens(string(runes[:mid])) <= maxTokens {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo])
}

// expandQuery asks the model for 2-3 alternative phrasings and prepends the
// original. Any failure returns just the original.
func (a *Assembler) expandQuery(ctx context.Context, query string) []string {
	resp, err := a.llm.Generate(ctx, &llms.Request{
		Messages: []llms.Message{{
			Role: llms.RoleUser,
			Content: "Rephrase the following search query 2-3 different ways, " +
				"one per line, no numbering or commentary:\n\n" + query,
		}},
		MaxTokens: 200,
	}, llms.CallOptions{})
	if err != nil {
		a.log.Debug("query expansion failed", "error", err)
		return []string{query}
	}

	queries := []string{query}
	for _, line := range strings.Split(resp.Content, "\n") {
		line = strings.Trim(line, " \t-*0123456789.)")
		if line == "" || strings.EqualFold(line, query) {
			continue
		}
		queries = append(queries, line)
		if len(queries) >= 4 {
			break
		}
	}
	return queries
}

// multiQuerySearch runs each phrasing with a small top-k and unions the
// hits by document id, preserving first-seen order.
func (a *Assembler) multiQuerySearch(ctx context.Context, queries []string) ([]vector.SearchResult, error) {
	perQuery := a.cfg.TopK
	if perQuery > 3 {
		perQuery = 3
	}

	seen := make(map[string]struct{})
	var union []vector.SearchResult
	for _, q := range queries {
		results, err := a.index.SearchText(ctx, a.collection, q, perQuery)
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			if _, dup := seen[r.ID]; dup {
				continue
			}
			seen[r.ID] = struct{}{}
			union = append(union, r)
		}
	}
	return union, nil
}

// rerank nudges vector similarity with literal term overlap so exact keyword
// matches beat near-synonyms at equal embedding distance.
func rerank(query string, results []vector.SearchResult) []vector.SearchResult {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return results
	}
	type scored struct {
		r     vector.SearchResult
		score float64
	}
	out := make([]scored, 0, len(results))
	for _, r := range results {
		content := strings.ToLower(r.Content)
		matched := 0
		for _, term := range terms {
			if strings.Contains(content, term) {
				matched++
			}
		}
		boost := 0.1 * float64(matched) / float64(len(terms))
		out = append(out, scored{r: r, score: float64(r.Similarity) + boost})
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].score > out[j-1].score; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	reranked := make([]vector.SearchResult, len(out))
	for i, s := range out {
		reranked[i] = s.r
	}
	return reranked
}

// AddToHistory appends one turn, evicting the oldest past the configured
// limit.
func (a *Assembler) AddToHistory(role, content string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, HistoryEntry{Role: role, Content: content})
	if limit := a.cfg.HistoryLimit; limit > 0 && len(a.history) > limit {
		a.history = a.history[len(a.history)-limit:]
	}
}

// History returns the most recent limit turns, oldest first. limit <= 0
// returns everything retained.
func (a *Assembler) History(limit int) []HistoryEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]HistoryEntry, n)
	copy(out, a.history[len(a.history)-n:])
	return out
}

func (a *Assembler) ClearHistory() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = nil
}
