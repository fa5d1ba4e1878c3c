package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/nestorlabs/nestor/pkg/capability"
	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/llms"
	"github.com/nestorlabs/nestor/pkg/tools"
)

// researchAgent answers questions, reaching for web search when the task
// needs information newer than the model's training data.
type researchAgent struct {
	*BaseAgent
}

func newResearch(name string, cfg *config.AgentConfig, deps Deps) *researchAgent {
	r := &researchAgent{}
	r.BaseAgent = newBase(name, cfg,
		capability.NewSet(capability.Research, capability.WebSearch),
		"research", deps)
	r.impl = r.execute
	return r
}

// currentInfoRe matches phrasing that implies the answer changes over time.
var currentInfoRe = regexp.MustCompile(`(?i)\b(latest|newest|current|today|recent|this (week|month|year)|news|price|release[ds]?|version|202\d)\b`)

func (r *researchAgent) execute(ctx context.Context, task string, execCtx map[string]interface{}) (map[string]interface{}, error) {
	var searchResults string
	searched := false
	if currentInfoRe.MatchString(task) {
		searchResults = r.webSearch(ctx, task)
		searched = searchResults != ""
	}

	var b strings.Builder
	b.WriteString("You are a research assistant. Answer thoroughly and accurately.\n")
	if searched {
		b.WriteString("Use the search results below and cite the URLs you draw on.\n\n")
		fmt.Fprintf(&b, "Search results:\n%s\n\n", searchResults)
	}
	if retrieved := r.retrieveContext(ctx, task); retrieved != "" {
		fmt.Fprintf(&b, "Background material:\n%s\n\n", retrieved)
	}
	fmt.Fprintf(&b, "Question: %s", task)

	prompt := llms.EnrichPrompt(b.String(), r.personalization(ctx, execCtx))
	resp, err := r.generate(ctx, &llms.Request{
		Messages: []llms.Message{{Role: llms.RoleUser, Content: prompt}},
	}, execCtx)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"success":     true,
		"report":      resp.Content,
		"web_search":  searched,
		"_model_used": resp.Model,
	}, nil
}

func (r *researchAgent) webSearch(ctx context.Context, query string) string {
	if r.deps.Tools == nil {
		return ""
	}
	tool, ok := r.deps.Tools.Get("web_search")
	if !ok {
		return ""
	}
	if ws, ok := tool.(*tools.WebSearchTool); ok && !ws.Available() {
		return ""
	}
	out, err := tool.Execute(ctx, map[string]interface{}{"query": query, "max_results": 5.0})
	if err != nil {
		r.log.Debug("web search failed", "error", err)
		return ""
	}
	return out
}
