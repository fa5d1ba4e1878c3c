package assembler

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/nestorlabs/nestor/pkg/llms"
)

// declarationRe matches the structural lines a summary must never drop:
// top-level function, class, and type declarations, route registrations,
// and SHOUTING_CASE constant assignments.
var declarationRe = regexp.MustCompile(`^(def |class |func |type |async def |interface |` +
	`@(app|router|api)\.|[A-Z][A-Z0-9_]{2,}\s*=)`)

func isDeclaration(line string) bool {
	return declarationRe.MatchString(strings.TrimLeft(line, " \t"))
}

// topLevelDeclarations returns the declaration lines of content, in order.
func topLevelDeclarations(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimRight(line, " \t")
		if trimmed != "" && isDeclaration(trimmed) {
			out = append(out, trimmed)
		}
	}
	return out
}

// summarize compresses content to at most targetTokens using the configured
// strategy. Every strategy keeps the declaration lines as long as they fit
// the budget; the LLM-backed strategies fall back to the deterministic one
// when no model is available or the call fails.
func (a *Assembler) summarize(ctx context.Context, content string, targetTokens int) string {
	strategy := a.cfg.Summarization.Strategy
	switch strategy {
	case "extractive", "structure_preserving":
		return extractiveSummary(content, targetTokens)
	case "abstractive":
		return a.llmSummary(ctx, content, targetTokens, false)
	case "hierarchical":
		return a.hierarchicalSummary(ctx, content, targetTokens)
	default: // hybrid
		return a.llmSummary(ctx, content, targetTokens, true)
	}
}

// extractiveSummary keeps declarations first, then fills the remaining
// budget with the other lines in document order.
func extractiveSummary(content string, targetTokens int) string {
	lines := strings.Split(content, "\n")

	type scored struct {
		index int
		line  string
		keep  bool
	}
	items := make([]scored, 0, len(lines))
	// Keep headroom for gap markers and newline accounting drift.
	budget := targetTokens - targetTokens/10

	// First pass: declarations claim the budget before anything else,
	// but even they stop once it runs out.
	for i, line := range lines {
		item := scored{index: i, line: line}
		if isDeclaration(line) {
			if cost := EstimateTokens(line) + 1; cost <= budget {
				item.keep = true
				budget -= cost
			}
		}
		items = append(items, item)
	}

	// Second pass: spend what is left on context lines in order.
	for i := range items {
		if items[i].keep || strings.TrimSpace(items[i].line) == "" {
			continue
		}
		cost := EstimateTokens(items[i].line) + 1
		if cost > budget {
			continue
		}
		items[i].keep = true
		budget -= cost
	}

	var b strings.Builder
	prev := -2
	for _, item := range items {
		if !item.keep {
			continue
		}
		if prev >= 0 && item.index != prev+1 {
			b.WriteString("...\n")
		}
		b.WriteString(item.line)
		b.WriteString("\n")
		prev = item.index
	}
	out := strings.TrimRight(b.String(), "\n")
	// Gap markers are not charged during selection; the headroom normally
	// absorbs them, the clip covers the rest.
	if EstimateTokens(out) > targetTokens {
		out = clipToTokens(out, targetTokens)
	}
	return out
}

// llmSummary asks the model for a compressed rendition. When keepStructure
// is set (hybrid strategy) the deterministic declaration skeleton is
// reattached if the model dropped any of it.
func (a *Assembler) llmSummary(ctx context.Context, content string, targetTokens int, keepStructure bool) string {
	if a.llm == nil {
		return extractiveSummary(content, targetTokens)
	}

	prompt := fmt.Sprintf(`Summarize the following retrieved context to roughly %d tokens.
Preserve verbatim: every function/class/type declaration line, every API
endpoint, and every named constant. Compress prose and repeated detail.

%s`, targetTokens, content)

	resp, err := a.llm.Generate(ctx, &llms.Request{
		Messages:  []llms.Message{{Role: llms.RoleUser, Content: prompt}},
		MaxTokens: targetTokens + targetTokens/4,
	}, llms.CallOptions{})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		a.log.Debug("summarization call failed, using extractive fallback", "error", err)
		return extractiveSummary(content, targetTokens)
	}
	summary := resp.Content

	if keepStructure {
		var missing []string
		for _, decl := range topLevelDeclarations(content) {
			if !strings.Contains(summary, strings.TrimSpace(decl)) {
				missing = append(missing, decl)
			}
		}
		if len(missing) > 0 {
			summary += "\n\nKey declarations:\n" + strings.Join(missing, "\n")
		}
	}

	if EstimateTokens(summary) > targetTokens {
		// The model overshot; the deterministic pass respects the budget.
		return extractiveSummary(summary, targetTokens)
	}
	return summary
}

// hierarchicalSummary splits content into chunks, summarizes each, then
// compresses the concatenation once more if still over budget.
func (a *Assembler) hierarchicalSummary(ctx context.Context, content string, targetTokens int) string {
	if a.llm == nil {
		return extractiveSummary(content, targetTokens)
	}

	chunks := splitChunks(content, 4*targetTokens)
	if len(chunks) <= 1 {
		return a.llmSummary(ctx, content, targetTokens, true)
	}

	perChunk := targetTokens / len(chunks)
	if perChunk < 200 {
		perChunk = 200
	}
	parts := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		parts = append(parts, a.llmSummary(ctx, chunk, perChunk, true))
	}
	combined := strings.Join(parts, "\n\n")
	if EstimateTokens(combined) > targetTokens {
		return a.llmSummary(ctx, combined, targetTokens, true)
	}
	return combined
}

// splitChunks breaks content on blank lines into pieces of at most
// maxTokens each.
func splitChunks(content string, maxTokens int) []string {
	paragraphs := strings.Split(content, "\n\n")
	var chunks []string
	var current strings.Builder
	currentTokens := 0
	for _, p := range paragraphs {
		cost := EstimateTokens(p)
		if currentTokens > 0 && currentTokens+cost > maxTokens {
			chunks = append(chunks, current.String())
			current.Reset()
			currentTokens = 0
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
		currentTokens += cost
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}
