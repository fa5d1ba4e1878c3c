package agent

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nestorlabs/nestor/pkg/capability"
	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/llms"
	"github.com/nestorlabs/nestor/pkg/validator"
)

// codeWriter generates code, validates it, and optionally runs a
// self-consistency vote over several samples for critical tasks.
type codeWriter struct {
	*BaseAgent
}

func newCodeWriter(name string, cfg *config.AgentConfig, deps Deps) *codeWriter {
	cw := &codeWriter{}
	cw.BaseAgent = newBase(name, cfg,
		capability.NewSet(capability.CodeGeneration, capability.CodeRefactoring, capability.Testing),
		"code", deps)
	cw.impl = cw.execute
	return cw
}

var languageHints = []struct {
	pattern  *regexp.Regexp
	language string
}{
	{regexp.MustCompile(`(?i)\btypescript\b|\.tsx?\b`), "typescript"},
	{regexp.MustCompile(`(?i)\bjavascript\b|\bnode(\.js)?\b|\.jsx?\b`), "javascript"},
	{regexp.MustCompile(`(?i)\bgolang\b|\bgo\b.*\b(func|package|goroutine)\b`), "go"},
	{regexp.MustCompile(`(?i)\bpython\b|\.py\b|\bdjango\b|\bflask\b|\bpandas\b`), "python"},
}

func languageFromTask(task string) string {
	for _, hint := range languageHints {
		if hint.pattern.MatchString(task) {
			return hint.language
		}
	}
	return "python"
}

var criticalRe = regexp.MustCompile(`(?i)\b(critical|production|security|payment|auth|concurren\w+|thread.?safe)\b`)

func (cw *codeWriter) execute(ctx context.Context, task string, execCtx map[string]interface{}) (map[string]interface{}, error) {
	language := languageFromTask(task)
	prompt := cw.buildPrompt(ctx, task, language, execCtx)

	var raw, model string
	confidence := 1.0
	cc := cw.cfg.Consistency
	if cc != nil && cc.Enabled != nil && *cc.Enabled && criticalRe.MatchString(task) {
		var err error
		raw, model, confidence, err = cw.sampleConsensus(ctx, prompt, language, execCtx, cc.Samples)
		if err != nil {
			return nil, err
		}
	} else {
		resp, err := cw.generateCode(ctx, task, prompt, execCtx)
		if err != nil {
			return nil, err
		}
		raw, model = resp.Content, resp.Model
	}

	code := validator.ExtractCode(raw, language)
	result := map[string]interface{}{
		"success":     true,
		"code":        code,
		"language":    language,
		"confidence":  confidence,
		"_model_used": model,
	}

	if cw.deps.Validator != nil {
		vr := cw.deps.Validator.Validate(ctx, code, language, true, task)
		if vr.FixedCode != "" {
			code = vr.FixedCode
			result["code"] = code
			result["auto_fixed"] = true
		}
		result["valid"] = vr.IsValid
		result["validation_issues"] = vr.ErrorCount + vr.WarningCount
		if !vr.IsValid {
			// Broken code must never seed future few-shot prompts.
			result["_skip_memory"] = true
		}
	}
	return result, nil
}

func (cw *codeWriter) buildPrompt(ctx context.Context, task, language string, execCtx map[string]interface{}) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert %s engineer. Write complete, working code for the task below.\n", language)
	b.WriteString("Rules:\n")
	b.WriteString("- Return the code in a single fenced code block.\n")
	b.WriteString("- Handle edge cases and invalid input.\n")
	b.WriteString("- No placeholder or pseudo-code.\n\n")

	if retrieved := cw.retrieveContext(ctx, task); retrieved != "" {
		fmt.Fprintf(&b, "Relevant project context:\n%s\n\n", retrieved)
	}
	if steps, ok := execCtx["_steps"].(map[string]interface{}); ok && len(steps) > 0 {
		b.WriteString("Earlier workflow step outputs:\n")
		names := make([]string, 0, len(steps))
		for name := range steps {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "- %s: %v\n", name, steps[name])
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Task: %s", task)
	return b.String()
}

// generateCode runs the plan-then-write split for sizeable tasks and a
// single call otherwise.
func (cw *codeWriter) generateCode(ctx context.Context, task, prompt string, execCtx map[string]interface{}) (*llms.Response, error) {
	if len(task) > 200 {
		planTemp := 0.3
		plan, err := cw.generate(ctx, &llms.Request{
			Messages: []llms.Message{{Role: llms.RoleUser, Content: fmt.Sprintf(
				"Outline an implementation approach for this task in at most 5 short bullet points. No code.\n\nTask: %s", task)}},
			Temperature: &planTemp,
			MaxTokens:   300,
		}, execCtx)
		if err == nil && plan.Content != "" {
			prompt = fmt.Sprintf("%s\n\nFollow this approach:\n%s", prompt, plan.Content)
		}
	}
	return cw.generate(ctx, &llms.Request{
		Messages: []llms.Message{{Role: llms.RoleUser, Content: prompt}},
	}, execCtx)
}

// sampleConsensus draws n samples at elevated temperature and picks a
// winner: an exact majority when one exists, an LLM rerank otherwise.
func (cw *codeWriter) sampleConsensus(ctx context.Context, prompt, language string, execCtx map[string]interface{}, n int) (raw, model string, confidence float64, err error) {
	if n < 2 {
		n = 2
	}
	if n > 7 {
		n = 7
	}

	samples := make([]codeSample, 0, n)
	var mu sync.Mutex
	temp := 0.8

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			resp, genErr := cw.generate(gctx, &llms.Request{
				Messages:    []llms.Message{{Role: llms.RoleUser, Content: prompt}},
				Temperature: &temp,
			}, execCtx)
			if genErr != nil {
				return genErr
			}
			mu.Lock()
			samples = append(samples, codeSample{
				raw:   resp.Content,
				code:  validator.ExtractCode(resp.Content, language),
				model: resp.Model,
			})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", "", 0, fmt.Errorf("self-consistency sampling: %w", err)
	}

	votes := make(map[string]int, len(samples))
	best := 0
	for i, s := range samples {
		key := normalizeCode(s.code)
		votes[key]++
		if votes[key] > votes[normalizeCode(samples[best].code)] {
			best = i
		}
	}
	topVotes := votes[normalizeCode(samples[best].code)]
	if topVotes > 1 {
		return samples[best].raw, samples[best].model, float64(topVotes) / float64(len(samples)), nil
	}

	// All samples disagree: ask the model to judge.
	if idx := cw.rerank(ctx, prompt, samples, execCtx); idx >= 0 {
		best = idx
	}
	return samples[best].raw, samples[best].model, 1.0 / float64(len(samples)), nil
}

type codeSample struct {
	raw   string
	code  string
	model string
}

func (cw *codeWriter) rerank(ctx context.Context, prompt string, samples []codeSample, execCtx map[string]interface{}) int {
	var b strings.Builder
	b.WriteString("Several candidate solutions follow for the same task. Reply with only the number of the best one.\n\n")
	fmt.Fprintf(&b, "Task:\n%s\n\n", prompt)
	for i, s := range samples {
		fmt.Fprintf(&b, "Candidate %d:\n%s\n\n", i+1, s.code)
	}

	judgeTemp := 0.0
	resp, err := cw.generate(ctx, &llms.Request{
		Messages:    []llms.Message{{Role: llms.RoleUser, Content: b.String()}},
		Temperature: &judgeTemp,
		MaxTokens:   10,
	}, execCtx)
	if err != nil {
		return -1
	}
	num, err := strconv.Atoi(strings.TrimSpace(strings.Trim(resp.Content, ".")))
	if err != nil || num < 1 || num > len(samples) {
		return -1
	}
	return num - 1
}

var spaceRe = regexp.MustCompile(`\s+`)

func normalizeCode(code string) string {
	return spaceRe.ReplaceAllString(strings.TrimSpace(code), " ")
}
