// Package reflection implements the quality-control loop: an LLM evaluator
// grades each agent result into a scorecard, and poor results trigger
// bounded self-correction. Outcomes feed the learning store.
package reflection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/llms"
	"github.com/nestorlabs/nestor/pkg/logger"
)

// Score is one evaluation of an agent result.
type Score struct {
	Completeness    float64  `json:"completeness"`
	Correctness     float64  `json:"correctness"`
	Quality         float64  `json:"quality"`
	Overall         float64  `json:"overall"`
	Level           string   `json:"level"`
	Issues          []string `json:"issues"`
	Improvements    []string `json:"improvements"`
	ShouldRetry     bool     `json:"should_retry"`
	RetrySuggestion string   `json:"retry_suggestion,omitempty"`
	Thinking        string   `json:"thinking,omitempty"`
}

// Generator is the slice of the LLM gateway used for evaluation.
type Generator interface {
	Generate(ctx context.Context, req *llms.Request, opts llms.CallOptions) (*llms.Response, error)
}

// Learner is the slice of the memory store the loop records into. A nil
// learner disables learning without disabling reflection.
type Learner interface {
	FewShotPrompt(ctx context.Context, task string, k int, minQuality float64) string
	ErrorAvoidancePrompt(ctx context.Context, task, agent string) string
	CommonIssues(ctx context.Context, agent string, limit int) []string
	RecordReflectionOutcome(ctx context.Context, agent string, quality float64, corrected bool, attempts int, duration time.Duration)
	RecordErrorPattern(ctx context.Context, agent, pattern string)
	SaveSolutionScored(ctx context.Context, task, solution, agent string, metadata map[string]interface{}, modelUsed string, quality float64) string
}

// ExecuteFunc is one agent execution attempt.
type ExecuteFunc func(ctx context.Context, task string, execCtx map[string]interface{}) (map[string]interface{}, error)

// Controller drives the reflect-correct loop for agents.
type Controller struct {
	cfg     *config.ReflectionConfig
	llm     Generator
	learner Learner
	log     *slog.Logger
}

func NewController(cfg *config.ReflectionConfig, llm Generator, learner Learner) *Controller {
	return &Controller{
		cfg:     cfg,
		llm:     llm,
		learner: learner,
		log:     logger.Component("reflection"),
	}
}

// qualityLevel maps an overall score onto its band.
func qualityLevel(overall float64) string {
	switch {
	case overall >= 90:
		return "excellent"
	case overall >= 70:
		return "good"
	case overall >= 50:
		return "acceptable"
	case overall >= 30:
		return "poor"
	default:
		return "failed"
	}
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// degradedScore is returned when evaluation itself fails: acceptable, never
// retried.
func degradedScore() *Score {
	return &Score{
		Completeness: 60, Correctness: 60, Quality: 60,
		Overall: 60, Level: "acceptable",
	}
}

var scorecardSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"completeness":     map[string]interface{}{"type": "number", "minimum": 0, "maximum": 100},
		"correctness":      map[string]interface{}{"type": "number", "minimum": 0, "maximum": 100},
		"quality":          map[string]interface{}{"type": "number", "minimum": 0, "maximum": 100},
		"issues":           map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
		"improvements":     map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
		"retry_suggestion": map[string]interface{}{"type": "string"},
	},
	"required": []string{"completeness", "correctness", "quality", "issues", "improvements"},
}

// ReflectOnResult grades one result. history carries prior attempts within
// the same execution so the evaluator sees what was already flagged.
func (c *Controller) ReflectOnResult(ctx context.Context, task string, result map[string]interface{}, agent string, history []*Score) *Score {
	if c.llm == nil {
		return degradedScore()
	}

	slice := representativeSlice(result)
	prompt := c.buildPrompt(ctx, task, slice, agent, history)

	temp := 0.2
	resp, err := c.llm.Generate(ctx, &llms.Request{
		Messages:    []llms.Message{{Role: llms.RoleUser, Content: prompt}},
		Temperature: &temp,
		MaxTokens:   800,
		Structured:  &llms.StructuredOutput{Schema: scorecardSchema},
	}, llms.CallOptions{Provider: c.cfg.Provider, Model: c.cfg.Model})
	if err != nil {
		c.log.Warn("evaluation call failed, degrading", "agent", agent, "error", err)
		return degradedScore()
	}

	score, err := parseScorecard(resp.Content)
	if err != nil {
		c.log.Warn("unparseable scorecard, degrading", "agent", agent, "error", err)
		return degradedScore()
	}
	if resp.Thinking != nil {
		score.Thinking = resp.Thinking.Content
	}

	score.Overall = 0.35*score.Completeness + 0.45*score.Correctness + 0.20*score.Quality
	score.Level = qualityLevel(score.Overall)
	score.ShouldRetry = score.Overall < c.cfg.MinQualityThreshold && len(score.Issues) > 0
	return score
}

func (c *Controller) buildPrompt(ctx context.Context, task, slice, agent string, history []*Score) string {
	var b strings.Builder
	b.WriteString("You are a strict reviewer. Evaluate how well the RESULT solves the TASK.\n")
	b.WriteString("Respond with JSON only: {\"completeness\": 0-100, \"correctness\": 0-100, ")
	b.WriteString("\"quality\": 0-100, \"issues\": [...], \"improvements\": [...], \"retry_suggestion\": \"...\"}\n\n")
	fmt.Fprintf(&b, "TASK:\n%s\n\nRESULT:\n%s\n", task, slice)

	if len(history) > 0 {
		b.WriteString("\nIssues already flagged in earlier attempts (check they are fixed):\n")
		for _, prev := range history {
			for _, issue := range prev.Issues {
				fmt.Fprintf(&b, "- %s\n", issue)
			}
		}
	}
	if c.learner != nil {
		if common := c.learner.CommonIssues(ctx, agent, 3); len(common) > 0 {
			b.WriteString("\nRecurring problems for this agent, watch for them:\n")
			for _, issue := range common {
				fmt.Fprintf(&b, "- %s\n", issue)
			}
		}
	}
	return b.String()
}

func parseScorecard(content string) (*Score, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in evaluation output")
	}

	var score Score
	if err := json.Unmarshal([]byte(content[start:end+1]), &score); err != nil {
		return nil, err
	}
	score.Completeness = clip(score.Completeness, 0, 100)
	score.Correctness = clip(score.Correctness, 0, 100)
	score.Quality = clip(score.Quality, 0, 100)
	if len(score.Issues) > 10 {
		score.Issues = score.Issues[:10]
	}
	if len(score.Improvements) > 10 {
		score.Improvements = score.Improvements[:10]
	}
	return &score, nil
}

// representativeSlice extracts the part of a result worth evaluating.
func representativeSlice(result map[string]interface{}) string {
	for _, key := range []string{"code", "final_answer", "analysis", "report", "result", "response"} {
		if v, ok := result[key].(string); ok && strings.TrimSpace(v) != "" {
			return bound(v, 3000)
		}
	}
	return bound(fmt.Sprintf("%v", result), 3000)
}

func bound(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... (truncated)"
}

// SelfCorrect builds a correction task from the scorecard and re-executes.
// The context is marked so the agent skips its own reflection wrapping.
func (c *Controller) SelfCorrect(ctx context.Context, task string, score *Score, execCtx map[string]interface{}, exec ExecuteFunc) (map[string]interface{}, error) {
	var b strings.Builder
	b.WriteString("Your previous attempt at the task below was rejected. Produce a corrected version.\n\n")
	fmt.Fprintf(&b, "Original task: %s\n", task)
	if len(score.Issues) > 0 {
		b.WriteString("\nIssues to fix:\n")
		for i, issue := range score.Issues {
			if i >= 5 {
				break
			}
			fmt.Fprintf(&b, "%d. %s\n", i+1, issue)
		}
	}
	if len(score.Improvements) > 0 {
		b.WriteString("\nSuggested improvements:\n")
		for i, imp := range score.Improvements {
			if i >= 5 {
				break
			}
			fmt.Fprintf(&b, "%d. %s\n", i+1, imp)
		}
	}
	if score.RetrySuggestion != "" {
		fmt.Fprintf(&b, "\nReviewer guidance: %s\n", score.RetrySuggestion)
	}

	if execCtx == nil {
		execCtx = map[string]interface{}{}
	}
	execCtx["_correction_mode"] = true
	return exec(ctx, b.String(), execCtx)
}

// ExecuteWithReflection runs exec under the reflect-correct loop. Total
// attempts are at most max_retries + 1. The final result carries the last
// scorecard under "_reflection", plus "_reflection_attempts" and
// "_corrected".
func (c *Controller) ExecuteWithReflection(ctx context.Context, agent, task string, execCtx map[string]interface{}, exec ExecuteFunc) (map[string]interface{}, error) {
	start := time.Now()
	if execCtx == nil {
		execCtx = map[string]interface{}{}
	}

	if c.learner != nil {
		enhanced := task
		if fewShot := c.learner.FewShotPrompt(ctx, task, 2, 70); fewShot != "" {
			enhanced += "\n\n" + fewShot
		}
		if avoid := c.learner.ErrorAvoidancePrompt(ctx, task, agent); avoid != "" {
			enhanced += "\n\n" + avoid
		}
		task = enhanced
	}

	result, err := exec(ctx, task, execCtx)
	if err != nil {
		return nil, err
	}
	attempts := 1
	corrected := false

	var history []*Score
	score := c.ReflectOnResult(ctx, task, result, agent, history)
	history = append(history, score)

	for score.ShouldRetry && attempts <= c.cfg.MaxRetries {
		next, err := c.SelfCorrect(ctx, task, score, execCtx, exec)
		attempts++
		if err != nil {
			c.log.Warn("self-correction attempt failed, keeping previous result", "agent", agent, "error", err)
			break
		}
		corrected = true
		result = next
		score = c.ReflectOnResult(ctx, task, result, agent, history)
		history = append(history, score)
	}

	result["_reflection"] = score
	result["_reflection_attempts"] = attempts
	result["_corrected"] = corrected

	if c.learner != nil {
		c.learner.RecordReflectionOutcome(ctx, agent, score.Overall, corrected, attempts, time.Since(start))
		if score.Overall >= 85 {
			snippet := representativeSlice(result)
			if id := c.learner.SaveSolutionScored(ctx, task, snippet, agent, map[string]interface{}{
				"source": "reflection",
			}, "", score.Overall); id != "" {
				result["_memory_id"] = id
			}
		}
		if score.Overall < 50 {
			for i, issue := range score.Issues {
				if i >= 2 {
					break
				}
				c.learner.RecordErrorPattern(ctx, agent, issue)
			}
		}
	}
	return result, nil
}
