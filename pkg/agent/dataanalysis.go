package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/nestorlabs/nestor/pkg/capability"
	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/llms"
)

// dataAnalysisAgent detects ML task shape from free text and produces an
// analysis, optionally sandbox-running small computation snippets.
type dataAnalysisAgent struct {
	*BaseAgent
}

func newDataAnalysis(name string, cfg *config.AgentConfig, deps Deps) *dataAnalysisAgent {
	d := &dataAnalysisAgent{}
	d.BaseAgent = newBase(name, cfg,
		capability.NewSet(capability.DataAnalysis, capability.MachineLearning),
		"analysis", deps)
	d.impl = d.execute
	return d
}

// AutoMLRunner trains and evaluates models for a detected ML task. Most
// deployments leave it unset, in which case analysis stays LLM-driven.
type AutoMLRunner interface {
	Run(ctx context.Context, task MLTask) (map[string]interface{}, error)
}

// MLTask is the detected shape of an analysis request.
type MLTask struct {
	Kind         string  `json:"kind"`
	Confidence   float64 `json:"confidence"`
	DataPath     string  `json:"data_path,omitempty"`
	TargetColumn string  `json:"target_column,omitempty"`
}

var mlKindSignals = []struct {
	kind     string
	patterns []*regexp.Regexp
}{
	{"classification", []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bclassif\w+\b`),
		regexp.MustCompile(`(?i)\b(categorize|label|spam|fraud|churn)\b`),
	}},
	{"regression", []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bregress\w+\b`),
		regexp.MustCompile(`(?i)\b(predict|estimate|forecast)\b.*\b(price|value|amount|revenue|sales|cost)\b`),
	}},
	{"clustering", []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bcluster\w*\b`),
		regexp.MustCompile(`(?i)\b(segment|group)\b.*\b(customers?|users?|data)\b`),
	}},
	{"time_series", []*regexp.Regexp{
		regexp.MustCompile(`(?i)\btime.?series\b`),
		regexp.MustCompile(`(?i)\b(forecast|trend)\b.*\b(daily|weekly|monthly|hourly|over time)\b`),
	}},
}

var (
	dataPathRe = regexp.MustCompile(`(\S+\.(?:csv|json|parquet|tsv|xlsx))\b`)
	targetRe   = regexp.MustCompile(`(?i)(?:target(?: column)?[:=\s]+|predict(?:ing)?\s+(?:the\s+)?)["']?(\w+)["']?`)
)

// DetectMLTask scores each task kind by how many of its signal patterns
// match. Two hits are treated as certain enough to act on.
func DetectMLTask(task string) MLTask {
	out := MLTask{Kind: "general", Confidence: 0.3}
	best := 0
	for _, sig := range mlKindSignals {
		hits := 0
		for _, p := range sig.patterns {
			if p.MatchString(task) {
				hits++
			}
		}
		if hits > best {
			best = hits
			out.Kind = sig.kind
			if hits >= len(sig.patterns) {
				out.Confidence = 0.9
			} else {
				out.Confidence = 0.6
			}
		}
	}
	if m := dataPathRe.FindStringSubmatch(task); m != nil {
		out.DataPath = m[1]
		if out.Kind != "general" {
			out.Confidence += 0.05
		}
	}
	if m := targetRe.FindStringSubmatch(task); m != nil {
		out.TargetColumn = strings.ToLower(m[1])
	}
	return out
}

func (d *dataAnalysisAgent) execute(ctx context.Context, task string, execCtx map[string]interface{}) (map[string]interface{}, error) {
	detected := DetectMLTask(task)

	var b strings.Builder
	b.WriteString("You are a data analyst. Produce a concrete, actionable analysis.\n")
	if detected.Kind != "general" && detected.Confidence >= 0.6 {
		fmt.Fprintf(&b, "This is a %s problem", detected.Kind)
		if detected.DataPath != "" {
			fmt.Fprintf(&b, " over the dataset at %s", detected.DataPath)
		}
		if detected.TargetColumn != "" {
			fmt.Fprintf(&b, " with target column %q", detected.TargetColumn)
		}
		b.WriteString(". Recommend preprocessing, model candidates, and an evaluation metric.\n")
	}
	if steps, ok := execCtx["_steps"].(map[string]interface{}); ok {
		if data, ok := steps["fetch"].(string); ok && data != "" {
			fmt.Fprintf(&b, "\nData from the previous step:\n%s\n", data)
		}
	}
	fmt.Fprintf(&b, "\nTask: %s", task)

	resp, err := d.generate(ctx, &llms.Request{
		Messages: []llms.Message{{Role: llms.RoleUser, Content: b.String()}},
	}, execCtx)
	if err != nil {
		return nil, err
	}

	result := map[string]interface{}{
		"success":     true,
		"analysis":    resp.Content,
		"ml_task":     detected,
		"_model_used": resp.Model,
	}

	if d.deps.AutoML != nil && detected.Confidence >= 0.6 && detected.DataPath != "" && detected.TargetColumn != "" {
		if mlOut, err := d.deps.AutoML.Run(ctx, detected); err != nil {
			d.log.Warn("automl run failed", "kind", detected.Kind, "error", err)
		} else {
			result["automl"] = mlOut
		}
	}

	// Small pure-computation snippets in the reply can be verified in the
	// sandbox; anything touching files or the network fails Analyze and is
	// simply not run.
	if d.deps.Sandbox != nil {
		if snippet := extractPythonSnippet(resp.Content); snippet != "" && d.deps.Sandbox.Analyze(snippet) == nil {
			run := d.deps.Sandbox.Run(ctx, snippet)
			if run.Success {
				result["computation_output"] = run.Stdout
			}
		}
	}
	return result, nil
}

var pythonFenceRe = regexp.MustCompile("(?s)```(?:python|py)\n(.*?)```")

func extractPythonSnippet(text string) string {
	m := pythonFenceRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
