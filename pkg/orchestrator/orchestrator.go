// Package orchestrator is the task entrypoint: it routes each task to an
// agent, caps concurrent execution, and fans batches out in parallel.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/nestorlabs/nestor/pkg/agent"
	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/llms"
	"github.com/nestorlabs/nestor/pkg/logger"
)

// Generator is the classification slice of the gateway.
type Generator interface {
	Generate(ctx context.Context, req *llms.Request, opts llms.CallOptions) (*llms.Response, error)
}

// Orchestrator routes tasks onto the agent team.
type Orchestrator struct {
	cfg      *config.OrchestratorConfig
	registry *agent.AgentRegistry
	llm      Generator
	sem      *semaphore.Weighted
	log      *slog.Logger
}

func New(cfg *config.OrchestratorConfig, reg *agent.AgentRegistry, llm Generator) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		registry: reg,
		llm:      llm,
		sem:      semaphore.NewWeighted(int64(cfg.MaxParallelTasks)),
		log:      logger.Component("orchestrator"),
	}
}

// ExecuteTask runs one task. An empty or "auto" agent name routes by task
// content. Concurrency across callers is bounded by max_parallel_tasks.
func (o *Orchestrator) ExecuteTask(ctx context.Context, task, agentName string, execCtx map[string]interface{}) (map[string]interface{}, error) {
	if strings.TrimSpace(task) == "" {
		return nil, fmt.Errorf("[orchestrator] task is empty")
	}
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("[orchestrator] waiting for execution slot: %w", err)
	}
	defer o.sem.Release(1)

	if agentName == "" || agentName == "auto" {
		agentName = o.route(ctx, task)
		o.log.Info("routed task", "agent", agentName, "task", truncate(task, 80))
	}
	a, ok := o.registry.Get(agentName)
	if !ok {
		return nil, fmt.Errorf("[orchestrator] unknown agent %q", agentName)
	}
	return a.Execute(ctx, task, execCtx)
}

// ExecuteAgent implements workflow.AgentRunner so workflow steps share the
// same routing, slot limits, and error taxonomy as top-level tasks.
func (o *Orchestrator) ExecuteAgent(ctx context.Context, agentName, task string, execCtx map[string]interface{}) (map[string]interface{}, error) {
	return o.ExecuteTask(ctx, task, agentName, execCtx)
}

// Task is one unit of a batch.
type Task struct {
	Task    string
	Agent   string
	Context map[string]interface{}
}

// TaskResult pairs a batch entry with its outcome.
type TaskResult struct {
	Task   string
	Agent  string
	Result map[string]interface{}
	Err    error
}

// ExecuteBatch runs tasks concurrently. Per-task slot limits still apply,
// so a large batch cannot starve interactive callers. Failures are
// reported per entry; the batch itself never errors.
func (o *Orchestrator) ExecuteBatch(ctx context.Context, tasks []Task) []TaskResult {
	results := make([]TaskResult, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	for i, task := range tasks {
		g.Go(func() error {
			out, err := o.ExecuteTask(gctx, task.Task, task.Agent, task.Context)
			results[i] = TaskResult{Task: task.Task, Agent: task.Agent, Result: out, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// routeDecision is the structured classifier output.
type routeDecision struct {
	Agent  string `json:"agent"`
	Reason string `json:"reason"`
}

// route picks an agent for a task: model classification when enabled,
// keyword heuristics otherwise or on any classifier failure.
func (o *Orchestrator) route(ctx context.Context, task string) string {
	if o.llm != nil && (o.cfg.LLMRouting == nil || *o.cfg.LLMRouting) {
		if name := o.classify(ctx, task); name != "" {
			return name
		}
	}
	return o.heuristicRoute(task)
}

func (o *Orchestrator) classify(ctx context.Context, task string) string {
	var b strings.Builder
	b.WriteString("Pick the best agent for the task. Reply as JSON {\"agent\": ..., \"reason\": ...}.\n\nAgents:\n")
	for _, name := range o.registry.AgentNames() {
		a, ok := o.registry.Get(name)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", name, strings.Join(a.Capabilities().Strings(), ", "))
	}
	fmt.Fprintf(&b, "\nTask: %s", truncate(task, 500))

	temp := 0.0
	resp, err := o.llm.Generate(ctx, &llms.Request{
		Messages:    []llms.Message{{Role: llms.RoleUser, Content: b.String()}},
		Temperature: &temp,
		MaxTokens:   200,
		Structured:  &llms.StructuredOutput{},
	}, llms.CallOptions{Provider: o.cfg.Provider, Model: o.cfg.Model})
	if err != nil {
		o.log.Debug("routing classification failed", "error", err)
		return ""
	}

	payload := resp.Content
	if start := strings.Index(payload, "{"); start >= 0 {
		if end := strings.LastIndex(payload, "}"); end > start {
			payload = payload[start : end+1]
		}
	}
	var decision routeDecision
	if err := json.Unmarshal([]byte(payload), &decision); err != nil {
		o.log.Debug("unparseable routing decision", "content", truncate(resp.Content, 120))
		return ""
	}
	if _, ok := o.registry.Get(decision.Agent); !ok {
		return ""
	}
	return decision.Agent
}

var routeSignals = []struct {
	agentType string
	pattern   *regexp.Regexp
}{
	{"workflow", regexp.MustCompile(`(?i)\b(workflow|pipeline|multi.?step|then\b.+\bthen)\b`)},
	{"monitoring", regexp.MustCompile(`(?i)\b(monitor|health|cpu|memory usage|uptime|status check)\b`)},
	{"data_analysis", regexp.MustCompile(`(?i)\b(analy[sz]e|dataset|\.csv\b|statistics|classif\w+|regress\w+|cluster\w*|forecast)\b`)},
	{"integration", regexp.MustCompile(`(?i)\b(api|endpoint|integrat\w+|webhook|http request)\b`)},
	{"code_writer", regexp.MustCompile(`(?i)\b(write|implement|refactor|fix|debug)\b.*\b(code|function|class|script|module|bug)\b`)},
	{"research", regexp.MustCompile(`(?i)\b(research|search|find|look up|latest|news|compare)\b`)},
}

// heuristicRoute maps keyword signals onto whichever registered agent has
// the matching type. Falls back to a react agent, then the first name.
func (o *Orchestrator) heuristicRoute(task string) string {
	byType := map[string]string{}
	for _, name := range o.registry.AgentNames() {
		if a, ok := o.registry.Get(name); ok {
			if _, seen := byType[a.Config().Type]; !seen {
				byType[a.Config().Type] = name
			}
		}
	}

	for _, sig := range routeSignals {
		if name, ok := byType[sig.agentType]; ok && sig.pattern.MatchString(task) {
			return name
		}
	}
	if name, ok := byType["react"]; ok {
		return name
	}
	names := o.registry.AgentNames()
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
