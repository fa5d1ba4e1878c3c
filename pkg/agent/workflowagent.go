package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/nestorlabs/nestor/pkg/capability"
	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/llms"
	"github.com/nestorlabs/nestor/pkg/workflow"
)

// workflowAgent turns a task into a multi-step plan and runs it. A caller
// may hand over a ready-made plan under "workflow" in the execution
// context; otherwise the model synthesizes one.
type workflowAgent struct {
	*BaseAgent
	executor *workflow.Executor
}

func newWorkflowAgent(name string, cfg *config.AgentConfig, deps Deps) *workflowAgent {
	w := &workflowAgent{}
	w.BaseAgent = newBase(name, cfg,
		capability.NewSet(capability.Workflow, capability.Reasoning),
		"reasoning", deps)
	w.executor = workflow.NewExecutor(mediatorRunner{w.BaseAgent}, deps.Tools, deps.Sandbox)
	w.impl = w.execute
	return w
}

// mediatorRunner dispatches workflow agent steps over the message bus so
// delegation stats and history cover them too.
type mediatorRunner struct {
	base *BaseAgent
}

func (r mediatorRunner) ExecuteAgent(ctx context.Context, agent, task string, execCtx map[string]interface{}) (map[string]interface{}, error) {
	dr, err := r.base.DelegateTo(ctx, agent, task, execCtx, 5*time.Minute)
	if err != nil {
		return nil, err
	}
	if !dr.Success {
		return nil, fmt.Errorf("step delegation to %s: %s", agent, dr.Error)
	}
	return dr.Result, nil
}

func (w *workflowAgent) execute(ctx context.Context, task string, execCtx map[string]interface{}) (map[string]interface{}, error) {
	wf, err := w.resolvePlan(ctx, task, execCtx)
	if err != nil {
		return nil, err
	}

	result, err := w.executor.Execute(ctx, wf)
	if err != nil {
		return nil, err
	}

	out := map[string]interface{}{
		"success":      result.Success,
		"workflow":     wf.Name,
		"steps_total":  len(result.Steps),
		"result":       summarizeRun(result),
		"step_results": result.Steps,
	}
	if !result.Success {
		out["_skip_memory"] = true
	}
	return out, nil
}

// resolvePlan decodes a caller-provided plan or asks the model for one.
func (w *workflowAgent) resolvePlan(ctx context.Context, task string, execCtx map[string]interface{}) (*workflow.Workflow, error) {
	if raw, ok := execCtx["workflow"]; ok {
		switch v := raw.(type) {
		case *workflow.Workflow:
			return v, nil
		case string:
			return workflow.ParseYAML([]byte(v))
		case []byte:
			return workflow.ParseYAML(v)
		case map[string]interface{}:
			var wf workflow.Workflow
			if err := mapstructure.Decode(v, &wf); err != nil {
				return nil, fmt.Errorf("decoding workflow: %w", err)
			}
			return &wf, nil
		default:
			return nil, fmt.Errorf("unsupported workflow payload %T", raw)
		}
	}
	return w.synthesizePlan(ctx, task, execCtx)
}

func (w *workflowAgent) synthesizePlan(ctx context.Context, task string, execCtx map[string]interface{}) (*workflow.Workflow, error) {
	agents := "research, code_writer, data_analysis"
	if w.med != nil {
		if names := w.med.AgentNames(); len(names) > 0 {
			agents = strings.Join(names, ", ")
		}
	}

	prompt := fmt.Sprintf(`Break the task below into a workflow of 2 to 5 steps.
Each step is {"name", "type", ...} where type is "agent" (fields: agent, task),
"tool" (fields: tool, args), or "code" (field: code, safe python).
Available agents: %s.
Steps may list "depends_on" with names of earlier steps.
Return JSON: {"name": "...", "steps": [...]}

Task: %s`, agents, task)

	temp := 0.2
	resp, err := w.generate(ctx, &llms.Request{
		Messages:    []llms.Message{{Role: llms.RoleUser, Content: prompt}},
		Temperature: &temp,
		Structured:  &llms.StructuredOutput{},
	}, execCtx)
	if err != nil {
		return nil, fmt.Errorf("planning workflow: %w", err)
	}

	var wf workflow.Workflow
	payload := resp.Content
	if start := strings.Index(payload, "{"); start >= 0 {
		if end := strings.LastIndex(payload, "}"); end > start {
			payload = payload[start : end+1]
		}
	}
	if err := json.Unmarshal([]byte(payload), &wf); err != nil {
		w.log.Warn("plan did not parse, wrapping task in a single step",
			"error", err, "content", truncatePlan(resp.Content))
		return w.fallbackPlan(task), nil
	}
	if wf.Name == "" {
		wf.Name = "synthesized"
	}
	if err := workflow.Validate(&wf); err != nil {
		w.log.Warn("plan failed validation, wrapping task in a single step", "error", err)
		return w.fallbackPlan(task), nil
	}
	return &wf, nil
}

// fallbackPlan wraps the whole task in one delegated step, preferring a
// react agent and otherwise the first registered agent that is not this
// one.
func (w *workflowAgent) fallbackPlan(task string) *workflow.Workflow {
	target := "react"
	if w.med != nil {
		names := w.med.AgentNames()
		found := false
		for _, n := range names {
			if n == target {
				found = true
				break
			}
		}
		if !found {
			for _, n := range names {
				if n != w.name {
					target = n
					break
				}
			}
		}
	}
	return &workflow.Workflow{
		Name:  "single_step",
		Steps: []workflow.Step{{Name: "run_task", Type: workflow.StepAgent, Agent: target, Task: task}},
	}
}

func truncatePlan(s string) string {
	if len(s) > 120 {
		return s[:120]
	}
	return s
}

func summarizeRun(result *workflow.Result) string {
	var b strings.Builder
	for _, sr := range result.Steps {
		status := "ok"
		if !sr.Success {
			status = "failed: " + sr.Error
		}
		fmt.Fprintf(&b, "%s: %s\n", sr.Name, status)
	}
	return strings.TrimSpace(b.String())
}
