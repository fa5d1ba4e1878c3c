// Package workflow defines multi-step plans and their ordered executor.
// Steps are agent delegations, tool calls, or sandboxed code, validated
// before anything runs.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nestorlabs/nestor/pkg/logger"
	"github.com/nestorlabs/nestor/pkg/sandbox"
	"github.com/nestorlabs/nestor/pkg/tools"
)

// Step types.
const (
	StepAgent = "agent"
	StepTool  = "tool"
	StepCode  = "code"
)

// Step is one unit of a workflow.
type Step struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`

	// Task and Agent apply to agent steps.
	Task  string `json:"task,omitempty" yaml:"task,omitempty"`
	Agent string `json:"agent,omitempty" yaml:"agent,omitempty"`

	// Tool and Args apply to tool steps.
	Tool string                 `json:"tool,omitempty" yaml:"tool,omitempty"`
	Args map[string]interface{} `json:"args,omitempty" yaml:"args,omitempty"`

	// Code applies to code steps.
	Code string `json:"code,omitempty" yaml:"code,omitempty"`

	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// Workflow is an ordered plan.
type Workflow struct {
	Name        string `json:"name" yaml:"name"`
	Steps       []Step `json:"steps" yaml:"steps"`
	StopOnError bool   `json:"stop_on_error,omitempty" yaml:"stop_on_error,omitempty"`
}

// StepResult is the outcome of one executed step.
type StepResult struct {
	Name     string        `json:"name"`
	Success  bool          `json:"success"`
	Output   interface{}   `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Result is the outcome of a whole workflow run.
type Result struct {
	Workflow string        `json:"workflow"`
	Success  bool          `json:"success"`
	Steps    []StepResult  `json:"steps"`
	Duration time.Duration `json:"duration"`
}

// Validate checks structural invariants: unique step names, known step
// types, per-type required fields, and dependencies that refer only to
// earlier steps (order implies the absence of cycles).
func Validate(wf *Workflow) error {
	if len(wf.Steps) == 0 {
		return fmt.Errorf("[workflow] %q has no steps", wf.Name)
	}

	seen := make(map[string]struct{}, len(wf.Steps))
	for i, step := range wf.Steps {
		if step.Name == "" {
			return fmt.Errorf("[workflow] step %d has no name", i)
		}
		if _, dup := seen[step.Name]; dup {
			return fmt.Errorf("[workflow] duplicate step name %q", step.Name)
		}

		switch step.Type {
		case StepAgent:
			if step.Agent == "" || step.Task == "" {
				return fmt.Errorf("[workflow] agent step %q needs agent and task", step.Name)
			}
		case StepTool:
			if step.Tool == "" {
				return fmt.Errorf("[workflow] tool step %q needs a tool name", step.Name)
			}
		case StepCode:
			if step.Code == "" {
				return fmt.Errorf("[workflow] code step %q has no code", step.Name)
			}
		default:
			return fmt.Errorf("[workflow] step %q has invalid type %q", step.Name, step.Type)
		}

		for _, dep := range step.DependsOn {
			if _, ok := seen[dep]; !ok {
				return fmt.Errorf("[workflow] step %q depends on %q which is not an earlier step", step.Name, dep)
			}
		}
		seen[step.Name] = struct{}{}
	}
	return nil
}

// AgentRunner dispatches an agent step. The orchestrator provides one
// backed by the registry and mediator.
type AgentRunner interface {
	ExecuteAgent(ctx context.Context, agent, task string, execCtx map[string]interface{}) (map[string]interface{}, error)
}

// Executor runs validated workflows step by step.
type Executor struct {
	agents  AgentRunner
	tools   *tools.Registry
	sandbox *sandbox.Sandbox
	log     *slog.Logger
}

func NewExecutor(agents AgentRunner, toolRegistry *tools.Registry, sb *sandbox.Sandbox) *Executor {
	return &Executor{
		agents:  agents,
		tools:   toolRegistry,
		sandbox: sb,
		log:     logger.Component("workflow"),
	}
}

// Execute validates and runs wf. Earlier step results are exposed to agent
// steps under "_steps" in the execution context. A failed step aborts the
// run when StopOnError is set; otherwise later steps still run unless a
// dependency of theirs failed.
func (e *Executor) Execute(ctx context.Context, wf *Workflow) (*Result, error) {
	if err := Validate(wf); err != nil {
		return nil, err
	}

	start := time.Now()
	result := &Result{Workflow: wf.Name, Success: true}
	failed := make(map[string]bool)

	for _, step := range wf.Steps {
		if skipped, dep := dependencyFailed(step, failed); skipped {
			result.Steps = append(result.Steps, StepResult{
				Name:  step.Name,
				Error: fmt.Sprintf("skipped: dependency %q failed", dep),
			})
			failed[step.Name] = true
			result.Success = false
			continue
		}

		sr := e.runStep(ctx, step, result.Steps)
		result.Steps = append(result.Steps, sr)
		if !sr.Success {
			failed[step.Name] = true
			result.Success = false
			e.log.Warn("workflow step failed", "workflow", wf.Name, "step", step.Name, "error", sr.Error)
			if wf.StopOnError {
				break
			}
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

func dependencyFailed(step Step, failed map[string]bool) (bool, string) {
	for _, dep := range step.DependsOn {
		if failed[dep] {
			return true, dep
		}
	}
	return false, ""
}

func (e *Executor) runStep(ctx context.Context, step Step, prior []StepResult) StepResult {
	start := time.Now()
	sr := StepResult{Name: step.Name}

	switch step.Type {
	case StepAgent:
		if e.agents == nil {
			sr.Error = "no agent runner wired"
			break
		}
		execCtx := map[string]interface{}{"_steps": stepOutputs(prior)}
		out, err := e.agents.ExecuteAgent(ctx, step.Agent, step.Task, execCtx)
		if err != nil {
			sr.Error = err.Error()
		} else {
			sr.Success = true
			sr.Output = out
		}
	case StepTool:
		tool, ok := e.tools.Get(step.Tool)
		if !ok {
			sr.Error = fmt.Sprintf("tool %q not registered", step.Tool)
			break
		}
		out, err := tool.Execute(ctx, step.Args)
		if err != nil {
			sr.Error = err.Error()
		} else {
			sr.Success = true
			sr.Output = out
		}
	case StepCode:
		run := e.sandbox.Run(ctx, step.Code)
		sr.Success = run.Success
		sr.Output = run.Stdout
		sr.Error = run.Error
	}

	sr.Duration = time.Since(start)
	return sr
}

func stepOutputs(prior []StepResult) map[string]interface{} {
	out := make(map[string]interface{}, len(prior))
	for _, sr := range prior {
		if sr.Success {
			out[sr.Name] = sr.Output
		}
	}
	return out
}
