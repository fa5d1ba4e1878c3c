// Package agent implements the agent variants and the execution pipeline
// they share: recommended-model lookup, the reflection loop, memory writes,
// and mediator-backed collaboration.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nestorlabs/nestor/pkg/assembler"
	"github.com/nestorlabs/nestor/pkg/capability"
	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/llms"
	"github.com/nestorlabs/nestor/pkg/logger"
	"github.com/nestorlabs/nestor/pkg/mediator"
	"github.com/nestorlabs/nestor/pkg/memory"
	"github.com/nestorlabs/nestor/pkg/metrics"
	"github.com/nestorlabs/nestor/pkg/reflection"
	"github.com/nestorlabs/nestor/pkg/sandbox"
	"github.com/nestorlabs/nestor/pkg/tools"
	"github.com/nestorlabs/nestor/pkg/validator"
)

// LLM is the slice of the gateway that agents call.
type LLM interface {
	Generate(ctx context.Context, req *llms.Request, opts llms.CallOptions) (*llms.Response, error)
	Stream(ctx context.Context, req *llms.Request, opts llms.CallOptions) (<-chan llms.StreamChunk, error)
}

// Agent is the public agent contract. It embeds the mediator-facing side so
// every agent can receive delegations and broadcasts.
type Agent interface {
	mediator.Agent
	Config() *config.AgentConfig
	ExecuteStream(ctx context.Context, task string, execCtx map[string]interface{}) (<-chan llms.StreamChunk, error)
	Close() error
}

// Deps carries the shared components agents draw on. Everything except the
// gateway is optional; variants degrade when a piece is absent.
type Deps struct {
	Gateway   LLM
	Memory    *memory.Store
	Assembler *assembler.Assembler
	Validator *validator.Validator
	Tools     *tools.Registry
	Sandbox   *sandbox.Sandbox
	Metrics   *metrics.Set

	// AutoML is optional; nil keeps data analysis LLM-driven.
	AutoML AutoMLRunner
}

// executeImpl is a variant's core behavior, wrapped by the shared pipeline.
type executeImpl func(ctx context.Context, task string, execCtx map[string]interface{}) (map[string]interface{}, error)

// BaseAgent carries the state and pipeline shared by all variants.
type BaseAgent struct {
	name     string
	cfg      *config.AgentConfig
	caps     capability.Set
	taskType string
	deps     Deps
	med      *mediator.Mediator
	reflect  *reflection.Controller
	impl     executeImpl
	log      *slog.Logger
}

func newBase(name string, cfg *config.AgentConfig, caps capability.Set, taskType string, deps Deps) *BaseAgent {
	for _, extra := range cfg.Capabilities {
		if c, err := capability.Parse(extra); err == nil {
			caps.Add(c)
		}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Default()
	}

	a := &BaseAgent{
		name:     name,
		cfg:      cfg,
		caps:     caps,
		taskType: taskType,
		deps:     deps,
		log:      logger.Component("agent." + name),
	}

	refCfg := cfg.Reflection
	if refCfg == nil {
		refCfg = &config.ReflectionConfig{}
		refCfg.SetDefaults()
	}
	if refCfg.Enabled == nil || *refCfg.Enabled {
		var learner reflection.Learner
		if deps.Memory != nil {
			learner = deps.Memory
		}
		a.reflect = reflection.NewController(refCfg, deps.Gateway, learner)
	}
	return a
}

func (a *BaseAgent) Name() string                 { return a.name }
func (a *BaseAgent) Capabilities() capability.Set { return a.caps }
func (a *BaseAgent) Config() *config.AgentConfig  { return a.cfg }

// SetMediator wires the bus handle. The registry calls this once every
// agent exists, so construction never races message delivery.
func (a *BaseAgent) SetMediator(m *mediator.Mediator) { a.med = m }

// Execute runs the shared pipeline around the variant implementation:
// model recommendation, reflection, memory writes, and timing.
func (a *BaseAgent) Execute(ctx context.Context, task string, execCtx map[string]interface{}) (map[string]interface{}, error) {
	start := time.Now()
	if execCtx == nil {
		execCtx = map[string]interface{}{}
	}

	if _, set := execCtx["preferred_model"]; !set && a.deps.Memory != nil {
		if rec := a.deps.Memory.BestModelForTaskType(ctx, a.taskType); rec != nil {
			execCtx["_memory_recommended_model"] = rec.Model
			a.log.Debug("using recommended model", "model", rec.Model, "task_type", a.taskType)
		}
	}

	var result map[string]interface{}
	var err error
	correction := execCtx["_correction_mode"] == true
	if a.reflect != nil && !correction {
		result, err = a.reflect.ExecuteWithReflection(ctx, a.name, task, execCtx, reflection.ExecuteFunc(a.impl))
	} else {
		result, err = a.impl(ctx, task, execCtx)
	}

	elapsed := time.Since(start)
	if err != nil {
		a.recordFailure(ctx, task, err)
		if a.deps.Memory != nil {
			// Failures count against the model's task stats too.
			a.deps.Memory.RecordModelResult(ctx, a.callOptions(execCtx).Model, a.taskType, false, 0, elapsed)
		}
		a.deps.Metrics.TasksTotal.WithLabelValues(a.name, "error").Inc()
		return nil, fmt.Errorf("[agent:%s] %w", a.name, err)
	}
	if result == nil {
		result = map[string]interface{}{}
	}

	a.saveSolution(ctx, task, result)
	a.recordModelOutcome(ctx, result, elapsed)
	result["_execution_time"] = elapsed.Seconds()
	a.deps.Metrics.TasksTotal.WithLabelValues(a.name, "success").Inc()
	a.deps.Metrics.TaskDuration.Observe(elapsed.Seconds())
	return result, nil
}

// saveSolution writes non-trivial solutions unless the reflection loop
// already stored one or the variant vetoed storage.
func (a *BaseAgent) saveSolution(ctx context.Context, task string, result map[string]interface{}) {
	if a.deps.Memory == nil {
		return
	}
	if result["_memory_id"] != nil || result["_skip_memory"] == true {
		return
	}
	solution := solutionText(result)
	if len(solution) < 50 {
		return
	}
	model, _ := result["_model_used"].(string)
	if id := a.deps.Memory.SaveSolution(ctx, task, solution, a.name, nil, model); id != "" {
		result["_memory_id"] = id
	}
}

func (a *BaseAgent) recordModelOutcome(ctx context.Context, result map[string]interface{}, elapsed time.Duration) {
	if a.deps.Memory == nil {
		return
	}
	model, _ := result["_model_used"].(string)
	quality := 50.0
	if score, ok := result["_reflection"].(*reflection.Score); ok {
		quality = score.Overall
	}
	a.deps.Memory.RecordModelResult(ctx, model, a.taskType, true, quality, elapsed)
}

func solutionText(result map[string]interface{}) string {
	for _, key := range []string{"code", "final_answer", "analysis", "report", "result", "response"} {
		if v, ok := result[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func (a *BaseAgent) recordFailure(ctx context.Context, task string, err error) {
	if a.deps.Memory == nil {
		return
	}
	a.deps.Memory.SaveFailedTask(ctx, memory.FailedTask{
		Task:         task,
		Agent:        a.name,
		ErrorKind:    fmt.Sprintf("%T", err),
		ErrorMessage: err.Error(),
	})
}

// ExecuteStream streams model output for a task. The gateway degrades to a
// single-chunk stream for providers without streaming support, so callers
// always get a channel.
func (a *BaseAgent) ExecuteStream(ctx context.Context, task string, execCtx map[string]interface{}) (<-chan llms.StreamChunk, error) {
	if execCtx == nil {
		execCtx = map[string]interface{}{}
	}
	req := &llms.Request{
		Messages:    []llms.Message{{Role: llms.RoleUser, Content: task}},
		Temperature: a.cfg.Temperature,
	}
	if a.cfg.Thinking != nil && *a.cfg.Thinking {
		req.Thinking = true
	}
	return a.deps.Gateway.Stream(ctx, req, a.callOptions(execCtx))
}

// callOptions resolves provider and model selection for one call.
func (a *BaseAgent) callOptions(execCtx map[string]interface{}) llms.CallOptions {
	preferred, _ := execCtx["preferred_model"].(string)
	recommended, _ := execCtx["_memory_recommended_model"].(string)
	serverURL, _ := execCtx["server_url"].(string)
	return llms.CallOptions{
		Provider:  a.cfg.Provider,
		Model:     llms.ResolveModel(preferred, recommended, a.cfg.Model),
		ServerURL: serverURL,
	}
}

// generate is the common single-call path used by variants.
func (a *BaseAgent) generate(ctx context.Context, req *llms.Request, execCtx map[string]interface{}) (*llms.Response, error) {
	if req.Temperature == nil {
		req.Temperature = a.cfg.Temperature
	}
	if a.cfg.Thinking != nil && *a.cfg.Thinking {
		req.Thinking = true
	}
	return a.deps.Gateway.Generate(ctx, req, a.callOptions(execCtx))
}

// retrieveContext pulls assembled retrieval context when an assembler is
// wired. Failures degrade to no context.
func (a *BaseAgent) retrieveContext(ctx context.Context, task string) string {
	if a.deps.Assembler == nil {
		return ""
	}
	out, err := a.deps.Assembler.GetContext(ctx, task, 0, true, false)
	if err != nil {
		a.log.Debug("context retrieval failed", "error", err)
		return ""
	}
	return out
}

// personalization returns the stored preference prompt for the requesting
// user when the execution context names one.
func (a *BaseAgent) personalization(ctx context.Context, execCtx map[string]interface{}) string {
	if a.deps.Memory == nil {
		return ""
	}
	userID, _ := execCtx["user_id"].(string)
	if userID == "" {
		return ""
	}
	return a.deps.Memory.PersonalizationPrompt(ctx, userID)
}

// DelegateTo forwards a subtask to a named agent through the mediator.
func (a *BaseAgent) DelegateTo(ctx context.Context, to, subtask string, execCtx map[string]interface{}, timeout time.Duration) (*mediator.DelegationResult, error) {
	if a.med == nil {
		return nil, fmt.Errorf("[agent:%s] no mediator wired", a.name)
	}
	return a.med.DelegateSubtask(ctx, a.name, to, subtask, execCtx, 0, timeout), nil
}

// RequestHelp asks the mediator for any other agent with the capability.
func (a *BaseAgent) RequestHelp(ctx context.Context, cap capability.Capability, task string, execCtx map[string]interface{}) (*mediator.DelegationResult, error) {
	if a.med == nil {
		return nil, fmt.Errorf("[agent:%s] no mediator wired", a.name)
	}
	return a.med.RequestHelp(ctx, a.name, cap, task, execCtx), nil
}

// Broadcast sends content to every other agent and collects responses.
func (a *BaseAgent) Broadcast(ctx context.Context, content map[string]interface{}) (map[string]interface{}, error) {
	if a.med == nil {
		return nil, fmt.Errorf("[agent:%s] no mediator wired", a.name)
	}
	return a.med.BroadcastToAll(ctx, a.name, content), nil
}

// OnBroadcast acknowledges by default. Variants override when they react to
// announcements.
func (a *BaseAgent) OnBroadcast(ctx context.Context, content map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{"agent": a.name, "received": true}, nil
}

func (a *BaseAgent) Close() error { return nil }

// New constructs an agent variant by its configured type.
func New(name string, cfg *config.AgentConfig, deps Deps) (Agent, error) {
	if cfg == nil {
		return nil, fmt.Errorf("[agent] %s: config is required", name)
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("[agent] %s: LLM gateway is required", name)
	}
	switch cfg.Type {
	case "code_writer":
		return newCodeWriter(name, cfg, deps), nil
	case "react":
		return newReact(name, cfg, deps), nil
	case "research":
		return newResearch(name, cfg, deps), nil
	case "data_analysis":
		return newDataAnalysis(name, cfg, deps), nil
	case "workflow":
		return newWorkflowAgent(name, cfg, deps), nil
	case "integration":
		return newIntegration(name, cfg, deps), nil
	case "monitoring":
		return newMonitoring(name, cfg, deps), nil
	default:
		return nil, fmt.Errorf("[agent] %s: unknown type %q", name, cfg.Type)
	}
}
