package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/nestorlabs/nestor/pkg/capability"
	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/llms"
)

// reactAgent runs the think-act-observe loop over the tool registry.
type reactAgent struct {
	*BaseAgent
}

func newReact(name string, cfg *config.AgentConfig, deps Deps) *reactAgent {
	r := &reactAgent{}
	r.BaseAgent = newBase(name, cfg,
		capability.NewSet(capability.Reasoning, capability.ToolUsage),
		"reasoning", deps)
	r.impl = r.execute
	return r
}

var (
	finalAnswerRe = regexp.MustCompile(`(?s)Final Answer:\s*(.+)`)
	actionRe      = regexp.MustCompile(`Action:\s*(\S+)`)
	actionInputRe = regexp.MustCompile(`(?s)Action Input:\s*(\{.*?\}|\S[^\n]*)`)
	thoughtRe     = regexp.MustCompile(`Thought:\s*([^\n]+)`)
)

// hardTaskRe flags tasks worth a reasoning trace when thinking is not
// explicitly configured.
var hardTaskRe = regexp.MustCompile(`(?i)\b(why|prove|compare|trade.?off|debug|diagnose|step.by.step|architecture)\b`)

func (r *reactAgent) execute(ctx context.Context, task string, execCtx map[string]interface{}) (map[string]interface{}, error) {
	maxIter := r.cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = 10
	}

	transcript := []llms.Message{
		{Role: llms.RoleSystem, Content: r.systemPrompt()},
		{Role: llms.RoleUser, Content: fmt.Sprintf("Task: %s", task)},
	}
	thinking := r.cfg.Thinking != nil && *r.cfg.Thinking
	if !thinking && (len(task) > 300 || hardTaskRe.MatchString(task)) {
		thinking = true
	}

	var trace []map[string]string
	for iter := 0; iter < maxIter; iter++ {
		resp, err := r.generate(ctx, &llms.Request{
			Messages: transcript,
			Thinking: thinking,
		}, execCtx)
		if err != nil {
			return nil, err
		}

		if m := finalAnswerRe.FindStringSubmatch(resp.Content); m != nil {
			return map[string]interface{}{
				"success":      true,
				"final_answer": strings.TrimSpace(m[1]),
				"iterations":   iter + 1,
				"trace":        trace,
				"_model_used":  resp.Model,
			}, nil
		}

		step := map[string]string{}
		if m := thoughtRe.FindStringSubmatch(resp.Content); m != nil {
			step["thought"] = strings.TrimSpace(m[1])
		}

		action := actionRe.FindStringSubmatch(resp.Content)
		if action == nil {
			if thought, partial := step["thought"]; partial {
				// The model started the format but produced neither an action
				// nor an answer; feed the format back as an observation.
				feedback := "Reply with an Action and Action Input line, or a Final Answer line."
				trace = append(trace, map[string]string{"thought": thought, "observation": feedback})
				transcript = append(transcript,
					llms.Message{Role: llms.RoleAssistant, Content: resp.Content},
					llms.Message{Role: llms.RoleUser, Content: "Observation: " + feedback},
				)
				continue
			}
			// No format markers at all: treat the whole reply as the answer
			// rather than spinning through the remaining iterations.
			return map[string]interface{}{
				"success":      true,
				"final_answer": strings.TrimSpace(resp.Content),
				"iterations":   iter + 1,
				"trace":        trace,
				"_model_used":  resp.Model,
			}, nil
		}

		toolName := strings.TrimSpace(action[1])
		args := parseActionInput(resp.Content)
		observation := r.runTool(ctx, toolName, args)

		step["action"] = toolName
		step["observation"] = observation
		trace = append(trace, step)

		transcript = append(transcript,
			llms.Message{Role: llms.RoleAssistant, Content: resp.Content},
			llms.Message{Role: llms.RoleUser, Content: fmt.Sprintf("Observation: %s", observation)},
		)
	}

	return nil, fmt.Errorf("no final answer after %d iterations", maxIter)
}

func (r *reactAgent) systemPrompt() string {
	var b strings.Builder
	b.WriteString("Answer the task by reasoning in steps. Use this exact format:\n")
	b.WriteString("Thought: what you are thinking\n")
	b.WriteString("Action: tool_name\n")
	b.WriteString("Action Input: {\"arg\": \"value\"}\n")
	b.WriteString("Stop after Action Input and wait for the Observation.\n")
	b.WriteString("When you know the answer, reply with:\nFinal Answer: the answer\n\n")

	if r.deps.Tools != nil {
		defs := r.deps.Tools.Definitions()
		if len(defs) > 0 {
			b.WriteString("Available tools:\n")
			for _, def := range defs {
				fmt.Fprintf(&b, "- %s: %s\n", def.Name, def.Description)
			}
		}
	}
	return b.String()
}

func (r *reactAgent) runTool(ctx context.Context, name string, args map[string]interface{}) string {
	if r.deps.Tools == nil {
		return "error: no tools available"
	}
	tool, ok := r.deps.Tools.Get(name)
	if !ok {
		return fmt.Sprintf("error: unknown tool %q", name)
	}
	out, err := tool.Execute(ctx, args)
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	return out
}

// parseActionInput reads the Action Input payload: JSON when it looks like
// JSON, otherwise the raw line under an "input" key.
func parseActionInput(content string) map[string]interface{} {
	m := actionInputRe.FindStringSubmatch(content)
	if m == nil {
		return map[string]interface{}{}
	}
	raw := strings.TrimSpace(m[1])
	if strings.HasPrefix(raw, "{") {
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &args); err == nil {
			return args
		}
	}
	return map[string]interface{}{"input": raw}
}
