package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/nestorlabs/nestor/pkg/capability"
	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/llms"
)

// monitoringAgent reports on host and runtime health. Broadcast events are
// counted so the report reflects bus activity since startup.
type monitoringAgent struct {
	*BaseAgent

	mu     sync.Mutex
	events []string
}

const monitoringEventLimit = 100

func newMonitoring(name string, cfg *config.AgentConfig, deps Deps) *monitoringAgent {
	m := &monitoringAgent{}
	m.BaseAgent = newBase(name, cfg,
		capability.NewSet(capability.Monitoring),
		"analysis", deps)
	m.impl = m.execute
	return m
}

func (m *monitoringAgent) execute(ctx context.Context, task string, execCtx map[string]interface{}) (map[string]interface{}, error) {
	sample := m.sample(ctx)

	var b strings.Builder
	b.WriteString("System status:\n")
	fmt.Fprintf(&b, "- CPU: %.1f%%\n", sample["cpu_percent"])
	fmt.Fprintf(&b, "- Memory: %.1f%%\n", sample["memory_percent"])
	if m.deps.Metrics != nil {
		snap := m.deps.Metrics.Snapshot()
		fmt.Fprintf(&b, "- Tasks executed: %.0f\n", snap["nestor_tasks_total"])
		fmt.Fprintf(&b, "- LLM calls: %.0f\n", snap["nestor_llm_calls_total"])
		fmt.Fprintf(&b, "- Delegations: %.0f\n", snap["nestor_delegations_total"])
	}
	m.mu.Lock()
	eventCount := len(m.events)
	m.mu.Unlock()
	fmt.Fprintf(&b, "- Broadcast events observed: %d\n", eventCount)
	status := b.String()

	result := map[string]interface{}{
		"success": true,
		"report":  status,
		"metrics": sample,
	}

	// Plain status checks need no model call; assessments do.
	if strings.Contains(strings.ToLower(task), "analy") || strings.Contains(strings.ToLower(task), "assess") {
		resp, err := m.generate(ctx, &llms.Request{
			Messages: []llms.Message{{Role: llms.RoleUser, Content: fmt.Sprintf(
				"Assess this system status and flag anything concerning.\n\n%s\n\nRequest: %s", status, task)}},
		}, execCtx)
		if err == nil {
			result["report"] = resp.Content
			result["_model_used"] = resp.Model
		}
	}
	return result, nil
}

func (m *monitoringAgent) sample(ctx context.Context) map[string]float64 {
	out := map[string]float64{"cpu_percent": 0, "memory_percent": 0}
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		out["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		out["memory_percent"] = vm.UsedPercent
	}
	if m.deps.Metrics != nil {
		m.deps.Metrics.CPUPercent.Set(out["cpu_percent"])
		m.deps.Metrics.MemoryPercent.Set(out["memory_percent"])
	}
	return out
}

// OnBroadcast records the announcement instead of just acking it.
func (m *monitoringAgent) OnBroadcast(ctx context.Context, content map[string]interface{}) (map[string]interface{}, error) {
	m.mu.Lock()
	m.events = append(m.events, fmt.Sprintf("%s %v", time.Now().UTC().Format(time.RFC3339), content))
	if len(m.events) > monitoringEventLimit {
		m.events = m.events[len(m.events)-monitoringEventLimit:]
	}
	m.mu.Unlock()
	return map[string]interface{}{"agent": m.name, "recorded": true}, nil
}
