// Package monitor samples host and runtime health on an interval and keeps
// a bounded history. The latest state is mirrored to a JSON file so it can
// be inspected without talking to the process.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/logger"
	"github.com/nestorlabs/nestor/pkg/metrics"
)

// Sample is one health observation.
type Sample struct {
	Timestamp     time.Time          `json:"timestamp"`
	CPUPercent    float64            `json:"cpu_percent"`
	MemoryPercent float64            `json:"memory_percent"`
	MemoryUsedMB  float64            `json:"memory_used_mb"`
	Counters      map[string]float64 `json:"counters,omitempty"`
}

// Monitor runs the periodic sampling loop.
type Monitor struct {
	cfg     *config.MonitoringConfig
	metrics *metrics.Set
	log     *slog.Logger

	mu      sync.Mutex
	history []Sample

	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

func New(cfg *config.MonitoringConfig, m *metrics.Set) *Monitor {
	if m == nil {
		m = metrics.Default()
	}
	return &Monitor{
		cfg:     cfg,
		metrics: m,
		log:     logger.Component("monitor"),
	}
}

// Start begins sampling until Stop or ctx cancellation. The first sample is
// taken immediately so health queries work right after startup.
func (m *Monitor) Start(ctx context.Context) {
	if m.cfg.Enabled != nil && !*m.cfg.Enabled {
		m.log.Debug("monitoring disabled")
		return
	}
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	interval := time.Duration(m.cfg.Interval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	go func() {
		defer close(m.done)
		m.sampleOnce(ctx)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sampleOnce(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
	m.log.Info("monitoring started", "interval", interval)
}

// Stop halts the loop and waits for the in-flight sample.
func (m *Monitor) Stop() {
	m.mu.Lock()
	started := m.started
	m.started = false
	m.mu.Unlock()
	if !started || m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

func (m *Monitor) sampleOnce(ctx context.Context) {
	sample := Sample{Timestamp: time.Now().UTC()}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		sample.CPUPercent = percents[0]
	} else if err != nil {
		m.log.Debug("cpu sample failed", "error", err)
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		sample.MemoryPercent = vm.UsedPercent
		sample.MemoryUsedMB = float64(vm.Used) / (1 << 20)
	} else {
		m.log.Debug("memory sample failed", "error", err)
	}
	sample.Counters = m.metrics.Snapshot()

	m.metrics.CPUPercent.Set(sample.CPUPercent)
	m.metrics.MemoryPercent.Set(sample.MemoryPercent)

	m.mu.Lock()
	m.history = append(m.history, sample)
	limit := m.cfg.HistoryLimit
	if limit <= 0 {
		limit = 120
	}
	if len(m.history) > limit {
		m.history = m.history[len(m.history)-limit:]
	}
	m.mu.Unlock()

	m.writeState(sample)
}

// History returns a copy of the retained samples, oldest first.
func (m *Monitor) History() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sample, len(m.history))
	copy(out, m.history)
	return out
}

// Latest returns the most recent sample, or false when none exists yet.
func (m *Monitor) Latest() (Sample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return Sample{}, false
	}
	return m.history[len(m.history)-1], true
}

// HealthReport summarizes current state for the health command.
func (m *Monitor) HealthReport() map[string]interface{} {
	report := map[string]interface{}{"status": "unknown", "samples": 0}
	latest, ok := m.Latest()
	if !ok {
		return report
	}

	status := "healthy"
	if latest.CPUPercent > 90 || latest.MemoryPercent > 90 {
		status = "degraded"
	}
	m.mu.Lock()
	samples := len(m.history)
	m.mu.Unlock()

	report["status"] = status
	report["samples"] = samples
	report["cpu_percent"] = latest.CPUPercent
	report["memory_percent"] = latest.MemoryPercent
	report["sampled_at"] = latest.Timestamp
	report["tasks_total"] = latest.Counters["nestor_tasks_total"]
	report["llm_calls_total"] = latest.Counters["nestor_llm_calls_total"]
	return report
}

// persistedState is the schema of monitor_state.json.
type persistedState struct {
	UpdatedAt time.Time `json:"updated_at"`
	Latest    Sample    `json:"latest"`
	Samples   int       `json:"samples"`
}

func (m *Monitor) writeState(latest Sample) {
	dir := m.cfg.StateDir
	if dir == "" {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		m.log.Debug("state dir unavailable", "error", err)
		return
	}

	m.mu.Lock()
	samples := len(m.history)
	m.mu.Unlock()

	data, err := json.MarshalIndent(persistedState{
		UpdatedAt: time.Now().UTC(),
		Latest:    latest,
		Samples:   samples,
	}, "", "  ")
	if err != nil {
		return
	}
	path := filepath.Join(dir, "monitor_state.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		m.log.Debug("state write failed", "path", path, "error", err)
	}
}
