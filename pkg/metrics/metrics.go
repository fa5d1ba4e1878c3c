// Package metrics owns the in-process prometheus registry. There is no HTTP
// exposition: the health monitor gathers the registry into its periodic
// snapshot. Tests construct their own Set so counters never leak between
// test cases.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Set groups the counters and gauges the runtime records.
type Set struct {
	Registry *prometheus.Registry

	TasksTotal      *prometheus.CounterVec
	TaskDuration    prometheus.Histogram
	DelegationsMade prometheus.Counter
	LLMCalls        *prometheus.CounterVec
	LLMTokens       *prometheus.CounterVec
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	CPUPercent      prometheus.Gauge
	MemoryPercent   prometheus.Gauge
}

// New creates a Set backed by a fresh registry.
func New() *Set {
	reg := prometheus.NewRegistry()
	s := &Set{
		Registry: reg,
		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nestor_tasks_total",
			Help: "Tasks executed, by agent and outcome.",
		}, []string{"agent", "outcome"}),
		TaskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nestor_task_duration_seconds",
			Help:    "End-to-end task execution time.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		DelegationsMade: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nestor_delegations_total",
			Help: "Inter-agent delegations.",
		}),
		LLMCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nestor_llm_calls_total",
			Help: "LLM generation calls, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		LLMTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nestor_llm_tokens_total",
			Help: "Tokens consumed, by provider and direction.",
		}, []string{"provider", "direction"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nestor_cache_hits_total",
			Help: "Context cache hits, by layer.",
		}, []string{"layer"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nestor_cache_misses_total",
			Help: "Context cache misses, by layer.",
		}, []string{"layer"}),
		CPUPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nestor_cpu_percent",
			Help: "Process CPU usage percentage.",
		}),
		MemoryPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nestor_memory_percent",
			Help: "Host memory usage percentage.",
		}),
	}
	reg.MustRegister(
		s.TasksTotal, s.TaskDuration, s.DelegationsMade,
		s.LLMCalls, s.LLMTokens, s.CacheHits, s.CacheMisses,
		s.CPUPercent, s.MemoryPercent,
	)
	return s
}

// Snapshot gathers the registry into a flat name → value map. Counter vecs
// are summed across label values.
func (s *Set) Snapshot() map[string]float64 {
	out := make(map[string]float64)
	families, err := s.Registry.Gather()
	if err != nil {
		return out
	}
	for _, fam := range families {
		var total float64
		for _, m := range fam.GetMetric() {
			total += metricValue(fam.GetType(), m)
		}
		out[fam.GetName()] = total
	}
	return out
}

func metricValue(kind dto.MetricType, m *dto.Metric) float64 {
	switch kind {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue()
	case dto.MetricType_HISTOGRAM:
		return float64(m.GetHistogram().GetSampleCount())
	default:
		return 0
	}
}

var defaultSet = New()

// Default returns the process-wide Set.
func Default() *Set { return defaultSet }
