// Package capability defines the static tags agents advertise for routing
// and help requests.
package capability

import (
	"fmt"
	"sort"
)

type Capability string

const (
	CodeGeneration  Capability = "code_generation"
	CodeRefactoring Capability = "code_refactoring"
	DataAnalysis    Capability = "data_analysis"
	MachineLearning Capability = "machine_learning"
	WebSearch       Capability = "web_search"
	Research        Capability = "research"
	Reasoning       Capability = "reasoning"
	ToolUsage       Capability = "tool_usage"
	Workflow        Capability = "workflow"
	APIIntegration  Capability = "api_integration"
	Monitoring      Capability = "monitoring"
	Testing         Capability = "testing"
	Verification    Capability = "verification"
)

var all = []Capability{
	CodeGeneration,
	CodeRefactoring,
	DataAnalysis,
	MachineLearning,
	WebSearch,
	Research,
	Reasoning,
	ToolUsage,
	Workflow,
	APIIntegration,
	Monitoring,
	Testing,
	Verification,
}

// All returns every known capability in declaration order.
func All() []Capability {
	out := make([]Capability, len(all))
	copy(out, all)
	return out
}

// Parse validates a capability string.
func Parse(s string) (Capability, error) {
	c := Capability(s)
	for _, known := range all {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown capability %q", s)
}

func (c Capability) String() string { return string(c) }

// Set is an unordered collection of capabilities.
type Set map[Capability]struct{}

func NewSet(caps ...Capability) Set {
	s := make(Set, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

func (s Set) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

func (s Set) Add(c Capability) { s[c] = struct{}{} }

// Sorted returns the set's members in lexical order.
func (s Set) Sorted() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the sorted members as plain strings.
func (s Set) Strings() []string {
	sorted := s.Sorted()
	out := make([]string, len(sorted))
	for i, c := range sorted {
		out[i] = string(c)
	}
	return out
}
