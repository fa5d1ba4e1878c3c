package config

import (
	"reflect"
	"testing"
)

func TestDeepMerge_Semantics(t *testing.T) {
	tests := []struct {
		name string
		dst  map[string]interface{}
		src  map[string]interface{}
		want map[string]interface{}
	}{
		{
			name: "nested maps merge",
			dst:  map[string]interface{}{"memory": map[string]interface{}{"max_memories": 100, "path": "a.db"}},
			src:  map[string]interface{}{"memory": map[string]interface{}{"max_memories": 500}},
			want: map[string]interface{}{"memory": map[string]interface{}{"max_memories": 500, "path": "a.db"}},
		},
		{
			name: "lists replace",
			dst:  map[string]interface{}{"validation": map[string]interface{}{"rule_sets": []interface{}{"E", "W"}}},
			src:  map[string]interface{}{"validation": map[string]interface{}{"rule_sets": []interface{}{"F"}}},
			want: map[string]interface{}{"validation": map[string]interface{}{"rule_sets": []interface{}{"F"}}},
		},
		{
			name: "scalar override",
			dst:  map[string]interface{}{"data_dir": "/old"},
			src:  map[string]interface{}{"data_dir": "/new"},
			want: map[string]interface{}{"data_dir": "/new"},
		},
		{
			name: "new keys added",
			dst:  map[string]interface{}{"a": 1},
			src:  map[string]interface{}{"b": 2},
			want: map[string]interface{}{"a": 1, "b": 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeepMerge(tt.dst, tt.src)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DeepMerge() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDeepMerge_Idempotent(t *testing.T) {
	a := map[string]interface{}{
		"memory":  map[string]interface{}{"max_memories": 100},
		"agents":  map[string]interface{}{"react": map[string]interface{}{"type": "react"}},
		"include": []interface{}{"*.py"},
	}
	if got := DeepMerge(a, a); !reflect.DeepEqual(got, a) {
		t.Errorf("DeepMerge(a, a) = %#v, want a", got)
	}
}

func TestDeepMerge_Associative(t *testing.T) {
	a := map[string]interface{}{"x": map[string]interface{}{"p": 1, "q": 1}}
	b := map[string]interface{}{"x": map[string]interface{}{"q": 2}, "y": "b"}
	c := map[string]interface{}{"x": map[string]interface{}{"p": 3}, "y": "c"}

	left := DeepMerge(DeepMerge(a, b), c)
	right := DeepMerge(a, DeepMerge(b, c))
	if !reflect.DeepEqual(left, right) {
		t.Errorf("associativity broken: left=%#v right=%#v", left, right)
	}
}

func TestPruneNulls(t *testing.T) {
	in := map[string]interface{}{
		"keep": "v",
		"drop": nil,
		"nested": map[string]interface{}{
			"keep": 1,
			"drop": nil,
		},
	}
	got := pruneNulls(in)
	if _, ok := got["drop"]; ok {
		t.Error("top-level nil should be pruned")
	}
	nested := got["nested"].(map[string]interface{})
	if _, ok := nested["drop"]; ok {
		t.Error("nested nil should be pruned")
	}
	if nested["keep"] != 1 {
		t.Error("non-nil nested value should survive")
	}
}

func TestStripSecrets(t *testing.T) {
	in := map[string]interface{}{
		"llms": map[string]interface{}{
			"openai": map[string]interface{}{
				"type":    "openai",
				"api_key": "sk-secret",
			},
		},
	}
	got, warnings := stripSecrets(in)
	llm := got["llms"].(map[string]interface{})["openai"].(map[string]interface{})
	if _, ok := llm["api_key"]; ok {
		t.Error("api_key should be stripped")
	}
	if llm["type"] != "openai" {
		t.Error("sibling keys should survive")
	}
	if len(warnings) != 1 {
		t.Errorf("warnings = %d, want 1", len(warnings))
	}
}

func TestChangedPaths(t *testing.T) {
	before := map[string]interface{}{
		"memory": map[string]interface{}{"max_memories": 100},
		"same":   "x",
	}
	after := map[string]interface{}{
		"memory": map[string]interface{}{"max_memories": 500},
		"same":   "x",
		"added":  true,
	}
	got := changedPaths("", before, after)
	want := []string{"added", "memory.max_memories"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("changedPaths() = %v, want %v", got, want)
	}
}

func TestApplyUpdate(t *testing.T) {
	// Stripped api_key falls back to the environment during validation.
	t.Setenv("OPENAI_API_KEY", "sk-from-env")

	loader := NewLoader("")
	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	res, err := loader.ApplyUpdate(map[string]interface{}{
		"memory": map[string]interface{}{
			"max_memories": 250,
			"path":         nil, // null values are skipped
		},
		"llms": map[string]interface{}{
			"remote": map[string]interface{}{
				"type":    "openai",
				"api_key": "sk-live",
			},
		},
	})
	if err != nil {
		t.Fatalf("ApplyUpdate() error = %v", err)
	}

	if res.Config.Memory.MaxMemories != 250 {
		t.Errorf("MaxMemories = %d, want 250", res.Config.Memory.MaxMemories)
	}
	if res.Config.Memory.Path != "memory/memories.db" {
		t.Errorf("Path = %q, want default preserved", res.Config.Memory.Path)
	}
	if len(res.Warnings) != 1 {
		t.Errorf("Warnings = %v, want one api_key warning", res.Warnings)
	}

	found := false
	for _, p := range res.AppliedChanges {
		if p == "memory.max_memories" {
			found = true
		}
	}
	if !found {
		t.Errorf("AppliedChanges = %v, missing memory.max_memories", res.AppliedChanges)
	}
}
