package config

import (
	"fmt"
	"sort"
	"strings"

	"dario.cat/mergo"
	"github.com/mitchellh/mapstructure"
)

// UpdateResult reports what a live config update did.
type UpdateResult struct {
	Config         *Config
	AppliedChanges []string
	Warnings       []string
}

// ApplyUpdate deep-merges a patch map into the loader's raw config state and
// re-runs the processing pipeline. Merge semantics: nested maps merge
// recursively, lists replace, nil values are skipped, and api_key fields are
// stripped from the patch before it reaches persisted state.
func (l *Loader) ApplyUpdate(patch map[string]interface{}) (*UpdateResult, error) {
	cleaned := pruneNulls(patch)
	stripped, warnings := stripSecrets(cleaned)

	l.mu.Lock()
	base := deepCopyMap(l.raw)
	l.mu.Unlock()

	merged := DeepMerge(base, stripped)

	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "yaml",
		WeaklyTypedInput: true,
		Result:           &cfg,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build config decoder: %w", err)
	}
	if err := decoder.Decode(merged); err != nil {
		return nil, fmt.Errorf("failed to decode updated config: %w", err)
	}

	processed, err := Process(&cfg)
	if err != nil {
		return nil, err
	}

	changes := changedPaths("", base, merged)

	l.mu.Lock()
	l.raw = merged
	l.current = processed
	l.mu.Unlock()

	return &UpdateResult{
		Config:         processed,
		AppliedChanges: changes,
		Warnings:       warnings,
	}, nil
}

// DeepMerge merges src into a copy of dst. Nested maps merge recursively;
// scalars and lists in src win.
func DeepMerge(dst, src map[string]interface{}) map[string]interface{} {
	out := deepCopyMap(dst)
	if err := mergo.Merge(&out, normalizeMap(src), mergo.WithOverride); err != nil {
		// mergo only fails on type mismatches between map shapes; fall back
		// to src-wins at the top level.
		for k, v := range src {
			out[k] = v
		}
	}
	return out
}

// pruneNulls drops nil-valued keys at every depth.
func pruneNulls(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		if nested, ok := toStringMap(v); ok {
			out[k] = pruneNulls(nested)
			continue
		}
		out[k] = v
	}
	return out
}

// stripSecrets removes api_key fields at every depth and reports a warning
// per stripped key path.
func stripSecrets(m map[string]interface{}) (map[string]interface{}, []string) {
	var warnings []string
	var walk func(prefix string, m map[string]interface{}) map[string]interface{}
	walk = func(prefix string, m map[string]interface{}) map[string]interface{} {
		out := make(map[string]interface{}, len(m))
		for k, v := range m {
			path := k
			if prefix != "" {
				path = prefix + "." + k
			}
			if k == "api_key" {
				warnings = append(warnings, fmt.Sprintf("%s not persisted; set it via environment", path))
				continue
			}
			if nested, ok := toStringMap(v); ok {
				out[k] = walk(path, nested)
				continue
			}
			out[k] = v
		}
		return out
	}
	out := walk("", m)
	sort.Strings(warnings)
	return out, warnings
}

func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if nested, ok := toStringMap(v); ok {
			out[k] = deepCopyMap(nested)
			continue
		}
		if list, ok := v.([]interface{}); ok {
			cp := make([]interface{}, len(list))
			copy(cp, list)
			out[k] = cp
			continue
		}
		out[k] = v
	}
	return out
}

// normalizeMap rewrites map[interface{}]interface{} (a yaml.v2 artifact) and
// nested values into map[string]interface{} so mergo sees uniform types.
func normalizeMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if nested, ok := toStringMap(v); ok {
			out[k] = normalizeMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func toStringMap(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}

// changedPaths lists dotted key paths whose value differs between before and
// after, in lexical order.
func changedPaths(prefix string, before, after map[string]interface{}) []string {
	var changes []string
	for k, av := range after {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		bv, existed := before[k]
		am, aIsMap := toStringMap(av)
		bm, bIsMap := toStringMap(bv)
		switch {
		case aIsMap && bIsMap:
			changes = append(changes, changedPaths(path, bm, am)...)
		case !existed || fmt.Sprintf("%v", bv) != fmt.Sprintf("%v", av):
			changes = append(changes, path)
		}
	}
	sort.Strings(changes)
	return changes
}

// Redacted returns a copy of a raw config map with api_key values masked for
// display.
func Redacted(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if k == "api_key" {
			if s, ok := v.(string); ok && s != "" {
				out[k] = strings.Repeat("*", 8)
				continue
			}
		}
		if nested, ok := toStringMap(v); ok {
			out[k] = Redacted(nested)
			continue
		}
		out[k] = v
	}
	return out
}
