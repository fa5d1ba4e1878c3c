package workflow

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ParseYAML decodes and validates a workflow definition. YAML is the
// hand-written form; synthesized plans arrive as JSON, which the same
// decoder accepts.
func ParseYAML(data []byte) (*Workflow, error) {
	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("[workflow] parsing definition: %w", err)
	}
	if err := Validate(&wf); err != nil {
		return nil, err
	}
	return &wf, nil
}
