// Package tools defines the tool contract used by the react agent and the
// reference tools: web search and raw HTTP requests.
package tools

import (
	"context"
	"fmt"

	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/llms"
	"github.com/nestorlabs/nestor/pkg/registry"
)

// Tool is one callable capability exposed to agents.
type Tool interface {
	Name() string
	Description() string

	// Parameters is a JSON-schema object describing the arguments.
	Parameters() map[string]interface{}

	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// Registry holds the available tools.
type Registry struct {
	*registry.BaseRegistry[Tool]
}

func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[Tool]()}
}

// RegisterDefaults wires the reference tools from config.
func (r *Registry) RegisterDefaults(cfg *config.ToolsConfig) error {
	defaults := []Tool{
		NewWebSearchTool(cfg),
		NewHTTPRequestTool(cfg),
	}
	for _, t := range defaults {
		if err := r.Register(t.Name(), t); err != nil {
			return fmt.Errorf("[tools] %w", err)
		}
	}
	return nil
}

// Definitions renders every registered tool as an LLM tool definition.
func (r *Registry) Definitions() []llms.ToolDefinition {
	tools := r.List()
	defs := make([]llms.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, llms.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}
