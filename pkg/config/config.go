// Package config defines the YAML configuration tree, its defaults and
// validation pipeline, the koanf-based loader with hot reload, and the
// deep-merge update path used for live reconfiguration.
package config

import (
	"fmt"
	"runtime"
	"sort"

	"github.com/shirou/gopsutil/v4/mem"
)

// Config is the root configuration tree.
type Config struct {
	Logging      LoggingConfig                 `yaml:"logging,omitempty" json:"logging,omitempty"`
	DataDir      string                        `yaml:"data_dir,omitempty" json:"data_dir,omitempty" jsonschema:"description=Root for persisted state,default=."`
	LLMs         map[string]*LLMProviderConfig `yaml:"llms,omitempty" json:"llms,omitempty"`
	DefaultLLM   string                        `yaml:"default_llm,omitempty" json:"default_llm,omitempty" jsonschema:"description=Named provider used when a request does not select one"`
	Embedders    map[string]*EmbedderConfig    `yaml:"embedders,omitempty" json:"embedders,omitempty"`
	VectorStore  VectorStoreConfig             `yaml:"vector_store,omitempty" json:"vector_store,omitempty"`
	Memory       MemoryConfig                  `yaml:"memory,omitempty" json:"memory,omitempty"`
	Cache        CacheConfig                   `yaml:"cache,omitempty" json:"cache,omitempty"`
	Context      ContextConfig                 `yaml:"context,omitempty" json:"context,omitempty"`
	Validation   ValidationConfig              `yaml:"validation,omitempty" json:"validation,omitempty"`
	Reflection   ReflectionConfig              `yaml:"reflection,omitempty" json:"reflection,omitempty"`
	Agents       map[string]*AgentConfig       `yaml:"agents,omitempty" json:"agents,omitempty"`
	Mediator     MediatorConfig                `yaml:"mediator,omitempty" json:"mediator,omitempty"`
	Orchestrator OrchestratorConfig            `yaml:"orchestrator,omitempty" json:"orchestrator,omitempty"`
	Monitoring   MonitoringConfig              `yaml:"monitoring,omitempty" json:"monitoring,omitempty"`
	Sandbox      SandboxConfig                 `yaml:"sandbox,omitempty" json:"sandbox,omitempty"`
	Indexer      IndexerConfig                 `yaml:"indexer,omitempty" json:"indexer,omitempty"`
	Tools        ToolsConfig                   `yaml:"tools,omitempty" json:"tools,omitempty"`
}

// Process runs the defaults-then-validate pipeline over the whole tree.
// Configuration errors are fatal at startup.
func Process(cfg *Config) (*Config, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) SetDefaults() {
	c.Logging.SetDefaults()
	if c.DataDir == "" {
		c.DataDir = "."
	}

	if len(c.LLMs) == 0 {
		c.LLMs = map[string]*LLMProviderConfig{
			"local": {Type: ProviderOllama},
		}
	}
	for _, llm := range c.LLMs {
		llm.SetDefaults()
	}
	if c.DefaultLLM == "" {
		// Prefer a local provider when one is configured.
		if name, ok := c.localProvider(); ok {
			c.DefaultLLM = name
		} else {
			for _, name := range sortedKeys(c.LLMs) {
				c.DefaultLLM = name
				break
			}
		}
	}

	if len(c.Embedders) == 0 {
		c.Embedders = map[string]*EmbedderConfig{
			"default": {Type: "ollama"},
		}
	}
	for _, e := range c.Embedders {
		e.SetDefaults()
	}

	c.VectorStore.SetDefaults()
	if c.VectorStore.Embedder == "" {
		for _, name := range sortedKeys(c.Embedders) {
			c.VectorStore.Embedder = name
			break
		}
	}
	c.Memory.SetDefaults()
	if c.Memory.Embedder == "" {
		c.Memory.Embedder = c.VectorStore.Embedder
	}
	c.Cache.SetDefaults()
	c.Context.SetDefaults()
	c.Validation.SetDefaults()
	c.Reflection.SetDefaults()

	if len(c.Agents) == 0 {
		c.Agents = defaultAgents()
	}
	for name, a := range c.Agents {
		a.Name = name
		a.SetDefaults()
	}

	c.Mediator.SetDefaults()
	c.Orchestrator.SetDefaults()
	c.Monitoring.SetDefaults()
	c.Sandbox.SetDefaults()
	c.Indexer.SetDefaults()
	c.Tools.SetDefaults()
}

func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	for name, llm := range c.LLMs {
		if err := llm.Validate(); err != nil {
			return fmt.Errorf("llms.%s: %w", name, err)
		}
	}
	if c.DefaultLLM != "" {
		if _, ok := c.LLMs[c.DefaultLLM]; !ok {
			return fmt.Errorf("default_llm references unknown provider %q", c.DefaultLLM)
		}
	}
	for name, e := range c.Embedders {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("embedders.%s: %w", name, err)
		}
	}
	if err := c.VectorStore.Validate(); err != nil {
		return fmt.Errorf("vector_store: %w", err)
	}
	if c.VectorStore.Embedder != "" {
		if _, ok := c.Embedders[c.VectorStore.Embedder]; !ok {
			return fmt.Errorf("vector_store.embedder references unknown embedder %q", c.VectorStore.Embedder)
		}
	}
	if err := c.Memory.Validate(); err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := c.Context.Validate(); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	if err := c.Validation.Validate(); err != nil {
		return fmt.Errorf("validation: %w", err)
	}
	if err := c.Reflection.Validate(); err != nil {
		return fmt.Errorf("reflection: %w", err)
	}
	for name, a := range c.Agents {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("agents.%s: %w", name, err)
		}
		if a.Provider != "" {
			if _, ok := c.LLMs[a.Provider]; !ok {
				return fmt.Errorf("agents.%s.provider references unknown provider %q", name, a.Provider)
			}
		}
	}
	if err := c.Mediator.Validate(); err != nil {
		return fmt.Errorf("mediator: %w", err)
	}
	if err := c.Orchestrator.Validate(); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	if err := c.Monitoring.Validate(); err != nil {
		return fmt.Errorf("monitoring: %w", err)
	}
	if err := c.Sandbox.Validate(); err != nil {
		return fmt.Errorf("sandbox: %w", err)
	}
	if err := c.Indexer.Validate(); err != nil {
		return fmt.Errorf("indexer: %w", err)
	}
	if err := c.Tools.Validate(); err != nil {
		return fmt.Errorf("tools: %w", err)
	}
	return nil
}

// localProvider returns the first ollama provider, if any.
func (c *Config) localProvider() (string, bool) {
	for _, name := range sortedKeys(c.LLMs) {
		if c.LLMs[name].Type == ProviderOllama {
			return name, true
		}
	}
	return "", false
}

func defaultAgents() map[string]*AgentConfig {
	return map[string]*AgentConfig{
		"code_writer":   {Type: "code_writer"},
		"react":         {Type: "react"},
		"research":      {Type: "research"},
		"data_analysis": {Type: "data_analysis"},
		"workflow":      {Type: "workflow"},
		"integration":   {Type: "integration"},
		"monitoring":    {Type: "monitoring"},
	}
}

func sortedKeys[T any](m map[string]*T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// adaptiveMaxParallel derives the default task parallelism from host
// resources. The baseline is 5; large machines get 8, machines under
// 4 GiB of memory get 2.
func adaptiveMaxParallel() int {
	n := 5
	if runtime.NumCPU() >= 16 {
		n = 8
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm.Total < 4<<30 {
		n = 2
	}
	return n
}
