package config

import (
	"fmt"
	"os"
	"strings"
)

// LLMProviderType identifies an LLM provider implementation.
type LLMProviderType string

const (
	ProviderOpenAI    LLMProviderType = "openai"
	ProviderAnthropic LLMProviderType = "anthropic"
	ProviderOllama    LLMProviderType = "ollama"
)

// LLMProviderConfig configures one named LLM provider.
type LLMProviderConfig struct {
	// Type selects the provider implementation.
	Type LLMProviderType `yaml:"type,omitempty" json:"type,omitempty" jsonschema:"title=Type,enum=openai,enum=anthropic,enum=ollama,default=ollama"`

	// Model is the default model identifier for this provider.
	Model string `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"title=Model,description=Default model identifier"`

	// APIKey authenticates requests. Supports ${VAR} expansion; falls back
	// to <TYPE>_API_KEY from the environment.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key,description=API key (use ${ENV_VAR})"`

	// Host overrides the default API endpoint.
	Host string `yaml:"host,omitempty" json:"host,omitempty" jsonschema:"title=Host,description=API endpoint base URL"`

	// Temperature is the default sampling temperature.
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty" jsonschema:"title=Temperature,minimum=0,maximum=2,default=0.7"`

	// MaxTokens limits response length.
	MaxTokens int `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty" jsonschema:"title=Max Tokens,minimum=1,default=4096"`

	// Timeout is the per-request timeout in seconds.
	Timeout int `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,default=120"`

	// MaxRetries bounds HTTP-level retries on transient failures.
	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitempty" jsonschema:"title=Max Retries,default=3"`

	// RetryDelay is the base backoff delay in seconds.
	RetryDelay int `yaml:"retry_delay,omitempty" json:"retry_delay,omitempty" jsonschema:"title=Retry Delay,default=2"`

	// Thinking configures reasoning-trace output where supported.
	Thinking *ThinkingConfig `yaml:"thinking,omitempty" json:"thinking,omitempty" jsonschema:"title=Thinking"`
}

// ThinkingConfig configures extended thinking output.
type ThinkingConfig struct {
	Enabled      *bool `yaml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"default=true"`
	BudgetTokens int   `yaml:"budget_tokens,omitempty" json:"budget_tokens,omitempty" jsonschema:"minimum=1,default=1024"`
}

func (c *LLMProviderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = ProviderOllama
	}
	if c.Model == "" {
		switch c.Type {
		case ProviderOpenAI:
			c.Model = "gpt-4o"
		case ProviderAnthropic:
			c.Model = "claude-sonnet-4-20250514"
		case ProviderOllama:
			c.Model = "llama3.2"
		}
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv(strings.ToUpper(string(c.Type)) + "_API_KEY")
	}
	if c.Temperature == nil {
		c.Temperature = Float64Ptr(0.7)
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Timeout == 0 {
		c.Timeout = 120
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 2
	}
	if c.Thinking != nil {
		if c.Thinking.Enabled == nil {
			c.Thinking.Enabled = BoolPtr(true)
		}
		if c.Thinking.BudgetTokens == 0 {
			c.Thinking.BudgetTokens = 1024
		}
	}
}

func (c *LLMProviderConfig) Validate() error {
	switch c.Type {
	case ProviderOpenAI, ProviderAnthropic, ProviderOllama:
	default:
		return fmt.Errorf("invalid llm provider type: %s", c.Type)
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be in [0, 2], got %v", *c.Temperature)
	}
	if c.Type != ProviderOllama && c.APIKey == "" {
		return fmt.Errorf("api_key is required for provider type %s", c.Type)
	}
	return nil
}

// EmbedderConfig configures a named embedding provider.
type EmbedderConfig struct {
	Type      string `yaml:"type,omitempty" json:"type,omitempty" jsonschema:"enum=ollama,enum=openai,default=ollama"`
	Model     string `yaml:"model,omitempty" json:"model,omitempty"`
	Host      string `yaml:"host,omitempty" json:"host,omitempty"`
	APIKey    string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	Dimension int    `yaml:"dimension,omitempty" json:"dimension,omitempty" jsonschema:"default=768"`
	Timeout   int    `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"default=60"`
}

func (c *EmbedderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "ollama"
	}
	if c.Model == "" {
		switch c.Type {
		case "openai":
			c.Model = "text-embedding-3-small"
		default:
			c.Model = "nomic-embed-text"
		}
	}
	if c.Host == "" && c.Type == "ollama" {
		c.Host = "http://localhost:11434"
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv(strings.ToUpper(c.Type) + "_API_KEY")
	}
	if c.Dimension == 0 {
		c.Dimension = 768
	}
	if c.Timeout == 0 {
		c.Timeout = 60
	}
}

func (c *EmbedderConfig) Validate() error {
	if c.Type != "ollama" && c.Type != "openai" {
		return fmt.Errorf("invalid embedder type: %s", c.Type)
	}
	return nil
}

// VectorStoreConfig configures the embedded vector index.
type VectorStoreConfig struct {
	Provider   string `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"enum=chromem,enum=memory,default=chromem"`
	Path       string `yaml:"path,omitempty" json:"path,omitempty" jsonschema:"default=vector_store"`
	Collection string `yaml:"collection,omitempty" json:"collection,omitempty" jsonschema:"default=nestor"`
	Compress   bool   `yaml:"compress,omitempty" json:"compress,omitempty"`
	Embedder   string `yaml:"embedder,omitempty" json:"embedder,omitempty" jsonschema:"description=Named embedder reference"`
}

func (c *VectorStoreConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "chromem"
	}
	if c.Path == "" {
		c.Path = "vector_store"
	}
	if c.Collection == "" {
		c.Collection = "nestor"
	}
}

func (c *VectorStoreConfig) Validate() error {
	if c.Provider != "chromem" && c.Provider != "memory" {
		return fmt.Errorf("invalid vector store provider: %s", c.Provider)
	}
	return nil
}

// MemoryConfig configures the long-term memory store.
type MemoryConfig struct {
	Path                string  `yaml:"path,omitempty" json:"path,omitempty" jsonschema:"default=memory/memories.db"`
	MaxMemories         int     `yaml:"max_memories,omitempty" json:"max_memories,omitempty" jsonschema:"default=1000"`
	SimilarityThreshold float64 `yaml:"similarity_threshold,omitempty" json:"similarity_threshold,omitempty" jsonschema:"default=0.7"`
	Embedder            string  `yaml:"embedder,omitempty" json:"embedder,omitempty"`
	Enabled             *bool   `yaml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"default=true"`
}

func (c *MemoryConfig) SetDefaults() {
	if c.Path == "" {
		c.Path = "memory/memories.db"
	}
	if c.MaxMemories == 0 {
		c.MaxMemories = 1000
	}
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = 0.7
	}
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}
}

func (c *MemoryConfig) Validate() error {
	if c.MaxMemories < 0 {
		return fmt.Errorf("max_memories cannot be negative")
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be in [0, 1]")
	}
	return nil
}

// RedisConfig configures the optional shared cache layer.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty" json:"addr,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	DB       int    `yaml:"db,omitempty" json:"db,omitempty"`
}

// CacheConfig configures the layered context cache.
type CacheConfig struct {
	MaxEntries int          `yaml:"max_entries,omitempty" json:"max_entries,omitempty" jsonschema:"default=256"`
	TTL        int          `yaml:"ttl,omitempty" json:"ttl,omitempty" jsonschema:"description=Entry TTL in seconds,default=3600"`
	Dir        string       `yaml:"dir,omitempty" json:"dir,omitempty" jsonschema:"default=cache"`
	Redis      *RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`
}

func (c *CacheConfig) SetDefaults() {
	if c.MaxEntries == 0 {
		c.MaxEntries = 256
	}
	if c.TTL == 0 {
		c.TTL = 3600
	}
	if c.Dir == "" {
		c.Dir = "cache"
	}
}

func (c *CacheConfig) Validate() error {
	if c.MaxEntries < 1 {
		return fmt.Errorf("max_entries must be positive")
	}
	return nil
}

// SummarizationConfig controls context compression.
type SummarizationConfig struct {
	Enabled   *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"default=true"`
	Threshold int    `yaml:"threshold,omitempty" json:"threshold,omitempty" jsonschema:"description=Token estimate above which summarization runs,default=8000"`
	Strategy  string `yaml:"strategy,omitempty" json:"strategy,omitempty" jsonschema:"enum=hierarchical,enum=extractive,enum=abstractive,enum=structure_preserving,enum=hybrid,default=hybrid"`
}

// ContextConfig configures the context assembler.
type ContextConfig struct {
	MaxTokens     int                 `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty" jsonschema:"default=4000"`
	TopK          int                 `yaml:"top_k,omitempty" json:"top_k,omitempty" jsonschema:"default=5"`
	Expansion     *bool               `yaml:"expansion,omitempty" json:"expansion,omitempty" jsonschema:"default=true"`
	MultiQuery    *bool               `yaml:"multi_query,omitempty" json:"multi_query,omitempty" jsonschema:"default=true"`
	HistoryLimit  int                 `yaml:"history_limit,omitempty" json:"history_limit,omitempty" jsonschema:"default=50"`
	Summarization SummarizationConfig `yaml:"summarization,omitempty" json:"summarization,omitempty"`
}

func (c *ContextConfig) SetDefaults() {
	if c.MaxTokens == 0 {
		c.MaxTokens = 4000
	}
	if c.TopK == 0 {
		c.TopK = 5
	}
	if c.Expansion == nil {
		c.Expansion = BoolPtr(true)
	}
	if c.MultiQuery == nil {
		c.MultiQuery = BoolPtr(true)
	}
	if c.HistoryLimit == 0 {
		c.HistoryLimit = 50
	}
	if c.Summarization.Enabled == nil {
		c.Summarization.Enabled = BoolPtr(true)
	}
	if c.Summarization.Threshold == 0 {
		c.Summarization.Threshold = 8000
	}
	if c.Summarization.Strategy == "" {
		c.Summarization.Strategy = "hybrid"
	}
}

func (c *ContextConfig) Validate() error {
	if c.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be positive")
	}
	switch c.Summarization.Strategy {
	case "hierarchical", "extractive", "abstractive", "structure_preserving", "hybrid":
	default:
		return fmt.Errorf("invalid summarization strategy: %s", c.Summarization.Strategy)
	}
	return nil
}

// ValidationConfig configures the code validator.
type ValidationConfig struct {
	MaxFixAttempts int      `yaml:"max_fix_attempts,omitempty" json:"max_fix_attempts,omitempty" jsonschema:"default=2"`
	RuleSets       []string `yaml:"rule_sets,omitempty" json:"rule_sets,omitempty"`
	UseRuff        *bool    `yaml:"use_ruff,omitempty" json:"use_ruff,omitempty" jsonschema:"description=Use ruff when present on PATH,default=true"`
	UseESLint      *bool    `yaml:"use_eslint,omitempty" json:"use_eslint,omitempty" jsonschema:"default=false"`
}

func (c *ValidationConfig) SetDefaults() {
	if c.MaxFixAttempts == 0 {
		c.MaxFixAttempts = 2
	}
	if len(c.RuleSets) == 0 {
		c.RuleSets = []string{"E", "W", "F", "B", "I", "N", "UP", "S", "C4", "SIM"}
	}
	if c.UseRuff == nil {
		c.UseRuff = BoolPtr(true)
	}
	if c.UseESLint == nil {
		c.UseESLint = BoolPtr(false)
	}
}

func (c *ValidationConfig) Validate() error {
	if c.MaxFixAttempts < 0 {
		return fmt.Errorf("max_fix_attempts cannot be negative")
	}
	return nil
}

// ReflectionConfig configures the self-evaluation loop. Appears globally and
// as a per-agent override.
type ReflectionConfig struct {
	Enabled             *bool   `yaml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"default=true"`
	MaxRetries          int     `yaml:"max_retries,omitempty" json:"max_retries,omitempty" jsonschema:"default=2"`
	MinQualityThreshold float64 `yaml:"min_quality_threshold,omitempty" json:"min_quality_threshold,omitempty" jsonschema:"default=70"`
	Provider            string  `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"description=Named LLM provider for evaluation"`
	Model               string  `yaml:"model,omitempty" json:"model,omitempty"`
}

func (c *ReflectionConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.MinQualityThreshold == 0 {
		c.MinQualityThreshold = 70
	}
}

func (c *ReflectionConfig) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if c.MinQualityThreshold < 0 || c.MinQualityThreshold > 100 {
		return fmt.Errorf("min_quality_threshold must be in [0, 100]")
	}
	return nil
}

// SelfConsistencyConfig controls N-sample consensus for critical tasks.
type SelfConsistencyConfig struct {
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"default=false"`
	Samples int   `yaml:"samples,omitempty" json:"samples,omitempty" jsonschema:"minimum=2,maximum=7,default=3"`
}

// AgentConfig configures one agent instance.
type AgentConfig struct {
	// Name is filled from the map key at load time.
	Name string `yaml:"-" json:"-"`

	// Type selects the agent variant.
	Type string `yaml:"type,omitempty" json:"type,omitempty" jsonschema:"enum=code_writer,enum=react,enum=research,enum=data_analysis,enum=workflow,enum=integration,enum=monitoring"`

	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"default=true"`

	// Provider is a named LLM provider reference; empty selects the gateway default.
	Provider string `yaml:"provider,omitempty" json:"provider,omitempty"`

	// Model overrides the provider's default model.
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	Temperature   *float64               `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	MaxIterations int                    `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty" jsonschema:"default=10"`
	Thinking      *bool                  `yaml:"thinking,omitempty" json:"thinking,omitempty"`
	Reflection    *ReflectionConfig      `yaml:"reflection,omitempty" json:"reflection,omitempty"`
	Consistency   *SelfConsistencyConfig `yaml:"self_consistency,omitempty" json:"self_consistency,omitempty"`

	// Capabilities extends the variant's built-in capability set.
	Capabilities []string `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
}

func (c *AgentConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}
	if c.Temperature == nil {
		c.Temperature = Float64Ptr(0.7)
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = 10
	}
	if c.Reflection != nil {
		c.Reflection.SetDefaults()
	}
	if c.Consistency != nil {
		if c.Consistency.Enabled == nil {
			c.Consistency.Enabled = BoolPtr(false)
		}
		if c.Consistency.Samples == 0 {
			c.Consistency.Samples = 3
		}
	}
}

func (c *AgentConfig) Validate() error {
	switch c.Type {
	case "code_writer", "react", "research", "data_analysis", "workflow", "integration", "monitoring":
	default:
		return fmt.Errorf("invalid agent type: %s", c.Type)
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be in [0, 2]")
	}
	if c.Consistency != nil && (c.Consistency.Samples < 0 || c.Consistency.Samples > 7) {
		return fmt.Errorf("self_consistency.samples must be in [2, 7]")
	}
	if c.Reflection != nil {
		if err := c.Reflection.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// MediatorConfig configures the inter-agent message bus.
type MediatorConfig struct {
	DefaultTimeout int `yaml:"default_timeout,omitempty" json:"default_timeout,omitempty" jsonschema:"description=Per-message timeout in seconds,default=30"`
	HistoryLimit   int `yaml:"history_limit,omitempty" json:"history_limit,omitempty" jsonschema:"default=1000"`
}

func (c *MediatorConfig) SetDefaults() {
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = 30
	}
	if c.HistoryLimit == 0 {
		c.HistoryLimit = 1000
	}
}

func (c *MediatorConfig) Validate() error {
	if c.DefaultTimeout < 1 {
		return fmt.Errorf("default_timeout must be positive")
	}
	return nil
}

// OrchestratorConfig configures the task entrypoint.
type OrchestratorConfig struct {
	MaxParallelTasks int    `yaml:"max_parallel_tasks,omitempty" json:"max_parallel_tasks,omitempty" jsonschema:"default=5"`
	LLMRouting       *bool  `yaml:"llm_routing,omitempty" json:"llm_routing,omitempty" jsonschema:"default=true"`
	Provider         string `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"description=Named LLM provider for classification"`
	Model            string `yaml:"model,omitempty" json:"model,omitempty"`
}

func (c *OrchestratorConfig) SetDefaults() {
	if c.MaxParallelTasks == 0 {
		c.MaxParallelTasks = adaptiveMaxParallel()
	}
	if c.LLMRouting == nil {
		c.LLMRouting = BoolPtr(true)
	}
}

func (c *OrchestratorConfig) Validate() error {
	if c.MaxParallelTasks < 1 {
		return fmt.Errorf("max_parallel_tasks must be positive")
	}
	return nil
}

// MonitoringConfig configures the health monitor.
type MonitoringConfig struct {
	Enabled      *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"default=true"`
	Interval     int    `yaml:"interval,omitempty" json:"interval,omitempty" jsonschema:"description=Sample interval in seconds,default=30"`
	HistoryLimit int    `yaml:"history_limit,omitempty" json:"history_limit,omitempty" jsonschema:"default=120"`
	StateDir     string `yaml:"state_dir,omitempty" json:"state_dir,omitempty" jsonschema:"default=LOGS_DEBUG"`
}

func (c *MonitoringConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}
	if c.Interval == 0 {
		c.Interval = 30
	}
	if c.HistoryLimit == 0 {
		c.HistoryLimit = 120
	}
	if c.StateDir == "" {
		c.StateDir = "LOGS_DEBUG"
	}
}

func (c *MonitoringConfig) Validate() error {
	if c.Interval < 1 {
		return fmt.Errorf("interval must be positive")
	}
	return nil
}

// SandboxConfig configures restricted code-step execution.
type SandboxConfig struct {
	CodeTimeout    int      `yaml:"code_timeout,omitempty" json:"code_timeout,omitempty" jsonschema:"description=Per-step timeout in seconds,default=30"`
	PythonBin      string   `yaml:"python_bin,omitempty" json:"python_bin,omitempty" jsonschema:"default=python3"`
	AllowedImports []string `yaml:"allowed_imports,omitempty" json:"allowed_imports,omitempty"`
}

func (c *SandboxConfig) SetDefaults() {
	if c.CodeTimeout == 0 {
		c.CodeTimeout = 30
	}
	if c.PythonBin == "" {
		c.PythonBin = "python3"
	}
	if len(c.AllowedImports) == 0 {
		c.AllowedImports = []string{
			"math", "json", "datetime", "collections", "itertools",
			"functools", "re", "string", "statistics", "random",
		}
	}
}

func (c *SandboxConfig) Validate() error {
	if c.CodeTimeout < 1 {
		return fmt.Errorf("code_timeout must be positive")
	}
	return nil
}

// IndexerConfig configures the project analyzer.
type IndexerConfig struct {
	CachePath  string   `yaml:"cache_path,omitempty" json:"cache_path,omitempty" jsonschema:"default=memory/index_cache.db"`
	Collection string   `yaml:"collection,omitempty" json:"collection,omitempty" jsonschema:"default=code_entities"`
	Include    []string `yaml:"include,omitempty" json:"include,omitempty"`
	Exclude    []string `yaml:"exclude,omitempty" json:"exclude,omitempty"`
}

func (c *IndexerConfig) SetDefaults() {
	if c.CachePath == "" {
		c.CachePath = "memory/index_cache.db"
	}
	if c.Collection == "" {
		c.Collection = "code_entities"
	}
	if len(c.Include) == 0 {
		c.Include = []string{"*.py", "*.js", "*.ts", "*.go"}
	}
	if len(c.Exclude) == 0 {
		c.Exclude = []string{"node_modules", ".git", "__pycache__", "venv", ".venv", "vendor"}
	}
}

func (c *IndexerConfig) Validate() error { return nil }

// WebSearchConfig configures the reference web-search tool.
type WebSearchConfig struct {
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	APIKey   string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
}

// ToolsConfig configures the reference tools.
type ToolsConfig struct {
	HTTPTimeout int             `yaml:"http_timeout,omitempty" json:"http_timeout,omitempty" jsonschema:"description=HTTP tool timeout in seconds,default=30"`
	WebSearch   WebSearchConfig `yaml:"web_search,omitempty" json:"web_search,omitempty"`
}

func (c *ToolsConfig) SetDefaults() {
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = 30
	}
}

func (c *ToolsConfig) Validate() error {
	if c.HTTPTimeout < 1 {
		return fmt.Errorf("http_timeout must be positive")
	}
	return nil
}

// LoggingConfig configures process logging.
type LoggingConfig struct {
	Level    string `yaml:"level,omitempty" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error,default=info"`
	Format   string `yaml:"format,omitempty" json:"format,omitempty" jsonschema:"enum=simple,enum=verbose,enum=json,default=simple"`
	File     string `yaml:"file,omitempty" json:"file,omitempty"`
	DebugDir string `yaml:"debug_dir,omitempty" json:"debug_dir,omitempty" jsonschema:"default=LOGS_DEBUG"`
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
	if c.DebugDir == "" {
		c.DebugDir = "LOGS_DEBUG"
	}
}

func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Level)
	}
	return nil
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool { return &b }

// Float64Ptr returns a pointer to f.
func Float64Ptr(f float64) *float64 { return &f }
