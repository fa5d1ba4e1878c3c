// Package runtime assembles the full component graph from configuration
// and owns its lifecycle: construction order, startup, config reload, and
// graceful shutdown.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/nestorlabs/nestor/pkg/agent"
	"github.com/nestorlabs/nestor/pkg/assembler"
	"github.com/nestorlabs/nestor/pkg/cache"
	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/embedders"
	"github.com/nestorlabs/nestor/pkg/indexer"
	"github.com/nestorlabs/nestor/pkg/llms"
	"github.com/nestorlabs/nestor/pkg/logger"
	"github.com/nestorlabs/nestor/pkg/memory"
	"github.com/nestorlabs/nestor/pkg/metrics"
	"github.com/nestorlabs/nestor/pkg/monitor"
	"github.com/nestorlabs/nestor/pkg/orchestrator"
	"github.com/nestorlabs/nestor/pkg/sandbox"
	"github.com/nestorlabs/nestor/pkg/tools"
	"github.com/nestorlabs/nestor/pkg/validator"
	"github.com/nestorlabs/nestor/pkg/vector"
)

// Runtime is the wired component graph.
type Runtime struct {
	Config       *config.Config
	Metrics      *metrics.Set
	Gateway      *llms.Gateway
	Embedder     embedders.Embedder
	Vector       vector.Index
	Search       *vector.EmbeddingIndex
	Memory       *memory.Store
	Cache        *cache.ContextCache
	Assembler    *assembler.Assembler
	Validator    *validator.Validator
	Tools        *tools.Registry
	Sandbox      *sandbox.Sandbox
	Agents       *agent.AgentRegistry
	Orchestrator *orchestrator.Orchestrator
	Monitor      *monitor.Monitor
	Indexer      *indexer.Indexer

	log *slog.Logger
}

// New builds the graph bottom-up: providers and storage first, then the
// layers that consume them, agents and the orchestrator last. Construction
// failures tear down whatever was already built.
func New(cfg *config.Config) (*Runtime, error) {
	r := &Runtime{
		Config:  cfg,
		Metrics: metrics.New(),
		log:     logger.Component("runtime"),
	}

	gateway, err := llms.NewGateway(cfg.LLMs, cfg.DefaultLLM, r.Metrics)
	if err != nil {
		return nil, err
	}
	r.Gateway = gateway

	embCfg, ok := cfg.Embedders[cfg.VectorStore.Embedder]
	if !ok {
		r.teardown()
		return nil, fmt.Errorf("[runtime] vector_store.embedder %q not configured", cfg.VectorStore.Embedder)
	}
	// Lazy: the embedding model is only contacted on first use, so a cold
	// ollama instance does not block startup.
	r.Embedder = embedders.NewLazy(embCfg)

	vectorCfg := cfg.VectorStore
	vectorCfg.Path = r.resolvePath(vectorCfg.Path)
	index, err := vector.New(&vectorCfg)
	if err != nil {
		r.teardown()
		return nil, err
	}
	r.Vector = index
	r.Search = &vector.EmbeddingIndex{Index: index, Embedder: r.Embedder}

	if cfg.Memory.Enabled == nil || *cfg.Memory.Enabled {
		memCfg := cfg.Memory
		memCfg.Path = r.resolvePath(memCfg.Path)
		store, err := memory.Open(&memCfg, r.Embedder)
		if err != nil {
			r.teardown()
			return nil, err
		}
		r.Memory = store
	}

	cacheCfg := cfg.Cache
	cacheCfg.Dir = r.resolvePath(cacheCfg.Dir)
	contextCache, err := cache.New(&cacheCfg, r.Metrics)
	if err != nil {
		r.teardown()
		return nil, err
	}
	r.Cache = contextCache

	r.Assembler = assembler.New(&cfg.Context, r.Search, cfg.VectorStore.Collection, gateway, contextCache)
	r.Validator = validator.New(&cfg.Validation, gateway)

	r.Tools = tools.NewRegistry()
	if err := r.Tools.RegisterDefaults(&cfg.Tools); err != nil {
		r.teardown()
		return nil, err
	}
	r.Sandbox = sandbox.New(&cfg.Sandbox)

	agents, err := agent.NewRegistry(cfg.Agents, &cfg.Mediator, agent.Deps{
		Gateway:   gateway,
		Memory:    r.Memory,
		Assembler: r.Assembler,
		Validator: r.Validator,
		Tools:     r.Tools,
		Sandbox:   r.Sandbox,
		Metrics:   r.Metrics,
	})
	if err != nil {
		r.teardown()
		return nil, err
	}
	r.Agents = agents

	r.Orchestrator = orchestrator.New(&cfg.Orchestrator, agents, gateway)

	monCfg := cfg.Monitoring
	monCfg.StateDir = r.resolvePath(monCfg.StateDir)
	r.Monitor = monitor.New(&monCfg, r.Metrics)

	idxCfg := cfg.Indexer
	idxCfg.CachePath = r.resolvePath(idxCfg.CachePath)
	ix, err := indexer.Open(&idxCfg, r.Search)
	if err != nil {
		r.teardown()
		return nil, err
	}
	r.Indexer = ix

	r.log.Info("runtime ready",
		"agents", agents.AgentNames(),
		"default_llm", gateway.DefaultProvider(),
		"memory", r.Memory != nil)
	return r, nil
}

// Start launches background loops. Construction itself starts nothing, so
// commands that only need the graph (schema, validate) stay silent.
func (r *Runtime) Start(ctx context.Context) {
	r.Monitor.Start(ctx)
}

// ApplyConfig applies a hot-reloaded configuration. Only agent tunables
// are live today; everything else logs a restart hint.
func (r *Runtime) ApplyConfig(cfg *config.Config) {
	changes := r.Agents.UpdateConfig(cfg.Agents)
	if len(changes) == 0 {
		r.log.Info("config reload produced no live changes; restart to apply structural changes")
	}
}

// Shutdown tears the graph down in reverse dependency order. The agent
// registry goes first so in-flight delegations drain before storage closes.
func (r *Runtime) Shutdown() {
	if r.Agents != nil {
		r.Agents.Shutdown()
	}
	if r.Monitor != nil {
		r.Monitor.Stop()
	}
	r.teardown()
	r.log.Info("runtime stopped")
}

func (r *Runtime) teardown() {
	if r.Indexer != nil {
		closeQuietly(r.log, "indexer", r.Indexer.Close)
		r.Indexer = nil
	}
	if r.Memory != nil {
		closeQuietly(r.log, "memory", r.Memory.Close)
		r.Memory = nil
	}
	if r.Cache != nil {
		closeQuietly(r.log, "cache", r.Cache.Close)
		r.Cache = nil
	}
	if r.Vector != nil {
		closeQuietly(r.log, "vector store", r.Vector.Close)
		r.Vector = nil
	}
	if r.Embedder != nil {
		closeQuietly(r.log, "embedder", r.Embedder.Close)
		r.Embedder = nil
	}
	if r.Gateway != nil {
		closeQuietly(r.log, "llm gateway", r.Gateway.Close)
		r.Gateway = nil
	}
}

func closeQuietly(log *slog.Logger, name string, fn func() error) {
	if err := fn(); err != nil {
		log.Warn("close failed", "component", name, "error", err)
	}
}

// resolvePath roots relative paths at data_dir.
func (r *Runtime) resolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(r.Config.DataDir, path)
}
