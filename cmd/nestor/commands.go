package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/runtime"
)

// RunCmd executes one task through the orchestrator.
type RunCmd struct {
	Task    string        `arg:"" help:"Task description."`
	Agent   string        `help:"Agent to execute with (empty = automatic routing)."`
	Timeout time.Duration `help:"Overall task timeout." default:"10m"`
	Watch   bool          `help:"Watch the config file and apply live changes."`
	JSON    bool          `help:"Print the full result as JSON."`
}

func (c *RunCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, loader, err := cli.loadConfig()
	if err != nil {
		return err
	}
	defer loader.Close()

	rt, err := runtime.New(cfg)
	if err != nil {
		return err
	}
	defer rt.Shutdown()
	rt.Start(ctx)

	if c.Watch {
		if err := loader.Watch(rt.ApplyConfig); err != nil {
			return err
		}
	}

	taskCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	result, err := rt.Orchestrator.ExecuteTask(taskCtx, c.Task, c.Agent, nil)
	if err != nil {
		return err
	}
	return printResult(result, c.JSON)
}

// printResult renders the primary output field as text, or the whole
// result map as JSON.
func printResult(result map[string]interface{}, asJSON bool) error {
	if asJSON {
		return printJSON(result)
	}
	for _, key := range []string{"code", "final_answer", "report", "analysis", "result", "response"} {
		if v, ok := result[key].(string); ok && v != "" {
			fmt.Println(v)
			return nil
		}
	}
	return printJSON(result)
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// AgentsCmd lists the configured agent team.
type AgentsCmd struct{}

func (c *AgentsCmd) Run(cli *CLI) error {
	cfg, loader, err := cli.loadConfig()
	if err != nil {
		return err
	}
	defer loader.Close()

	rt, err := runtime.New(cfg)
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	names := rt.Agents.AgentNames()
	sort.Strings(names)
	fmt.Printf("%-16s %-14s %-24s %s\n", "NAME", "TYPE", "MODEL", "CAPABILITIES")
	for _, name := range names {
		a, ok := rt.Agents.Get(name)
		if !ok {
			continue
		}
		acfg := a.Config()
		model := acfg.Model
		if model == "" {
			model = "(provider default)"
		}
		fmt.Printf("%-16s %-14s %-24s %s\n",
			name, acfg.Type, model, strings.Join(a.Capabilities().Strings(), ","))
	}
	return nil
}

// HealthCmd prints one health snapshot.
type HealthCmd struct {
	JSON bool `help:"Print the report as JSON."`
}

func (c *HealthCmd) Run(cli *CLI) error {
	cfg, loader, err := cli.loadConfig()
	if err != nil {
		return err
	}
	defer loader.Close()

	// Health needs at least one sample regardless of the configured
	// interval or enabled flag.
	cfg.Monitoring.Enabled = config.BoolPtr(true)

	rt, err := runtime.New(cfg)
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rt.Start(ctx)

	for {
		if _, ok := rt.Monitor.Latest(); ok {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("no health sample collected")
		case <-time.After(50 * time.Millisecond):
		}
	}

	report := rt.Monitor.HealthReport()
	if c.JSON {
		return printJSON(report)
	}
	fmt.Printf("status:  %v\n", report["status"])
	fmt.Printf("cpu:     %.1f%%\n", report["cpu_percent"])
	fmt.Printf("memory:  %.1f%%\n", report["memory_percent"])
	fmt.Printf("agents:  %d\n", len(rt.Agents.AgentNames()))
	return nil
}

// ValidateCmd validates the configuration file and prints a summary.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, loader, err := cli.loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration invalid: %v\n", err)
		os.Exit(1)
	}
	defer loader.Close()

	fmt.Println("configuration valid")
	fmt.Printf("  providers: %s (default %s)\n", strings.Join(sortedNames(cfg.LLMs), ", "), cfg.DefaultLLM)
	fmt.Printf("  agents:    %s\n", strings.Join(sortedNames(cfg.Agents), ", "))
	fmt.Printf("  data_dir:  %s\n", cfg.DataDir)
	return nil
}

func sortedNames[T any](m map[string]*T) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SchemaCmd writes the configuration JSON Schema.
type SchemaCmd struct {
	Output string `short:"o" help:"Output file (empty = stdout)." type:"path"`
}

func (c *SchemaCmd) Run() error {
	data, err := config.SchemaJSON(true)
	if err != nil {
		return err
	}
	if c.Output == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(c.Output, data, 0o644); err != nil {
		return err
	}
	fmt.Printf("schema written to %s\n", c.Output)
	return nil
}

// IndexCmd indexes a project directory into the code index.
type IndexCmd struct {
	Path string `arg:"" help:"Project directory to index." type:"path"`
}

func (c *IndexCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, loader, err := cli.loadConfig()
	if err != nil {
		return err
	}
	defer loader.Close()

	rt, err := runtime.New(cfg)
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	stats, err := rt.Indexer.IndexProject(ctx, c.Path)
	if err != nil {
		return err
	}
	fmt.Printf("scanned %d files: %d indexed, %d unchanged, %d entities\n",
		stats.FilesScanned, stats.FilesIndexed, stats.FilesSkipped, stats.Entities)

	if ps, err := rt.Indexer.ProjectStats(ctx, c.Path); err == nil && ps != nil {
		fmt.Printf("project total: %d files, %d entities\n", ps.TotalFiles, ps.TotalEntities)
	}
	return nil
}
