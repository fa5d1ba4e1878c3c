// Command nestor runs the agent platform.
//
// Usage:
//
//	nestor run "write a binary search in python"
//	nestor run "what changed in go 1.24" --agent research
//	nestor agents
//	nestor health
//	nestor validate --config config.yaml
//	nestor schema
//	nestor index ./path/to/project
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Run      RunCmd      `cmd:"" help:"Execute a task through the agent team."`
	Agents   AgentsCmd   `cmd:"" help:"List configured agents."`
	Health   HealthCmd   `cmd:"" help:"Show a system health snapshot."`
	Validate ValidateCmd `cmd:"" help:"Validate the configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Generate the JSON Schema for the configuration."`
	Index    IndexCmd    `cmd:"" help:"Index a project directory for code retrieval."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." placeholder:"LEVEL"`
	LogFormat string `help:"Log format (simple, verbose, json)." placeholder:"FORMAT"`
	LogFile   string `help:"Log file path (empty = stderr)." type:"path"`
}

// loadConfig loads and processes the configuration, then finalizes the
// logger: CLI flags win over the config file's logging section.
func (cli *CLI) loadConfig() (*config.Config, *config.Loader, error) {
	loader := config.NewLoader(cli.Config)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}

	levelStr := cli.LogLevel
	if levelStr == "" {
		levelStr = cfg.Logging.Level
	}
	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		return nil, nil, err
	}
	format := cli.LogFormat
	if format == "" {
		format = cfg.Logging.Format
	}

	output := os.Stderr
	logPath := cli.LogFile
	if logPath == "" {
		logPath = cfg.Logging.File
	}
	if logPath != "" {
		file, cleanup, err := logger.OpenLogFile(logPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		_ = cleanup // held open for the process lifetime
		output = file
	}

	logger.Init(level, output, format)
	return cfg, loader, nil
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("nestor version %s\n", version)
	return nil
}

func main() {
	// Absent .env files are fine; explicit env always wins.
	_ = godotenv.Load()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("nestor"),
		kong.Description("Nestor - self-improving multi-agent platform"),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
