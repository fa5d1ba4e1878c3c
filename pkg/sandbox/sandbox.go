// Package sandbox executes workflow code steps under restrictions: a static
// safety analysis (denylisted calls, import allowlist) followed by a python
// subprocess with restricted builtins and a hard timeout. Code that fails
// the static pass never spawns a process.
package sandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/logger"
)

// Result is the outcome of one code step.
type Result struct {
	Success  bool          `json:"success"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// dangerousNames are rejected wherever they appear outside comments. The
// list mirrors what generated code most often reaches for.
var dangerousNames = []string{
	"os.system", "os.popen", "os.exec", "os.spawn", "os.fork", "os.kill",
	"os.remove", "os.rmdir", "os.unlink", "shutil.rmtree",
	"subprocess", "eval(", "exec(", "compile(", "__import__",
	"globals(", "locals(", "vars(", "setattr(", "delattr(",
	"open(", "input(", "breakpoint(", "exit(", "quit(",
	"socket.", "ctypes", "pickle.loads", "marshal.loads",
}

var (
	importRe     = regexp.MustCompile(`(?m)^\s*import\s+([\w.]+(?:\s*,\s*[\w.]+)*)`)
	fromImportRe = regexp.MustCompile(`(?m)^\s*from\s+([\w.]+)\s+import\b`)
	commentRe    = regexp.MustCompile(`(?m)#.*$`)
)

// Sandbox runs python code steps.
type Sandbox struct {
	cfg *config.SandboxConfig
	log *slog.Logger
}

func New(cfg *config.SandboxConfig) *Sandbox {
	return &Sandbox{cfg: cfg, log: logger.Component("sandbox")}
}

// Analyze performs the static safety pass. A non-nil error means the code
// must not run.
func (s *Sandbox) Analyze(code string) error {
	stripped := commentRe.ReplaceAllString(code, "")

	for _, name := range dangerousNames {
		if strings.Contains(stripped, name) {
			return fmt.Errorf("Dangerous operation detected: %s", strings.TrimSuffix(name, "("))
		}
	}

	allowed := make(map[string]struct{}, len(s.cfg.AllowedImports))
	for _, imp := range s.cfg.AllowedImports {
		allowed[imp] = struct{}{}
	}
	check := func(module string) error {
		root := strings.SplitN(strings.TrimSpace(module), ".", 2)[0]
		if _, ok := allowed[root]; !ok {
			return fmt.Errorf("Import not allowed: %s", root)
		}
		return nil
	}
	for _, m := range importRe.FindAllStringSubmatch(stripped, -1) {
		for _, module := range strings.Split(m[1], ",") {
			if err := check(module); err != nil {
				return err
			}
		}
	}
	for _, m := range fromImportRe.FindAllStringSubmatch(stripped, -1) {
		if err := check(m[1]); err != nil {
			return err
		}
	}
	return nil
}

// harness runs the user code with a restricted builtins table. The code
// arrives base64-encoded so no escaping is needed.
const harness = `
import base64, builtins as _b

_ALLOWED = set(%q.split(","))

def _guarded_import(name, *args, **kwargs):
    root = name.split(".")[0]
    if root not in _ALLOWED:
        raise ImportError("Import not allowed: " + root)
    return _b.__import__(name, *args, **kwargs)

_SAFE_NAMES = (
    "abs", "all", "any", "bool", "bytes", "chr", "dict", "divmod",
    "enumerate", "filter", "float", "format", "frozenset", "hash", "hex",
    "int", "isinstance", "issubclass", "iter", "len", "list", "map", "max",
    "min", "next", "oct", "ord", "pow", "print", "range", "repr",
    "reversed", "round", "set", "slice", "sorted", "str", "sum", "tuple",
    "type", "zip", "Exception", "ValueError", "TypeError", "KeyError",
    "IndexError", "StopIteration", "ZeroDivisionError", "ArithmeticError",
    "AttributeError", "RuntimeError", "True", "False", "None",
)
_safe = {name: getattr(_b, name) for name in _SAFE_NAMES if hasattr(_b, name)}
_safe["__import__"] = _guarded_import

_code = base64.b64decode(%q).decode("utf-8")
exec(compile(_code, "<step>", "exec"), {"__builtins__": _safe})
`

// Run analyzes and then executes code, honoring the configured per-step
// timeout. It never returns a Go error: failures are reported in the Result
// so workflow steps can branch on them.
func (s *Sandbox) Run(ctx context.Context, code string) *Result {
	start := time.Now()
	if err := s.Analyze(code); err != nil {
		return &Result{Success: false, Error: err.Error(), Duration: time.Since(start)}
	}

	timeout := time.Duration(s.cfg.CodeTimeout) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	script := fmt.Sprintf(harness,
		strings.Join(s.cfg.AllowedImports, ","),
		base64.StdEncoding.EncodeToString([]byte(code)))

	cmd := exec.CommandContext(ctx, s.cfg.PythonBin, "-c", script)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		result.Error = "code execution timed out"
	case err != nil:
		result.Error = lastLine(stderr.String())
		if result.Error == "" {
			result.Error = err.Error()
		}
	default:
		result.Success = true
	}
	if !result.Success {
		s.log.Debug("code step failed", "error", result.Error)
	}
	return result
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
