package validator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// ruffFinding is one diagnostic from `ruff check --output-format json`.
type ruffFinding struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Location struct {
		Row    int `json:"row"`
		Column int `json:"column"`
	} `json:"location"`
}

const ruffTimeout = 10 * time.Second

// pythonSyntaxCheck returns syntax errors only. Ruff (when present) is the
// authority; otherwise the builtin scanner approximates a parse.
func (v *Validator) pythonSyntaxCheck(ctx context.Context, code string) []Issue {
	if v.ruffPath != "" {
		findings, err := v.runRuff(ctx, code, "E999")
		if err == nil {
			return findings
		}
		v.log.Debug("ruff syntax check failed, using builtin scanner", "error", err)
	}
	return scanPythonSyntax(code)
}

// pythonLint runs the configured rule sets. Findings with codes starting
// "E9" or "F8" are errors, everything else a warning (pyflakes F401/F841
// style findings still block via the error count when severe).
func (v *Validator) pythonLint(ctx context.Context, code string) []Issue {
	if v.ruffPath != "" {
		findings, err := v.runRuff(ctx, code, strings.Join(v.cfg.RuleSets, ","))
		if err == nil {
			return findings
		}
		v.log.Debug("ruff lint failed, using builtin rules", "error", err)
	}
	return scanPythonQuality(code)
}

func (v *Validator) runRuff(ctx context.Context, code, ruleSelect string) ([]Issue, error) {
	ctx, cancel := context.WithTimeout(ctx, ruffTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, v.ruffPath, "check",
		"--output-format", "json",
		"--select", ruleSelect,
		"--stdin-filename", "snippet.py", "-")
	cmd.Stdin = strings.NewReader(code)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	// Ruff exits 1 when it finds anything; only exec-level failures count.
	if err := cmd.Run(); err != nil {
		if _, isExit := err.(*exec.ExitError); !isExit {
			return nil, fmt.Errorf("ruff execution failed: %w", err)
		}
	}

	var findings []ruffFinding
	if err := json.Unmarshal(stdout.Bytes(), &findings); err != nil {
		return nil, fmt.Errorf("unparseable ruff output: %w", err)
	}

	issues := make([]Issue, 0, len(findings))
	for _, f := range findings {
		severity := "warning"
		if strings.HasPrefix(f.Code, "E9") || strings.HasPrefix(f.Code, "F8") || strings.HasPrefix(f.Code, "S") {
			severity = "error"
		}
		issues = append(issues, Issue{
			Severity: severity,
			Code:     f.Code,
			Message:  f.Message,
			Line:     f.Location.Row,
			Column:   f.Location.Column,
		})
	}
	return issues, nil
}

var blockHeaderRe = regexp.MustCompile(`^\s*(def |class |if |elif |for |while |with |try\b|except|finally|else)`)

// scanPythonSyntax is the fallback syntax gate: bracket balance, block
// headers ending in a colon, and unterminated simple strings. It cannot
// replace a parser but catches what generation typically breaks.
func scanPythonSyntax(code string) []Issue {
	var issues []Issue

	depth := 0
	for lineNo, line := range strings.Split(code, "\n") {
		stripped := stripPythonStrings(line)
		if idx := strings.Index(stripped, "#"); idx >= 0 {
			stripped = stripped[:idx]
		}
		for col, r := range stripped {
			switch r {
			case '(', '[', '{':
				depth++
			case ')', ']', '}':
				depth--
				if depth < 0 {
					issues = append(issues, Issue{
						Severity: "error", Code: "E999",
						Message: "unbalanced closing bracket",
						Line:    lineNo + 1, Column: col + 1,
					})
					depth = 0
				}
			}
		}
		if strings.Count(stripped, "'")%2 != 0 || strings.Count(stripped, `"`)%2 != 0 {
			issues = append(issues, Issue{
				Severity: "error", Code: "E999",
				Message: "unterminated string literal",
				Line:    lineNo + 1, Column: 1,
			})
		}
		if depth == 0 && blockHeaderRe.MatchString(line) {
			trimmed := strings.TrimRight(stripped, " \t")
			if trimmed != "" && !strings.HasSuffix(trimmed, ":") && !strings.HasSuffix(trimmed, "\\") {
				issues = append(issues, Issue{
					Severity: "error", Code: "E999",
					Message: "expected ':' at end of block header",
					Line:    lineNo + 1, Column: len(line),
				})
			}
		}
	}
	if depth > 0 {
		issues = append(issues, Issue{
			Severity: "error", Code: "E999",
			Message: "unbalanced opening bracket",
			Line:    strings.Count(code, "\n") + 1, Column: 1,
		})
	}
	return issues
}

// stripPythonStrings blanks out complete quoted spans so bracket counting
// ignores their contents. Unterminated quotes are left in place for the
// quote-parity check.
func stripPythonStrings(line string) string {
	out := []rune(line)
	var quote rune
	start := -1
	for i, r := range out {
		switch {
		case quote == 0 && (r == '\'' || r == '"'):
			quote, start = r, i
		case r == quote:
			for j := start + 1; j < i; j++ {
				out[j] = ' '
			}
			quote = 0
		}
	}
	return string(out)
}

// scanPythonQuality is the builtin lint fallback: a handful of high-signal
// rules from the configured sets.
func scanPythonQuality(code string) []Issue {
	var issues []Issue
	for lineNo, line := range strings.Split(code, "\n") {
		stripped := strings.TrimSpace(line)
		switch {
		case stripped == "except:":
			issues = append(issues, Issue{
				Severity: "warning", Code: "E722",
				Message: "do not use bare except", Line: lineNo + 1,
			})
		case strings.Contains(stripped, "== None") || strings.Contains(stripped, "!= None"):
			issues = append(issues, Issue{
				Severity: "warning", Code: "E711",
				Message: "comparison to None should use 'is' or 'is not'", Line: lineNo + 1,
			})
		case strings.HasPrefix(stripped, "from ") && strings.HasSuffix(stripped, "import *"):
			issues = append(issues, Issue{
				Severity: "warning", Code: "F403",
				Message: "wildcard import", Line: lineNo + 1,
			})
		}
		if strings.Contains(stripped, "eval(") || strings.Contains(stripped, "exec(") {
			issues = append(issues, Issue{
				Severity: "error", Code: "S307",
				Message: "use of eval/exec is insecure", Line: lineNo + 1,
			})
		}
		if len(line) > 120 {
			issues = append(issues, Issue{
				Severity: "warning", Code: "E501",
				Message: "line too long", Line: lineNo + 1,
			})
		}
	}
	return issues
}
