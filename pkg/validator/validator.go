// Package validator checks generated code: language detection, a syntax
// gate, linter-backed static analysis (ruff when installed, a builtin
// scanner otherwise), and bounded LLM-assisted repair.
package validator

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"

	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/llms"
	"github.com/nestorlabs/nestor/pkg/logger"
)

// Issue is one finding from a syntax or lint pass.
type Issue struct {
	Severity string `json:"severity"` // "error" or "warning"
	Code     string `json:"code"`
	Message  string `json:"message"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
}

// Result is the outcome of one validation call. FixedCode is set only when
// repair produced a version that differs from the input.
type Result struct {
	IsValid      bool    `json:"is_valid"`
	Issues       []Issue `json:"issues"`
	FixedCode    string  `json:"fixed_code,omitempty"`
	Language     string  `json:"language"`
	ErrorCount   int     `json:"errors_count"`
	WarningCount int     `json:"warnings_count"`
}

// Generator is the slice of the LLM gateway used for repair.
type Generator interface {
	Generate(ctx context.Context, req *llms.Request, opts llms.CallOptions) (*llms.Response, error)
}

// Validator runs the validation pipeline. llm may be nil; repair is then
// skipped.
type Validator struct {
	cfg      *config.ValidationConfig
	llm      Generator
	ruffPath string
	log      *slog.Logger
}

func New(cfg *config.ValidationConfig, llm Generator) *Validator {
	v := &Validator{
		cfg: cfg,
		llm: llm,
		log: logger.Component("validator"),
	}
	if cfg.UseRuff == nil || *cfg.UseRuff {
		if path, err := exec.LookPath("ruff"); err == nil {
			v.ruffPath = path
			v.log.Debug("ruff detected", "path", path)
		}
	}
	return v
}

// Validate checks code in the given language (detected when empty). When
// fixErrors is set and an LLM is available, syntax failures and residual
// lint errors trigger bounded repair.
func (v *Validator) Validate(ctx context.Context, code, language string, fixErrors bool, taskContext string) *Result {
	if language == "" {
		language = DetectLanguage(code)
	}

	switch language {
	case "python":
		return v.validatePython(ctx, code, fixErrors, taskContext)
	case "javascript", "typescript":
		return v.validateJavaScript(code, language)
	default:
		return &Result{IsValid: true, Language: language}
	}
}

func (v *Validator) validatePython(ctx context.Context, code string, fixErrors bool, taskContext string) *Result {
	result := &Result{Language: "python"}
	working := code

	syntaxIssues := v.pythonSyntaxCheck(ctx, working)
	if len(syntaxIssues) > 0 && fixErrors && v.llm != nil {
		// One repair shot for syntax before linting is worth anything.
		if fixed := v.repair(ctx, working, syntaxIssues, taskContext); fixed != "" {
			if retry := v.pythonSyntaxCheck(ctx, fixed); len(retry) == 0 {
				working = fixed
				syntaxIssues = nil
			}
		}
	}
	if len(syntaxIssues) > 0 {
		result.Issues = syntaxIssues
		result.tally()
		return result
	}

	lintIssues := v.pythonLint(ctx, working)
	if hasErrors(lintIssues) && fixErrors && v.llm != nil {
		for attempt := 0; attempt < v.cfg.MaxFixAttempts; attempt++ {
			fixed := v.repair(ctx, working, lintIssues, taskContext)
			if fixed == "" {
				break
			}
			if retry := v.pythonSyntaxCheck(ctx, fixed); len(retry) > 0 {
				continue
			}
			working = fixed
			lintIssues = v.pythonLint(ctx, working)
			if !hasErrors(lintIssues) {
				break
			}
		}
	}

	result.Issues = lintIssues
	if working != code {
		result.FixedCode = working
	}
	result.tally()
	return result
}

func (r *Result) tally() {
	for _, issue := range r.Issues {
		if issue.Severity == "error" {
			r.ErrorCount++
		} else {
			r.WarningCount++
		}
	}
	r.IsValid = r.ErrorCount == 0
}

func hasErrors(issues []Issue) bool {
	for _, issue := range issues {
		if issue.Severity == "error" {
			return true
		}
	}
	return false
}

// repair asks the model for a corrected version: low temperature, token
// budget capped at twice the original length.
func (v *Validator) repair(ctx context.Context, code string, issues []Issue, taskContext string) string {
	var issueLines []string
	for i, issue := range issues {
		if i >= 10 {
			break
		}
		issueLines = append(issueLines, fmt.Sprintf("- line %d: %s (%s)", issue.Line, issue.Message, issue.Code))
	}

	prompt := "Fix the following issues in this code. Return ONLY the corrected code in a fenced block.\n\n"
	if taskContext != "" {
		prompt += "Task context: " + taskContext + "\n\n"
	}
	prompt += "Issues:\n" + strings.Join(issueLines, "\n") + "\n\nCode:\n```\n" + code + "\n```"

	temp := 0.1
	budget := 2 * (len(code)/4 + 100)
	resp, err := v.llm.Generate(ctx, &llms.Request{
		Messages:    []llms.Message{{Role: llms.RoleUser, Content: prompt}},
		Temperature: &temp,
		MaxTokens:   budget,
	}, llms.CallOptions{})
	if err != nil {
		v.log.Debug("repair call failed", "error", err)
		return ""
	}

	fixed := ExtractCode(resp.Content, "")
	if strings.TrimSpace(fixed) == "" || fixed == code {
		return ""
	}
	return fixed
}

var fenceRe = regexp.MustCompile("(?s)```([a-zA-Z0-9_+-]*)\n(.*?)```")

// ExtractCode returns the largest fenced code block matching the preferred
// language, else the largest block of any language, else the text itself.
func ExtractCode(text, preferredLanguage string) string {
	matches := fenceRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return text
	}

	best := ""
	bestPreferred := ""
	for _, m := range matches {
		lang, body := strings.ToLower(m[1]), m[2]
		if len(body) > len(best) {
			best = body
		}
		if preferredLanguage != "" && languageMatches(lang, preferredLanguage) && len(body) > len(bestPreferred) {
			bestPreferred = body
		}
	}
	if bestPreferred != "" {
		return strings.TrimRight(bestPreferred, "\n")
	}
	return strings.TrimRight(best, "\n")
}

func languageMatches(fenceLang, preferred string) bool {
	aliases := map[string][]string{
		"python":     {"python", "py", "python3"},
		"javascript": {"javascript", "js", "jsx"},
		"typescript": {"typescript", "ts", "tsx"},
		"go":         {"go", "golang"},
	}
	candidates, ok := aliases[strings.ToLower(preferred)]
	if !ok {
		candidates = []string{strings.ToLower(preferred)}
	}
	for _, c := range candidates {
		if fenceLang == c {
			return true
		}
	}
	return false
}
