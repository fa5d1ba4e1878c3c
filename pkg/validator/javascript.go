package validator

import (
	"regexp"
	"strings"
)

var (
	varDeclRe   = regexp.MustCompile(`(?m)^\s*var\s+\w`)
	looseEqRe   = regexp.MustCompile(`[^=!<>]==[^=]|[^!]!=[^=]`)
	consoleRe   = regexp.MustCompile(`\bconsole\.\w+\(`)
	jsCommentRe = regexp.MustCompile(`//.*$`)
)

// validateJavaScript covers javascript and typescript: a balanced-brackets
// gate, then basic quality rules. ESLint integration is deliberately left to
// the caller's toolchain.
func (v *Validator) validateJavaScript(code, language string) *Result {
	result := &Result{Language: language}
	result.Issues = scanJSBrackets(code)
	if len(result.Issues) == 0 {
		result.Issues = scanJSQuality(code)
	}
	result.tally()
	return result
}

func scanJSBrackets(code string) []Issue {
	var issues []Issue
	depth := 0
	for lineNo, line := range strings.Split(code, "\n") {
		stripped := jsCommentRe.ReplaceAllString(stripJSStrings(line), "")
		for col, r := range stripped {
			switch r {
			case '(', '[', '{':
				depth++
			case ')', ']', '}':
				depth--
				if depth < 0 {
					issues = append(issues, Issue{
						Severity: "error", Code: "syntax",
						Message: "unbalanced closing bracket",
						Line:    lineNo + 1, Column: col + 1,
					})
					depth = 0
				}
			}
		}
	}
	if depth > 0 {
		issues = append(issues, Issue{
			Severity: "error", Code: "syntax",
			Message: "unbalanced opening bracket",
			Line:    strings.Count(code, "\n") + 1, Column: 1,
		})
	}
	return issues
}

func stripJSStrings(line string) string {
	out := []rune(line)
	var quote rune
	start := -1
	for i, r := range out {
		switch {
		case quote == 0 && (r == '\'' || r == '"' || r == '`'):
			quote, start = r, i
		case r == quote && (i == 0 || out[i-1] != '\\'):
			for j := start + 1; j < i; j++ {
				out[j] = ' '
			}
			quote = 0
		}
	}
	return string(out)
}

func scanJSQuality(code string) []Issue {
	var issues []Issue
	for lineNo, line := range strings.Split(code, "\n") {
		stripped := jsCommentRe.ReplaceAllString(stripJSStrings(line), "")
		if varDeclRe.MatchString(stripped) {
			issues = append(issues, Issue{
				Severity: "warning", Code: "no-var",
				Message: "use let or const instead of var", Line: lineNo + 1,
			})
		}
		if looseEqRe.MatchString(stripped) {
			issues = append(issues, Issue{
				Severity: "warning", Code: "eqeqeq",
				Message: "use === / !== instead of loose equality", Line: lineNo + 1,
			})
		}
		if consoleRe.MatchString(stripped) {
			issues = append(issues, Issue{
				Severity: "warning", Code: "no-console",
				Message: "remove console statement", Line: lineNo + 1,
			})
		}
	}
	return issues
}
