package validator

import (
	"regexp"
	"strings"
)

var (
	pythonSignals = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^\s*def \w+\(.*\)\s*:`),
		regexp.MustCompile(`(?m)^\s*class \w+.*:`),
		regexp.MustCompile(`(?m)^\s*(import|from) \w`),
		regexp.MustCompile(`(?m)^\s*elif `),
		regexp.MustCompile(`print\(`),
		regexp.MustCompile(`(?m):\s*$`),
	}
	jsSignals = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^\s*(const|let|var) \w`),
		regexp.MustCompile(`function\s*\w*\s*\(`),
		regexp.MustCompile(`=>\s*[{(]`),
		regexp.MustCompile(`console\.\w+\(`),
		regexp.MustCompile(`(?m)^\s*(export|import) .*from `),
		regexp.MustCompile(`===|!==`),
	}
	tsSignals = []*regexp.Regexp{
		regexp.MustCompile(`:\s*(string|number|boolean|void|any)\b`),
		regexp.MustCompile(`(?m)^\s*interface \w+`),
		regexp.MustCompile(`(?m)^\s*type \w+\s*=`),
		regexp.MustCompile(`<\w+>\(`),
	}
	goSignals = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^\s*package \w+`),
		regexp.MustCompile(`(?m)^\s*func \w+\(`),
		regexp.MustCompile(`:=`),
		regexp.MustCompile(`(?m)^\s*import \(`),
	}
)

func countSignals(code string, signals []*regexp.Regexp) int {
	n := 0
	for _, re := range signals {
		if re.MatchString(code) {
			n++
		}
	}
	return n
}

// DetectLanguage guesses the language of a code snippet from keyword and
// token heuristics. Returns "unknown" when nothing scores.
func DetectLanguage(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return "unknown"
	}

	scores := map[string]int{
		"python":     countSignals(code, pythonSignals),
		"javascript": countSignals(code, jsSignals),
		"typescript": countSignals(code, tsSignals),
		"go":         countSignals(code, goSignals),
	}
	// TypeScript is a superset: its signals count toward javascript too.
	if scores["typescript"] > 0 {
		scores["typescript"] += scores["javascript"]
	}

	best, bestScore := "unknown", 0
	for _, lang := range []string{"python", "typescript", "javascript", "go"} {
		if scores[lang] > bestScore {
			best, bestScore = lang, scores[lang]
		}
	}
	return best
}
