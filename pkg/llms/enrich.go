package llms

import (
	"fmt"
	"strings"
	"time"
)

// EnrichPrompt prepends the current date and appends optional guidance
// sections (few-shot examples, personalization, error avoidance). Blank
// sections are skipped. Models answer time-sensitive questions from their
// training cutoff unless told otherwise, hence the date.
func EnrichPrompt(base string, sections ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current date: %s.\n\n", time.Now().Format("2006-01-02"))
	b.WriteString(base)
	for _, s := range sections {
		if s = strings.TrimSpace(s); s != "" {
			b.WriteString("\n\n")
			b.WriteString(s)
		}
	}
	return b.String()
}
