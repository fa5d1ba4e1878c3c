package assembler

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
)

// EstimateTokens counts tokens with the cl100k_base encoding when its data
// is available, and falls back to the 1-token-per-4-chars heuristic when it
// is not (the encoding is fetched on first use and may be absent offline).
func EstimateTokens(text string) int {
	encoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoder = enc
		}
	})
	if encoder != nil {
		return len(encoder.Encode(text, nil, nil))
	}
	return len(text) / 4
}
