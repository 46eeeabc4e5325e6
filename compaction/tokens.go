package compaction

import (
	"github.com/loomchat/compactor/types"
)

// messageOverheadTokens is the per-message structural overhead added on
// top of the content estimate.
const messageOverheadTokens = 4

// ApproximateTokens provides a fast token estimate without an API call,
// at roughly four characters per token.
func ApproximateTokens(content string) int {
	return (len(content) + 3) / 4
}

// SumTokens estimates the total token count of a message log. Messages
// that recorded provider-reported usage use it; the rest fall back to the
// character approximation.
func SumTokens(messages []*types.Message) int {
	total := 0
	for _, msg := range messages {
		if msg.MaxTokensUsed > 0 {
			total += msg.MaxTokensUsed
			continue
		}
		total += ApproximateTokens(msg.Content) + messageOverheadTokens
	}
	return total
}
