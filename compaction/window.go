package compaction

import (
	"github.com/loomchat/compactor/types"
)

// VisibleWindow computes the subset of a chat's message log the model
// currently sees. The input must be the full log ordered by ID ascending;
// ID is the authoritative ordering key (CreatedAt has second resolution
// and collides).
//
// With no prior compaction the window is the whole log. Otherwise it is
// the latest summary S plus every message from the turn that triggered S
// onward, excluding any other historical summaries: re-including content
// the summary already subsumes would make re-compaction grow the context
// instead of shrinking it.
//
// The summary is returned first. Its timestamp is back-dated to sit before
// the triggering user message, so this order matches what any
// timestamp-sorting consumer displays.
func VisibleWindow(messages []*types.Message) []*types.Message {
	summary := latestSummary(messages)
	if summary == nil {
		return messages
	}

	// The summary's createdAt is deliberately back-dated, so the message
	// that triggered it can only be located by ID comparison: the most
	// recent user-role message before the summary.
	trigger := triggerBefore(messages, summary.ID)

	if trigger == nil {
		// No surviving trigger message (the delete-old commit policy
		// removes it). Everything from the summary onward is visible.
		var window []*types.Message
		for _, msg := range messages {
			if msg.ID >= summary.ID {
				window = append(window, msg)
			}
		}
		return window
	}

	window := []*types.Message{summary}
	for _, msg := range messages {
		if msg.ID >= trigger.ID && !msg.IsCompactionSummary {
			window = append(window, msg)
		}
	}
	return window
}

// latestSummary returns the compaction summary with the highest ID, or nil.
func latestSummary(messages []*types.Message) *types.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].IsCompactionSummary {
			return messages[i]
		}
	}
	return nil
}

// triggerBefore returns the most recent user-role message with an ID below
// beforeID, or nil.
func triggerBefore(messages []*types.Message, beforeID int64) *types.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.ID < beforeID && msg.Role == types.RoleUser {
			return msg
		}
	}
	return nil
}

// latestUserMessage returns the most recent user-role message in the log,
// or nil. This is the message whose turn crossed the token threshold and
// whose timestamp anchors the summary back-dating.
func latestUserMessage(messages []*types.Message) *types.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == types.RoleUser {
			return messages[i]
		}
	}
	return nil
}
