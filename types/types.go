// Package types defines the shared data model for the compactor:
// chats, messages, and the transient projection handed to the
// transcript formatter and summarizer.
package types

import "time"

// Role represents the message role.
type Role string

const (
	// RoleUser represents a user message.
	RoleUser Role = "user"

	// RoleAssistant represents an assistant message.
	RoleAssistant Role = "assistant"
)

// Chat represents one conversation thread.
type Chat struct {
	ID string `json:"id"`

	// PendingCompaction is true between the moment the token threshold is
	// crossed and the moment a compaction commits (or fails). It doubles as
	// an advisory lock: callers must not start a second compaction while it
	// is outstanding for the same chat.
	PendingCompaction bool `json:"pending_compaction"`

	// CompactedAt is the time of the last successful compaction commit.
	CompactedAt *time.Time `json:"compacted_at,omitempty"`

	// CompactionBackupPath points at the most recent backup transcript
	// artifact written for this chat.
	CompactionBackupPath *string `json:"compaction_backup_path,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message represents one turn in a chat's message log.
//
// ID is a monotonically increasing integer assigned at insert time and is
// the authoritative ordering key. CreatedAt has second granularity only;
// two messages can collide within the same second, so it must never be
// used to order the log.
type Message struct {
	ID        int64     `json:"id"`
	ChatID    string    `json:"chat_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`

	// IsCompactionSummary marks the message as a summary produced by a
	// prior compaction of this chat.
	IsCompactionSummary bool `json:"is_compaction_summary"`

	// MaxTokensUsed is the token count the provider reported for the turn,
	// if the calling layer recorded one. Zero means unknown.
	MaxTokensUsed int `json:"max_tokens_used,omitempty"`
}

// CompactionMessage is the minimal projection of a message passed to the
// transcript formatter and the external summarizer. It is never persisted.
type CompactionMessage struct {
	Role    Role
	Content string
}
