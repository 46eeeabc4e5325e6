// Package storage defines the persistence interface for chats and their
// message logs, plus the concrete PostgreSQL, SQLite, and in-memory
// implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/loomchat/compactor/types"
)

// ErrChatNotFound is returned when the requested chat does not exist.
var ErrChatNotFound = errors.New("storage: chat not found")

// Store is the repository interface the compactor operates against.
//
// Message IDs are assigned by the store at insert time and are strictly
// monotonic per chat. GetMessages returns the log ordered by ID ascending;
// implementations must never order by CreatedAt, which has only second
// resolution.
type Store interface {
	// CreateChat creates a new chat and returns it.
	CreateChat(ctx context.Context) (*types.Chat, error)

	// GetChat returns the chat with the given ID, or ErrChatNotFound.
	GetChat(ctx context.Context, chatID string) (*types.Chat, error)

	// SetPendingCompaction flips the chat's pending-compaction flag.
	// This is the only chat mutation the trigger path performs.
	SetPendingCompaction(ctx context.Context, chatID string, pending bool) error

	// ListPendingChats returns the IDs of all chats with the
	// pending-compaction flag set.
	ListPendingChats(ctx context.Context) ([]string, error)

	// SaveMessage appends a message to the chat's log. The store assigns
	// msg.ID and, when msg.CreatedAt is zero, a second-granularity
	// timestamp. The passed message is updated in place.
	SaveMessage(ctx context.Context, msg *types.Message) error

	// GetMessages returns the full message log for a chat, ordered by ID.
	GetMessages(ctx context.Context, chatID string) ([]*types.Message, error)

	// CommitCompaction applies the result of a compaction as a single
	// atomic unit: it inserts the summary message, deletes the messages
	// named in params.DeleteMessageIDs, and updates the chat's compaction
	// metadata (compacted_at, backup path, pending flag cleared). A reader
	// must never observe the deletions without the summary or vice versa.
	// It returns the inserted summary message.
	CommitCompaction(ctx context.Context, params *CommitCompactionParams) (*types.Message, error)
}

// CommitCompactionParams carries everything the atomic compaction commit
// needs.
type CommitCompactionParams struct {
	ChatID string

	// SummaryContent is the full content of the summary message.
	SummaryContent string

	// SummaryCreatedAt is the back-dated timestamp for the summary message.
	// It must sort before the triggering user message, never after it.
	SummaryCreatedAt time.Time

	// DeleteMessageIDs are the non-summary messages subsumed by the summary.
	// Only IDs captured from the log loaded at the start of the compaction
	// attempt may appear here, so concurrently inserted messages survive.
	DeleteMessageIDs []int64

	// BackupPath is the backup transcript artifact written for this event.
	BackupPath string

	// CompactedAt is the commit time recorded on the chat.
	CompactedAt time.Time
}
