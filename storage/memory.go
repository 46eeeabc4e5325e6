package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loomchat/compactor/types"
)

// MemoryStore is an in-process Store implementation. It exists so the
// compaction orchestrator can be exercised without a database; it is also
// usable as-is for ephemeral sessions.
type MemoryStore struct {
	mu       sync.Mutex
	chats    map[string]*types.Chat
	messages map[string][]*types.Message // chatID -> log, ID ascending
	nextID   int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats:    make(map[string]*types.Chat),
		messages: make(map[string][]*types.Message),
	}
}

// CreateChat creates a new chat thread.
func (s *MemoryStore) CreateChat(ctx context.Context) (*types.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Truncate(time.Second)
	chat := &types.Chat{
		ID:        uuid.New().String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.chats[chat.ID] = chat

	out := *chat
	return &out, nil
}

// GetChat retrieves a chat by ID.
func (s *MemoryStore) GetChat(ctx context.Context, chatID string) (*types.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, ok := s.chats[chatID]
	if !ok {
		return nil, ErrChatNotFound
	}

	out := *chat
	return &out, nil
}

// SetPendingCompaction flips the chat's pending-compaction flag.
func (s *MemoryStore) SetPendingCompaction(ctx context.Context, chatID string, pending bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, ok := s.chats[chatID]
	if !ok {
		return ErrChatNotFound
	}

	chat.PendingCompaction = pending
	chat.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	return nil
}

// ListPendingChats returns the IDs of chats with the pending flag set.
func (s *MemoryStore) ListPendingChats(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, chat := range s.chats {
		if chat.PendingCompaction {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// SaveMessage appends a message to the chat's log and assigns its ID.
func (s *MemoryStore) SaveMessage(ctx context.Context, msg *types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[msg.ChatID]; !ok {
		return ErrChatNotFound
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}

	s.nextID++
	msg.ID = s.nextID

	stored := *msg
	s.messages[msg.ChatID] = append(s.messages[msg.ChatID], &stored)
	return nil
}

// GetMessages returns the full message log for a chat, ordered by ID.
func (s *MemoryStore) GetMessages(ctx context.Context, chatID string) ([]*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[chatID]; !ok {
		return nil, ErrChatNotFound
	}

	log := s.messages[chatID]
	out := make([]*types.Message, len(log))
	for i, msg := range log {
		m := *msg
		out[i] = &m
	}
	return out, nil
}

// CommitCompaction applies the compaction result atomically under the
// store lock: no reader can observe the deletions without the summary.
func (s *MemoryStore) CommitCompaction(ctx context.Context, params *CommitCompactionParams) (*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, ok := s.chats[params.ChatID]
	if !ok {
		return nil, ErrChatNotFound
	}

	s.nextID++
	summary := &types.Message{
		ID:                  s.nextID,
		ChatID:              params.ChatID,
		Role:                types.RoleAssistant,
		Content:             params.SummaryContent,
		CreatedAt:           params.SummaryCreatedAt,
		IsCompactionSummary: true,
	}

	doomed := make(map[int64]bool, len(params.DeleteMessageIDs))
	for _, id := range params.DeleteMessageIDs {
		doomed[id] = true
	}

	var kept []*types.Message
	for _, msg := range s.messages[params.ChatID] {
		if !doomed[msg.ID] {
			kept = append(kept, msg)
		}
	}
	kept = append(kept, summary)
	s.messages[params.ChatID] = kept

	compactedAt := params.CompactedAt
	backupPath := params.BackupPath
	chat.CompactedAt = &compactedAt
	chat.CompactionBackupPath = &backupPath
	chat.PendingCompaction = false
	chat.UpdatedAt = time.Now().UTC().Truncate(time.Second)

	out := *summary
	return &out, nil
}
