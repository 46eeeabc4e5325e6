package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loomchat/compactor/types"
)

func TestMemoryStoreChatLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	chat, err := store.CreateChat(ctx)
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	if chat.ID == "" {
		t.Fatal("CreateChat returned empty ID")
	}
	if chat.PendingCompaction {
		t.Error("new chat has pending flag set")
	}

	got, err := store.GetChat(ctx, chat.ID)
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if got.ID != chat.ID {
		t.Errorf("GetChat ID = %q, want %q", got.ID, chat.ID)
	}

	if _, err := store.GetChat(ctx, "nope"); !errors.Is(err, ErrChatNotFound) {
		t.Errorf("GetChat unknown = %v, want ErrChatNotFound", err)
	}
}

func TestMemoryStoreSaveMessageAssignsIDs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	chat, err := store.CreateChat(ctx)
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	stamp := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	first := &types.Message{ChatID: chat.ID, Role: types.RoleUser, Content: "hi", CreatedAt: stamp}
	second := &types.Message{ChatID: chat.ID, Role: types.RoleAssistant, Content: "hello"}

	if err := store.SaveMessage(ctx, first); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if err := store.SaveMessage(ctx, second); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	if first.ID == 0 || second.ID <= first.ID {
		t.Errorf("IDs not ascending: %d then %d", first.ID, second.ID)
	}
	if !first.CreatedAt.Equal(stamp) {
		t.Errorf("explicit CreatedAt overwritten: %v", first.CreatedAt)
	}
	if second.CreatedAt.IsZero() {
		t.Error("zero CreatedAt not assigned on save")
	}

	err = store.SaveMessage(ctx, &types.Message{ChatID: "nope", Role: types.RoleUser, Content: "x"})
	if !errors.Is(err, ErrChatNotFound) {
		t.Errorf("SaveMessage unknown chat = %v, want ErrChatNotFound", err)
	}
}

func TestMemoryStorePendingFlag(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	a, _ := store.CreateChat(ctx)
	b, _ := store.CreateChat(ctx)

	if err := store.SetPendingCompaction(ctx, a.ID, true); err != nil {
		t.Fatalf("SetPendingCompaction: %v", err)
	}

	pending, err := store.ListPendingChats(ctx)
	if err != nil {
		t.Fatalf("ListPendingChats: %v", err)
	}
	if len(pending) != 1 || pending[0] != a.ID {
		t.Errorf("pending = %v, want [%s]", pending, a.ID)
	}

	if err := store.SetPendingCompaction(ctx, a.ID, false); err != nil {
		t.Fatalf("SetPendingCompaction: %v", err)
	}
	pending, err = store.ListPendingChats(ctx)
	if err != nil {
		t.Fatalf("ListPendingChats: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending after clear = %v, want empty", pending)
	}

	got, _ := store.GetChat(ctx, b.ID)
	if got.PendingCompaction {
		t.Error("flag leaked across chats")
	}

	err = store.SetPendingCompaction(ctx, "nope", true)
	if !errors.Is(err, ErrChatNotFound) {
		t.Errorf("SetPendingCompaction unknown chat = %v, want ErrChatNotFound", err)
	}
}

func TestMemoryStoreCommitCompaction(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	chat, err := store.CreateChat(ctx)
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	if err := store.SetPendingCompaction(ctx, chat.ID, true); err != nil {
		t.Fatalf("SetPendingCompaction: %v", err)
	}

	var ids []int64
	for i := 0; i < 3; i++ {
		msg := &types.Message{ChatID: chat.ID, Role: types.RoleUser, Content: "m"}
		if err := store.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
		ids = append(ids, msg.ID)
	}

	summaryAt := time.Date(2026, 3, 1, 9, 59, 59, 0, time.UTC)
	compactedAt := time.Date(2026, 3, 1, 10, 0, 30, 0, time.UTC)

	// Delete only the first two; the third survives the commit.
	summary, err := store.CommitCompaction(ctx, &CommitCompactionParams{
		ChatID:           chat.ID,
		SummaryContent:   "summary text",
		SummaryCreatedAt: summaryAt,
		DeleteMessageIDs: ids[:2],
		BackupPath:       "/backups/x.transcript.log",
		CompactedAt:      compactedAt,
	})
	if err != nil {
		t.Fatalf("CommitCompaction: %v", err)
	}
	if !summary.IsCompactionSummary {
		t.Error("summary message not flagged")
	}
	if summary.Role != types.RoleAssistant {
		t.Errorf("summary role = %q, want assistant", summary.Role)
	}
	if !summary.CreatedAt.Equal(summaryAt) {
		t.Errorf("summary CreatedAt = %v, want %v", summary.CreatedAt, summaryAt)
	}

	log, err := store.GetMessages(ctx, chat.ID)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(log) != 2 {
		t.Fatalf("log has %d messages, want survivor plus summary", len(log))
	}
	if log[0].ID != ids[2] {
		t.Errorf("survivor ID = %d, want %d", log[0].ID, ids[2])
	}
	if log[1].ID != summary.ID {
		t.Errorf("summary not last by ID: %d", log[1].ID)
	}

	got, err := store.GetChat(ctx, chat.ID)
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if got.PendingCompaction {
		t.Error("pending flag not cleared by commit")
	}
	if got.CompactedAt == nil || !got.CompactedAt.Equal(compactedAt) {
		t.Errorf("CompactedAt = %v, want %v", got.CompactedAt, compactedAt)
	}
	if got.CompactionBackupPath == nil || *got.CompactionBackupPath != "/backups/x.transcript.log" {
		t.Error("backup path not recorded")
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	chat, _ := store.CreateChat(ctx)
	msg := &types.Message{ChatID: chat.ID, Role: types.RoleUser, Content: "original"}
	if err := store.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	log, _ := store.GetMessages(ctx, chat.ID)
	log[0].Content = "mutated"

	again, _ := store.GetMessages(ctx, chat.ID)
	if again[0].Content != "original" {
		t.Error("mutating a returned message changed stored state")
	}
}
