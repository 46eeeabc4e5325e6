package maintenance

import (
	"context"
	"errors"
	"testing"

	"github.com/loomchat/compactor/compaction"
	"github.com/loomchat/compactor/storage"
	"github.com/loomchat/compactor/types"
)

type fakeSummarizer struct {
	err error
}

func (f *fakeSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "swept summary", nil
}

func newSweepFixture(t *testing.T, summarizer compaction.Summarizer, config *SweeperConfig) (*Sweeper, storage.Store) {
	t.Helper()

	store := storage.NewMemoryStore()

	cfg := compaction.DefaultConfig()
	cfg.BackupDir = t.TempDir()
	compactor, err := compaction.New(store, summarizer, cfg, nil)
	if err != nil {
		t.Fatalf("compaction.New: %v", err)
	}

	return NewSweeper(store, compactor, config), store
}

func seedPendingChat(t *testing.T, store storage.Store, messages int) string {
	t.Helper()
	ctx := context.Background()

	chat, err := store.CreateChat(ctx)
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	for i := 0; i < messages; i++ {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		msg := &types.Message{ChatID: chat.ID, Role: role, Content: "m"}
		if err := store.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}
	if err := store.SetPendingCompaction(ctx, chat.ID, true); err != nil {
		t.Fatalf("SetPendingCompaction: %v", err)
	}
	return chat.ID
}

func TestSweepCompactsPendingChats(t *testing.T) {
	ctx := context.Background()

	var compacted []string
	config := &SweeperConfig{
		OnCompacted: func(chatID string, result *compaction.Result) {
			compacted = append(compacted, chatID)
		},
		OnError: func(chatID string, err error) {
			t.Errorf("unexpected sweep error for %s: %v", chatID, err)
		},
	}
	sweeper, store := newSweepFixture(t, &fakeSummarizer{}, config)

	pendingID := seedPendingChat(t, store, 4)

	// A chat that never crossed the threshold stays untouched.
	idle, err := store.CreateChat(ctx)
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	idleMsg := &types.Message{ChatID: idle.ID, Role: types.RoleUser, Content: "quiet"}
	if err := store.SaveMessage(ctx, idleMsg); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	if err := sweeper.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if len(compacted) != 1 || compacted[0] != pendingID {
		t.Errorf("compacted = %v, want [%s]", compacted, pendingID)
	}

	got, err := store.GetChat(ctx, pendingID)
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if got.PendingCompaction {
		t.Error("pending flag survived the sweep")
	}
	if got.CompactedAt == nil {
		t.Error("sweep did not record CompactedAt")
	}

	idleLog, err := store.GetMessages(ctx, idle.ID)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(idleLog) != 1 {
		t.Errorf("idle chat touched by sweep: %d messages", len(idleLog))
	}
}

func TestSweepSkipsEmptyPendingChat(t *testing.T) {
	ctx := context.Background()

	var compacted, failed []string
	config := &SweeperConfig{
		OnCompacted: func(chatID string, result *compaction.Result) {
			compacted = append(compacted, chatID)
		},
		OnError: func(chatID string, err error) {
			failed = append(failed, chatID)
		},
	}
	sweeper, store := newSweepFixture(t, &fakeSummarizer{}, config)

	chatID := seedPendingChat(t, store, 0)

	if err := sweeper.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if len(compacted) != 0 || len(failed) != 0 {
		t.Errorf("callbacks for a no-op sweep: compacted=%v failed=%v", compacted, failed)
	}

	got, err := store.GetChat(ctx, chatID)
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if got.PendingCompaction {
		t.Error("pending flag not cleared for empty chat")
	}
}

func TestSweepContinuesPastFailures(t *testing.T) {
	ctx := context.Background()

	var failed []string
	config := &SweeperConfig{
		OnError: func(chatID string, err error) {
			failed = append(failed, chatID)
		},
	}
	sweeper, store := newSweepFixture(t, &fakeSummarizer{err: errors.New("model down")}, config)

	seedPendingChat(t, store, 2)
	seedPendingChat(t, store, 2)

	if err := sweeper.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	// Both chats were attempted despite the first failure.
	if len(failed) != 2 {
		t.Errorf("OnError fired %d times, want 2", len(failed))
	}
}

func TestSweeperStartValidation(t *testing.T) {
	sweeper, _ := newSweepFixture(t, &fakeSummarizer{}, &SweeperConfig{Schedule: "not a schedule"})
	if err := sweeper.Start(); err == nil {
		sweeper.Stop()
		t.Fatal("Start accepted an invalid schedule")
	}

	sweeper, _ = newSweepFixture(t, &fakeSummarizer{}, &SweeperConfig{Schedule: "@every 1h"})
	if err := sweeper.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sweeper.Start(); err == nil {
		t.Error("second Start did not fail")
	}
	sweeper.Stop()

	// Stop is idempotent.
	sweeper.Stop()
}
