package compaction

import (
	"testing"
	"time"

	"github.com/loomchat/compactor/types"
)

func mkMsg(id int64, role types.Role, summary bool) *types.Message {
	return &types.Message{
		ID:                  id,
		ChatID:              "chat-1",
		Role:                role,
		Content:             "content",
		CreatedAt:           time.Date(2026, 1, 1, 12, 0, int(id), 0, time.UTC),
		IsCompactionSummary: summary,
	}
}

func windowIDs(window []*types.Message) []int64 {
	ids := make([]int64, len(window))
	for i, msg := range window {
		ids[i] = msg.ID
	}
	return ids
}

func idsEqual(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestVisibleWindowNoSummary(t *testing.T) {
	log := []*types.Message{
		mkMsg(1, types.RoleUser, false),
		mkMsg(2, types.RoleAssistant, false),
		mkMsg(3, types.RoleUser, false),
	}

	window := VisibleWindow(log)
	if !idsEqual(windowIDs(window), []int64{1, 2, 3}) {
		t.Errorf("window = %v, want the whole log", windowIDs(window))
	}
}

func TestVisibleWindowWithTriggerAnchor(t *testing.T) {
	// A summary at id 10 whose triggering user message (id 8) survives,
	// with its assistant reply at 9 and new turns at 11-14.
	log := []*types.Message{
		mkMsg(8, types.RoleUser, false),
		mkMsg(9, types.RoleAssistant, false),
		mkMsg(10, types.RoleAssistant, true),
		mkMsg(11, types.RoleUser, false),
		mkMsg(12, types.RoleAssistant, false),
		mkMsg(13, types.RoleUser, false),
		mkMsg(14, types.RoleAssistant, false),
	}

	window := VisibleWindow(log)

	// Summary first (it is back-dated before the trigger), then every
	// non-summary message from the trigger onward.
	want := []int64{10, 8, 9, 11, 12, 13, 14}
	if !idsEqual(windowIDs(window), want) {
		t.Errorf("window = %v, want %v", windowIDs(window), want)
	}
}

func TestVisibleWindowFallbackWithoutTrigger(t *testing.T) {
	// After a delete-old commit the trigger message is gone: everything
	// from the summary onward is visible.
	log := []*types.Message{
		mkMsg(10, types.RoleAssistant, true),
		mkMsg(11, types.RoleUser, false),
		mkMsg(12, types.RoleAssistant, false),
		mkMsg(13, types.RoleUser, false),
		mkMsg(14, types.RoleAssistant, false),
	}

	window := VisibleWindow(log)

	want := []int64{10, 11, 12, 13, 14}
	if !idsEqual(windowIDs(window), want) {
		t.Errorf("window = %v, want %v", windowIDs(window), want)
	}
}

func TestVisibleWindowExcludesHistoricalSummaries(t *testing.T) {
	log := []*types.Message{
		mkMsg(3, types.RoleAssistant, true), // first compaction's summary
		mkMsg(8, types.RoleUser, false),
		mkMsg(9, types.RoleAssistant, false),
		mkMsg(10, types.RoleAssistant, true), // latest summary
		mkMsg(11, types.RoleUser, false),
	}

	window := VisibleWindow(log)

	want := []int64{10, 8, 9, 11}
	if !idsEqual(windowIDs(window), want) {
		t.Errorf("window = %v, want %v", windowIDs(window), want)
	}
	for _, msg := range window {
		if msg.IsCompactionSummary && msg.ID != 10 {
			t.Errorf("historical summary %d re-included in window", msg.ID)
		}
	}
}

func TestVisibleWindowLocatesSummaryByID(t *testing.T) {
	// The summary's createdAt is back-dated, so it must be located by ID,
	// never by timestamp. Give the summary the oldest timestamp in the
	// log and confirm resolution is unaffected.
	summary := mkMsg(10, types.RoleAssistant, true)
	summary.CreatedAt = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	log := []*types.Message{
		mkMsg(8, types.RoleUser, false),
		summary,
		mkMsg(11, types.RoleUser, false),
	}

	window := VisibleWindow(log)

	want := []int64{10, 8, 11}
	if !idsEqual(windowIDs(window), want) {
		t.Errorf("window = %v, want %v", windowIDs(window), want)
	}
}

func TestVisibleWindowEmptyLog(t *testing.T) {
	if window := VisibleWindow(nil); len(window) != 0 {
		t.Errorf("window of empty log has %d messages", len(window))
	}
}
