// Package hooks provides callback registration for compaction lifecycle
// events. The UI layer subscribes here to surface compaction progress
// without the compactor knowing anything about presentation.
package hooks

import (
	"context"
	"sync"
)

// CompletionEvent describes one successful compaction commit.
type CompletionEvent struct {
	// ChatID is the chat that was compacted.
	ChatID string

	// BackupPath is the backup transcript artifact written for the event.
	BackupPath string
}

// CompactionCompleteHook is called once per successful commit.
type CompactionCompleteHook func(ctx context.Context, event *CompletionEvent)

// CompactionFailedHook is called when a compaction attempt fails before
// commit. The chat's pending flag has already been cleared.
type CompactionFailedHook func(ctx context.Context, chatID string, err error)

// Registry holds all registered hooks.
type Registry struct {
	mu       sync.RWMutex
	complete []CompactionCompleteHook
	failed   []CompactionFailedHook
}

// NewRegistry creates a new hook registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// OnCompactionComplete registers a hook called after each successful commit.
func (r *Registry) OnCompactionComplete(hook CompactionCompleteHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.complete = append(r.complete, hook)
}

// OnCompactionFailed registers a hook called after each failed attempt.
func (r *Registry) OnCompactionFailed(hook CompactionFailedHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, hook)
}

// RunCompactionComplete invokes every registered completion hook in
// registration order.
func (r *Registry) RunCompactionComplete(ctx context.Context, event *CompletionEvent) {
	r.mu.RLock()
	hooks := make([]CompactionCompleteHook, len(r.complete))
	copy(hooks, r.complete)
	r.mu.RUnlock()

	for _, hook := range hooks {
		hook(ctx, event)
	}
}

// RunCompactionFailed invokes every registered failure hook in
// registration order.
func (r *Registry) RunCompactionFailed(ctx context.Context, chatID string, err error) {
	r.mu.RLock()
	hooks := make([]CompactionFailedHook, len(r.failed))
	copy(hooks, r.failed)
	r.mu.RUnlock()

	for _, hook := range hooks {
		hook(ctx, chatID, err)
	}
}
