package compaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/loomchat/compactor/hooks"
	"github.com/loomchat/compactor/storage"
	"github.com/loomchat/compactor/types"
)

// Logger interface for compaction logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a no-op implementation of Logger.
type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// Result contains the outcome of a compaction operation.
type Result struct {
	// ChatID is the chat that was compacted.
	ChatID string

	// Skipped is true when the chat had no messages and nothing was done.
	Skipped bool

	// SummaryMessageID is the ID of the inserted summary message.
	SummaryMessageID int64

	// BackupPath is the backup transcript artifact for this event.
	BackupPath string

	// MessagesRemoved is the number of messages the commit deleted.
	MessagesRemoved int

	// Duration is how long the compaction took.
	Duration time.Duration
}

// Stats contains statistics about a chat's compaction state.
type Stats struct {
	// ChatID is the chat being analyzed.
	ChatID string

	// TotalMessages is the number of messages in the full log.
	TotalMessages int

	// VisibleMessages is the number of messages in the LLM-visible window.
	VisibleMessages int

	// SummaryMessages is the count of summaries from previous compactions.
	SummaryMessages int

	// TotalTokens is the estimated token count of the visible window.
	TotalTokens int

	// UsagePercent is the share of the context window in use.
	UsagePercent float64

	// PendingCompaction reports whether compaction is armed for this chat.
	PendingCompaction bool

	// NeedsCompaction indicates the trigger policy is satisfied right now.
	NeedsCompaction bool
}

// Compactor coordinates trigger evaluation, boundary resolution,
// transcript formatting, the external summarizer, and the atomic commit.
type Compactor struct {
	store      storage.Store
	summarizer Summarizer
	formatter  *Formatter
	backup     *BackupWriter
	config     *Config
	logger     Logger
	hooks      *hooks.Registry
	metrics    Metrics

	mu   sync.Mutex
	busy map[string]bool
}

// New creates a Compactor. If config is nil, default configuration is
// used; if logger is nil, logging is disabled.
func New(store storage.Store, summarizer Summarizer, config *Config, logger Logger) (*Compactor, error) {
	if config == nil {
		config = DefaultConfig()
	} else {
		config.ApplyDefaults()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = noopLogger{}
	}

	return &Compactor{
		store:      store,
		summarizer: summarizer,
		formatter:  NewFormatter(config.ToolResultLimit),
		backup:     NewBackupWriter(config.BackupDir),
		config:     config,
		logger:     logger,
		hooks:      hooks.NewRegistry(),
		busy:       make(map[string]bool),
	}, nil
}

// Hooks returns the registry callers use to subscribe to compaction
// lifecycle events.
func (c *Compactor) Hooks() *hooks.Registry {
	return c.hooks
}

// Config returns the compactor's configuration.
func (c *Compactor) Config() *Config {
	return c.config
}

// MetricsSnapshot returns a point-in-time view of the compactor's counters.
func (c *Compactor) MetricsSnapshot() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// CheckAndMark evaluates the trigger policy for a chat after a turn and,
// when crossed, arms the chat's pending-compaction flag. It reports
// whether the flag was set. The only side effect is that single metadata
// write; no message is touched here.
//
// When compaction is disabled by configuration this is a no-op reporting
// false.
func (c *Compactor) CheckAndMark(ctx context.Context, chatID string, totalTokens int) (bool, error) {
	if !c.config.Enabled {
		return false, nil
	}
	if totalTokens < c.config.TriggerThreshold() {
		return false, nil
	}

	if err := c.store.SetPendingCompaction(ctx, chatID, true); err != nil {
		return false, NewCompactionError("CheckAndMark", fmt.Errorf("%w: %v", ErrStorageError, err)).WithChat(chatID)
	}

	c.logger.Info("compaction armed",
		"chat_id", chatID,
		"total_tokens", totalTokens,
		"threshold", c.config.TriggerThreshold(),
	)
	return true, nil
}

// Compact runs one armed compaction for a chat: resolve the visible
// window, write the backup transcript, summarize, and commit. The backup
// is written and verified before any destructive step, so full history
// stays recoverable even when summarization fails afterwards.
//
// A failure at any step clears the pending flag (the chat must not
// re-trigger indefinitely) and is returned as a *CompactionError; no
// partial database mutation survives. A second Compact for the same chat
// while one is outstanding fails with ErrCompactionInProgress; different
// chats compact independently.
func (c *Compactor) Compact(ctx context.Context, chatID string) (*Result, error) {
	start := time.Now()

	if !c.acquire(chatID) {
		return nil, NewCompactionError("Compact", ErrCompactionInProgress).WithChat(chatID)
	}
	defer c.release(chatID)

	c.logger.Info("starting compaction", "chat_id", chatID)

	messages, err := c.store.GetMessages(ctx, chatID)
	if err != nil {
		return nil, c.fail(ctx, chatID, "GetMessages", fmt.Errorf("%w: %v", ErrStorageError, err))
	}

	if len(messages) == 0 {
		if err := c.store.SetPendingCompaction(ctx, chatID, false); err != nil {
			return nil, c.fail(ctx, chatID, "ClearPending", fmt.Errorf("%w: %v", ErrStorageError, err))
		}
		c.metrics.RecordSkip()
		c.logger.Debug("nothing to compact", "chat_id", chatID)
		return &Result{ChatID: chatID, Skipped: true, Duration: time.Since(start)}, nil
	}

	window := VisibleWindow(messages)
	compMsgs := make([]types.CompactionMessage, len(window))
	for i, msg := range window {
		compMsgs[i] = types.CompactionMessage{Role: msg.Role, Content: msg.Content}
	}

	now := time.Now().UTC()
	transcript := c.formatter.Transcript(chatID, now, compMsgs)

	backupPath, err := c.backup.Write(chatID, now, transcript)
	if err != nil {
		return nil, c.fail(ctx, chatID, "WriteBackup", fmt.Errorf("%w: %v", ErrBackupFailed, err))
	}

	c.logger.Debug("backup written",
		"chat_id", chatID,
		"path", backupPath,
		"messages", len(window),
		"bytes", len(transcript),
	)

	summarizeStart := time.Now()
	summary, err := c.summarizer.Summarize(ctx, PlainText(compMsgs))
	if err != nil {
		// Injected Summarizer implementations are not required to wrap the
		// sentinel themselves.
		if !errors.Is(err, ErrSummarizationFailed) {
			err = fmt.Errorf("%w: %v", ErrSummarizationFailed, err)
		}
		return nil, c.fail(ctx, chatID, "Summarize", err)
	}
	c.metrics.RecordSummarize(time.Since(summarizeStart))

	// The summary must sort before the user message whose turn crossed
	// the threshold: downstream timestamp-sorting consumers would
	// otherwise place it after, and the streaming layer could mistake it
	// for an in-progress assistant response.
	anchor := latestUserMessage(messages)
	if anchor == nil {
		anchor = messages[len(messages)-1]
	}
	summaryCreatedAt := anchor.CreatedAt.Add(-time.Second)

	var deleteIDs []int64
	for _, msg := range messages {
		if !msg.IsCompactionSummary {
			deleteIDs = append(deleteIDs, msg.ID)
		}
	}

	summaryMsg, err := c.store.CommitCompaction(ctx, &storage.CommitCompactionParams{
		ChatID:           chatID,
		SummaryContent:   summaryMessageContent(now, backupPath, summary),
		SummaryCreatedAt: summaryCreatedAt,
		DeleteMessageIDs: deleteIDs,
		BackupPath:       backupPath,
		CompactedAt:      now,
	})
	if err != nil {
		return nil, c.fail(ctx, chatID, "Commit", fmt.Errorf("%w: %v", ErrStorageError, err))
	}

	c.metrics.RecordCommit(len(transcript))
	c.hooks.RunCompactionComplete(ctx, &hooks.CompletionEvent{ChatID: chatID, BackupPath: backupPath})

	result := &Result{
		ChatID:           chatID,
		SummaryMessageID: summaryMsg.ID,
		BackupPath:       backupPath,
		MessagesRemoved:  len(deleteIDs),
		Duration:         time.Since(start),
	}

	c.logger.Info("compaction complete",
		"chat_id", chatID,
		"summary_message_id", result.SummaryMessageID,
		"messages_removed", result.MessagesRemoved,
		"backup_path", result.BackupPath,
		"duration_ms", result.Duration.Milliseconds(),
	)

	return result, nil
}

// GetStats returns statistics about a chat's compaction state.
func (c *Compactor) GetStats(ctx context.Context, chatID string) (*Stats, error) {
	chat, err := c.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, WrapError("GetStats", fmt.Errorf("%w: %v", ErrStorageError, err))
	}

	messages, err := c.store.GetMessages(ctx, chatID)
	if err != nil {
		return nil, WrapError("GetStats", fmt.Errorf("%w: %v", ErrStorageError, err))
	}

	window := VisibleWindow(messages)
	totalTokens := SumTokens(window)

	summaries := 0
	for _, msg := range messages {
		if msg.IsCompactionSummary {
			summaries++
		}
	}

	return &Stats{
		ChatID:            chatID,
		TotalMessages:     len(messages),
		VisibleMessages:   len(window),
		SummaryMessages:   summaries,
		TotalTokens:       totalTokens,
		UsagePercent:      float64(totalTokens) / float64(c.config.ContextWindow),
		PendingCompaction: chat.PendingCompaction,
		NeedsCompaction:   totalTokens >= c.config.TriggerThreshold(),
	}, nil
}

// fail records a failed attempt, clears the pending flag so the chat does
// not re-trigger on every subsequent turn, and notifies failure hooks.
// The flag is cleared on a context detached from ctx: rollback must
// happen even when the attempt died of cancellation.
func (c *Compactor) fail(ctx context.Context, chatID, op string, err error) error {
	c.metrics.RecordFailure()

	clearCtx := context.WithoutCancel(ctx)
	if clearErr := c.store.SetPendingCompaction(clearCtx, chatID, false); clearErr != nil {
		c.logger.Error("failed to clear pending flag", "chat_id", chatID, "error", clearErr)
	}

	cerr := NewCompactionError(op, err).WithChat(chatID)
	c.logger.Error("compaction failed", "chat_id", chatID, "op", op, "error", err)
	c.hooks.RunCompactionFailed(clearCtx, chatID, cerr)
	return cerr
}

func (c *Compactor) acquire(chatID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy[chatID] {
		return false
	}
	c.busy[chatID] = true
	return true
}

func (c *Compactor) release(chatID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.busy, chatID)
}

// summaryMessageContent builds the persisted summary message: a short
// banner, a pointer to the unabridged backup transcript, and the
// generated summary.
func summaryMessageContent(compactedAt time.Time, backupPath, summary string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Conversation compacted %s]\n", compactedAt.Format("2006-01-02 15:04 UTC"))
	fmt.Fprintf(&b, "Full transcript: %s\n\n", backupPath)
	b.WriteString(summary)
	return b.String()
}
