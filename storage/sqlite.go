package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver registration

	"github.com/loomchat/compactor/types"
)

const sqliteBusyTimeoutMS = 5000

// timeLayout is how timestamps are stored in SQLite. Second granularity,
// matching the data model: CreatedAt is display metadata, never an
// ordering key.
const timeLayout = "2006-01-02T15:04:05Z"

// sqliteSchema is executed in order by the migration. All DDL uses
// IF NOT EXISTS for idempotent re-application.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS chats (
		id                     TEXT PRIMARY KEY,
		pending_compaction     INTEGER NOT NULL DEFAULT 0,
		compacted_at           TEXT,
		compaction_backup_path TEXT,
		created_at             TEXT NOT NULL,
		updated_at             TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS messages (
		id                    INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id               TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
		role                  TEXT NOT NULL,
		content               TEXT NOT NULL DEFAULT '',
		created_at            TEXT NOT NULL,
		is_compaction_summary INTEGER NOT NULL DEFAULT 0,
		max_tokens_used       INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, id)`,
}

// SQLiteStore implements Store on a local SQLite database. This is the
// natural backend for a single-user desktop deployment.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if necessary) a SQLite database at the
// given path and returns a store backed by it. The caller is responsible
// for closing the store when done.
//
// The database is opened with WAL mode, a 5 s busy timeout, and a single
// connection (SQLite serialises writes). The schema is migrated
// automatically.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", sqliteBusyTimeoutMS)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}

	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: migrate: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateChat creates a new chat thread.
func (s *SQLiteStore) CreateChat(ctx context.Context) (*types.Chat, error) {
	now := time.Now().UTC().Truncate(time.Second)
	chat := &types.Chat{
		ID:        uuid.New().String(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (id, created_at, updated_at)
		VALUES (?, ?, ?)`,
		chat.ID, formatTime(now), formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: create chat: %w", err)
	}

	return chat, nil
}

// GetChat retrieves a chat by ID.
func (s *SQLiteStore) GetChat(ctx context.Context, chatID string) (*types.Chat, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, pending_compaction, compacted_at, compaction_backup_path, created_at, updated_at
		FROM chats
		WHERE id = ?`,
		chatID,
	)

	var chat types.Chat
	var pending int
	var compactedAt, backupPath sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&chat.ID, &pending, &compactedAt, &backupPath, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get chat: %w", err)
	}

	chat.PendingCompaction = pending != 0
	if compactedAt.Valid {
		t, err := parseTime(compactedAt.String)
		if err != nil {
			return nil, fmt.Errorf("sqlite: get chat: %w", err)
		}
		chat.CompactedAt = &t
	}
	if backupPath.Valid {
		p := backupPath.String
		chat.CompactionBackupPath = &p
	}
	if chat.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("sqlite: get chat: %w", err)
	}
	if chat.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("sqlite: get chat: %w", err)
	}

	return &chat, nil
}

// SetPendingCompaction flips the chat's pending-compaction flag.
func (s *SQLiteStore) SetPendingCompaction(ctx context.Context, chatID string, pending bool) error {
	flag := 0
	if pending {
		flag = 1
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE chats SET pending_compaction = ?, updated_at = ? WHERE id = ?`,
		flag, formatTime(time.Now().UTC()), chatID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: set pending compaction: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: set pending compaction: %w", err)
	}
	if n == 0 {
		return ErrChatNotFound
	}

	return nil
}

// ListPendingChats returns the IDs of chats with the pending flag set.
func (s *SQLiteStore) ListPendingChats(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM chats WHERE pending_compaction = 1 ORDER BY updated_at`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list pending chats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: list pending chats: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list pending chats: %w", err)
	}

	return ids, nil
}

// SaveMessage appends a message to the chat's log and assigns its ID.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *types.Message) error {
	if msg.ChatID == "" {
		return fmt.Errorf("sqlite: save message: chat_id is required")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}

	flag := 0
	if msg.IsCompactionSummary {
		flag = 1
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (chat_id, role, content, created_at, is_compaction_summary, max_tokens_used)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ChatID, string(msg.Role), msg.Content, formatTime(msg.CreatedAt), flag, msg.MaxTokensUsed,
	)
	if err != nil {
		return fmt.Errorf("sqlite: save message: %w", err)
	}

	msg.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: save message: %w", err)
	}

	return nil
}

// GetMessages returns the full message log for a chat, ordered by ID.
func (s *SQLiteStore) GetMessages(ctx context.Context, chatID string) ([]*types.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, role, content, created_at, is_compaction_summary, max_tokens_used
		FROM messages
		WHERE chat_id = ?
		ORDER BY id`,
		chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: get messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.Message
	for rows.Next() {
		var msg types.Message
		var role, createdAt string
		var summary int
		if err := rows.Scan(&msg.ID, &msg.ChatID, &role, &msg.Content, &createdAt, &summary, &msg.MaxTokensUsed); err != nil {
			return nil, fmt.Errorf("sqlite: get messages: %w", err)
		}
		msg.Role = types.Role(role)
		msg.IsCompactionSummary = summary != 0
		if msg.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: get messages: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: get messages: %w", err)
	}

	return messages, nil
}

// CommitCompaction applies the compaction result as one transaction.
func (s *SQLiteStore) CommitCompaction(ctx context.Context, params *CommitCompactionParams) (*types.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: commit compaction: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	summary := &types.Message{
		ChatID:              params.ChatID,
		Role:                types.RoleAssistant,
		Content:             params.SummaryContent,
		CreatedAt:           params.SummaryCreatedAt,
		IsCompactionSummary: true,
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (chat_id, role, content, created_at, is_compaction_summary, max_tokens_used)
		VALUES (?, ?, ?, ?, 1, 0)`,
		summary.ChatID, string(summary.Role), summary.Content, formatTime(summary.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: commit compaction: insert summary: %w", err)
	}
	if summary.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("sqlite: commit compaction: insert summary: %w", err)
	}

	if len(params.DeleteMessageIDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(params.DeleteMessageIDs)), ",")
		args := make([]any, 0, len(params.DeleteMessageIDs)+1)
		args = append(args, params.ChatID)
		for _, id := range params.DeleteMessageIDs {
			args = append(args, id)
		}
		del := fmt.Sprintf(`DELETE FROM messages WHERE chat_id = ? AND id IN (%s)`, placeholders)
		if _, err := tx.ExecContext(ctx, del, args...); err != nil {
			return nil, fmt.Errorf("sqlite: commit compaction: delete messages: %w", err)
		}
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE chats
		SET pending_compaction = 0,
		    compacted_at = ?,
		    compaction_backup_path = ?,
		    updated_at = ?
		WHERE id = ?`,
		formatTime(params.CompactedAt), params.BackupPath, formatTime(time.Now().UTC()), params.ChatID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: commit compaction: update chat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlite: commit compaction: update chat: %w", err)
	}
	if n == 0 {
		return nil, ErrChatNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit compaction: commit: %w", err)
	}

	return summary, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
