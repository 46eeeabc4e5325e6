package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loomchat/compactor/types"
)

// txContextKey is the context key for storing pgx.Tx
type txContextKey struct{}

// WithTx returns a new context with the given transaction. Store operations
// performed with this context run inside the transaction instead of the pool.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

// TxFromContext retrieves the transaction from context, or nil if not present
func TxFromContext(ctx context.Context) pgx.Tx {
	if tx, ok := ctx.Value(txContextKey{}).(pgx.Tx); ok {
		return tx
	}
	return nil
}

// querier is a common interface for pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// postgresSchema is applied by Migrate. All DDL uses IF NOT EXISTS so
// migration is idempotent.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS compactor_chats (
		id                     TEXT PRIMARY KEY,
		pending_compaction     BOOLEAN NOT NULL DEFAULT FALSE,
		compacted_at           TIMESTAMPTZ,
		compaction_backup_path TEXT,
		created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS compactor_messages (
		id                    BIGSERIAL PRIMARY KEY,
		chat_id               TEXT NOT NULL REFERENCES compactor_chats(id) ON DELETE CASCADE,
		role                  TEXT NOT NULL,
		content               TEXT NOT NULL DEFAULT '',
		created_at            TIMESTAMPTZ NOT NULL,
		is_compaction_summary BOOLEAN NOT NULL DEFAULT FALSE,
		max_tokens_used       INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE INDEX IF NOT EXISTS idx_compactor_messages_chat ON compactor_messages (chat_id, id)`,

	`CREATE INDEX IF NOT EXISTS idx_compactor_chats_pending ON compactor_chats (id) WHERE pending_compaction`,
}

// PostgresStore implements Store using PostgreSQL with pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema if it does not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}

// getQuerier returns the transaction from context if present, otherwise the pool
func (s *PostgresStore) getQuerier(ctx context.Context) querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

// CreateChat creates a new chat thread.
func (s *PostgresStore) CreateChat(ctx context.Context) (*types.Chat, error) {
	chat := &types.Chat{ID: uuid.New().String()}

	query := `
		INSERT INTO compactor_chats (id, created_at, updated_at)
		VALUES ($1, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	err := s.getQuerier(ctx).QueryRow(ctx, query, chat.ID).Scan(&chat.CreatedAt, &chat.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("postgres: create chat: %w", err)
	}

	return chat, nil
}

// GetChat retrieves a chat by ID.
func (s *PostgresStore) GetChat(ctx context.Context, chatID string) (*types.Chat, error) {
	query := `
		SELECT id, pending_compaction, compacted_at, compaction_backup_path, created_at, updated_at
		FROM compactor_chats
		WHERE id = $1
	`

	var chat types.Chat
	err := s.getQuerier(ctx).QueryRow(ctx, query, chatID).Scan(
		&chat.ID,
		&chat.PendingCompaction,
		&chat.CompactedAt,
		&chat.CompactionBackupPath,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get chat: %w", err)
	}

	return &chat, nil
}

// SetPendingCompaction flips the chat's pending-compaction flag.
func (s *PostgresStore) SetPendingCompaction(ctx context.Context, chatID string, pending bool) error {
	query := `
		UPDATE compactor_chats
		SET pending_compaction = $2, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := s.getQuerier(ctx).Exec(ctx, query, chatID, pending)
	if err != nil {
		return fmt.Errorf("postgres: set pending compaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrChatNotFound
	}

	return nil
}

// ListPendingChats returns the IDs of chats with the pending flag set.
func (s *PostgresStore) ListPendingChats(ctx context.Context) ([]string, error) {
	query := `SELECT id FROM compactor_chats WHERE pending_compaction ORDER BY updated_at`

	rows, err := s.getQuerier(ctx).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending chats: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: list pending chats: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list pending chats: %w", err)
	}

	return ids, nil
}

// SaveMessage appends a message to the chat's log and assigns its ID.
func (s *PostgresStore) SaveMessage(ctx context.Context, msg *types.Message) error {
	if msg.ChatID == "" {
		return fmt.Errorf("postgres: save message: chat_id is required")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}

	query := `
		INSERT INTO compactor_messages (chat_id, role, content, created_at, is_compaction_summary, max_tokens_used)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	err := s.getQuerier(ctx).QueryRow(ctx, query,
		msg.ChatID, string(msg.Role), msg.Content, msg.CreatedAt, msg.IsCompactionSummary, msg.MaxTokensUsed,
	).Scan(&msg.ID)
	if err != nil {
		return fmt.Errorf("postgres: save message: %w", err)
	}

	return nil
}

// GetMessages returns the full message log for a chat, ordered by ID.
// CreatedAt is not a reliable ordering key; ID is authoritative.
func (s *PostgresStore) GetMessages(ctx context.Context, chatID string) ([]*types.Message, error) {
	query := `
		SELECT id, chat_id, role, content, created_at, is_compaction_summary, max_tokens_used
		FROM compactor_messages
		WHERE chat_id = $1
		ORDER BY id
	`

	rows, err := s.getQuerier(ctx).Query(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("postgres: get messages: %w", err)
	}
	defer rows.Close()

	var messages []*types.Message
	for rows.Next() {
		var msg types.Message
		var role string
		if err := rows.Scan(&msg.ID, &msg.ChatID, &role, &msg.Content, &msg.CreatedAt, &msg.IsCompactionSummary, &msg.MaxTokensUsed); err != nil {
			return nil, fmt.Errorf("postgres: get messages: %w", err)
		}
		msg.Role = types.Role(role)
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: get messages: %w", err)
	}

	return messages, nil
}

// CommitCompaction applies the compaction result as one transaction: insert
// the summary, delete the subsumed messages, update the chat metadata, and
// clear the pending flag. If the context already carries a transaction the
// statements run inside it and the caller owns the commit.
func (s *PostgresStore) CommitCompaction(ctx context.Context, params *CommitCompactionParams) (*types.Message, error) {
	if tx := TxFromContext(ctx); tx != nil {
		return s.commitCompaction(ctx, tx, params)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: commit compaction: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	msg, err := s.commitCompaction(ctx, tx, params)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit compaction: commit: %w", err)
	}

	return msg, nil
}

func (s *PostgresStore) commitCompaction(ctx context.Context, tx querier, params *CommitCompactionParams) (*types.Message, error) {
	summary := &types.Message{
		ChatID:              params.ChatID,
		Role:                types.RoleAssistant,
		Content:             params.SummaryContent,
		CreatedAt:           params.SummaryCreatedAt,
		IsCompactionSummary: true,
	}

	insert := `
		INSERT INTO compactor_messages (chat_id, role, content, created_at, is_compaction_summary, max_tokens_used)
		VALUES ($1, $2, $3, $4, TRUE, 0)
		RETURNING id
	`
	err := tx.QueryRow(ctx, insert,
		summary.ChatID, string(summary.Role), summary.Content, summary.CreatedAt,
	).Scan(&summary.ID)
	if err != nil {
		return nil, fmt.Errorf("postgres: commit compaction: insert summary: %w", err)
	}

	if len(params.DeleteMessageIDs) > 0 {
		del := `DELETE FROM compactor_messages WHERE chat_id = $1 AND id = ANY($2)`
		if _, err := tx.Exec(ctx, del, params.ChatID, params.DeleteMessageIDs); err != nil {
			return nil, fmt.Errorf("postgres: commit compaction: delete messages: %w", err)
		}
	}

	update := `
		UPDATE compactor_chats
		SET pending_compaction = FALSE,
		    compacted_at = $2,
		    compaction_backup_path = $3,
		    updated_at = NOW()
		WHERE id = $1
	`
	tag, err := tx.Exec(ctx, update, params.ChatID, params.CompactedAt, params.BackupPath)
	if err != nil {
		return nil, fmt.Errorf("postgres: commit compaction: update chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrChatNotFound
	}

	return summary, nil
}
