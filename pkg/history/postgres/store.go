// Package postgres provides a PostgreSQL-backed implementation of the
// [history.Store] interface.
//
// Messages are stored in a single messages table with a GIN full-text search
// index over content. [NewStore] bootstraps the schema on start; the DDL is
// idempotent so it is safe to run on every application start.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.AppendMessage(ctx, conversationID, msg)
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parley-ai/parley/pkg/chat"
	"github.com/parley-ai/parley/pkg/history"
)

var _ history.Store = (*Store)(nil)

const ddlMessages = `
CREATE TABLE IF NOT EXISTS messages (
    id              BIGSERIAL    PRIMARY KEY,
    conversation_id TEXT         NOT NULL,
    message_id      TEXT         NOT NULL DEFAULT '',
    role            TEXT         NOT NULL,
    content         TEXT         NOT NULL,
    tool_calls      TEXT[]       NOT NULL DEFAULT '{}',
    tool_call_id    TEXT         NOT NULL DEFAULT '',
    timestamp       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_id
    ON messages (conversation_id);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_timestamp
    ON messages (conversation_id, timestamp);

CREATE INDEX IF NOT EXISTS idx_messages_fts
    ON messages USING GIN (to_tsvector('english', content));
`

// Store is a PostgreSQL-backed [history.Store]. It holds a single
// [pgxpool.Pool] and is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the PostgreSQL database at dsn
// and runs [Migrate] to ensure the messages table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("history store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Migrate creates or ensures the messages table and its indexes exist.
// It is idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlMessages); err != nil {
		return fmt.Errorf("history migrate: %w", err)
	}
	return nil
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks database connectivity. Intended for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// AppendMessage implements [history.Store]. It appends msg to the messages
// table under conversationID.
func (s *Store) AppendMessage(ctx context.Context, conversationID string, msg chat.Message) error {
	const q = `
		INSERT INTO messages
		    (conversation_id, message_id, role, content, tool_calls, tool_call_id, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	toolCalls := msg.ToolCalls
	if toolCalls == nil {
		toolCalls = []string{}
	}

	_, err := s.pool.Exec(ctx, q,
		conversationID,
		msg.ID,
		string(msg.Role),
		msg.Content,
		toolCalls,
		msg.ToolCallID,
		msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("history store: append message: %w", err)
	}
	return nil
}

// Conversation implements [history.Store]. It returns all messages for
// conversationID ordered chronologically (oldest first).
func (s *Store) Conversation(ctx context.Context, conversationID string) ([]chat.Message, error) {
	const q = `
		SELECT message_id, role, content, tool_calls, tool_call_id, timestamp
		FROM   messages
		WHERE  conversation_id = $1
		ORDER  BY timestamp, id`

	rows, err := s.pool.Query(ctx, q, conversationID)
	if err != nil {
		return nil, fmt.Errorf("history store: conversation: %w", err)
	}
	return collectMessages(rows)
}

// Search implements [history.Store]. It performs a PostgreSQL full-text
// search over the content column and applies optional filters from opts.
//
// The query is passed to plainto_tsquery so no special operator syntax is required.
func (s *Store) Search(ctx context.Context, query string, opts history.SearchOpts) ([]chat.Message, error) {
	args := []any{query} // $1 = FTS query string
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{
		"to_tsvector('english', content) @@ plainto_tsquery('english', $1)",
	}
	if opts.ConversationID != "" {
		conditions = append(conditions, "conversation_id = "+next(opts.ConversationID))
	}
	if opts.Role != "" {
		conditions = append(conditions, "role = "+next(string(opts.Role)))
	}
	if !opts.After.IsZero() {
		conditions = append(conditions, "timestamp > "+next(opts.After))
	}
	if !opts.Before.IsZero() {
		conditions = append(conditions, "timestamp < "+next(opts.Before))
	}

	q := "SELECT message_id, role, content, tool_calls, tool_call_id, timestamp\n" +
		"FROM   messages\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n" +
		"ORDER  BY timestamp, id"

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history store: search: %w", err)
	}
	return collectMessages(rows)
}

// collectMessages scans pgx rows into a slice of chat.Message values.
func collectMessages(rows pgx.Rows) ([]chat.Message, error) {
	messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (chat.Message, error) {
		var (
			m    chat.Message
			role string
		)
		if err := row.Scan(
			&m.ID,
			&role,
			&m.Content,
			&m.ToolCalls,
			&m.ToolCallID,
			&m.Timestamp,
		); err != nil {
			return chat.Message{}, err
		}
		m.Role = chat.Role(role)
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("history store: scan rows: %w", err)
	}
	if messages == nil {
		messages = []chat.Message{}
	}
	return messages, nil
}
