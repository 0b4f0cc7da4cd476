package memory

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/llamaedge/nexus-gateway/internal/gatewayerr"
)

// ErrConversationNotFound is returned by Store methods when the referenced
// conversation id is unknown.
var ErrConversationNotFound = gatewayerr.New(gatewayerr.NotFound, "conversation not found")

// Store is the durable relational backend for conversations and messages
// (spec §4.C: two tables plus the listed indices, tool calls serialized as
// a JSON blob inside the message row, cascade-delete on removal).
type Store interface {
	Init(ctx context.Context) error

	MostRecentConversationForUser(ctx context.Context, userID string) (*Conversation, error)
	CreateConversation(ctx context.Context, userID *string, modelName string) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	UpdateSystemMessage(ctx context.Context, id, text, hash string) (bool, error)
	ListConversationsByUser(ctx context.Context, userID string, limit int) ([]ConversationSummary, error)
	DeleteConversation(ctx context.Context, id string) error

	NextSequenceAndInsert(ctx context.Context, conversationID string, msg Message) (Message, error)
	GetMessages(ctx context.Context, conversationID string) ([]Message, error)
	UpdateSummary(ctx context.Context, conversationID, summary string, lastSummarySequence int) error
}

// pgStore is the Postgres-backed implementation, grounded on the teacher's
// internal/persistence/databases/chat_store_postgres.go.
type pgStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a durable Store backed by pool.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

func (s *pgStore) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS conversations (
    id UUID PRIMARY KEY,
    user_id TEXT,
    title TEXT,
    model_name TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    message_count INTEGER NOT NULL DEFAULT 0,
    total_tokens INTEGER NOT NULL DEFAULT 0,
    summary TEXT,
    last_summary_sequence INTEGER,
    system_message TEXT,
    system_message_hash TEXT,
    system_message_updated_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS messages (
    id UUID PRIMARY KEY,
    conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    sequence INTEGER NOT NULL,
    tokens INTEGER,
    tool_calls JSONB,
    tool_call_id TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS messages_conversation_sequence_idx ON messages(conversation_id, sequence);
CREATE INDEX IF NOT EXISTS conversations_updated_at_idx ON conversations(updated_at DESC);
CREATE INDEX IF NOT EXISTS conversations_user_updated_idx ON conversations(user_id, updated_at DESC);
CREATE INDEX IF NOT EXISTS messages_timestamp_idx ON messages(timestamp DESC);

ALTER TABLE conversations ADD COLUMN IF NOT EXISTS user_id TEXT;
ALTER TABLE conversations ADD COLUMN IF NOT EXISTS system_message TEXT;
ALTER TABLE conversations ADD COLUMN IF NOT EXISTS system_message_hash TEXT;
ALTER TABLE conversations ADD COLUMN IF NOT EXISTS system_message_updated_at TIMESTAMPTZ;
`)
	return err
}

func (s *pgStore) scanConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	var userID, title, summary, sysMsg, sysHash *string
	var lastSummarySeq *int
	var sysUpdatedAt *time.Time
	if err := row.Scan(&c.ID, &userID, &title, &c.ModelName, &c.CreatedAt, &c.UpdatedAt,
		&c.MessageCount, &c.TotalTokens, &summary, &lastSummarySeq, &sysMsg, &sysHash, &sysUpdatedAt); err != nil {
		return nil, err
	}
	c.UserID, c.Title, c.Summary = userID, title, summary
	c.LastSummarySequence = lastSummarySeq
	c.SystemMessage, c.SystemMessageHash = sysMsg, sysHash
	return &c, nil
}

const conversationColumns = `id, user_id, title, model_name, created_at, updated_at, message_count, total_tokens, summary, last_summary_sequence, system_message, system_message_hash, system_message_updated_at`

func (s *pgStore) MostRecentConversationForUser(ctx context.Context, userID string) (*Conversation, error) {
	row := s.pool.QueryRow(ctx, `
SELECT `+conversationColumns+`
FROM conversations
WHERE user_id = $1
ORDER BY updated_at DESC
LIMIT 1`, userID)
	c, err := s.scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

func (s *pgStore) CreateConversation(ctx context.Context, userID *string, modelName string) (*Conversation, error) {
	id := uuid.NewString()
	row := s.pool.QueryRow(ctx, `
INSERT INTO conversations (id, user_id, model_name)
VALUES ($1, $2, $3)
RETURNING `+conversationColumns, id, userID, modelName)
	return s.scanConversation(row)
}

func (s *pgStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	c, err := s.scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return c, nil
}

func (s *pgStore) UpdateSystemMessage(ctx context.Context, id, text, hash string) (bool, error) {
	cmd, err := s.pool.Exec(ctx, `
UPDATE conversations
SET system_message = $2, system_message_hash = $3, system_message_updated_at = NOW(), updated_at = NOW()
WHERE id = $1 AND (system_message_hash IS DISTINCT FROM $3)`, id, text, hash)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (s *pgStore) ListConversationsByUser(ctx context.Context, userID string, limit int) ([]ConversationSummary, error) {
	query := `
SELECT id, title, model_name, message_count, created_at, updated_at
FROM conversations
WHERE user_id = $1
ORDER BY updated_at DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ConversationSummary, 0)
	for rows.Next() {
		var cs ConversationSummary
		if err := rows.Scan(&cs.ID, &cs.Title, &cs.ModelName, &cs.MessageCount, &cs.CreatedAt, &cs.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

func (s *pgStore) DeleteConversation(ctx context.Context, id string) error {
	cmd, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// NextSequenceAndInsert assigns the next monotone sequence for
// conversationID and inserts msg within one transaction, satisfying the
// "serializable per-conversation sequence assignment" requirement (spec §5)
// via a row-level lock on the conversation header.
func (s *pgStore) NextSequenceAndInsert(ctx context.Context, conversationID string, msg Message) (Message, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Message{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT true FROM conversations WHERE id = $1 FOR UPDATE`, conversationID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrConversationNotFound
		}
		return Message{}, err
	}

	var nextSeq int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(sequence), 0) + 1 FROM messages WHERE conversation_id = $1`, conversationID).Scan(&nextSeq); err != nil {
		return Message{}, err
	}

	msg.ConversationID = conversationID
	msg.Sequence = nextSeq
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	var toolCallsJSON []byte
	if len(msg.ToolCalls) > 0 {
		toolCallsJSON, err = json.Marshal(msg.ToolCalls)
		if err != nil {
			return Message{}, err
		}
	}

	tokens := estimateTokens(msg.Content, len(msg.ToolCalls))
	msg.Tokens = &tokens

	if _, err := tx.Exec(ctx, `
INSERT INTO messages (id, conversation_id, role, content, timestamp, sequence, tokens, tool_calls, tool_call_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content, msg.Timestamp, msg.Sequence, tokens, toolCallsJSON, msg.ToolCallID); err != nil {
		return Message{}, err
	}

	if _, err := tx.Exec(ctx, `
UPDATE conversations
SET message_count = message_count + 1, total_tokens = total_tokens + $2, updated_at = NOW()
WHERE id = $1`, conversationID, tokens); err != nil {
		return Message{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (s *pgStore) GetMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, conversation_id, role, content, timestamp, sequence, tokens, tool_calls, tool_call_id
FROM messages
WHERE conversation_id = $1
ORDER BY sequence ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Message, 0)
	for rows.Next() {
		var m Message
		var role string
		var toolCallsJSON []byte
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.Timestamp, &m.Sequence, &m.Tokens, &toolCallsJSON, &m.ToolCallID); err != nil {
			return nil, err
		}
		m.Role = Role(role)
		if len(toolCallsJSON) > 0 {
			if err := json.Unmarshal(toolCallsJSON, &m.ToolCalls); err != nil {
				return nil, err
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *pgStore) UpdateSummary(ctx context.Context, conversationID, summary string, lastSummarySequence int) error {
	cmd, err := s.pool.Exec(ctx, `
UPDATE conversations
SET summary = $2, last_summary_sequence = $3, updated_at = NOW()
WHERE id = $1`, conversationID, summary, lastSummarySequence)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}
