package store

import (
	"context"
	"database/sql"
	"time"
)

// Chat is the materialized Chat entity (§3): "catch-up since last
// agent reply" bookkeeping.
type Chat struct {
	ChatID             string
	Name               string
	LastMessageTime    time.Time
	LastAgentTimestamp time.Time
}

// ChatStore persists Chat rows, created lazily on first message.
type ChatStore interface {
	Get(ctx context.Context, chatID string) (Chat, bool, error)
	TouchLastAgentTimestamp(ctx context.Context, chatID string, ts time.Time) error
}

type sqlChatStore struct{ db *sql.DB }

// NewChatStore returns a SQLite-backed ChatStore.
func NewChatStore(db *sql.DB) ChatStore { return &sqlChatStore{db: db} }

func (s *sqlChatStore) Get(ctx context.Context, chatID string) (Chat, bool, error) {
	var c Chat
	var lastMsg, lastAgent int64
	err := s.db.QueryRowContext(ctx, `SELECT chat_id, name, last_message_time, last_agent_timestamp FROM chats WHERE chat_id = ?`, chatID).
		Scan(&c.ChatID, &c.Name, &lastMsg, &lastAgent)
	if err == sql.ErrNoRows {
		return Chat{}, false, nil
	}
	if err != nil {
		return Chat{}, false, err
	}
	c.LastMessageTime = time.UnixMilli(lastMsg)
	c.LastAgentTimestamp = time.UnixMilli(lastAgent)
	return c, true, nil
}

func (s *sqlChatStore) TouchLastAgentTimestamp(ctx context.Context, chatID string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE chats SET last_agent_timestamp = ? WHERE chat_id = ?`, ts.UnixMilli(), chatID)
	return err
}

// upsertChatTx creates or touches a chat row inside an existing
// transaction (called from QueueStore.Enqueue per §3's "created
// lazily on first message").
func upsertChatTx(ctx context.Context, tx *sql.Tx, chatID, name string, lastMessageTime time.Time) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO chats (chat_id, name, last_message_time, last_agent_timestamp)
		VALUES (?, ?, ?, 0)
		ON CONFLICT(chat_id) DO UPDATE SET last_message_time = excluded.last_message_time,
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE chats.name END`,
		chatID, name, lastMessageTime.UnixMilli())
	return err
}
