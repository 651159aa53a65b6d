package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// QueueStatus enumerates the lifecycle states of a QueueItem (§3).
type QueueStatus string

const (
	QueueQueued  QueueStatus = "queued"
	QueueClaimed QueueStatus = "claimed"
	QueueDone    QueueStatus = "done"
	QueueFailed  QueueStatus = "failed"
)

// QueueItem is the Message Queue Item entity (§3).
type QueueItem struct {
	ID            string
	ChatID        string
	SenderID      string
	SenderName    string
	Content       string
	Timestamp     time.Time
	IsGroup       bool
	ChatType      string
	Status        QueueStatus
	Attempt       int
	LastError     string
	ClaimedAt     *time.Time
	ClaimDeadline *time.Time
}

// QueueStore is the persistence contract for §4.2's message queue.
type QueueStore interface {
	// Enqueue persists a new item and writes the message-log row in
	// the same transaction, matching §4.9 step 2.
	Enqueue(ctx context.Context, item QueueItem) error

	// ClaimBatch atomically claims up to maxBatch queued items for
	// chatID whose timestamp falls within windowMs of the earliest
	// claimable item, in timestamp order. At most one item per chat
	// may be `claimed` at any instant (invariant 1, §8).
	ClaimBatch(ctx context.Context, chatID string, windowMs time.Duration, maxBatch int) ([]QueueItem, error)

	MarkDone(ctx context.Context, ids []string) error

	// Requeue increments attempt and sets a jittered-backoff visible-at
	// time, per the retryBase/retryMax/jitter formula in §4.2.
	Requeue(ctx context.Context, ids []string, reason string, retryBase, retryMax time.Duration) error

	// Fail marks ids terminally failed (attempt exceeded maxRetries).
	Fail(ctx context.Context, ids []string, reason string) error

	// ReapExpiredClaims returns claimed items whose claimDeadline has
	// passed to `queued`, for an external reaper to call periodically.
	ReapExpiredClaims(ctx context.Context, now time.Time) (int, error)

	// HasNewer reports whether a queued item newer than afterTS exists
	// for chatID, used by interrupt-on-new-message (§4.9 step 9).
	HasNewer(ctx context.Context, chatID string, afterTS time.Time) (bool, error)
}

type sqlQueueStore struct{ db *sql.DB }

// NewQueueStore returns a SQLite-backed QueueStore.
func NewQueueStore(db *sql.DB) QueueStore { return &sqlQueueStore{db: db} }

func (s *sqlQueueStore) Enqueue(ctx context.Context, item QueueItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ts := item.Timestamp.UnixMilli()
	if _, err := tx.ExecContext(ctx, `INSERT INTO messages (id, chat_id, sender_id, sender_name, content, timestamp, is_group, chat_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.ChatID, item.SenderID, item.SenderName, item.Content, ts, boolToInt(item.IsGroup), item.ChatType); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO queue (id, chat_id, sender_id, sender_name, content, timestamp, is_group, chat_type, status, attempt, visible_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'queued', 0, 0)`,
		item.ID, item.ChatID, item.SenderID, item.SenderName, item.Content, ts, boolToInt(item.IsGroup), item.ChatType); err != nil {
		return fmt.Errorf("insert queue: %w", err)
	}

	if err := upsertChatTx(ctx, tx, item.ChatID, "", item.Timestamp); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *sqlQueueStore) ClaimBatch(ctx context.Context, chatID string, windowMs time.Duration, maxBatch int) ([]QueueItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now()

	var firstTS sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT timestamp FROM queue
		WHERE chat_id = ? AND status = 'queued' AND visible_at <= ?
		ORDER BY timestamp ASC LIMIT 1`, chatID, now.UnixMilli()).Scan(&firstTS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	maxTS := firstTS.Int64 + windowMs.Milliseconds()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM queue
		WHERE chat_id = ? AND status = 'queued' AND visible_at <= ? AND timestamp <= ?
		ORDER BY timestamp ASC LIMIT ?`, chatID, now.UnixMilli(), maxTS, maxBatch)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if len(ids) == 0 {
		return nil, nil
	}

	claimedAt := now.UnixMilli()
	deadline := now.Add(2 * time.Minute).UnixMilli()
	items := make([]QueueItem, 0, len(ids))
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `UPDATE queue SET status='claimed', claimed_at=?, claim_deadline=?
			WHERE id = ? AND status = 'queued'`, claimedAt, deadline, id)
		if err != nil {
			return nil, err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			continue // lost the race to a concurrent claimer
		}
		item, err := scanQueueItem(tx.QueryRowContext(ctx, queueSelectByID, id))
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return items, nil
}

const queueSelectByID = `SELECT id, chat_id, sender_id, sender_name, content, timestamp, is_group, chat_type, status, attempt, last_error, claimed_at, claim_deadline FROM queue WHERE id = ?`

func scanQueueItem(row *sql.Row) (QueueItem, error) {
	var it QueueItem
	var ts int64
	var isGroup int
	var lastError sql.NullString
	var claimedAt, claimDeadline sql.NullInt64
	if err := row.Scan(&it.ID, &it.ChatID, &it.SenderID, &it.SenderName, &it.Content, &ts, &isGroup,
		&it.ChatType, &it.Status, &it.Attempt, &lastError, &claimedAt, &claimDeadline); err != nil {
		return it, err
	}
	it.Timestamp = time.UnixMilli(ts)
	it.IsGroup = isGroup != 0
	it.LastError = lastError.String
	if claimedAt.Valid {
		t := time.UnixMilli(claimedAt.Int64)
		it.ClaimedAt = &t
	}
	if claimDeadline.Valid {
		t := time.UnixMilli(claimDeadline.Int64)
		it.ClaimDeadline = &t
	}
	return it, nil
}

func (s *sqlQueueStore) MarkDone(ctx context.Context, ids []string) error {
	return s.updateStatus(ctx, ids, func(tx *sql.Tx, id string) error {
		_, err := tx.ExecContext(ctx, `UPDATE queue SET status='done', claim_deadline=NULL WHERE id = ?`, id)
		return err
	})
}

func (s *sqlQueueStore) Requeue(ctx context.Context, ids []string, reason string, retryBase, retryMax time.Duration) error {
	return s.updateStatus(ctx, ids, func(tx *sql.Tx, id string) error {
		var attempt int
		if err := tx.QueryRowContext(ctx, `SELECT attempt FROM queue WHERE id = ?`, id).Scan(&attempt); err != nil {
			return err
		}
		attempt++
		backoff := jitteredBackoff(retryBase, retryMax, attempt)
		visibleAt := time.Now().Add(backoff).UnixMilli()
		_, err := tx.ExecContext(ctx, `UPDATE queue SET status='queued', attempt=?, last_error=?, claimed_at=NULL, claim_deadline=NULL, visible_at=? WHERE id = ?`,
			attempt, reason, visibleAt, id)
		return err
	})
}

func (s *sqlQueueStore) Fail(ctx context.Context, ids []string, reason string) error {
	return s.updateStatus(ctx, ids, func(tx *sql.Tx, id string) error {
		_, err := tx.ExecContext(ctx, `UPDATE queue SET status='failed', last_error=?, claim_deadline=NULL WHERE id = ?`, reason, id)
		return err
	})
}

func (s *sqlQueueStore) updateStatus(ctx context.Context, ids []string, fn func(tx *sql.Tx, id string) error) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, id := range ids {
		if err := fn(tx, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqlQueueStore) ReapExpiredClaims(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE queue SET status='queued', claimed_at=NULL, claim_deadline=NULL
		WHERE status='claimed' AND claim_deadline IS NOT NULL AND claim_deadline < ?`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqlQueueStore) HasNewer(ctx context.Context, chatID string, afterTS time.Time) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM queue WHERE chat_id = ? AND status='queued' AND timestamp > ? LIMIT 1`,
		chatID, afterTS.UnixMilli()).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// jitteredBackoff implements retryBase * 2^attempt capped at retryMax,
// with +/-20% jitter, per §4.2's requeue formula.
func jitteredBackoff(base, max time.Duration, attempt int) time.Duration {
	raw := float64(base) * math.Pow(2, float64(attempt))
	if raw > float64(max) {
		raw = float64(max)
	}
	jitter := 0.8 + rand.Float64()*0.4 // [0.8, 1.2)
	return time.Duration(raw * jitter)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
