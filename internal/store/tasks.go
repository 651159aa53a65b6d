package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ScheduleType enumerates §3's Scheduled Task schedule kinds.
type ScheduleType string

const (
	ScheduleCron     ScheduleType = "cron"
	ScheduleInterval ScheduleType = "interval"
	ScheduleOnce     ScheduleType = "once"
)

// TaskStatus enumerates §3's Scheduled Task lifecycle states.
type TaskStatus string

const (
	TaskActive   TaskStatus = "active"
	TaskPaused   TaskStatus = "paused"
	TaskCanceled TaskStatus = "canceled"
)

// Task is the Scheduled Task entity (§3).
type Task struct {
	ID            string
	GroupFolder   string
	ChatJID       string
	Prompt        string
	ScheduleType  ScheduleType
	ScheduleValue string
	ContextMode   string
	NextRun       time.Time
	Status        TaskStatus
	Attempt       int
	LastResult    string
	RunningSince  *time.Time
	StateJSON     string
	CreatedAt     time.Time
}

// TaskStore is the persistence contract behind §4.11 and the IPC task
// kinds in §6.2.
type TaskStore interface {
	Create(ctx context.Context, t Task) (Task, error)
	Get(ctx context.Context, id string) (Task, bool, error)

	// List returns tasks in groupFolder, or every task when all is
	// true (only the main group may pass all=true — enforced by the
	// caller per §4.11's authorization note).
	List(ctx context.Context, groupFolder string, all bool) ([]Task, error)

	Update(ctx context.Context, t Task) error
	SetStatus(ctx context.Context, id string, status TaskStatus) error

	// ClaimDue atomically claims every active, due, unclaimed task —
	// invariant 2 (§8): runningSince non-null implies exactly one
	// worker holds it.
	ClaimDue(ctx context.Context, now time.Time) ([]Task, error)

	// Release records the outcome of a claimed run: persists
	// lastResult, bumps attempt, computes nextRun, and clears
	// runningSince.
	Release(ctx context.Context, id string, result string, attempt int, nextRun time.Time, status TaskStatus) error

	// ReapStaleClaims reverts runningSince to NULL for any task whose
	// claim is older than taskTimeout, for crash recovery (§4.11).
	ReapStaleClaims(ctx context.Context, taskTimeout time.Duration, now time.Time) (int, error)
}

type sqlTaskStore struct{ db *sql.DB }

// NewTaskStore returns a SQLite-backed TaskStore.
func NewTaskStore(db *sql.DB) TaskStore { return &sqlTaskStore{db: db} }

const taskColumns = `id, group_folder, chat_jid, prompt, schedule_type, schedule_value, context_mode, next_run, status, attempt, last_result, running_since, state_json, created_at`

func (s *sqlTaskStore) Create(ctx context.Context, t Task) (Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.Status == "" {
		t.Status = TaskActive
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO tasks (%s) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, taskColumns),
		t.ID, t.GroupFolder, t.ChatJID, t.Prompt, string(t.ScheduleType), t.ScheduleValue, t.ContextMode,
		t.NextRun.UnixMilli(), string(t.Status), t.Attempt, t.LastResult, nullableTime(t.RunningSince), t.StateJSON, t.CreatedAt.UnixMilli())
	if err != nil {
		return Task{}, err
	}
	return t, nil
}

func (s *sqlTaskStore) Get(ctx context.Context, id string) (Task, bool, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM tasks WHERE id = ?`, taskColumns), id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return Task{}, false, nil
	}
	return t, err == nil, err
}

func (s *sqlTaskStore) List(ctx context.Context, groupFolder string, all bool) ([]Task, error) {
	var rows *sql.Rows
	var err error
	if all {
		rows, err = s.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM tasks ORDER BY next_run ASC`, taskColumns))
	} else {
		rows, err = s.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM tasks WHERE group_folder = ? ORDER BY next_run ASC`, taskColumns), groupFolder)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Task
	for rows.Next() {
		t, err := scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqlTaskStore) Update(ctx context.Context, t Task) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET chat_jid=?, prompt=?, schedule_type=?, schedule_value=?, context_mode=?, next_run=?, status=?
		WHERE id = ?`, t.ChatJID, t.Prompt, string(t.ScheduleType), t.ScheduleValue, t.ContextMode, t.NextRun.UnixMilli(), string(t.Status), t.ID)
	return err
}

func (s *sqlTaskStore) SetStatus(ctx context.Context, id string, status TaskStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = ? WHERE id = ?`, string(status), id)
	return err
}

func (s *sqlTaskStore) ClaimDue(ctx context.Context, now time.Time) ([]Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM tasks WHERE status = 'active' AND next_run <= ? AND running_since IS NULL`, now.UnixMilli())
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

	var claimed []Task
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `UPDATE tasks SET running_since = ? WHERE id = ? AND running_since IS NULL`, now.UnixMilli(), id)
		if err != nil {
			return nil, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		row := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM tasks WHERE id = ?`, taskColumns), id)
		t, err := scanTask(row)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, t)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *sqlTaskStore) Release(ctx context.Context, id string, result string, attempt int, nextRun time.Time, status TaskStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET last_result=?, attempt=?, next_run=?, status=?, running_since=NULL WHERE id = ?`,
		result, attempt, nextRun.UnixMilli(), string(status), id)
	return err
}

func (s *sqlTaskStore) ReapStaleClaims(ctx context.Context, taskTimeout time.Duration, now time.Time) (int, error) {
	cutoff := now.Add(-taskTimeout).UnixMilli()
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET running_since = NULL WHERE running_since IS NOT NULL AND running_since < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanTask(row *sql.Row) (Task, error) {
	var t Task
	var nextRun, createdAt int64
	var runningSince sql.NullInt64
	var lastResult, stateJSON sql.NullString
	var scheduleType, status string
	if err := row.Scan(&t.ID, &t.GroupFolder, &t.ChatJID, &t.Prompt, &scheduleType, &t.ScheduleValue, &t.ContextMode,
		&nextRun, &status, &t.Attempt, &lastResult, &runningSince, &stateJSON, &createdAt); err != nil {
		return t, err
	}
	t.ScheduleType = ScheduleType(scheduleType)
	t.Status = TaskStatus(status)
	t.NextRun = time.UnixMilli(nextRun)
	t.CreatedAt = time.UnixMilli(createdAt)
	t.LastResult = lastResult.String
	t.StateJSON = stateJSON.String
	if runningSince.Valid {
		rt := time.UnixMilli(runningSince.Int64)
		t.RunningSince = &rt
	}
	return t, nil
}

func scanTaskRows(rows *sql.Rows) (Task, error) {
	var t Task
	var nextRun, createdAt int64
	var runningSince sql.NullInt64
	var lastResult, stateJSON sql.NullString
	var scheduleType, status string
	if err := rows.Scan(&t.ID, &t.GroupFolder, &t.ChatJID, &t.Prompt, &scheduleType, &t.ScheduleValue, &t.ContextMode,
		&nextRun, &status, &t.Attempt, &lastResult, &runningSince, &stateJSON, &createdAt); err != nil {
		return t, err
	}
	t.ScheduleType = ScheduleType(scheduleType)
	t.Status = TaskStatus(status)
	t.NextRun = time.UnixMilli(nextRun)
	t.CreatedAt = time.UnixMilli(createdAt)
	t.LastResult = lastResult.String
	t.StateJSON = stateJSON.String
	if runningSince.Valid {
		rt := time.UnixMilli(runningSince.Int64)
		t.RunningSince = &rt
	}
	return t, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
