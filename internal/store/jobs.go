package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// JobStatus enumerates §3's Background Job lifecycle states.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobCanceled  JobStatus = "canceled"
	JobFailed    JobStatus = "failed"
)

// Job is the Background Job entity (§3).
type Job struct {
	ID          string
	GroupFolder string
	ChatJID     string
	Prompt      string
	Status      JobStatus
	Output      string
	OutputPath  string
	CreatedAt   time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
}

// JobStore is the persistence contract behind §4.12. Unlike
// QueueStore it has no batching — one row claimed at a time by the
// background worker pool.
type JobStore interface {
	Enqueue(ctx context.Context, j Job) (Job, error)
	Get(ctx context.Context, id string) (Job, bool, error)

	// ClaimNext atomically claims the oldest queued job, or returns
	// ok=false if none are pending.
	ClaimNext(ctx context.Context) (Job, bool, error)

	Complete(ctx context.Context, id, output, outputPath string) error
	Fail(ctx context.Context, id, reason string) error
	Cancel(ctx context.Context, id string) error
}

type sqlJobStore struct{ db *sql.DB }

// NewJobStore returns a SQLite-backed JobStore.
func NewJobStore(db *sql.DB) JobStore { return &sqlJobStore{db: db} }

func (s *sqlJobStore) Enqueue(ctx context.Context, j Job) (Job, error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	j.Status = JobQueued
	_, err := s.db.ExecContext(ctx, `INSERT INTO jobs (id, group_folder, chat_jid, prompt, status, created_at) VALUES (?,?,?,?,?,?)`,
		j.ID, j.GroupFolder, j.ChatJID, j.Prompt, string(j.Status), j.CreatedAt.UnixMilli())
	if err != nil {
		return Job{}, err
	}
	return j, nil
}

func (s *sqlJobStore) Get(ctx context.Context, id string) (Job, bool, error) {
	row := s.db.QueryRowContext(ctx, jobSelect+` WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return Job{}, false, nil
	}
	return j, err == nil, err
}

const jobSelect = `SELECT id, group_folder, chat_jid, prompt, status, output, output_path, created_at, started_at, finished_at FROM jobs`

func (s *sqlJobStore) ClaimNext(ctx context.Context) (Job, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Job{}, false, err
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, `SELECT id FROM jobs WHERE status = 'queued' ORDER BY created_at ASC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, err
	}

	now := time.Now().UnixMilli()
	if _, err := tx.ExecContext(ctx, `UPDATE jobs SET status='running', started_at=? WHERE id = ? AND status='queued'`, now, id); err != nil {
		return Job{}, false, err
	}
	row := tx.QueryRowContext(ctx, jobSelect+` WHERE id = ?`, id)
	j, err := scanJob(row)
	if err != nil {
		return Job{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return Job{}, false, err
	}
	return j, true, nil
}

func (s *sqlJobStore) Complete(ctx context.Context, id, output, outputPath string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET status='completed', output=?, output_path=?, finished_at=? WHERE id = ?`,
		output, outputPath, time.Now().UnixMilli(), id)
	return err
}

func (s *sqlJobStore) Fail(ctx context.Context, id, reason string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET status='failed', output=?, finished_at=? WHERE id = ?`, reason, time.Now().UnixMilli(), id)
	return err
}

func (s *sqlJobStore) Cancel(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET status='canceled', finished_at=? WHERE id = ? AND status IN ('queued','running')`,
		time.Now().UnixMilli(), id)
	return err
}

func scanJob(row *sql.Row) (Job, error) {
	var j Job
	var createdAt int64
	var startedAt, finishedAt sql.NullInt64
	var output, outputPath sql.NullString
	var status string
	if err := row.Scan(&j.ID, &j.GroupFolder, &j.ChatJID, &j.Prompt, &status, &output, &outputPath, &createdAt, &startedAt, &finishedAt); err != nil {
		return j, err
	}
	j.Status = JobStatus(status)
	j.Output = output.String
	j.OutputPath = outputPath.String
	j.CreatedAt = time.UnixMilli(createdAt)
	if startedAt.Valid {
		t := time.UnixMilli(startedAt.Int64)
		j.StartedAt = &t
	}
	if finishedAt.Valid {
		t := time.UnixMilli(finishedAt.Int64)
		j.FinishedAt = &t
	}
	return j, nil
}
