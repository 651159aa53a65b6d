package store

import (
	"context"
	"database/sql"
	"time"
)

// WorkflowRunStatus enumerates a workflow run's terminal/non-terminal states.
type WorkflowRunStatus string

const (
	WorkflowRunRunning   WorkflowRunStatus = "running"
	WorkflowRunCompleted WorkflowRunStatus = "completed"
	WorkflowRunFailed    WorkflowRunStatus = "failed"
)

// WorkflowRun is a record of one admin-triggered workflow invocation
// (§4.12's multi-agent benchmark/build runs), kept for retention
// accounting by the maintenance sweep.
type WorkflowRun struct {
	ID          string
	GroupFolder string
	Kind        string
	Status      WorkflowRunStatus
	CreatedAt   time.Time
	FinishedAt  *time.Time
}

// WorkflowRunStore persists workflow_runs rows.
type WorkflowRunStore interface {
	Create(ctx context.Context, r WorkflowRun) (WorkflowRun, error)
	Finish(ctx context.Context, id string, status WorkflowRunStatus) error

	// PruneFinishedBefore deletes finished runs older than cutoff,
	// returning how many rows were removed (§4.13).
	PruneFinishedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

type sqlWorkflowRunStore struct{ db *sql.DB }

// NewWorkflowRunStore returns a SQLite-backed WorkflowRunStore.
func NewWorkflowRunStore(db *sql.DB) WorkflowRunStore { return &sqlWorkflowRunStore{db: db} }

func (s *sqlWorkflowRunStore) Create(ctx context.Context, r WorkflowRun) (WorkflowRun, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if r.Status == "" {
		r.Status = WorkflowRunRunning
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO workflow_runs (id, group_folder, kind, status, created_at) VALUES (?,?,?,?,?)`,
		r.ID, r.GroupFolder, r.Kind, string(r.Status), r.CreatedAt.UnixMilli())
	if err != nil {
		return WorkflowRun{}, err
	}
	return r, nil
}

func (s *sqlWorkflowRunStore) Finish(ctx context.Context, id string, status WorkflowRunStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE workflow_runs SET status=?, finished_at=? WHERE id = ?`,
		string(status), time.Now().UnixMilli(), id)
	return err
}

func (s *sqlWorkflowRunStore) PruneFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflow_runs WHERE finished_at IS NOT NULL AND finished_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
