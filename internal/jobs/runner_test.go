package jobs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dotsetlabs/dotclaw/internal/agent"
	"github.com/dotsetlabs/dotclaw/internal/container"
	"github.com/dotsetlabs/dotclaw/internal/lane"
	"github.com/dotsetlabs/dotclaw/internal/router"
	"github.com/dotsetlabs/dotclaw/internal/store"
	"github.com/dotsetlabs/dotclaw/internal/telemetry"
	"github.com/dotsetlabs/dotclaw/pkg/protocol"
)

type stubRunner struct {
	resp protocol.ContainerResponse
	err  error
}

func (s *stubRunner) Run(ctx context.Context, req container.RunRequest) container.RunResult {
	if s.err != nil {
		return container.RunResult{Err: s.err}
	}
	return container.RunResult{Response: s.resp}
}

func newTestRunner(t *testing.T, runner container.Runner) (*Runner, store.JobStore, *store.GroupStore) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatal(err)
	}
	jobStore := store.NewJobStore(db)
	groups, err := store.NewGroupStore(filepath.Join(t.TempDir(), "groups.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := groups.Register("chat-1", store.Group{Name: "Test", Folder: "test-group"}); err != nil {
		t.Fatal(err)
	}

	cds, err := router.LoadCooldownStore(filepath.Join(t.TempDir(), "cooldowns.json"))
	if err != nil {
		t.Fatal(err)
	}
	exec := &agent.Executor{
		Runner:    runner,
		Cooldowns: cds,
		GroupLock: lane.NewGroupLock(),
		Semaphore: lane.New(2, time.Minute, 10),
		Tracer:    telemetry.NewTracer(t.TempDir()),
	}

	r := New(jobStore, groups, exec, nil, nil, 1, nil)
	r.PollInterval = 10 * time.Millisecond
	return r, jobStore, groups
}

func TestClaimAndRunCompletesSuccessfulJob(t *testing.T) {
	r, jobStore, _ := newTestRunner(t, &stubRunner{resp: protocol.ContainerResponse{Status: "success", Result: "done"}})
	ctx := context.Background()

	job, err := jobStore.Enqueue(ctx, store.Job{ChatJID: "chat-1", GroupFolder: "test-group", Prompt: "do the thing"})
	if err != nil {
		t.Fatal(err)
	}

	r.claimAndRun(ctx)

	got, ok, err := jobStore.Get(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("expected job to be found, ok=%v err=%v", ok, err)
	}
	if got.Status != store.JobCompleted {
		t.Fatalf("expected job completed, got %v", got.Status)
	}
	if got.Output != "done" {
		t.Fatalf("expected output %q, got %q", "done", got.Output)
	}
}

func TestClaimAndRunFailsJobOnExecutorError(t *testing.T) {
	r, jobStore, _ := newTestRunner(t, &stubRunner{err: context.DeadlineExceeded})
	ctx := context.Background()

	job, err := jobStore.Enqueue(ctx, store.Job{ChatJID: "chat-1", GroupFolder: "test-group", Prompt: "do the thing"})
	if err != nil {
		t.Fatal(err)
	}

	r.claimAndRun(ctx)

	got, ok, err := jobStore.Get(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("expected job to be found, ok=%v err=%v", ok, err)
	}
	if got.Status != store.JobFailed {
		t.Fatalf("expected job failed, got %v", got.Status)
	}
}

func TestClaimAndRunIsNoOpWithNoQueuedJobs(t *testing.T) {
	r, _, _ := newTestRunner(t, &stubRunner{resp: protocol.ContainerResponse{Status: "success", Result: "done"}})
	r.claimAndRun(context.Background()) // should not panic or error with an empty queue
}
