package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *sqlQueueStoreFixture {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "messages.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return &sqlQueueStoreFixture{
		queue: NewQueueStore(db),
		chats: NewChatStore(db),
		tasks: NewTaskStore(db),
		jobs:  NewJobStore(db),
	}
}

type sqlQueueStoreFixture struct {
	queue QueueStore
	chats ChatStore
	tasks TaskStore
	jobs  JobStore
}

func TestQueueEnqueueAndClaimBatch(t *testing.T) {
	ctx := context.Background()
	f := newTestDB(t)

	base := time.Now()
	for i := 0; i < 3; i++ {
		err := f.queue.Enqueue(ctx, QueueItem{
			ChatID: "chat-1", SenderID: "u1", Content: "hello", Timestamp: base.Add(time.Duration(i) * time.Millisecond),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	items, err := f.queue.ClaimBatch(ctx, "chat-1", 500*time.Millisecond, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 claimed items, got %d", len(items))
	}
	for _, it := range items {
		if it.Status != QueueClaimed {
			t.Fatalf("expected claimed status, got %v", it.Status)
		}
	}

	// A second claim attempt must see nothing left queued (invariant:
	// at most one claimed batch per chat at a time).
	more, err := f.queue.ClaimBatch(ctx, "chat-1", 500*time.Millisecond, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(more) != 0 {
		t.Fatalf("expected no further claimable items, got %d", len(more))
	}
}

func TestQueueRequeueAppliesBackoffAndIncrementsAttempt(t *testing.T) {
	ctx := context.Background()
	f := newTestDB(t)

	if err := f.queue.Enqueue(ctx, QueueItem{ChatID: "chat-1", Content: "hi", Timestamp: time.Now()}); err != nil {
		t.Fatal(err)
	}
	items, err := f.queue.ClaimBatch(ctx, "chat-1", time.Second, 10)
	if err != nil || len(items) != 1 {
		t.Fatalf("expected one claimed item, err=%v items=%v", err, items)
	}

	if err := f.queue.Requeue(ctx, []string{items[0].ID}, "transient error", 100*time.Millisecond, 2*time.Second); err != nil {
		t.Fatal(err)
	}

	// Immediately after requeue the item should not yet be claimable
	// (visible_at pushed into the future by the backoff).
	again, err := f.queue.ClaimBatch(ctx, "chat-1", time.Second, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Fatalf("expected requeued item to be invisible until its backoff elapses, got %d", len(again))
	}
}

func TestJitteredBackoffCapsAtMax(t *testing.T) {
	base := 100 * time.Millisecond
	max := 2 * time.Second
	for attempt := 0; attempt < 10; attempt++ {
		d := jitteredBackoff(base, max, attempt)
		if d > max+max/5 { // allow the +20% jitter headroom past the cap check
			t.Fatalf("attempt %d: backoff %v exceeded max+jitter %v", attempt, d, max)
		}
	}
}

func TestTaskClaimDueIsExclusive(t *testing.T) {
	ctx := context.Background()
	f := newTestDB(t)

	now := time.Now()
	task, err := f.tasks.Create(ctx, Task{GroupFolder: "acme", Prompt: "daily digest", ScheduleType: ScheduleCron, NextRun: now.Add(-time.Minute)})
	if err != nil {
		t.Fatal(err)
	}

	claimed1, err := f.tasks.ClaimDue(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed1) != 1 || claimed1[0].ID != task.ID {
		t.Fatalf("expected to claim the due task, got %+v", claimed1)
	}

	claimed2, err := f.tasks.ClaimDue(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed2) != 0 {
		t.Fatalf("expected already-claimed task to be excluded, got %+v", claimed2)
	}
}

func TestJobClaimNextOldestFirst(t *testing.T) {
	ctx := context.Background()
	f := newTestDB(t)

	first, err := f.jobs.Enqueue(ctx, Job{GroupFolder: "acme", Prompt: "job a"})
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := f.jobs.Enqueue(ctx, Job{GroupFolder: "acme", Prompt: "job b"}); err != nil {
		t.Fatal(err)
	}

	claimed, ok, err := f.jobs.ClaimNext(ctx)
	if err != nil || !ok {
		t.Fatalf("expected to claim a job, ok=%v err=%v", ok, err)
	}
	if claimed.ID != first.ID {
		t.Fatalf("expected oldest job claimed first, got %+v", claimed)
	}
}
