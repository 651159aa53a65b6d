package scheduler

import (
	"testing"
	"time"

	"github.com/dotsetlabs/dotclaw/internal/store"
)

func TestNextRunOnceRetiresAfterFiring(t *testing.T) {
	task := store.Task{ScheduleType: store.ScheduleOnce}
	_, status, err := NextRun(task, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if status != store.TaskCanceled {
		t.Fatalf("expected a once task to cancel after firing, got %v", status)
	}
}

func TestNextRunIntervalAdvancesByDuration(t *testing.T) {
	task := store.Task{ScheduleType: store.ScheduleInterval, ScheduleValue: "30m"}
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	next, status, err := NextRun(task, base)
	if err != nil {
		t.Fatal(err)
	}
	if status != store.TaskActive {
		t.Fatalf("expected interval task to stay active, got %v", status)
	}
	if !next.Equal(base.Add(30 * time.Minute)) {
		t.Fatalf("expected next run at %v, got %v", base.Add(30*time.Minute), next)
	}
}

func TestNextRunIntervalRejectsMalformedDuration(t *testing.T) {
	task := store.Task{ScheduleType: store.ScheduleInterval, ScheduleValue: "not-a-duration"}
	_, status, err := NextRun(task, time.Now())
	if err == nil {
		t.Fatal("expected an error for a malformed interval")
	}
	if status != store.TaskCanceled {
		t.Fatalf("expected a malformed schedule to cancel the task, got %v", status)
	}
}

func TestNextRunCronComputesNextFireTime(t *testing.T) {
	task := store.Task{ScheduleType: store.ScheduleCron, ScheduleValue: "0 9 * * *"}
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	next, status, err := NextRun(task, base)
	if err != nil {
		t.Fatal(err)
	}
	if status != store.TaskActive {
		t.Fatalf("expected cron task to stay active, got %v", status)
	}
	want := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected next run at %v, got %v", want, next)
	}
}

func TestNextRunRejectsUnknownScheduleType(t *testing.T) {
	task := store.Task{ScheduleType: "bogus"}
	_, status, err := NextRun(task, time.Now())
	if err == nil {
		t.Fatal("expected an error for an unknown schedule type")
	}
	if status != store.TaskCanceled {
		t.Fatalf("expected an unknown schedule type to cancel the task, got %v", status)
	}
}

func TestBackoffCapsAtMax(t *testing.T) {
	base := 1 * time.Second
	max := 5 * time.Second
	if got := backoff(1, base, max); got != base {
		t.Fatalf("expected first attempt to back off by base, got %v", got)
	}
	if got := backoff(10, base, max); got != max {
		t.Fatalf("expected a large attempt count to cap at max, got %v", got)
	}
}
