package maintenance

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dotsetlabs/dotclaw/internal/store"
)

func touch(t *testing.T, path string, modTime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		t.Fatal(err)
	}
}

func TestPruneOlderThanRemovesOnlyStaleFiles(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.txt")
	fresh := filepath.Join(dir, "fresh.txt")
	now := time.Now()
	touch(t, old, now.Add(-time.Hour))
	touch(t, fresh, now)

	n, err := pruneOlderThan(dir, now.Add(-10*time.Minute), false)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 file pruned, got %d", n)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatal("expected old.txt to be removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatal("expected fresh.txt to survive")
	}
}

func TestPruneOlderThanMissingDirIsNotAnError(t *testing.T) {
	n, err := pruneOlderThan(filepath.Join(t.TempDir(), "does-not-exist"), time.Now(), false)
	if err != nil {
		t.Fatalf("expected no error for a missing directory, got %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 pruned, got %d", n)
	}
}

func TestPruneOlderThanRemovesOnlyDirsWhenRequested(t *testing.T) {
	dir := t.TempDir()
	staleDir := filepath.Join(dir, "stale-session")
	if err := os.Mkdir(staleDir, 0o755); err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	if err := os.Chtimes(staleDir, now.Add(-time.Hour), now.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	staleFile := filepath.Join(dir, "stale.txt")
	touch(t, staleFile, now.Add(-time.Hour))

	n, err := pruneOlderThan(dir, now.Add(-time.Minute), true)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected only the stale directory pruned, got %d", n)
	}
	if _, err := os.Stat(staleFile); err != nil {
		t.Fatal("expected the stale file (not a directory) to survive a directory-only sweep")
	}
}

func TestPruneTraceFilesMatchesNamingScheme(t *testing.T) {
	dir := t.TempDir()
	oldTrace := filepath.Join(dir, "trace-2026-01-01.jsonl")
	freshTrace := filepath.Join(dir, "trace-2026-07-31.jsonl")
	other := filepath.Join(dir, "notes.txt")
	now := time.Now()
	touch(t, oldTrace, now.Add(-30*24*time.Hour))
	touch(t, freshTrace, now)
	touch(t, other, now.Add(-30*24*time.Hour))

	n, err := pruneTraceFiles(dir, now.Add(-14*24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 trace file pruned, got %d", n)
	}
	if _, err := os.Stat(oldTrace); !os.IsNotExist(err) {
		t.Fatal("expected the old trace file to be removed")
	}
	if _, err := os.Stat(other); err != nil {
		t.Fatal("expected the non-trace file to survive")
	}
}

func TestSweepOnceReapsExpiredQueueClaims(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "messages.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	queue := store.NewQueueStore(db)
	ctx := context.Background()

	if err := queue.Enqueue(ctx, store.QueueItem{ID: "item-1", ChatID: "chat-1", Content: "hi", Timestamp: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if _, err := queue.ClaimBatch(ctx, "chat-1", time.Minute, 10); err != nil {
		t.Fatal(err)
	}
	// Back-date the claim deadline as if the claimer crashed or was
	// interrupted without ever marking the item done or failed.
	if _, err := db.ExecContext(ctx, `UPDATE queue SET claim_deadline = ? WHERE id = 'item-1'`, time.Now().Add(-time.Minute).UnixMilli()); err != nil {
		t.Fatal(err)
	}

	c := &Cleaner{Queue: queue, Logger: slog.Default()}
	c.SweepOnce(ctx)

	var status string
	if err := db.QueryRowContext(ctx, `SELECT status FROM queue WHERE id = 'item-1'`).Scan(&status); err != nil {
		t.Fatal(err)
	}
	if status != "queued" {
		t.Fatalf("expected the expired claim to be reaped back to queued, got %q", status)
	}
}

func TestIsTraceFileMatchesOnlyTracePattern(t *testing.T) {
	cases := map[string]bool{
		"trace-2026-07-31.jsonl": true,
		"trace-.jsonl":           false,
		"notes.txt":              false,
		"trace-2026-07-31.json":  false,
	}
	for name, want := range cases {
		if got := isTraceFile(name); got != want {
			t.Errorf("isTraceFile(%q) = %v, want %v", name, got, want)
		}
	}
}
