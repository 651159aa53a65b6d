package agent

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dotsetlabs/dotclaw/internal/container"
	"github.com/dotsetlabs/dotclaw/internal/lane"
	"github.com/dotsetlabs/dotclaw/internal/router"
	"github.com/dotsetlabs/dotclaw/internal/telemetry"
	"github.com/dotsetlabs/dotclaw/pkg/protocol"
)

type fakeRunner struct {
	responses []container.RunResult
	calls     []container.RunRequest
}

func (f *fakeRunner) Run(ctx context.Context, req container.RunRequest) container.RunResult {
	f.calls = append(f.calls, req)
	idx := len(f.calls) - 1
	if idx >= len(f.responses) {
		return f.responses[len(f.responses)-1]
	}
	return f.responses[idx]
}

func newTestExecutor(t *testing.T, runner container.Runner) (*Executor, *router.CooldownStore) {
	t.Helper()
	cds, err := router.LoadCooldownStore(filepath.Join(t.TempDir(), "cooldowns.json"))
	if err != nil {
		t.Fatal(err)
	}
	return &Executor{
		Runner:    runner,
		Cooldowns: cds,
		GroupLock: lane.NewGroupLock(),
		Semaphore: lane.New(2, time.Minute, 10),
		Tracer:    telemetry.NewTracer(t.TempDir()),
	}, cds
}

func TestExecutorSucceedsOnFirstAttempt(t *testing.T) {
	runner := &fakeRunner{responses: []container.RunResult{
		{Response: protocol.ContainerResponse{Status: "success", Result: "hi there", NewSessionID: "sess-2"}},
	}}
	e, _ := newTestExecutor(t, runner)

	res := e.Run(context.Background(), Request{
		ChatID:      "chat-1",
		GroupFolder: "main",
		Model:       "model-a",
		Messages:    []protocol.QueuedMessage{{Content: "hello"}},
	})

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", res.Attempts)
	}
	if res.NewSessionID != "sess-2" {
		t.Fatalf("expected session id propagated, got %q", res.NewSessionID)
	}
	if len(runner.calls) != 1 {
		t.Fatalf("expected one runner call, got %d", len(runner.calls))
	}
}

func TestExecutorFailsOverToFallbackOnRetryableError(t *testing.T) {
	runner := &fakeRunner{responses: []container.RunResult{
		{Response: protocol.ContainerResponse{Status: "error", Error: "502 bad gateway"}},
		{Response: protocol.ContainerResponse{Status: "success", Result: "recovered"}},
	}}
	e, cds := newTestExecutor(t, runner)

	res := e.Run(context.Background(), Request{
		ChatID:          "chat-1",
		GroupFolder:     "main",
		Model:           "model-a",
		Fallbacks:       []string{"model-b"},
		Messages:        []protocol.QueuedMessage{{Content: "hello"}},
		ReasoningEffort: router.EffortHigh,
		MaxToolSteps:    10,
	})

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", res.Attempts)
	}
	if res.LastModel != "model-b" {
		t.Fatalf("expected fallback model-b used, got %q", res.LastModel)
	}
	if !cds.InCooldown("model-a") {
		t.Fatal("expected model-a placed in cooldown after transient failure")
	}
	second := runner.calls[1].Payload
	if second.Model != "model-b" {
		t.Fatalf("expected second call to target model-b, got %q", second.Model)
	}
}

func TestExecutorDoesNotRetryAuthFailures(t *testing.T) {
	runner := &fakeRunner{responses: []container.RunResult{
		{Response: protocol.ContainerResponse{Status: "error", Error: "401 unauthorized"}},
	}}
	e, _ := newTestExecutor(t, runner)

	res := e.Run(context.Background(), Request{
		ChatID:      "chat-1",
		GroupFolder: "main",
		Model:       "model-a",
		Fallbacks:   []string{"model-b"},
		Messages:    []protocol.QueuedMessage{{Content: "hello"}},
	})

	if res.Err == nil {
		t.Fatal("expected an error for a non-retryable auth failure")
	}
	if len(runner.calls) != 1 {
		t.Fatalf("expected no fallback attempt on auth failure, got %d calls", len(runner.calls))
	}
}

func TestExecutorTreatsEmptySuccessAsFailure(t *testing.T) {
	runner := &fakeRunner{responses: []container.RunResult{
		{Response: protocol.ContainerResponse{Status: "success", Result: ""}},
		{Response: protocol.ContainerResponse{Status: "success", Result: "ok now"}},
	}}
	e, _ := newTestExecutor(t, runner)

	res := e.Run(context.Background(), Request{
		ChatID:      "chat-1",
		GroupFolder: "main",
		Model:       "model-a",
		Fallbacks:   []string{"model-b"},
		Messages:    []protocol.QueuedMessage{{Content: "hello"}},
	})

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Attempts != 2 {
		t.Fatalf("expected retry after empty success, got %d attempts", res.Attempts)
	}
}

func TestExecutorReleasesGroupLockAndSemaphoreAfterRun(t *testing.T) {
	runner := &fakeRunner{responses: []container.RunResult{
		{Response: protocol.ContainerResponse{Status: "success", Result: "done"}},
	}}
	e, _ := newTestExecutor(t, runner)

	e.Run(context.Background(), Request{
		ChatID:      "chat-1",
		GroupFolder: "main",
		Model:       "model-a",
		Messages:    []protocol.QueuedMessage{{Content: "hello"}},
	})

	if e.GroupLock.Len() != 0 {
		t.Fatalf("expected group lock registry to be empty after release, got %d", e.GroupLock.Len())
	}
	if e.Semaphore.InUse() != 0 {
		t.Fatalf("expected semaphore to be fully released, got %d in use", e.Semaphore.InUse())
	}
}
