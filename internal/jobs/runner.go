// Package jobs runs the Background Job queue (§4.12): a worker pool
// that claims one job at a time from store.JobStore and drives it
// through the same agent executor the pipeline and scheduler use, on
// the maintenance lane so interactive replies always win contention
// for agent-execution permits.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dotsetlabs/dotclaw/internal/agent"
	"github.com/dotsetlabs/dotclaw/internal/bus"
	"github.com/dotsetlabs/dotclaw/internal/config"
	"github.com/dotsetlabs/dotclaw/internal/lane"
	"github.com/dotsetlabs/dotclaw/internal/store"
	"github.com/dotsetlabs/dotclaw/pkg/protocol"
)

// Runner is the background job worker pool.
type Runner struct {
	Jobs     store.JobStore
	Groups   *store.GroupStore
	Executor *agent.Executor
	Paths    *config.Paths
	Router   bus.MessageRouter // nil disables delivery of job output
	Logger   *slog.Logger

	Workers      int
	PollInterval time.Duration
}

// New builds a Runner with n worker goroutines.
func New(jobStore store.JobStore, groups *store.GroupStore, exec *agent.Executor, paths *config.Paths, router bus.MessageRouter, workers int, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 2
	}
	return &Runner{
		Jobs: jobStore, Groups: groups, Executor: exec, Paths: paths, Router: router, Logger: logger,
		Workers: workers, PollInterval: 2 * time.Second,
	}
}

// Run starts Workers poller goroutines and blocks until ctx is
// canceled.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(r.Workers)
	for i := 0; i < r.Workers; i++ {
		go func() {
			defer wg.Done()
			r.worker(ctx)
		}()
	}
	wg.Wait()
}

func (r *Runner) worker(ctx context.Context) {
	ticker := time.NewTicker(r.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.claimAndRun(ctx)
		}
	}
}

func (r *Runner) claimAndRun(ctx context.Context) {
	job, ok, err := r.Jobs.ClaimNext(ctx)
	if err != nil {
		r.Logger.Error("claim next job failed", "error", err)
		return
	}
	if !ok {
		return
	}

	group, _ := r.Groups.Get(job.ChatJID)

	req := agent.Request{
		ChatID:       job.ChatJID,
		GroupFolder:  job.GroupFolder,
		IsMain:       group.IsMain,
		Messages:     []protocol.QueuedMessage{{SenderID: "jobs", SenderName: "Background Job", Content: job.Prompt, TimestampMs: time.Now().UnixMilli()}},
		SystemPrompt: job.Prompt,
		Lane:         lane.Maintenance,
	}
	if r.Paths != nil {
		req.GroupDir = r.Paths.GroupDir(job.GroupFolder)
		req.SessionDir = r.Paths.GroupSessionDir(job.GroupFolder)
		req.IPCDir = r.Paths.GroupIPCDir(job.GroupFolder)
		req.ConfigDir = r.Paths.ConfigDir()
	}

	result := r.Executor.Run(ctx, req)
	if result.Err != nil {
		if err := r.Jobs.Fail(ctx, job.ID, result.Err.Error()); err != nil {
			r.Logger.Error("mark job failed failed", "job", job.ID, "error", err)
		}
		return
	}

	if err := r.Jobs.Complete(ctx, job.ID, result.Response.Result, ""); err != nil {
		r.Logger.Error("mark job complete failed", "job", job.ID, "error", err)
	}
	if r.Router != nil && job.ChatJID != "" && result.Response.Result != "" {
		r.Router.PublishOutbound(bus.OutboundMessage{ChatID: job.ChatJID, Content: result.Response.Result})
	}
}
