// Package scheduler drives the Scheduled Task lifecycle (§4.11): it
// polls for due tasks, claims them atomically, runs each through the
// agent executor on the scheduled lane, and reschedules or retires
// them based on the outcome.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/dotsetlabs/dotclaw/internal/agent"
	"github.com/dotsetlabs/dotclaw/internal/bus"
	"github.com/dotsetlabs/dotclaw/internal/config"
	"github.com/dotsetlabs/dotclaw/internal/lane"
	"github.com/dotsetlabs/dotclaw/internal/store"
	"github.com/dotsetlabs/dotclaw/pkg/protocol"
)

// Scheduler polls store.TaskStore for due tasks and runs them.
type Scheduler struct {
	Tasks    store.TaskStore
	Groups   *store.GroupStore
	Executor *agent.Executor
	Paths    *config.Paths
	Router   bus.MessageRouter // nil disables delivery of task results
	Logger   *slog.Logger

	PollInterval time.Duration
	TaskTimeout  time.Duration
	MaxRetries   int
	RetryBase    time.Duration
	RetryMax     time.Duration
}

// New builds a Scheduler from cfg, defaulting unset durations.
func New(tasks store.TaskStore, groups *store.GroupStore, exec *agent.Executor, paths *config.Paths, router bus.MessageRouter, cfg config.SchedulerConfig, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	poll := time.Duration(cfg.PollIntervalMs) * time.Millisecond
	if poll <= 0 {
		poll = 5 * time.Second
	}
	timeout := time.Duration(cfg.TaskTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	retryBase := time.Duration(cfg.RetryBaseMs) * time.Millisecond
	if retryBase <= 0 {
		retryBase = 2 * time.Second
	}
	retryMax := time.Duration(cfg.RetryMaxMs) * time.Millisecond
	if retryMax <= 0 {
		retryMax = 30 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Scheduler{
		Tasks: tasks, Groups: groups, Executor: exec, Paths: paths, Router: router, Logger: logger,
		PollInterval: poll, TaskTimeout: timeout, MaxRetries: maxRetries, RetryBase: retryBase, RetryMax: retryMax,
	}
}

// Run blocks, polling for due tasks and stale claims until ctx is
// canceled.
func (s *Scheduler) Run(ctx context.Context) {
	pollTicker := time.NewTicker(s.PollInterval)
	defer pollTicker.Stop()
	reapTicker := time.NewTicker(s.TaskTimeout)
	defer reapTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			s.pollOnce(ctx)
		case <-reapTicker.C:
			if n, err := s.Tasks.ReapStaleClaims(ctx, s.TaskTimeout, time.Now()); err != nil {
				s.Logger.Error("reap stale task claims failed", "error", err)
			} else if n > 0 {
				s.Logger.Warn("reaped stale task claims", "count", n)
			}
		}
	}
}

func (s *Scheduler) pollOnce(ctx context.Context) {
	due, err := s.Tasks.ClaimDue(ctx, time.Now())
	if err != nil {
		s.Logger.Error("claim due tasks failed", "error", err)
		return
	}
	for _, t := range due {
		go s.runTask(ctx, t)
	}
}

// runTask executes one claimed task on the scheduled lane and releases
// its claim with the outcome, per §4.11.
func (s *Scheduler) runTask(ctx context.Context, t store.Task) {
	runCtx, cancel := context.WithTimeout(ctx, s.TaskTimeout)
	defer cancel()

	group, _ := s.Groups.Get(t.ChatJID)

	req := agent.Request{
		ChatID:       t.ChatJID,
		GroupFolder:  t.GroupFolder,
		IsMain:       group.IsMain,
		Messages:     []protocol.QueuedMessage{{SenderID: "scheduler", SenderName: "Scheduled Task", Content: t.Prompt, TimestampMs: time.Now().UnixMilli()}},
		SystemPrompt: t.Prompt,
		Lane:         lane.Scheduled,
	}
	if s.Paths != nil {
		req.GroupDir = s.Paths.GroupDir(t.GroupFolder)
		req.SessionDir = s.Paths.GroupSessionDir(t.GroupFolder)
		req.IPCDir = s.Paths.GroupIPCDir(t.GroupFolder)
		req.ConfigDir = s.Paths.ConfigDir()
	}

	result := s.Executor.Run(runCtx, req)

	attempt := t.Attempt + 1
	if result.Err != nil {
		status := store.TaskActive
		nextRun := time.Now()
		if attempt > s.MaxRetries {
			status = store.TaskCanceled
		} else {
			nextRun = nextRun.Add(backoff(attempt, s.RetryBase, s.RetryMax))
		}
		if err := s.Tasks.Release(ctx, t.ID, result.Err.Error(), attempt, nextRun, status); err != nil {
			s.Logger.Error("release failed task claim failed", "task", t.ID, "error", err)
		}
		return
	}

	next, status, err := NextRun(t, time.Now())
	if err != nil {
		s.Logger.Error("compute next run failed", "task", t.ID, "error", err)
		status = store.TaskCanceled
	}
	if releaseErr := s.Tasks.Release(ctx, t.ID, result.Response.Result, 0, next, status); releaseErr != nil {
		s.Logger.Error("release task claim failed", "task", t.ID, "error", releaseErr)
	}

	if s.Router != nil && t.ChatJID != "" && result.Response.Result != "" {
		s.Router.PublishOutbound(bus.OutboundMessage{ChatID: t.ChatJID, Content: result.Response.Result})
	}
}

// NextRun computes a task's next fire time and resulting status (§4.11):
// "once" tasks retire after firing, "interval"/"cron" tasks reschedule.
func NextRun(t store.Task, after time.Time) (time.Time, store.TaskStatus, error) {
	switch t.ScheduleType {
	case store.ScheduleOnce:
		return time.Time{}, store.TaskCanceled, nil
	case store.ScheduleInterval:
		d, err := time.ParseDuration(t.ScheduleValue)
		if err != nil {
			return time.Time{}, store.TaskCanceled, fmt.Errorf("invalid interval %q: %w", t.ScheduleValue, err)
		}
		return after.Add(d), store.TaskActive, nil
	case store.ScheduleCron:
		next, err := gronx.NextTickAfter(t.ScheduleValue, after, false)
		if err != nil {
			return time.Time{}, store.TaskCanceled, fmt.Errorf("invalid cron expression %q: %w", t.ScheduleValue, err)
		}
		return next, store.TaskActive, nil
	default:
		return time.Time{}, store.TaskCanceled, fmt.Errorf("unknown schedule type %q", t.ScheduleType)
	}
}

func backoff(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
