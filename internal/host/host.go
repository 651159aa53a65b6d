// Package host is the composition root: it wires every component
// (stores, router, executor, pipeline, scheduler, jobs, maintenance,
// channel adapters) into one running process and owns graceful
// shutdown, mirroring the teacher's runGateway().
package host

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dotsetlabs/dotclaw/internal/admin"
	"github.com/dotsetlabs/dotclaw/internal/agent"
	"github.com/dotsetlabs/dotclaw/internal/bus"
	"github.com/dotsetlabs/dotclaw/internal/channels"
	"github.com/dotsetlabs/dotclaw/internal/channels/discord"
	"github.com/dotsetlabs/dotclaw/internal/channels/telegram"
	"github.com/dotsetlabs/dotclaw/internal/config"
	"github.com/dotsetlabs/dotclaw/internal/container"
	"github.com/dotsetlabs/dotclaw/internal/jobs"
	"github.com/dotsetlabs/dotclaw/internal/lane"
	"github.com/dotsetlabs/dotclaw/internal/maintenance"
	"github.com/dotsetlabs/dotclaw/internal/memory"
	"github.com/dotsetlabs/dotclaw/internal/pipeline"
	"github.com/dotsetlabs/dotclaw/internal/router"
	"github.com/dotsetlabs/dotclaw/internal/scheduler"
	"github.com/dotsetlabs/dotclaw/internal/store"
	"github.com/dotsetlabs/dotclaw/internal/telemetry"

	"golang.org/x/sync/errgroup"
)

// Host owns every long-running subsystem and their shared state.
type Host struct {
	Paths  *config.Paths
	Config *config.Config
	Logger *slog.Logger

	Router *bus.Router

	Pipeline    *pipeline.Pipeline
	Scheduler   *scheduler.Scheduler
	Jobs        *jobs.Runner
	Maintenance *maintenance.Cleaner
	Channels    []channels.Channel

	messagesDB *closer
	memoryDB   *closer
	tracer     *telemetry.Tracer
	closeLog   func() error
}

type closer struct{ close func() error }

// Build constructs a Host from a loaded config and its paths, opening
// every store and wiring every component. Callers must call Run to
// start it and Close to release resources on a non-Run exit path.
func Build(paths *config.Paths, cfg *config.Config, secrets config.Secrets) (*Host, error) {
	if err := paths.Ensure(); err != nil {
		return nil, fmt.Errorf("ensure data dirs: %w", err)
	}

	logger, closeLog, err := telemetry.NewLogger(paths.LogFile(), false)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	messagesDB, err := store.Open(paths.MessagesDB())
	if err != nil {
		return nil, fmt.Errorf("open messages db: %w", err)
	}
	memDB, err := memory.Open(paths.MemoryDB())
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}

	queueStore := store.NewQueueStore(messagesDB)
	chatStore := store.NewChatStore(messagesDB)
	taskStore := store.NewTaskStore(messagesDB)
	jobStore := store.NewJobStore(messagesDB)
	workflowRunStore := store.NewWorkflowRunStore(messagesDB)
	groupStore, err := store.NewGroupStore(paths.RegisteredGroupsFile())
	if err != nil {
		return nil, fmt.Errorf("load registered groups: %w", err)
	}

	memStore := memory.NewStore(memDB)
	recaller := memory.NewRecaller(memStore, nil, memory.Options{
		MaxResults:   cfg.Runtime.Memory.MaxResults,
		MaxChunkLen:  cfg.Runtime.Memory.MaxChunkLen,
		VectorWeight: cfg.Runtime.Memory.VectorWeight,
		TextWeight:   cfg.Runtime.Memory.TextWeight,
		MinScore:     cfg.Runtime.Memory.MinScore,
	})

	cooldowns, err := router.LoadCooldownStore(paths.ConfigDir() + "/cooldowns.json")
	if err != nil {
		return nil, fmt.Errorf("load cooldowns: %w", err)
	}

	tracer := telemetry.NewTracer(paths.TracesDir())

	sem := lane.New(cfg.Runtime.Lane.Permits, time.Duration(cfg.Runtime.Lane.StarvationMs)*time.Millisecond, cfg.Runtime.Lane.MaxConsecutiveInteractive)
	groupLock := lane.NewGroupLock()
	runner := container.New(cfg, "")

	exec := &agent.Executor{
		Runner:    runner,
		Cooldowns: cooldowns,
		Recaller:  recaller,
		GroupLock: groupLock,
		Semaphore: sem,
		Tracer:    tracer,
		Logger:    logger,
	}

	msgBus := bus.NewRouter(256)

	rtr := router.New(cfg.Runtime.Router, cfg.Model)

	senders := map[string]pipeline.Sender{}
	var chList []channels.Channel

	if cfg.Channels.Telegram.Enabled {
		tg, err := telegram.New(cfg.Channels.Telegram, msgBus)
		if err != nil {
			return nil, fmt.Errorf("init telegram channel: %w", err)
		}
		senders["telegram"] = tg
		chList = append(chList, tg)
	}
	if cfg.Channels.Discord.Enabled {
		dc, err := discord.New(cfg.Channels.Discord, msgBus)
		if err != nil {
			return nil, fmt.Errorf("init discord channel: %w", err)
		}
		senders["discord"] = dc
		chList = append(chList, dc)
	}

	pl := pipeline.New(queueStore, chatStore, groupStore, rtr, exec, paths, pipeline.Options{
		BatchWindow:           time.Duration(cfg.Runtime.Batch.BatchWindowMs) * time.Millisecond,
		MaxBatchSize:          cfg.Runtime.Batch.MaxBatchSize,
		PromptMaxChars:        cfg.Runtime.Batch.PromptMaxChars,
		MaxRetries:            cfg.Runtime.Batch.MaxRetries,
		RetryBase:             time.Duration(cfg.Runtime.Queue.RetryBaseMs) * time.Millisecond,
		RetryMax:              time.Duration(cfg.Runtime.Queue.RetryMaxMs) * time.Millisecond,
		InterruptOnNewMessage: cfg.Behavior.InterruptOnNewMessage,
	}, senders, logger)

	sched := scheduler.New(taskStore, groupStore, exec, paths, msgBus, cfg.Runtime.Scheduler, logger)
	jobRunner := jobs.New(jobStore, groupStore, exec, paths, msgBus, 2, logger)
	cleaner := maintenance.New(paths, workflowRunStore, queueStore, cfg.Runtime.Maintenance, logger)

	return &Host{
		Paths: paths, Config: cfg, Logger: logger,
		Router: msgBus, Pipeline: pl, Scheduler: sched, Jobs: jobRunner, Maintenance: cleaner,
		Channels:   chList,
		messagesDB: &closer{close: messagesDB.Close},
		memoryDB:   &closer{close: memDB.Close},
		tracer:     tracer,
		closeLog:   closeLog,
	}, nil
}

// Run starts every subsystem and blocks until ctx is canceled or a
// SIGINT/SIGTERM arrives, then shuts everything down gracefully.
func (h *Host) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			h.Logger.Info("graceful shutdown initiated", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	for _, ch := range h.Channels {
		ch := ch
		g.Go(func() error {
			if err := ch.Start(gctx); err != nil {
				h.Logger.Error("channel start failed", "channel", ch.Name(), "error", err)
				return err
			}
			<-gctx.Done()
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			return ch.Stop(stopCtx)
		})
	}

	g.Go(func() error { h.consumeInbound(gctx); return nil })
	g.Go(func() error { h.Scheduler.Run(gctx); return nil })
	g.Go(func() error { h.Jobs.Run(gctx); return nil })
	g.Go(func() error { h.Maintenance.Run(gctx); return nil })

	err := g.Wait()
	h.Close()
	return err
}

// consumeInbound drains the router's inbound channel into the
// pipeline, logging (never silently dropping) admission failures.
func (h *Host) consumeInbound(ctx context.Context) {
	for {
		msg, ok := h.Router.ConsumeInbound(ctx)
		if !ok {
			return
		}
		if err := h.Pipeline.Admit(ctx, msg); err != nil {
			h.Logger.Warn("message admission failed", "chat", msg.ChatID, "channel", msg.Channel, "error", err)
		}
	}
}

// ParseAdminCommand recognizes an admin command in text for chatID's
// channel, using the channel's configured mention prefixes.
func (h *Host) ParseAdminCommand(text string, mentions []string) (admin.Command, bool) {
	return admin.Parse(text, mentions)
}

// Close releases every store handle and flushes the log file.
func (h *Host) Close() {
	if h.messagesDB != nil {
		_ = h.messagesDB.close()
	}
	if h.memoryDB != nil {
		_ = h.memoryDB.close()
	}
	if h.closeLog != nil {
		_ = h.closeLog()
	}
}
