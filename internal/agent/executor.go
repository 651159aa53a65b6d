// Package agent drives one agent invocation end to end: lock
// acquisition, recall injection, container execution, and the
// failover retry ladder (§4.6, §4.7). It deliberately stops at the
// container boundary — what happens inside the agent process (tool
// calls, provider requests) is out of scope.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dotsetlabs/dotclaw/internal/container"
	"github.com/dotsetlabs/dotclaw/internal/lane"
	"github.com/dotsetlabs/dotclaw/internal/memory"
	"github.com/dotsetlabs/dotclaw/internal/router"
	"github.com/dotsetlabs/dotclaw/internal/telemetry"
	"github.com/dotsetlabs/dotclaw/pkg/protocol"
)

// Request is everything one batch needs to run through the container,
// combining the routing Decision with the batch's own identity.
type Request struct {
	ChatID       string
	GroupFolder  string
	GroupDir     string
	SessionDir   string
	IPCDir       string
	ConfigDir    string
	IsMain       bool
	SessionID    string
	Messages     []protocol.QueuedMessage
	SystemPrompt string

	Lane lane.Lane

	Model           string
	Fallbacks       []string
	MaxOutputTokens int
	MaxToolSteps    int
	ReasoningEffort router.ReasoningEffort

	RecallMaxResults int
	RecallMaxTokens  int

	ExtraMounts []container.Mount
	Env         map[string]string
	Timeout     time.Duration
}

// Result is what the caller (internal/pipeline) persists and delivers.
type Result struct {
	Response    protocol.ContainerResponse
	NewSessionID string
	Attempts    int
	LastModel   string
	Err         error
}

// Executor wires the lane/lock primitives, the memory recaller, the
// container runner, and the failover cooldown store into one
// request/response call, per §4.7's order of operations.
type Executor struct {
	Runner    container.Runner
	Cooldowns *router.CooldownStore
	Recaller  *memory.Recaller // nil disables recall injection
	GroupLock *lane.GroupLock
	Semaphore *lane.Semaphore
	Tracer    *telemetry.Tracer
	Logger    *slog.Logger

	MaxAttempts int // 0 defaults to len(candidates)
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Run executes req: acquires the group's serialization lock, then the
// lane-aware semaphore slot, injects memory recall into the system
// prompt, and drives the runner through the failover ladder until a
// retryable candidate succeeds or is exhausted.
func (e *Executor) Run(ctx context.Context, req Request) Result {
	start := time.Now()

	unlock := e.GroupLock.Lock(req.GroupFolder)
	defer unlock()

	if err := e.Semaphore.Acquire(ctx, req.Lane); err != nil {
		return Result{Err: fmt.Errorf("acquire lane slot: %w", err)}
	}
	defer e.Semaphore.Release()

	systemPrompt := req.SystemPrompt
	recallCount := 0
	if e.Recaller != nil && req.RecallMaxResults > 0 {
		query := latestMessageContent(req.Messages)
		items, err := e.Recaller.Recall(ctx, req.GroupFolder, query, req.RecallMaxTokens)
		if err != nil {
			e.logger().Warn("memory recall failed", "group", req.GroupFolder, "error", err)
		} else if len(items) > 0 {
			recallCount = len(items)
			profile := memory.BuildUserProfile(items)
			if profile != "" {
				systemPrompt = profile + "\n\n" + systemPrompt
			}
		}
	}

	candidates := append([]string{req.Model}, req.Fallbacks...)
	maxAttempts := e.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = len(candidates)
	}

	attempted := map[string]bool{}
	effort := req.ReasoningEffort
	maxToolSteps := req.MaxToolSteps
	model := req.Model

	var result Result
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt
		result.LastModel = model
		attempted[model] = true

		payload := protocol.ContainerRequest{
			SessionID:    req.SessionID,
			ChatID:       req.ChatID,
			GroupFolder:  req.GroupFolder,
			Messages:     req.Messages,
			SystemPrompt: systemPrompt,
			Model:        model,
			Env:          req.Env,
		}

		runRes := e.Runner.Run(ctx, container.RunRequest{
			GroupFolder: req.GroupFolder,
			GroupDir:    req.GroupDir,
			SessionDir:  req.SessionDir,
			IPCDir:      req.IPCDir,
			ConfigDir:   req.ConfigDir,
			ExtraMounts: req.ExtraMounts,
			Env:         req.Env,
			Payload:     payload,
			Timeout:     req.Timeout,
		})

		if ctx.Err() != nil {
			result.Err = ctx.Err()
			e.writeTrace(req, result, recallCount, start, "cancelled", "")
			return result
		}

		emptySuccess := runRes.Err == nil && runRes.Response.Status == "success" && strings.TrimSpace(runRes.Response.Result) == ""
		if runRes.Err == nil && runRes.Response.Status == "success" && !emptySuccess {
			result.Response = runRes.Response
			result.NewSessionID = runRes.Response.NewSessionID
			e.writeTrace(req, result, recallCount, start, "", "")
			return result
		}

		errMsg := runRes.Response.Error
		if errMsg == "" && runRes.Err != nil {
			errMsg = runRes.Err.Error()
		}
		if errMsg == "" && emptySuccess {
			errMsg = "agent returned an empty response"
		}
		category := router.ClassifyError(errMsg, emptySuccess)

		if e.Cooldowns != nil && category.CooldownDuration() > 0 {
			if err := e.Cooldowns.Set(model, category, time.Now().Add(category.CooldownDuration())); err != nil {
				e.logger().Warn("failed to persist cooldown", "model", model, "error", err)
			}
		}

		if !category.Retryable() || e.Cooldowns == nil {
			result.Err = fmt.Errorf("agent run failed (%s): %s", category, errMsg)
			e.writeTrace(req, result, recallCount, start, errMsg, category)
			return result
		}

		next, ok := e.Cooldowns.NextAttempt(candidates, attempted, effort, maxToolSteps)
		if !ok {
			result.Err = fmt.Errorf("agent run failed (%s), no further candidates: %s", category, errMsg)
			e.writeTrace(req, result, recallCount, start, errMsg, category)
			return result
		}
		model = next.Model
		effort = next.ReasoningEffort
		maxToolSteps = next.MaxToolSteps
	}

	if result.Err == nil {
		result.Err = fmt.Errorf("agent run exhausted %d attempts", maxAttempts)
	}
	e.writeTrace(req, result, recallCount, start, result.Err.Error(), "")
	return result
}

func (e *Executor) writeTrace(req Request, result Result, recallCount int, start time.Time, errMsg string, category router.ErrorCategory) {
	if e.Tracer == nil {
		return
	}
	rec := telemetry.TraceRecord{
		ChatID:            req.ChatID,
		GroupFolder:       req.GroupFolder,
		Model:             result.LastModel,
		LatencyMs:         time.Since(start).Milliseconds(),
		TokensPrompt:      result.Response.TokensPrompt,
		TokensCompletion:  result.Response.TokensCompletion,
		ToolCalls:         len(result.Response.ToolCalls),
		MemoryRecallCount: recallCount,
		ErrorCode:         telemetry.Redact(errMsg),
		ErrorCategory:     string(category),
	}
	if err := e.Tracer.Write(rec); err != nil {
		e.logger().Warn("failed to write trace record", "error", err)
	}
}

func latestMessageContent(msgs []protocol.QueuedMessage) string {
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].Content
}
