// Package pipeline is the message pipeline (§4.9): admits inbound
// chat messages, batches and cleans them, and drives one agent
// execution per batch, delivering the result back to its channel.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dotsetlabs/dotclaw/internal/agent"
	"github.com/dotsetlabs/dotclaw/internal/bus"
	"github.com/dotsetlabs/dotclaw/internal/config"
	"github.com/dotsetlabs/dotclaw/internal/lane"
	"github.com/dotsetlabs/dotclaw/internal/router"
	"github.com/dotsetlabs/dotclaw/internal/store"
	"github.com/dotsetlabs/dotclaw/pkg/protocol"
)

// ErrChatNotRegistered is returned by Admit for an unregistered chat (§4.9 step 1).
var ErrChatNotRegistered = errors.New("pipeline: chat not registered")

// Sender delivers a plain outbound message to a chat's channel.
type Sender interface {
	Send(ctx context.Context, msg bus.OutboundMessage) error
}

// Options tunes batching and retry behavior, mirroring config.BatchConfig/
// config.BehaviorConfig.
type Options struct {
	BatchWindow           time.Duration
	MaxBatchSize          int
	PromptMaxChars        int
	MaxRetries            int
	RetryBase             time.Duration
	RetryMax              time.Duration
	InterruptOnNewMessage bool
}

// Pipeline wires the store, router, and executor together into the
// per-chat admit -> batch -> execute loop.
type Pipeline struct {
	Queue    store.QueueStore
	Chats    store.ChatStore
	Groups   *store.GroupStore
	Router   *router.Router
	Executor *agent.Executor
	Paths    *config.Paths
	Opts     Options
	Logger   *slog.Logger

	mu       sync.Mutex
	draining map[string]bool // chatID -> a drain goroutine is already running
	channel  sync.Map        // chatID -> channel name, for routing the reply back
	senders  map[string]Sender
}

// New builds a Pipeline. senders maps a bus channel name ("telegram",
// "discord") to the adapter used to deliver replies.
func New(queue store.QueueStore, chats store.ChatStore, groups *store.GroupStore, rtr *router.Router, exec *agent.Executor, paths *config.Paths, opts Options, senders map[string]Sender, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		Queue: queue, Chats: chats, Groups: groups, Router: rtr, Executor: exec, Paths: paths,
		Opts: opts, Logger: logger, draining: map[string]bool{}, senders: senders,
	}
}

// Admit implements §4.9 steps 1-3: reject unregistered/unmentioned
// chats, persist the message, and kick off (or rely on an
// already-running) drain goroutine for the chat.
func (p *Pipeline) Admit(ctx context.Context, msg bus.InboundMessage) error {
	group, ok := p.Groups.Get(msg.ChatID)
	if !ok {
		return ErrChatNotRegistered
	}

	if msg.PeerKind == "group" {
		mentioned := msg.Metadata["mentioned"] == "true"
		if !mentioned && group.TriggerRegex != "" {
			if re, err := regexp.Compile(group.TriggerRegex); err == nil {
				mentioned = re.MatchString(msg.Content)
			}
		}
		if !mentioned {
			return nil
		}
	}

	p.channel.Store(msg.ChatID, msg.Channel)

	if err := p.Queue.Enqueue(ctx, store.QueueItem{
		ChatID:     msg.ChatID,
		SenderID:   msg.SenderID,
		SenderName: msg.UserID,
		Content:    msg.Content,
		Timestamp:  now(),
		IsGroup:    msg.PeerKind == "group",
		ChatType:   msg.PeerKind,
	}); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}

	p.signal(msg.ChatID, group)
	return nil
}

// signal implements §4.9 step 3: wake a drain goroutine for the chat
// if none is already running.
func (p *Pipeline) signal(chatID string, group store.Group) {
	p.mu.Lock()
	if p.draining[chatID] {
		p.mu.Unlock()
		return
	}
	p.draining[chatID] = true
	p.mu.Unlock()

	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.draining, chatID)
			p.mu.Unlock()
		}()
		p.drain(context.Background(), chatID, group)
	}()
}

// drain runs steps 4-9 repeatedly until no claimable batch remains.
func (p *Pipeline) drain(ctx context.Context, chatID string, group store.Group) {
	for {
		batch, err := p.Queue.ClaimBatch(ctx, chatID, p.Opts.BatchWindow, p.batchSize())
		if err != nil {
			p.Logger.Error("claim batch failed", "chat", chatID, "error", err)
			return
		}
		if len(batch) == 0 {
			return
		}

		clean := hygiene(batch)
		if len(clean) == 0 {
			p.Queue.MarkDone(ctx, idsOf(batch))
			continue
		}

		chat, _, err := p.Chats.Get(ctx, chatID)
		if err != nil {
			p.Logger.Warn("chat lookup failed", "chat", chatID, "error", err)
		}

		lines, omitted := budget(catchUp(chat, clean), p.promptMaxChars())
		if omitted > 0 {
			p.Logger.Debug("prompt budget omitted older lines", "chat", chatID, "omitted", omitted)
		}

		p.execute(ctx, chatID, group, batch, lines)
	}
}

func (p *Pipeline) execute(ctx context.Context, chatID string, group store.Group, batch []store.QueueItem, lines []string) {
	prompt := strings.Join(lines, "\n")
	decision := p.Router.Route(prompt)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if p.Opts.InterruptOnNewMessage {
		go p.watchForInterrupt(runCtx, cancel, chatID, batch[len(batch)-1].Timestamp)
	}

	msgs := make([]protocol.QueuedMessage, len(batch))
	for i, it := range batch {
		msgs[i] = protocol.QueuedMessage{SenderID: it.SenderID, SenderName: it.SenderName, Content: it.Content, TimestampMs: it.Timestamp.UnixMilli()}
	}

	req := agent.Request{
		ChatID:           chatID,
		GroupFolder:      group.Folder,
		IsMain:           group.IsMain,
		Messages:         msgs,
		SystemPrompt:     prompt,
		Lane:             lane.Interactive,
		Model:            decision.Model,
		Fallbacks:        decision.Fallbacks,
		MaxOutputTokens:  decision.MaxOutputTokens,
		MaxToolSteps:     decision.MaxToolSteps,
		ReasoningEffort:  decision.ReasoningEffort,
		RecallMaxResults: decision.RecallMaxResults,
		RecallMaxTokens:  decision.RecallMaxTokens,
	}
	if p.Paths != nil {
		req.GroupDir = p.Paths.GroupDir(group.Folder)
		req.SessionDir = p.Paths.GroupSessionDir(group.Folder)
		req.IPCDir = p.Paths.GroupIPCDir(group.Folder)
		req.ConfigDir = p.Paths.ConfigDir()
	}

	result := p.Executor.Run(runCtx, req)

	ids := idsOf(batch)

	if result.Err != nil {
		if runCtx.Err() != nil {
			// interrupted: leave the batch claimed and restart immediately
			// from step 4 — drain's loop re-claims right away, now picking
			// up the newer item too (§4.9 step 9).
			return
		}
		maxRetries := p.Opts.MaxRetries
		if maxRetries <= 0 {
			maxRetries = 3
		}
		if batch[0].Attempt+1 > maxRetries {
			p.Queue.Fail(ctx, ids, result.Err.Error())
			p.deliver(ctx, chatID, humanizeError(result.Err))
		} else {
			p.Queue.Requeue(ctx, ids, result.Err.Error(), p.retryBase(), p.retryMax())
		}
		return
	}

	p.Queue.MarkDone(ctx, ids)
	p.Chats.TouchLastAgentTimestamp(ctx, chatID, now())
	p.deliver(ctx, chatID, result.Response.Result)
}

// watchForInterrupt implements §4.9 step 9: cancel the in-flight run
// if a newer item is queued for the same chat.
func (p *Pipeline) watchForInterrupt(ctx context.Context, cancel context.CancelFunc, chatID string, after time.Time) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			has, err := p.Queue.HasNewer(ctx, chatID, after)
			if err == nil && has {
				cancel()
				return
			}
		}
	}
}

func (p *Pipeline) deliver(ctx context.Context, chatID, content string) {
	chName, _ := p.channel.Load(chatID)
	name, _ := chName.(string)
	sender, ok := p.senders[name]
	if !ok || sender == nil {
		p.Logger.Warn("no sender for channel, dropping reply", "chat", chatID, "channel", name)
		return
	}
	if err := sender.Send(ctx, bus.OutboundMessage{Channel: name, ChatID: chatID, Content: content}); err != nil {
		p.Logger.Error("failed to deliver reply", "chat", chatID, "error", err)
	}
}

func (p *Pipeline) batchSize() int {
	if p.Opts.MaxBatchSize <= 0 {
		return 20
	}
	return p.Opts.MaxBatchSize
}

func (p *Pipeline) promptMaxChars() int {
	if p.Opts.PromptMaxChars <= 0 {
		return 24000
	}
	return p.Opts.PromptMaxChars
}

func (p *Pipeline) retryBase() time.Duration {
	if p.Opts.RetryBase <= 0 {
		return 500 * time.Millisecond
	}
	return p.Opts.RetryBase
}

func (p *Pipeline) retryMax() time.Duration {
	if p.Opts.RetryMax <= 0 {
		return 60 * time.Second
	}
	return p.Opts.RetryMax
}

func idsOf(items []store.QueueItem) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}

func humanizeError(err error) string {
	return "Sorry, I ran into a problem handling that and had to give up after a few tries. Please try again in a bit."
}

var realNow = time.Now

func now() time.Time { return realNow() }
