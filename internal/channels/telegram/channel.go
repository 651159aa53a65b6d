// Package telegram is a thin Channel adapter over the Telegram Bot
// API (long polling), forwarding inbound text to the bus and
// delivering outbound replies — including the edit-in-place streaming
// preview internal/stream drives through StreamingChannel.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/mymmrac/telego"

	"github.com/dotsetlabs/dotclaw/internal/bus"
	"github.com/dotsetlabs/dotclaw/internal/channels"
	"github.com/dotsetlabs/dotclaw/internal/config"
)

// Channel connects to Telegram via the Bot API using long polling.
type Channel struct {
	*channels.BaseChannel
	bot    *telego.Bot
	config config.TelegramConfig

	streamMsg sync.Map // chatID string -> sent messageID int, for edit-in-place

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates a Telegram channel from config.
func New(cfg config.TelegramConfig, msgBus bus.MessageRouter) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("telegram", msgBus, cfg.AllowFrom),
		bot:         bot,
		config:      cfg,
	}, nil
}

// Start begins long polling for Telegram updates.
func (c *Channel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram channel connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil {
					c.handleMessage(update)
				}
			}
		}
	}()

	return nil
}

func (c *Channel) handleMessage(update telego.Update) {
	msg := update.Message
	if msg.Text == "" {
		return
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	senderID := chatID
	if msg.From != nil {
		senderID = strconv.FormatInt(msg.From.ID, 10)
		if msg.From.Username != "" {
			senderID = senderID + "|" + msg.From.Username
		}
	}
	peerKind := "direct"
	if msg.Chat.Type == telego.ChatTypeGroup || msg.Chat.Type == telego.ChatTypeSupergroup {
		peerKind = "group"
	}
	if !c.CheckPolicy(peerKind, c.policyFor(peerKind), c.policyFor(peerKind), senderID) {
		return
	}
	c.HandleMessage(senderID, chatID, msg.Text, nil, nil, peerKind)
}

func (c *Channel) policyFor(peerKind string) string {
	if peerKind == "group" {
		return c.config.GroupPolicy
	}
	return c.config.DMPolicy
}

// StreamEnabled reports whether this channel wants incremental
// edit-in-place delivery (§4.8). Telegram always supports message
// edits, so streaming is opt-out rather than capability-gated.
func (c *Channel) StreamEnabled() bool { return true }

// OnStreamStart sends the first (placeholder) message for a stream.
func (c *Channel) OnStreamStart(ctx context.Context, chatID string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	sent, err := c.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: id},
		Text:   "…",
	})
	if err != nil {
		return fmt.Errorf("telegram stream start: %w", err)
	}
	c.streamMsg.Store(chatID, sent.MessageID)
	return nil
}

// OnChunkEvent edits the placeholder message in place with the
// accumulated text so far.
func (c *Channel) OnChunkEvent(ctx context.Context, chatID string, fullText string) error {
	return c.editStreamMessage(ctx, chatID, fullText)
}

// OnStreamEnd edits the placeholder message with the final text.
func (c *Channel) OnStreamEnd(ctx context.Context, chatID string, finalText string) error {
	defer c.streamMsg.Delete(chatID)
	return c.editStreamMessage(ctx, chatID, finalText)
}

func (c *Channel) editStreamMessage(ctx context.Context, chatID, text string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	v, ok := c.streamMsg.Load(chatID)
	if !ok {
		return nil
	}
	if text == "" {
		text = "…"
	}
	_, err = c.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
		ChatID:    telego.ChatID{ID: id},
		MessageID: v.(int),
		Text:      text,
	})
	return err
}

// Send delivers a plain outbound message, used for non-streaming replies.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	id, err := parseChatID(msg.ChatID)
	if err != nil {
		return err
	}
	_, err = c.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: id},
		Text:   msg.Content,
	})
	return err
}

// Stop cancels long polling and waits for the poll goroutine to exit.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		<-c.pollDone
	}
	return nil
}

func parseChatID(chatIDStr string) (int64, error) {
	raw := chatIDStr
	if idx := strings.IndexByte(raw, '|'); idx > 0 {
		raw = raw[:idx]
	}
	return strconv.ParseInt(raw, 10, 64)
}
