// Package discord is a thin Channel adapter over the Discord gateway,
// forwarding inbound text to the bus and delivering outbound replies
// — including the edit-in-place streaming preview internal/stream
// drives through StreamingChannel.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/dotsetlabs/dotclaw/internal/bus"
	"github.com/dotsetlabs/dotclaw/internal/channels"
	"github.com/dotsetlabs/dotclaw/internal/config"
)

// Channel connects to Discord via the gateway using discordgo.
type Channel struct {
	*channels.BaseChannel
	session   *discordgo.Session
	config    config.DiscordConfig
	botUserID string

	streamMsg sync.Map // channelID string -> sent message ID string
}

// New creates a Discord channel from config.
func New(cfg config.DiscordConfig, msgBus bus.MessageRouter) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	c := &Channel{
		BaseChannel: channels.NewBaseChannel("discord", msgBus, cfg.AllowFrom),
		session:     session,
		config:      cfg,
	}
	session.AddHandler(c.onMessageCreate)
	return c, nil
}

// Start opens the gateway connection.
func (c *Channel) Start(ctx context.Context) error {
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	if c.session.State != nil && c.session.State.User != nil {
		c.botUserID = c.session.State.User.ID
	}
	c.SetRunning(true)
	slog.Info("discord channel connected")
	return nil
}

func (c *Channel) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Content == "" {
		return
	}
	if m.Author.ID == c.botUserID {
		return
	}
	peerKind := "group"
	if m.GuildID == "" {
		peerKind = "direct"
	}
	senderID := m.Author.ID
	if !c.CheckPolicy(peerKind, c.config.DMPolicy, c.config.GroupPolicy, senderID) {
		return
	}
	c.HandleMessage(senderID, m.ChannelID, m.Content, nil, nil, peerKind)
}

// StreamEnabled reports whether this channel wants incremental
// edit-in-place delivery (§4.8). Discord always supports message
// edits, so streaming is opt-out rather than capability-gated.
func (c *Channel) StreamEnabled() bool { return true }

// OnStreamStart sends the first (placeholder) message for a stream.
func (c *Channel) OnStreamStart(ctx context.Context, chatID string) error {
	msg, err := c.session.ChannelMessageSend(chatID, "…")
	if err != nil {
		return fmt.Errorf("discord stream start: %w", err)
	}
	c.streamMsg.Store(chatID, msg.ID)
	return nil
}

// OnChunkEvent edits the placeholder message in place.
func (c *Channel) OnChunkEvent(ctx context.Context, chatID string, fullText string) error {
	return c.editStreamMessage(chatID, fullText)
}

// OnStreamEnd edits the placeholder message with the final text.
func (c *Channel) OnStreamEnd(ctx context.Context, chatID string, finalText string) error {
	defer c.streamMsg.Delete(chatID)
	return c.editStreamMessage(chatID, finalText)
}

func (c *Channel) editStreamMessage(chatID, text string) error {
	v, ok := c.streamMsg.Load(chatID)
	if !ok {
		return nil
	}
	if text == "" {
		text = "…"
	}
	_, err := c.session.ChannelMessageEdit(chatID, v.(string), text)
	return err
}

// Send delivers a plain outbound message, used for non-streaming replies.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	_, err := c.session.ChannelMessageSend(msg.ChatID, msg.Content)
	return err
}

// Stop closes the gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	return c.session.Close()
}
