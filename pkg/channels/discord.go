package channels

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/dotsetgreg/wakegate/pkg/bus"
	"github.com/dotsetgreg/wakegate/pkg/config"
	"github.com/dotsetgreg/wakegate/pkg/logger"
)

const sendTimeout = 10 * time.Second

type DiscordChannel struct {
	*BaseChannel
	session *discordgo.Session
	config  config.DiscordConfig
	botID   string
}

func NewDiscordChannel(cfg config.DiscordConfig, bus *bus.MessageBus) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	base := NewBaseChannel("discord", bus, cfg.AllowFrom)

	return &DiscordChannel{
		BaseChannel: base,
		session:     session,
		config:      cfg,
	}, nil
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	logger.InfoC("discord", "Starting Discord bot")

	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}

	c.setRunning(true)

	botUser, err := c.session.User("@me")
	if err != nil {
		return fmt.Errorf("failed to get bot user: %w", err)
	}
	c.botID = botUser.ID
	logger.InfoCF("discord", "Discord bot connected", map[string]any{
		"username": botUser.Username,
		"user_id":  botUser.ID,
	})

	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	logger.InfoC("discord", "Stopping Discord bot")
	c.setRunning(false)

	if err := c.session.Close(); err != nil {
		return fmt.Errorf("failed to close discord session: %w", err)
	}

	return nil
}

func (c *DiscordChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}

	channelID := msg.ChatID
	if channelID == "" {
		return fmt.Errorf("channel ID is empty")
	}

	if len([]rune(msg.Content)) == 0 {
		return nil
	}

	// Discord caps messages at 2000 characters; leave headroom for a clean
	// split on a natural boundary.
	for _, chunk := range splitMessage(msg.Content, 1800) {
		if err := c.sendChunk(ctx, channelID, chunk); err != nil {
			return err
		}
	}

	return nil
}

// splitMessage splits long replies into chunks at newline or space
// boundaries where possible.
func splitMessage(content string, limit int) []string {
	var messages []string

	for len(content) > 0 {
		if len(content) <= limit {
			messages = append(messages, content)
			break
		}

		msgEnd := lastBoundary(content[:limit], '\n', 200)
		if msgEnd <= 0 {
			msgEnd = lastBoundary(content[:limit], ' ', 100)
		}
		if msgEnd <= 0 {
			msgEnd = limit
		}

		messages = append(messages, content[:msgEnd])
		content = strings.TrimSpace(content[msgEnd:])
	}

	return messages
}

// lastBoundary finds the last occurrence of sep within the trailing
// searchWindow bytes of s, or -1.
func lastBoundary(s string, sep byte, searchWindow int) int {
	searchStart := len(s) - searchWindow
	if searchStart < 0 {
		searchStart = 0
	}
	for i := len(s) - 1; i >= searchStart; i-- {
		if s[i] == sep {
			return i
		}
	}
	return -1
}

func (c *DiscordChannel) sendChunk(ctx context.Context, channelID, content string) error {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := c.session.ChannelMessageSend(channelID, content)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send discord message: %w", err)
		}
		return nil
	case <-sendCtx.Done():
		return fmt.Errorf("send message timeout: %w", sendCtx.Err())
	}
}

// mentionsUser reports whether the message at-mentions the given user.
func mentionsUser(m *discordgo.MessageCreate, userID string) bool {
	for _, u := range m.Mentions {
		if u != nil && u.ID == userID {
			return true
		}
	}
	return false
}

// stripMentions removes at-mention markup of the given user from content.
func stripMentions(content, userID string) string {
	content = strings.ReplaceAll(content, "<@"+userID+">", "")
	content = strings.ReplaceAll(content, "<@!"+userID+">", "")
	return strings.TrimSpace(content)
}

func (c *DiscordChannel) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Author == nil {
		return
	}

	botID := c.botID
	if botID == "" && s.State != nil && s.State.User != nil {
		botID = s.State.User.ID
	}

	// Only guild (group) messages go through the wake engine.
	if m.GuildID == "" {
		return
	}

	mentioned := mentionsUser(m, botID)
	content := stripMentions(m.Content, botID)
	emptyMention := mentioned && content == "" && len(m.Attachments) == 0

	if content == "" && !emptyMention {
		return
	}

	senderName := m.Author.Username
	if m.Member != nil && m.Member.Nick != "" {
		senderName = m.Member.Nick
	}

	logger.DebugCF("discord", "Received message", map[string]any{
		"sender_id":  m.Author.ID,
		"channel_id": m.ChannelID,
		"mentioned":  mentioned,
	})

	c.PublishEvent(bus.InboundMessage{
		EventID:      m.ID,
		SenderID:     m.Author.ID,
		SenderName:   senderName,
		GroupID:      m.ChannelID,
		BotID:        botID,
		Content:      content,
		AtOrCommand:  mentioned,
		EmptyMention: emptyMention,
		Metadata: map[string]string{
			"message_id": m.ID,
			"guild_id":   m.GuildID,
			"channel_id": m.ChannelID,
			"username":   m.Author.Username,
		},
	})
}
