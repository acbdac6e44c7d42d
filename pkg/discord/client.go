// Package discord adapts the Discord gateway and REST API to the
// collaborator interfaces the verification core consumes.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/rolegate/rolegate/pkg/bot"
	"github.com/rolegate/rolegate/pkg/verification"
)

// Client wraps a discordgo session. It implements verification.Messenger
// and verification.RoleGranter.
type Client struct {
	session *discordgo.Session

	mu         sync.Mutex
	dmChannels map[string]string // user ID -> DM channel ID
}

// NewClient creates a Discord client for the given bot token. Open must be
// called before events flow.
func NewClient(token string) (*Client, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentGuildMessages |
		discordgo.IntentDirectMessages |
		discordgo.IntentMessageContent

	// Handlers must run in gateway order so a user's DM replies reach
	// their session in arrival order. Handlers therefore must not block;
	// the dispatcher hands every message off without waiting.
	session.SyncEvents = true

	session.AddHandler(func(_ *discordgo.Session, ready *discordgo.Ready) {
		slog.Info("Connected to Discord", "user", ready.User.Username)
	})

	return &Client{
		session:    session,
		dmChannels: make(map[string]string),
	}, nil
}

// OnMessage registers the message feed consumer. Messages authored by bots
// (including this one) are filtered out before they reach the handler.
func (c *Client) OnMessage(ctx context.Context, handler func(ctx context.Context, msg bot.Message)) {
	c.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		handler(ctx, bot.Message{
			GuildID:   m.GuildID,
			ChannelID: m.ChannelID,
			UserID:    m.Author.ID,
			Content:   m.Content,
		})
	})
}

// Open connects to the Discord gateway.
func (c *Client) Open() error {
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord gateway: %w", err)
	}
	return nil
}

// Close disconnects from the gateway.
func (c *Client) Close() error {
	return c.session.Close()
}

// SendDM delivers a direct message to the user, creating (and caching) the
// DM channel on first use.
func (c *Client) SendDM(ctx context.Context, userID, text string) error {
	channelID, err := c.dmChannel(ctx, userID)
	if err != nil {
		return err
	}

	if _, err := c.session.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to send DM to user %s: %w", userID, err)
	}
	return nil
}

// PostToChannel posts a message to a guild channel.
func (c *Client) PostToChannel(ctx context.Context, channelID, text string) error {
	if _, err := c.session.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to post to channel %s: %w", channelID, err)
	}
	return nil
}

// FindRole resolves a role name to its ID within the guild, matching
// case-insensitively.
func (c *Client) FindRole(ctx context.Context, guildID, roleName string) (string, error) {
	roles, err := c.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to list roles for guild %s: %w", guildID, err)
	}

	for _, role := range roles {
		if strings.EqualFold(role.Name, roleName) {
			return role.ID, nil
		}
	}
	return "", verification.ErrRoleNotFound
}

// GrantRole assigns the role to the guild member.
func (c *Client) GrantRole(ctx context.Context, guildID, userID, roleID string) error {
	if err := c.session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to grant role %s to user %s: %w", roleID, userID, err)
	}
	return nil
}

func (c *Client) dmChannel(ctx context.Context, userID string) (string, error) {
	c.mu.Lock()
	channelID, ok := c.dmChannels[userID]
	c.mu.Unlock()
	if ok {
		return channelID, nil
	}

	channel, err := c.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to open DM channel with user %s: %w", userID, err)
	}

	c.mu.Lock()
	c.dmChannels[userID] = channel.ID
	c.mu.Unlock()
	return channel.ID, nil
}
