// Package bot dispatches inbound chat messages: it filters guild traffic to
// the verification channel, starts sessions on the trigger phrase, and
// routes DM replies into their sessions.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v2"

	"github.com/rolegate/rolegate/pkg/ratelimit"
	"github.com/rolegate/rolegate/pkg/verification"
)

// DefaultTrigger is the phrase that starts verification, inherited from the
// bot's original command.
const DefaultTrigger = "[verify]"

const defaultNoticeCooldown = 30 * time.Second

// Message is one inbound chat event. An empty GuildID marks a direct
// message.
type Message struct {
	GuildID   string
	ChannelID string
	UserID    string
	Content   string
}

// Dispatcher consumes inbound messages and drives the verification service.
// Handling never blocks on a conversation: trigger handling only creates
// the session, and DM replies are handed off without waiting.
type Dispatcher struct {
	service   *verification.Service
	messenger verification.Messenger
	channelID string
	trigger   string

	limiter *ratelimit.Limiter
	notices *ttlcache.Cache
	wg      sync.WaitGroup
}

// DispatcherOption defines configuration options for the Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithTriggerLimiter throttles how often a single user can fire the
// trigger phrase.
func WithTriggerLimiter(limiter *ratelimit.Limiter) DispatcherOption {
	return func(d *Dispatcher) {
		d.limiter = limiter
	}
}

// WithNoticeCooldown sets how long invalid-command notices are suppressed
// per user after one has been posted.
func WithNoticeCooldown(cooldown time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.notices.SetTTL(cooldown)
	}
}

// NewDispatcher creates a dispatcher for the given verification channel and
// trigger phrase. The trigger is matched case-insensitively after trimming.
func NewDispatcher(
	service *verification.Service,
	messenger verification.Messenger,
	channelID, trigger string,
	opts ...DispatcherOption,
) *Dispatcher {
	if trigger == "" {
		trigger = DefaultTrigger
	}

	notices := ttlcache.NewCache()
	notices.SetTTL(defaultNoticeCooldown)
	notices.SkipTTLExtensionOnHit(true)

	dispatcher := &Dispatcher{
		service:   service,
		messenger: messenger,
		channelID: channelID,
		trigger:   strings.ToLower(strings.TrimSpace(trigger)),
		notices:   notices,
	}

	for _, opt := range opts {
		opt(dispatcher)
	}

	return dispatcher
}

// HandleMessage processes one inbound message. Messages in guild channels
// other than the verification channel are ignored without side effects.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg Message) {
	if msg.GuildID == "" {
		d.service.HandleReply(msg.UserID, msg.Content)
		return
	}

	if msg.ChannelID != d.channelID {
		return
	}

	content := strings.ToLower(strings.TrimSpace(msg.Content))
	if content == d.trigger {
		d.startVerification(ctx, msg.UserID)
		return
	}

	d.invalidCommand(ctx, msg.UserID)
}

// Close waits for in-flight notice posts and releases the notice cache.
func (d *Dispatcher) Close() {
	d.wg.Wait()
	d.notices.Close()
}

func (d *Dispatcher) startVerification(ctx context.Context, userID string) {
	if d.limiter != nil && !d.limiter.Allow(userID) {
		slog.Warn("Trigger rate limit exceeded", "user_id", userID)
		return
	}

	err := d.service.Begin(ctx, userID)
	if err == nil {
		return
	}

	if errors.Is(err, verification.ErrAlreadyActive) {
		notice := fmt.Sprintf("<@%s> you already have a verification in progress, please check your DMs.", userID)
		d.post(ctx, notice, "already-active", userID)
		return
	}

	slog.Error("Failed to start verification", "user_id", userID, "error", err)
}

// invalidCommand answers non-trigger content in the verification channel
// with a single notice, suppressed per user for the cooldown window so a
// chatty user cannot make the bot spam the channel.
func (d *Dispatcher) invalidCommand(ctx context.Context, userID string) {
	if _, err := d.notices.Get(userID); err == nil {
		return
	}
	d.notices.Set(userID, struct{}{})

	notice := fmt.Sprintf("Invalid command. Please use `%s` to start verification.", d.trigger)
	d.post(ctx, notice, "invalid-command", userID)
}

// post delivers a channel notice off the event handler goroutine. Event
// handlers run synchronously in gateway order, so they must never wait on a
// REST call.
func (d *Dispatcher) post(ctx context.Context, notice, kind, userID string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.messenger.PostToChannel(ctx, d.channelID, notice); err != nil {
			slog.Warn("Failed to post "+kind+" notice", "user_id", userID, "error", err)
		}
	}()
}
