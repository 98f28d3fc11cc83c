// Package discord provides Discord API client functionality.
package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/codeGROOVE-dev/retry"

	"github.com/codeGROOVE-dev/contestian/internal/format"
)

var (
	// ErrChannelNotFound means the channel was deleted or is invisible to the bot.
	ErrChannelNotFound = errors.New("channel not found")
	// ErrForbidden means the bot lacks a permission for the call.
	ErrForbidden = errors.New("missing permission")
)

// DefaultTimeout bounds a single REST call.
const DefaultTimeout = 10 * time.Second

// threadArchiveMinutes is the auto-archive duration for contest threads.
const threadArchiveMinutes = 1440

// restAPI is the subset of discordgo.Session REST calls the client uses.
type restAPI interface {
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	UserChannelPermissions(userID, channelID string, fetchOptions ...discordgo.RequestOption) (int64, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ThreadStartComplex(channelID string, data *discordgo.ThreadStart, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ForumThreadStartComplex(
		channelID string, threadData *discordgo.ThreadStart, messageData *discordgo.MessageSend, options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)
	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)
	GuildRoleCreate(guildID string, data *discordgo.RoleParams, options ...discordgo.RequestOption) (*discordgo.Role, error)
}

// Client wraps discordgo.Session with the operations the bot needs.
type Client struct {
	session   *discordgo.Session
	api       restAPI
	state     *discordgo.State
	logger    *slog.Logger
	ready     chan struct{}
	timeout   time.Duration
	keywords  *keywordReplies
	readyOnce sync.Once
	rolesMu   sync.Mutex // serializes role creation
}

// New creates a Discord client for a bot token. Each REST call is bounded by
// timeout, or DefaultTimeout when zero.
func New(token string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds

	c := newClient(session, session.State, logger)
	c.session = session
	if timeout > 0 {
		c.timeout = timeout
	}
	session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		c.logger.Info("discord session ready",
			"user", r.User.Username,
			"guilds", len(r.Guilds))
		c.markReady()
	})
	return c, nil
}

func newClient(api restAPI, state *discordgo.State, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		api:    api,
		state:  state,
		logger:  logger,
		ready:   make(chan struct{}),
		timeout: DefaultTimeout,
	}
}

// callCtx bounds one REST call.
func (c *Client) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// retryableCtx wraps a function with standard retry configuration.
func retryableCtx(ctx context.Context, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if status := restStatus(err); status >= 400 && status < 500 && status != http.StatusTooManyRequests {
				return false
			}
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}),
	)
}

func restStatus(err error) int {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		return restErr.Response.StatusCode
	}
	return 0
}

// classify maps REST status codes onto package sentinels.
func classify(err error) error {
	switch restStatus(err) {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrChannelNotFound, err)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrForbidden, err)
	default:
		return err
	}
}

// openTimeout is the maximum time to wait for Discord connection.
const openTimeout = 30 * time.Second

// Open opens the WebSocket connection to Discord with a timeout.
func (c *Client) Open() error {
	done := make(chan error, 1)
	go func() {
		done <- c.session.Open()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(openTimeout):
		// Try to close the session to clean up
		c.session.Close() //nolint:errcheck,gosec // best-effort close on timeout
		return errors.New("timeout waiting for Discord connection")
	}
}

// Close closes the WebSocket connection.
func (c *Client) Close() error {
	return c.session.Close()
}

// Session returns the underlying discordgo session.
func (c *Client) Session() *discordgo.Session {
	return c.session
}

// Ready is closed once the first Ready event arrives.
func (c *Client) Ready() <-chan struct{} {
	return c.ready
}

func (c *Client) markReady() {
	c.readyOnce.Do(func() { close(c.ready) })
}

func (c *Client) botUserID() string {
	if c.state == nil || c.state.User == nil {
		return ""
	}
	return c.state.User.ID
}

// Channel looks up a channel, preferring the gateway cache.
func (c *Client) Channel(ctx context.Context, channelID string) (*discordgo.Channel, error) {
	if channelID == "" {
		return nil, ErrChannelNotFound
	}
	if c.state != nil {
		if ch, err := c.state.Channel(channelID); err == nil {
			return ch, nil
		}
	}

	var ch *discordgo.Channel
	err := retryableCtx(ctx, func() error {
		reqCtx, cancel := c.callCtx(ctx)
		defer cancel()
		var err error
		ch, err = c.api.Channel(channelID, discordgo.WithContext(reqCtx))
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	return ch, nil
}

// CanSend reports whether the bot may post in a channel.
func (c *Client) CanSend(ctx context.Context, channelID string) bool {
	botID := c.botUserID()
	if botID == "" {
		return false
	}

	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	perms, err := c.api.UserChannelPermissions(botID, channelID, discordgo.WithContext(ctx))
	if err != nil {
		c.logger.Debug("failed to check channel permissions",
			"channel_id", channelID,
			"error", err)
		return false
	}

	need := int64(discordgo.PermissionViewChannel | discordgo.PermissionSendMessages)
	return perms&need == need
}

// SendMessage posts a message. Sends are not retried so a timed-out request
// never produces a duplicate post.
func (c *Client) SendMessage(ctx context.Context, channelID string, msg format.Message) (string, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	sent, err := c.api.ChannelMessageSendComplex(channelID, messageSend(msg), discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", classify(err))
	}

	c.logger.Info("posted channel message",
		"channel_id", channelID,
		"message_id", sent.ID,
		"files", len(msg.Files))

	return sent.ID, nil
}

// CreateThread opens a public thread in a text channel, or a post in a forum
// channel, and announces it. A failed announcement is logged, not returned.
func (c *Client) CreateThread(ctx context.Context, channelID, title, content string) (string, error) {
	ch, err := c.Channel(ctx, channelID)
	if err != nil {
		return "", err
	}

	name := format.Truncate(title, format.MaxThreadTitle)
	opening := messageSend(format.Message{Content: content})

	if ch.Type == discordgo.ChannelTypeGuildForum {
		forumCtx, cancel := c.callCtx(ctx)
		defer cancel()
		thread, err := c.api.ForumThreadStartComplex(channelID, &discordgo.ThreadStart{
			Name:                name,
			AutoArchiveDuration: threadArchiveMinutes,
		}, opening, discordgo.WithContext(forumCtx))
		if err != nil {
			return "", fmt.Errorf("failed to create forum thread: %w", classify(err))
		}
		c.logThread(ch, thread, name)
		return thread.ID, nil
	}

	startCtx, cancelStart := c.callCtx(ctx)
	defer cancelStart()
	thread, err := c.api.ThreadStartComplex(channelID, &discordgo.ThreadStart{
		Name:                name,
		AutoArchiveDuration: threadArchiveMinutes,
		Type:                discordgo.ChannelTypeGuildPublicThread,
	}, discordgo.WithContext(startCtx))
	if err != nil {
		return "", fmt.Errorf("failed to create thread: %w", classify(err))
	}
	c.logThread(ch, thread, name)

	sendCtx, cancelSend := c.callCtx(ctx)
	defer cancelSend()
	if _, err := c.api.ChannelMessageSendComplex(thread.ID, opening, discordgo.WithContext(sendCtx)); err != nil {
		c.logger.Warn("failed to post thread announcement",
			"channel_id", channelID,
			"thread_id", thread.ID,
			"error", err)
	}
	return thread.ID, nil
}

func (c *Client) logThread(parent, thread *discordgo.Channel, name string) {
	c.logger.Info("created thread",
		"guild_id", parent.GuildID,
		"channel_id", parent.ID,
		"thread_id", thread.ID,
		"title", name)
}

// ResolveOrCreateRole returns the ID of the named role, creating a
// mentionable role when none exists.
func (c *Client) ResolveOrCreateRole(ctx context.Context, guildID, name string) (string, error) {
	c.rolesMu.Lock()
	defer c.rolesMu.Unlock()

	var roles []*discordgo.Role
	err := retryableCtx(ctx, func() error {
		reqCtx, cancel := c.callCtx(ctx)
		defer cancel()
		var err error
		roles, err = c.api.GuildRoles(guildID, discordgo.WithContext(reqCtx))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("list roles: %w", classify(err))
	}
	for _, r := range roles {
		if r.Name == name {
			return r.ID, nil
		}
	}

	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	mentionable := true
	role, err := c.api.GuildRoleCreate(guildID, &discordgo.RoleParams{
		Name:        name,
		Mentionable: &mentionable,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("create role %q: %w", name, classify(err))
	}

	c.logger.Info("created role",
		"guild_id", guildID,
		"role_id", role.ID,
		"role", name)
	return role.ID, nil
}

func messageSend(msg format.Message) *discordgo.MessageSend {
	send := &discordgo.MessageSend{
		Content: msg.Content,
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeRoles},
		},
	}
	if msg.Embed != nil {
		send.Embeds = []*discordgo.MessageEmbed{embed(msg.Embed)}
	} else {
		send.Flags = discordgo.MessageFlagsSuppressEmbeds
	}
	for _, f := range msg.Files {
		send.Files = append(send.Files, &discordgo.File{
			Name:        f.Name,
			ContentType: f.ContentType,
			Reader:      bytes.NewReader(f.Data),
		})
	}
	return send
}

func embed(e *format.Embed) *discordgo.MessageEmbed {
	out := &discordgo.MessageEmbed{
		Title:       format.Truncate(e.Title, 256),
		Description: format.Truncate(e.Description, 4096),
		URL:         e.URL,
		Color:       e.Color,
	}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{
			Name:   format.Truncate(f.Name, 256),
			Value:  format.Truncate(f.Value, 1024),
			Inline: f.Inline,
		})
	}
	if e.Footer != "" {
		out.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
	}
	if e.Image != "" {
		out.Image = &discordgo.MessageEmbedImage{URL: e.Image}
	}
	return out
}

// isThread reports whether a channel type is any kind of thread.
func isThread(t discordgo.ChannelType) bool {
	switch t {
	case discordgo.ChannelTypeGuildPublicThread, discordgo.ChannelTypeGuildPrivateThread, discordgo.ChannelTypeGuildNewsThread:
		return true
	default:
		return false
	}
}

// channelKind describes a channel type for command replies.
func channelKind(t discordgo.ChannelType) string {
	switch {
	case t == discordgo.ChannelTypeGuildForum:
		return "forum"
	case isThread(t):
		return "thread"
	case t == discordgo.ChannelTypeGuildText, t == discordgo.ChannelTypeGuildNews:
		return "text"
	default:
		return "unsupported"
	}
}
