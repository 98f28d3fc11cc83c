package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/contestian/internal/contest"
	"github.com/codeGROOVE-dev/contestian/internal/format"
	"github.com/codeGROOVE-dev/contestian/internal/registry"
)

// DefaultReminderWindow is how long after its fire time a reminder may still go out.
const DefaultReminderWindow = time.Minute

// ReminderConfig configures a Reminder trigger.
type ReminderConfig struct {
	Contests ContestStore
	Registry Registry
	Chat     Chat
	Logger   *slog.Logger
	Now      func() time.Time
	// Window must be at least the poll interval or reminders can be skipped.
	Window time.Duration
	// MaxAttempts caps failed sends per (guild, contest, offset). Zero is unlimited.
	MaxAttempts int
}

type reminderKey struct {
	guildID   string
	contestID string
	minutes   int
}

// Reminder posts a reminder m minutes before each contest for every enabled
// offset m of every guild, once per (guild, contest, offset).
type Reminder struct {
	contests    ContestStore
	registry    Registry
	chat        Chat
	logger      *slog.Logger
	now         func() time.Time
	attempts    map[reminderKey]int
	window      time.Duration
	maxAttempts int
	mu          sync.Mutex
}

// NewReminder creates a reminder trigger.
func NewReminder(cfg ReminderConfig) *Reminder {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultReminderWindow
	}
	return &Reminder{
		contests:    cfg.Contests,
		registry:    cfg.Registry,
		chat:        cfg.Chat,
		logger:      cfg.Logger,
		now:         cfg.Now,
		window:      cfg.Window,
		maxAttempts: cfg.MaxAttempts,
		attempts:    make(map[reminderKey]int),
	}
}

// Run evaluates the trigger at the current time.
func (r *Reminder) Run(ctx context.Context) error {
	return r.Evaluate(ctx, r.now())
}

// due reports whether a reminder m minutes before start fires at now.
func (r *Reminder) due(start, now time.Time, minutes int) bool {
	fireAt := start.Add(-time.Duration(minutes) * time.Minute)
	return !now.Before(fireAt) && now.Before(fireAt.Add(r.window))
}

// Evaluate sends every reminder due at now. Failures are logged and returned
// joined; they never stop the remaining guilds.
func (r *Reminder) Evaluate(ctx context.Context, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	contests := r.contests.Contests()
	guilds := r.registry.Guilds()
	var errs []error

	for _, guildID := range slices.Sorted(maps.Keys(guilds)) {
		g := guilds[guildID]
		if g.ReminderChannelID == "" {
			continue
		}
		gs := &guildState{id: guildID, channelID: g.ReminderChannelID}

		for _, c := range contests {
			err := guard(r.logger, c.ID, func() error { return r.evaluate(ctx, now, gs, g.Offsets(c.Type), c) })
			if err != nil {
				errs = append(errs, err)
			}
			if gs.unavailable {
				break
			}
		}
	}
	return errors.Join(errs...)
}

// guildState carries the per-guild channel check across contests of a tick.
type guildState struct {
	id          string
	channelID   string
	checked     bool
	unavailable bool
}

// evaluate sends the due reminders of one contest to one guild.
func (r *Reminder) evaluate(ctx context.Context, now time.Time, gs *guildState, offsets []registry.Offset, c contest.Contest) error {
	var errs []error
	for _, o := range offsets {
		if !o.Enabled || o.HasSent(c.ID) || !r.due(c.Start(), now, o.Minutes) {
			continue
		}
		key := reminderKey{guildID: gs.id, contestID: c.ID, minutes: o.Minutes}
		log := r.logger.With(
			"guild_id", gs.id,
			"channel_id", gs.channelID,
			"contest_id", c.ID,
			"contest_type", c.Type,
			"offset_minutes", o.Minutes)

		if r.maxAttempts > 0 && r.attempts[key] >= r.maxAttempts {
			log.Debug("reminder attempts exhausted", "attempts", r.attempts[key])
			continue
		}

		if !gs.checked {
			if !r.chat.CanSend(ctx, gs.channelID) {
				log.Warn("cannot post to reminder channel, skipping guild")
				r.attempts[key]++
				gs.unavailable = true
				return errors.Join(append(errs, fmt.Errorf("guild %s: reminder channel %s unavailable", gs.id, gs.channelID))...)
			}
			gs.checked = true
		}

		if err := r.send(ctx, gs.id, gs.channelID, c, o.Minutes); err != nil {
			r.attempts[key]++
			log.Warn("failed to send reminder", "attempt", r.attempts[key], "error", err)
			errs = append(errs, err)
			continue
		}
		delete(r.attempts, key)
		log.Info("sent reminder")
	}
	return errors.Join(errs...)
}

func (r *Reminder) send(ctx context.Context, guildID, channelID string, c contest.Contest, minutes int) error {
	msg := format.Reminder(c, r.mention(ctx, guildID, c.Type))
	if _, err := r.chat.SendMessage(ctx, channelID, msg); err != nil {
		return fmt.Errorf("send %s reminder for %s to guild %s: %w", c.Type, c.ID, guildID, err)
	}
	if err := r.registry.MarkSent(ctx, guildID, c.Type, minutes, c.ID); err != nil {
		// The message is out; an unrecorded send may repeat within the window.
		r.logger.Error("failed to record sent reminder",
			"guild_id", guildID,
			"contest_id", c.ID,
			"offset_minutes", minutes,
			"error", err)
	}
	return nil
}

// mention resolves the participant role, degrading to plain text.
func (r *Reminder) mention(ctx context.Context, guildID string, t contest.Type) string {
	roleID, err := r.chat.ResolveOrCreateRole(ctx, guildID, format.RoleName(t))
	if err != nil {
		r.logger.Warn("failed to resolve participant role",
			"guild_id", guildID,
			"contest_type", t,
			"error", err)
		return format.MentionFallback(t)
	}
	return format.RoleMention(roleID)
}
