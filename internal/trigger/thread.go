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

// Thread window bounds, relative to contest start.
const (
	ThreadLead   = 60 * time.Minute
	ThreadCutoff = 59 * time.Minute
)

// ThreadConfig configures a Thread trigger.
type ThreadConfig struct {
	Contests ContestStore
	Registry Registry
	Chat     Chat
	Logger   *slog.Logger
	Now      func() time.Time
}

// Thread opens a discussion thread per contest in every guild that enabled
// threads for its type, during [start-60m, start-59m).
//
// A contest first seen after its window never gets a thread.
type Thread struct {
	contests ContestStore
	registry Registry
	chat     Chat
	logger   *slog.Logger
	now      func() time.Time
	// created tracks per-guild success until the contest flag is persisted.
	created map[string]map[string]bool
	mu      sync.Mutex
}

// NewThread creates a thread trigger.
func NewThread(cfg ThreadConfig) *Thread {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Thread{
		contests: cfg.Contests,
		registry: cfg.Registry,
		chat:     cfg.Chat,
		logger:   cfg.Logger,
		now:      cfg.Now,
		created:  make(map[string]map[string]bool),
	}
}

// Run evaluates the trigger at the current time.
func (t *Thread) Run(ctx context.Context) error {
	return t.Evaluate(ctx, t.now())
}

// InWindow reports whether now falls in a contest's thread window.
func InWindow(start, now time.Time) bool {
	return !now.Before(start.Add(-ThreadLead)) && now.Before(start.Add(-ThreadCutoff))
}

// Evaluate creates every thread due at now. The contest flag is set once all
// eligible guilds have their thread.
func (t *Thread) Evaluate(ctx context.Context, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	guilds := t.registry.Guilds()
	var errs []error

	for _, c := range t.contests.Contests() {
		if c.ThreadCreated || !InWindow(c.Start(), now) {
			continue
		}
		if err := guard(t.logger, c.ID, func() error { return t.evaluate(ctx, c, guilds) }); err != nil {
			errs = append(errs, err)
		}
	}

	t.forgetStale(now)
	return errors.Join(errs...)
}

// evaluate creates the missing threads of one contest and sets its flag once
// every currently eligible guild has one.
func (t *Thread) evaluate(ctx context.Context, c contest.Contest, guilds map[string]registry.GuildConfig) error {
	var eligible []string
	for _, guildID := range slices.Sorted(maps.Keys(guilds)) {
		g := guilds[guildID]
		if g.ThreadChannelID != "" && g.ThreadsEnabled(c.Type) {
			eligible = append(eligible, guildID)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	done := t.created[c.ID]
	if done == nil {
		done = make(map[string]bool)
		t.created[c.ID] = done
	}

	var errs []error
	for _, guildID := range eligible {
		if done[guildID] {
			continue
		}
		if err := t.create(ctx, guildID, guilds[guildID].ThreadChannelID, c); err != nil {
			t.logger.Warn("failed to create contest thread",
				"guild_id", guildID,
				"contest_id", c.ID,
				"error", err)
			errs = append(errs, err)
			continue
		}
		done[guildID] = true
	}

	// done may still hold guilds that have since turned threads off.
	if slices.ContainsFunc(eligible, func(id string) bool { return !done[id] }) {
		return errors.Join(errs...)
	}
	if err := t.contests.MarkThreadCreated(ctx, c.ID); err != nil {
		t.logger.Error("failed to record thread creation", "contest_id", c.ID, "error", err)
		return errors.Join(append(errs, err)...)
	}
	delete(t.created, c.ID)
	return errors.Join(errs...)
}

func (t *Thread) create(ctx context.Context, guildID, channelID string, c contest.Contest) error {
	if !t.chat.CanSend(ctx, channelID) {
		return fmt.Errorf("guild %s: thread channel %s unavailable", guildID, channelID)
	}
	threadID, err := t.chat.CreateThread(ctx, channelID, format.ThreadTitle(c), format.ThreadAnnouncement(c))
	if err != nil {
		return fmt.Errorf("guild %s: %w", guildID, err)
	}
	t.logger.Info("created contest thread",
		"guild_id", guildID,
		"channel_id", channelID,
		"contest_id", c.ID,
		"contest_type", c.Type,
		"thread_id", threadID)
	return nil
}

// forgetStale drops per-guild progress for contests past their window.
func (t *Thread) forgetStale(now time.Time) {
	for id := range t.created {
		c, ok := t.contests.Contest(id)
		if !ok || !now.Before(c.Start().Add(-ThreadCutoff)) {
			delete(t.created, id)
		}
	}
}
