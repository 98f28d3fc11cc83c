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
	"github.com/codeGROOVE-dev/contestian/internal/registry"
	"github.com/codeGROOVE-dev/contestian/internal/results"
)

// ErrNoResultChannel is returned by PublishTo for guilds without a result channel.
var ErrNoResultChannel = errors.New("no result channel configured")

// ErrNoParticipants is returned by PublishTo when no tracked member took part.
var ErrNoParticipants = errors.New("no tracked participants")

// ResultConfig configures a Result trigger.
type ResultConfig struct {
	Contests ContestStore
	Registry Registry
	Chat     Chat
	Builder  ResultBuilder
	Logger   *slog.Logger
	Now      func() time.Time
	// Delay postpones publication after the contest ends.
	Delay time.Duration
	// BaseURL builds contest URLs for manual publication of unknown contests.
	BaseURL string
}

// Result publishes result sheets after contests end. Delivery is best-effort:
// a contest counts as published once any guild received it.
type Result struct {
	contests ContestStore
	registry Registry
	chat     Chat
	builder  ResultBuilder
	logger   *slog.Logger
	now      func() time.Time
	// prepared caches rendered sheets until the contest is marked.
	prepared map[string]*results.Result
	baseURL  string
	delay    time.Duration
	mu       sync.Mutex
}

// NewResult creates a result trigger.
func NewResult(cfg ResultConfig) *Result {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://atcoder.jp"
	}
	return &Result{
		contests: cfg.Contests,
		registry: cfg.Registry,
		chat:     cfg.Chat,
		builder:  cfg.Builder,
		logger:   cfg.Logger,
		now:      cfg.Now,
		delay:    cfg.Delay,
		baseURL:  cfg.BaseURL,
		prepared: make(map[string]*results.Result),
	}
}

// Run evaluates the trigger at the current time.
func (r *Result) Run(ctx context.Context) error {
	return r.Evaluate(ctx, r.now())
}

// Evaluate publishes results for every ended, unpublished contest.
func (r *Result) Evaluate(ctx context.Context, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	guilds := r.registry.Guilds()
	var targets []string
	for _, guildID := range slices.Sorted(maps.Keys(guilds)) {
		if guilds[guildID].ResultChannelID != "" {
			targets = append(targets, guildID)
		}
	}

	var errs []error
	for _, c := range r.contests.Contests() {
		if c.ResultSent || now.Before(c.End().Add(r.delay)) {
			continue
		}
		if len(targets) == 0 {
			continue
		}
		if err := guard(r.logger, c.ID, func() error { return r.publishAll(ctx, c, guilds, targets) }); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Result) publishAll(ctx context.Context, c contest.Contest, guilds map[string]registry.GuildConfig, targets []string) error {
	log := r.logger.With("contest_id", c.ID, "contest_type", c.Type)

	res, err := r.prepare(ctx, c.ID)
	if err != nil {
		log.Warn("failed to prepare results", "error", err)
		return fmt.Errorf("prepare %s: %w", c.ID, err)
	}

	if res.Sheet.Empty() {
		log.Info("no tracked participants, marking results as sent")
		return r.markSent(ctx, c.ID)
	}

	sent := 0
	var errs []error
	for _, guildID := range targets {
		channelID := guilds[guildID].ResultChannelID
		if err := r.send(ctx, channelID, c, res); err != nil {
			log.Warn("failed to post results",
				"guild_id", guildID,
				"channel_id", channelID,
				"error", err)
			errs = append(errs, fmt.Errorf("guild %s: %w", guildID, err))
			continue
		}
		sent++
		log.Info("posted results", "guild_id", guildID, "channel_id", channelID)
	}

	if sent == 0 {
		return errors.Join(errs...)
	}
	return errors.Join(append(errs, r.markSent(ctx, c.ID))...)
}

func (r *Result) prepare(ctx context.Context, contestID string) (*results.Result, error) {
	if res, ok := r.prepared[contestID]; ok {
		return res, nil
	}
	res, err := r.builder.Prepare(ctx, contestID)
	if err != nil {
		return nil, err
	}
	r.prepared[contestID] = res
	return res, nil
}

func (r *Result) send(ctx context.Context, channelID string, c contest.Contest, res *results.Result) error {
	if !r.chat.CanSend(ctx, channelID) {
		return fmt.Errorf("result channel %s unavailable", channelID)
	}
	_, err := r.chat.SendMessage(ctx, channelID, res.Message(c))
	return err
}

func (r *Result) markSent(ctx context.Context, contestID string) error {
	if err := r.contests.MarkResultSent(ctx, contestID); err != nil {
		r.logger.Error("failed to record result publication", "contest_id", contestID, "error", err)
		return err
	}
	delete(r.prepared, contestID)
	return nil
}

// PublishTo posts a contest's results to one guild immediately. It does not
// change the contest's published flag.
func (r *Result) PublishTo(ctx context.Context, guildID, contestID string) error {
	g, ok := r.registry.Guild(guildID)
	if !ok || g.ResultChannelID == "" {
		return ErrNoResultChannel
	}

	c, ok := r.contests.Contest(contestID)
	if !ok {
		c = contest.Contest{
			ID:   contestID,
			Name: contestID,
			URL:  r.baseURL + "/contests/" + contestID,
			Type: contest.Classify(contestID),
		}
	}

	res, err := r.builder.Prepare(ctx, contestID)
	if err != nil {
		return fmt.Errorf("prepare %s: %w", contestID, err)
	}
	if res.Sheet.Empty() {
		return ErrNoParticipants
	}
	if err := r.send(ctx, g.ResultChannelID, c, res); err != nil {
		return err
	}
	r.logger.Info("published results on request",
		"guild_id", guildID,
		"channel_id", g.ResultChannelID,
		"contest_id", contestID)
	return nil
}
