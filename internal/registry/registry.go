// Package registry holds per-guild notification configuration and the
// record of which reminders have already been sent.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/codeGROOVE-dev/contestian/internal/contest"
	"github.com/codeGROOVE-dev/contestian/internal/state"
)

// DefaultOffset is seeded by ToggleEnabled when a type has no offsets.
const DefaultOffset = 30

var (
	// ErrInvalidOffset is returned for non-positive reminder offsets.
	ErrInvalidOffset = errors.New("reminder offset must be a positive number of minutes")

	// ErrUnknownType is returned for contest types outside contest.Types.
	ErrUnknownType = errors.New("unknown contest type")
)

// Offset is one reminder offset for a contest type.
type Offset struct {
	Minutes int      `yaml:"offset_minutes" json:"offset_minutes"`
	Enabled bool     `yaml:"enabled" json:"enabled"`
	Sent    []string `yaml:"sent_contest_ids" json:"sent_contest_ids"`
}

// HasSent reports whether contestID already received this reminder.
func (o Offset) HasSent(contestID string) bool {
	_, found := slices.BinarySearch(o.Sent, contestID)
	return found
}

// GuildConfig is the notification configuration of one guild.
type GuildConfig struct {
	ReminderChannelID string                `yaml:"reminder_channel_id,omitempty" json:"reminder_channel_id,omitempty"`
	ResultChannelID   string                `yaml:"result_channel_id,omitempty" json:"result_channel_id,omitempty"`
	ThreadChannelID   string                `yaml:"thread_channel_id,omitempty" json:"thread_channel_id,omitempty"`
	ThreadTypes       map[contest.Type]bool `yaml:"thread_types,omitempty" json:"thread_types,omitempty"`

	// Reminders is keyed by contest type and inlined next to the channel ids.
	Reminders map[string][]Offset `yaml:",inline" json:"reminders,omitempty"`
}

// Offsets returns the offsets configured for a contest type.
func (g GuildConfig) Offsets(t contest.Type) []Offset {
	return g.Reminders[string(t)]
}

// ThreadsEnabled reports whether threads are created for a contest type.
func (g GuildConfig) ThreadsEnabled(t contest.Type) bool {
	return g.ThreadTypes[t]
}

func (g GuildConfig) clone() GuildConfig {
	out := g
	out.ThreadTypes = maps.Clone(g.ThreadTypes)
	if g.Reminders != nil {
		out.Reminders = make(map[string][]Offset, len(g.Reminders))
		for t, offsets := range g.Reminders {
			cp := make([]Offset, len(offsets))
			for i, o := range offsets {
				o.Sent = slices.Clone(o.Sent)
				cp[i] = o
			}
			out.Reminders[t] = cp
		}
	}
	return out
}

// normalize fixes up records decoded from disk: type keys are canonicalized
// (unknown ones dropped), offsets are deduplicated and sorted, sent sets are
// sorted.
func (g *GuildConfig) normalize(logger *slog.Logger, guildID string) {
	if len(g.Reminders) == 0 {
		return
	}
	merged := make(map[string][]Offset, len(g.Reminders))
	for key, offsets := range g.Reminders {
		t, ok := contest.ParseType(key)
		if !ok {
			logger.Warn("dropping unknown contest type from guild config",
				"guild_id", guildID,
				"contest_type", key)
			continue
		}
		merged[string(t)] = append(merged[string(t)], offsets...)
	}

	for key, offsets := range merged {
		byMinutes := make(map[int]Offset, len(offsets))
		for _, o := range offsets {
			if o.Minutes <= 0 {
				continue
			}
			if prev, ok := byMinutes[o.Minutes]; ok {
				o.Enabled = o.Enabled || prev.Enabled
				o.Sent = append(o.Sent, prev.Sent...)
			}
			byMinutes[o.Minutes] = o
		}
		cleaned := make([]Offset, 0, len(byMinutes))
		for _, o := range byMinutes {
			slices.Sort(o.Sent)
			o.Sent = slices.Compact(o.Sent)
			cleaned = append(cleaned, o)
		}
		slices.SortFunc(cleaned, func(a, b Offset) int { return a.Minutes - b.Minutes })
		merged[key] = cleaned
	}
	g.Reminders = merged
}

// Registry owns all guild configurations.
type Registry struct {
	repo   state.Repository[map[string]GuildConfig]
	logger *slog.Logger
	guilds map[string]GuildConfig
	mu     sync.RWMutex
}

// New creates a registry persisted through repo. Call Load before use.
func New(repo state.Repository[map[string]GuildConfig], logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		repo:   repo,
		logger: logger,
		guilds: make(map[string]GuildConfig),
	}
}

// Load reads the persisted configuration. Missing or corrupt snapshots start
// empty.
func (r *Registry) Load(ctx context.Context) error {
	guilds, err := r.repo.Load(ctx)
	switch {
	case err == nil:
	case errors.Is(err, state.ErrNotFound):
		guilds = nil
	case errors.Is(err, state.ErrCorrupt):
		r.logger.Warn("guild config corrupt, starting empty", "error", err)
		guilds = nil
	default:
		return fmt.Errorf("load guild config: %w", err)
	}
	if guilds == nil {
		guilds = make(map[string]GuildConfig)
	}
	for id, g := range guilds {
		g.normalize(r.logger, id)
		guilds[id] = g
	}

	r.mu.Lock()
	r.guilds = guilds
	r.mu.Unlock()

	r.logger.Info("loaded guild config", "guilds", len(guilds))
	return nil
}

// Save persists the whole configuration.
func (r *Registry) Save(ctx context.Context) error {
	if err := r.repo.Save(ctx, r.Guilds()); err != nil {
		return fmt.Errorf("save guild config: %w", err)
	}
	return nil
}

// Guild returns a copy of one guild's configuration.
func (r *Registry) Guild(guildID string) (GuildConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.guilds[guildID]
	if !ok {
		return GuildConfig{}, false
	}
	return g.clone(), true
}

// Guilds returns a copy of every guild's configuration.
func (r *Registry) Guilds() map[string]GuildConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]GuildConfig, len(r.guilds))
	for id, g := range r.guilds {
		out[id] = g.clone()
	}
	return out
}

// update applies fn to one guild (created on first use) and persists.
// The in-memory copy only changes if persistence succeeds.
func (r *Registry) update(ctx context.Context, guildID string, fn func(*GuildConfig) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := r.guilds[guildID].clone()
	if err := fn(&g); err != nil {
		return err
	}

	next := make(map[string]GuildConfig, len(r.guilds)+1)
	for id, cfg := range r.guilds {
		next[id] = cfg
	}
	next[guildID] = g

	err := r.repo.WithLock(ctx, func(persisted *map[string]GuildConfig) error {
		*persisted = next
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist guild %s: %w", guildID, err)
	}
	r.guilds = next
	return nil
}

// SetReminderChannel sets the channel reminders are posted to.
func (r *Registry) SetReminderChannel(ctx context.Context, guildID, channelID string) error {
	return r.update(ctx, guildID, func(g *GuildConfig) error {
		g.ReminderChannelID = channelID
		return nil
	})
}

// SetResultChannel sets the channel results are posted to.
func (r *Registry) SetResultChannel(ctx context.Context, guildID, channelID string) error {
	return r.update(ctx, guildID, func(g *GuildConfig) error {
		g.ResultChannelID = channelID
		return nil
	})
}

// SetThreadChannel sets the channel discussion threads are created in.
func (r *Registry) SetThreadChannel(ctx context.Context, guildID, channelID string) error {
	return r.update(ctx, guildID, func(g *GuildConfig) error {
		g.ThreadChannelID = channelID
		return nil
	})
}

// SetThreadType toggles thread creation for one contest type.
func (r *Registry) SetThreadType(ctx context.Context, guildID string, t contest.Type, enabled bool) error {
	if _, ok := contest.ParseType(string(t)); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	return r.update(ctx, guildID, func(g *GuildConfig) error {
		if g.ThreadTypes == nil {
			g.ThreadTypes = make(map[contest.Type]bool)
		}
		g.ThreadTypes[t] = enabled
		return nil
	})
}

// SetOffsets replaces the offsets of a contest type. Offsets that are kept
// retain their enabled flag and sent set; new offsets start enabled.
func (r *Registry) SetOffsets(ctx context.Context, guildID string, t contest.Type, minutes []int) error {
	if _, ok := contest.ParseType(string(t)); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	for _, m := range minutes {
		if m <= 0 {
			return fmt.Errorf("%w: %d", ErrInvalidOffset, m)
		}
	}
	wanted := slices.Clone(minutes)
	slices.Sort(wanted)
	wanted = slices.Compact(wanted)

	return r.update(ctx, guildID, func(g *GuildConfig) error {
		existing := make(map[int]Offset)
		for _, o := range g.Reminders[string(t)] {
			existing[o.Minutes] = o
		}
		next := make([]Offset, 0, len(wanted))
		for _, m := range wanted {
			if o, ok := existing[m]; ok {
				next = append(next, o)
				continue
			}
			next = append(next, Offset{Minutes: m, Enabled: true})
		}
		if g.Reminders == nil {
			g.Reminders = make(map[string][]Offset)
		}
		g.Reminders[string(t)] = next
		return nil
	})
}

// ToggleEnabled flips every offset of a contest type and returns the new
// state. A type without offsets is seeded with DefaultOffset, enabled.
func (r *Registry) ToggleEnabled(ctx context.Context, guildID string, t contest.Type) (bool, error) {
	if _, ok := contest.ParseType(string(t)); !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	var enabled bool
	err := r.update(ctx, guildID, func(g *GuildConfig) error {
		if g.Reminders == nil {
			g.Reminders = make(map[string][]Offset)
		}
		offsets := g.Reminders[string(t)]
		if len(offsets) == 0 {
			g.Reminders[string(t)] = []Offset{{Minutes: DefaultOffset, Enabled: true}}
			enabled = true
			return nil
		}
		for i := range offsets {
			offsets[i].Enabled = !offsets[i].Enabled
		}
		enabled = offsets[0].Enabled
		return nil
	})
	return enabled, err
}

// MarkSent records that contestID received the reminder at the given offset.
// Call only after the reminder was delivered.
func (r *Registry) MarkSent(ctx context.Context, guildID string, t contest.Type, minutes int, contestID string) error {
	return r.update(ctx, guildID, func(g *GuildConfig) error {
		offsets := g.Reminders[string(t)]
		for i := range offsets {
			if offsets[i].Minutes != minutes {
				continue
			}
			pos, found := slices.BinarySearch(offsets[i].Sent, contestID)
			if !found {
				offsets[i].Sent = slices.Insert(offsets[i].Sent, pos, contestID)
			}
			return nil
		}
		return fmt.Errorf("guild %s has no %d minute offset for %s", guildID, minutes, t)
	})
}
