// Package trigger decides when reminders, threads and result posts fire and
// records each firing only after the send succeeded.
package trigger

import (
	"context"

	"github.com/codeGROOVE-dev/contestian/internal/contest"
	"github.com/codeGROOVE-dev/contestian/internal/format"
	"github.com/codeGROOVE-dev/contestian/internal/registry"
	"github.com/codeGROOVE-dev/contestian/internal/results"
)

// ContestStore is the contest snapshot and owner of the per-contest flags.
type ContestStore interface {
	Contests() []contest.Contest
	Contest(id string) (contest.Contest, bool)
	MarkThreadCreated(ctx context.Context, id string) error
	MarkResultSent(ctx context.Context, id string) error
}

// Registry is the per-guild notification configuration.
type Registry interface {
	Guilds() map[string]registry.GuildConfig
	Guild(guildID string) (registry.GuildConfig, bool)
	MarkSent(ctx context.Context, guildID string, t contest.Type, minutes int, contestID string) error
}

// Chat is the chat platform.
type Chat interface {
	CanSend(ctx context.Context, channelID string) bool
	SendMessage(ctx context.Context, channelID string, msg format.Message) (string, error)
	CreateThread(ctx context.Context, channelID, title, content string) (string, error)
	ResolveOrCreateRole(ctx context.Context, guildID, name string) (string, error)
}

// ResultBuilder renders the result sheet of a contest.
type ResultBuilder interface {
	Prepare(ctx context.Context, contestID string) (*results.Result, error)
}
