package main

import (
	"context"

	"github.com/codeGROOVE-dev/contestian/internal/contest"
	"github.com/codeGROOVE-dev/contestian/internal/registry"
	"github.com/codeGROOVE-dev/contestian/internal/scheduler"
)

// Runner is a trigger evaluated on each scheduler tick.
type Runner interface {
	Run(ctx context.Context) error
}

// Refresher fetches and persists the contest snapshot.
type Refresher interface {
	Refresh(ctx context.Context) ([]contest.Contest, error)
	Save(ctx context.Context) error
}

type contestCounter interface {
	Contests() []contest.Contest
}

type guildCounter interface {
	Guilds() map[string]registry.GuildConfig
}

type jobStatus interface {
	Status() map[string]scheduler.Status
}
