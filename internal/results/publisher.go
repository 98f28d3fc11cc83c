package results

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/codeGROOVE-dev/contestian/internal/atcoder"
	"github.com/codeGROOVE-dev/contestian/internal/contest"
	"github.com/codeGROOVE-dev/contestian/internal/format"
)

// Source provides raw contest results.
type Source interface {
	Standings(ctx context.Context, contestID string) (*atcoder.Standings, error)
	Performances(ctx context.Context, contestID string) (map[string]atcoder.Performance, error)
}

// SheetWriter mirrors a sheet to an external spreadsheet.
type SheetWriter interface {
	Write(ctx context.Context, s Sheet) error
}

// Config configures a Publisher.
type Config struct {
	Source Source
	// Sheets is optional.
	Sheets      SheetWriter
	Logger      *slog.Logger
	Affiliation string
}

// Publisher prepares result attachments for a contest.
type Publisher struct {
	source      Source
	sheets      SheetWriter
	logger      *slog.Logger
	affiliation string
}

// NewPublisher creates a publisher.
func NewPublisher(cfg Config) *Publisher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Publisher{
		source:      cfg.Source,
		sheets:      cfg.Sheets,
		logger:      cfg.Logger,
		affiliation: cfg.Affiliation,
	}
}

// Result is a rendered result sheet.
type Result struct {
	Sheet Sheet
	PNG   []byte
	XLSX  []byte
}

// Prepare fetches standings and performance data concurrently and renders the
// sheet. A contest without tracked participants yields an empty Result.
func (p *Publisher) Prepare(ctx context.Context, contestID string) (*Result, error) {
	var (
		standings *atcoder.Standings
		perfs     map[string]atcoder.Performance
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		standings, err = p.source.Standings(gctx, contestID)
		return err
	})
	g.Go(func() error {
		var err error
		perfs, err = p.source.Performances(gctx, contestID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sheet := Build(contestID, standings, perfs, p.affiliation)
	res := &Result{Sheet: sheet}
	if sheet.Empty() {
		p.logger.Info("no tracked participants", "contest_id", contestID)
		return res, nil
	}

	var err error
	if res.PNG, err = RenderPNG(sheet); err != nil {
		return nil, fmt.Errorf("render image: %w", err)
	}
	if res.XLSX, err = RenderXLSX(sheet); err != nil {
		return nil, fmt.Errorf("render workbook: %w", err)
	}

	if p.sheets != nil {
		if err := p.sheets.Write(ctx, sheet); err != nil {
			p.logger.Warn("failed to update spreadsheet", "contest_id", contestID, "error", err)
		}
	}

	p.logger.Info("prepared contest results",
		"contest_id", contestID,
		"participants", len(sheet.Rows))
	return res, nil
}

// Message builds the chat message carrying the result attachments.
func (r *Result) Message(c contest.Contest) format.Message {
	image := c.ID + ".png"
	return format.Message{
		Content: format.ResultContent(c),
		Embed: &format.Embed{
			Title:       format.Truncate(c.Name+" のコンテスト結果", 256),
			URL:         c.URL + "/standings",
			Description: fmt.Sprintf("%d 人が参加しました", len(r.Sheet.Rows)),
			Color:       format.ColorResult,
			Image:       "attachment://" + image,
		},
		Files: []format.File{
			{Name: image, ContentType: "image/png", Data: r.PNG},
			{Name: c.ID + ".xlsx", ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", Data: r.XLSX},
		},
	}
}
