package ajl

import (
	"context"
	"fmt"
	"strings"

	"github.com/codeGROOVE-dev/contestian/internal/format"
)

// SchoolReport is the school's standing in one division.
type SchoolReport struct {
	Division Division
	// AboveName is the display name of the next school up; empty at the top.
	AboveName string
	Current   Standing
	// Baseline is the standing published before the current page.
	Baseline Standing
	// Gap is the score needed to reach the next school up.
	Gap int64
}

// Schools fetches both school rankings, records any newly published page and
// reports the tracked school against the page before it. Divisions where the
// school is not ranked are left out.
func (t *Tracker) Schools(ctx context.Context) ([]SchoolReport, error) {
	urls := make([]string, len(Divisions))
	for i, d := range Divisions {
		urls[i] = t.source.SchoolURL(d)
	}
	pages, err := t.fetchAll(ctx, urls)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var reports []SchoolReport
	err = t.repo.WithLock(ctx, func(s *Snapshot) error {
		if s.Schools == nil {
			s.Schools = make(map[Division]*SchoolRecord)
		}
		for i, d := range Divisions {
			r, ok := t.schoolReport(d, pages[i], s)
			if !ok {
				t.logger.Info("school not ranked", "division", d, "school", t.school)
				continue
			}
			reports = append(reports, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("save AJL school snapshot: %w", err)
	}
	if len(reports) == 0 {
		return nil, ErrSchoolNotRanked
	}
	return reports, nil
}

func (t *Tracker) schoolReport(d Division, p page, s *Snapshot) (SchoolReport, bool) {
	idx := -1
	for i, e := range p.entries {
		if e.School == t.school {
			idx = i
			break
		}
	}
	if idx < 0 {
		return SchoolReport{}, false
	}
	cur := p.entries[idx]
	current := Standing{Rank: cur.Rank, Score: cur.Score}

	rec := s.Schools[d]
	if rec == nil {
		rec = &SchoolRecord{}
		s.Schools[d] = rec
	}
	if rec.Hash != p.hash {
		t.logger.Info("new AJL school ranking published",
			"division", d,
			"rank", current.Rank,
			"score", current.Score)
		rec.Previous, rec.Last, rec.Hash = rec.Last, current, p.hash
	}

	r := SchoolReport{Division: d, Current: current, Baseline: rec.Previous}
	if idx > 0 {
		above := p.entries[idx-1]
		r.AboveName = t.shortName(above.School, false)
		r.Gap = above.Score - cur.Score
	}
	return r, true
}

// Embed renders the report. Ranks are spoiler-tagged.
func (r SchoolReport) Embed() *format.Embed {
	var b strings.Builder
	if r.Baseline.Rank > 0 {
		fmt.Fprintf(&b, "# %d位→**||%d||位**\n", r.Baseline.Rank, r.Current.Rank)
	} else {
		fmt.Fprintf(&b, "# **||%d||位**\n", r.Current.Rank)
	}
	if r.AboveName != "" {
		fmt.Fprintf(&b, "> **%s**まであと**%d**点！", r.AboveName, r.Gap)
	} else {
		b.WriteString("> 現在トップです！")
	}
	fmt.Fprintf(&b, "\n# %d点", r.Current.Score)
	if r.Baseline.Rank > 0 {
		fmt.Fprintf(&b, "\n> 前回より**%d点**増えました！", r.Current.Score-r.Baseline.Score)
	}
	return &format.Embed{
		Title:       r.Division.Title(),
		Description: b.String(),
		Color:       format.ColorReminder,
	}
}

// SchoolEmbeds renders Schools.
func (t *Tracker) SchoolEmbeds(ctx context.Context) ([]*format.Embed, error) {
	reports, err := t.Schools(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*format.Embed, len(reports))
	for i, r := range reports {
		out[i] = r.Embed()
	}
	return out, nil
}
