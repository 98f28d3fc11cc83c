package ajl

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/codeGROOVE-dev/contestian/internal/format"
)

// StudentLine is one student of the tracked school.
type StudentLine struct {
	User string
	// AboveUser and AboveSchool identify the next student up; empty at the top.
	AboveUser   string
	AboveSchool string
	Rank        int
	// PreviousRank is zero for a first appearance.
	PreviousRank int
	Gap          int64
}

// GradeReport lists a grade's students in rank order.
type GradeReport struct {
	Students []StudentLine
	Grade    int
}

// StudentReport is one division's student standings.
type StudentReport struct {
	Division Division
	Grades   []GradeReport
	// Newcomers are students absent from the previous page, in report order.
	Newcomers []string
}

type gradePage struct {
	division Division
	grade    int
}

// Students fetches every grade ranking of both divisions and reports the
// tracked school's students against the page before the current one.
func (t *Tracker) Students(ctx context.Context) ([]StudentReport, error) {
	var keys []gradePage
	var urls []string
	for _, d := range Divisions {
		for _, g := range t.source.Grades() {
			keys = append(keys, gradePage{division: d, grade: g})
			urls = append(urls, t.source.GradeURL(d, g))
		}
	}
	pages, err := t.fetchAll(ctx, urls)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	reports := make([]StudentReport, len(Divisions))
	for i, d := range Divisions {
		reports[i].Division = d
	}
	err = t.repo.WithLock(ctx, func(s *Snapshot) error {
		if s.Students == nil {
			s.Students = make(map[Division]map[int]*GradeRecord)
		}
		for i, k := range keys {
			r := &reports[divisionIndex(k.division)]
			gr, newcomers := t.gradeReport(k, pages[i], s)
			if len(gr.Students) > 0 {
				r.Grades = append(r.Grades, gr)
			}
			r.Newcomers = append(r.Newcomers, newcomers...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("save AJL student snapshot: %w", err)
	}
	return reports, nil
}

func divisionIndex(d Division) int {
	for i, x := range Divisions {
		if x == d {
			return i
		}
	}
	return 0
}

func (t *Tracker) gradeReport(k gradePage, p page, s *Snapshot) (GradeReport, []string) {
	current := make(map[string]int)
	for _, e := range p.entries {
		if e.School == t.school {
			current[e.User] = e.Rank
		}
	}

	byGrade := s.Students[k.division]
	if byGrade == nil {
		byGrade = make(map[int]*GradeRecord)
		s.Students[k.division] = byGrade
	}
	rec := byGrade[k.grade]
	if rec == nil {
		rec = &GradeRecord{}
		byGrade[k.grade] = rec
	}
	if rec.Hash != p.hash {
		t.logger.Info("new AJL grade ranking published",
			"division", k.division,
			"grade", k.grade,
			"students", len(current))
		rec.Previous, rec.Last, rec.Hash = rec.Last, maps.Clone(current), p.hash
	}

	gr := GradeReport{Grade: k.grade}
	var newcomers []string
	for i, e := range p.entries {
		if e.School != t.school {
			continue
		}
		line := StudentLine{User: e.User, Rank: e.Rank, PreviousRank: rec.Previous[e.User]}
		if i > 0 {
			above := p.entries[i-1]
			line.AboveUser = above.User
			line.AboveSchool = t.shortName(above.School, true)
			line.Gap = above.Score - e.Score
		}
		if line.PreviousRank == 0 {
			newcomers = append(newcomers, e.User)
		}
		gr.Students = append(gr.Students, line)
	}
	return gr, newcomers
}

// StudentEmbeds renders Students.
func (t *Tracker) StudentEmbeds(ctx context.Context) ([]*format.Embed, error) {
	reports, err := t.Students(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*format.Embed, len(reports))
	for i, r := range reports {
		out[i] = r.Embed()
	}
	return out, nil
}

// Embed renders the report.
func (r StudentReport) Embed() *format.Embed {
	var b strings.Builder
	for _, g := range r.Grades {
		fmt.Fprintf(&b, "## 中%d\n", g.Grade)
		for _, s := range g.Students {
			fmt.Fprintf(&b, "\n### **%s**\n> ", s.User)
			if s.PreviousRank > 0 {
				fmt.Fprintf(&b, " %d位 → **%d**位", s.PreviousRank, s.Rank)
			} else {
				fmt.Fprintf(&b, " 初参加 → **%d**位", s.Rank)
			}
			if s.AboveUser != "" {
				fmt.Fprintf(&b, "\n>  _%s_ **%s** まであと **%d**点！", s.AboveSchool, s.AboveUser, s.Gap)
			} else {
				b.WriteString("  現在トップです！")
			}
			b.WriteString("\n")
		}
	}
	if len(r.Newcomers) > 0 {
		b.WriteString("\n:tada: 新規参加者 :tada:\n")
		for _, u := range r.Newcomers {
			fmt.Fprintf(&b, "- **%s**\n", u)
		}
	}
	desc := b.String()
	if desc == "" {
		desc = "ランキングに載っている生徒はいません。"
	}
	return &format.Embed{
		Title:       r.Division.Title(),
		Description: format.Truncate(desc, 4096),
		Color:       format.ColorReminder,
	}
}
