// Package ajl follows one school's standing in the AtCoder Junior League.
package ajl

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/codeGROOVE-dev/contestian/internal/atcoder"
	"github.com/codeGROOVE-dev/contestian/internal/state"
)

const (
	// DefaultBaseURL hosts the published AJL ranking pages.
	DefaultBaseURL = "https://img.atcoder.jp"
	// DefaultSchool is the school tracked when none is configured.
	DefaultSchool = "筑波大学附属中学校"

	maxConcurrentFetches = 3
)

// Division is an AJL ranking division.
type Division string

// Divisions.
const (
	Algorithm Division = "A"
	Heuristic Division = "H"
)

// Divisions lists every division in display order.
var Divisions = []Division{Algorithm, Heuristic}

// Title is the division's display name.
func (d Division) Title() string {
	if d == Heuristic {
		return "ヒューリスティック"
	}
	return "アルゴリズム"
}

// Season is the half of the year a league runs in.
type Season string

// Seasons.
const (
	Winter Season = "winter"
	Summer Season = "summer"
)

// ParseSeason accepts a season name in any case.
func ParseSeason(s string) (Season, error) {
	switch Season(strings.ToLower(strings.TrimSpace(s))) {
	case Winter:
		return Winter, nil
	case Summer:
		return Summer, nil
	default:
		return "", fmt.Errorf("unknown AJL season %q", s)
	}
}

// Source locates the ranking pages of one league.
type Source struct {
	BaseURL string
	Season  Season
	Year    int
}

func (s Source) root() string {
	base := s.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return fmt.Sprintf("%s/ajl%d%s", strings.TrimRight(base, "/"), s.Year, s.Season)
}

// SchoolURL is the school ranking page of a division.
func (s Source) SchoolURL(d Division) string {
	return fmt.Sprintf("%s/school_rankings_grades_1to3_%s.html", s.root(), d)
}

// GradeURL is the per-student ranking page of a division and grade.
func (s Source) GradeURL(d Division, grade int) string {
	return fmt.Sprintf("%s/grade_%d_rankings_%s_score.html", s.root(), grade, d)
}

// Grades lists the grades ranked this season. The winter league has no third grade.
func (s Source) Grades() []int {
	if s.Season == Winter {
		return []int{1, 2}
	}
	return []int{1, 2, 3}
}

// Entry is one ranking row. User is empty on school rankings.
type Entry struct {
	School string
	User   string
	Rank   int
	Score  int64
}

// ParseRanking reads a school or student ranking page. Rows without a
// numeric rank are skipped.
func ParseRanking(r io.Reader) ([]Entry, error) {
	table, err := atcoder.ParseTable(r)
	if err != nil {
		return nil, err
	}
	rankCol, schoolCol, scoreCol := table.Column("順位"), table.Column("学校名"), table.Column("スコア")
	if rankCol < 0 || schoolCol < 0 || scoreCol < 0 {
		return nil, fmt.Errorf("ranking columns missing from header %v", table.Header)
	}
	userCol := table.Column("ユーザID")

	var out []Entry
	for _, row := range table.Rows {
		if len(row) != len(table.Header) {
			continue
		}
		rank, err := strconv.Atoi(row[rankCol])
		if err != nil {
			continue
		}
		score, err := parseScore(row[scoreCol])
		if err != nil {
			return nil, fmt.Errorf("rank %d: %w", rank, err)
		}
		e := Entry{Rank: rank, School: row[schoolCol], Score: score}
		if userCol >= 0 {
			e.User = row[userCol]
		}
		out = append(out, e)
	}
	return out, nil
}

func parseScore(s string) (int64, error) {
	s = strings.ReplaceAll(s, ",", "")
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse score %q: %w", s, err)
	}
	return int64(f), nil
}

// Fetcher downloads a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Standing is a school's rank and score at one point in time. A zero rank
// means unknown.
type Standing struct {
	Rank  int   `yaml:"rank,omitempty" json:"rank,omitempty"`
	Score int64 `yaml:"score,omitempty" json:"score,omitempty"`
}

// SchoolRecord is the persisted history of one division's school ranking.
// Previous and Last only move when the published page changes.
type SchoolRecord struct {
	Hash     string   `yaml:"hash,omitempty" json:"hash,omitempty"`
	Previous Standing `yaml:"previous,omitempty" json:"previous,omitempty"`
	Last     Standing `yaml:"last,omitempty" json:"last,omitempty"`
}

// GradeRecord is the persisted history of one grade's student ranks by user.
type GradeRecord struct {
	Hash     string         `yaml:"hash,omitempty" json:"hash,omitempty"`
	Previous map[string]int `yaml:"previous,omitempty" json:"previous,omitempty"`
	Last     map[string]int `yaml:"last,omitempty" json:"last,omitempty"`
}

// Snapshot is everything the tracker persists.
type Snapshot struct {
	Schools  map[Division]*SchoolRecord         `yaml:"schools,omitempty" json:"schools,omitempty"`
	Students map[Division]map[int]*GradeRecord `yaml:"students,omitempty" json:"students,omitempty"`
}

// ErrSchoolNotRanked means the tracked school is on no ranking page.
var ErrSchoolNotRanked = errors.New("school not found in AJL rankings")

// Config configures a Tracker.
type Config struct {
	Fetcher Fetcher
	Repo    state.Repository[Snapshot]
	Logger  *slog.Logger
	// Abbreviations maps full school names to short display names.
	Abbreviations map[string]string
	School        string
	Source        Source
}

// Tracker reports the school's AJL standing against the last published one.
type Tracker struct {
	fetcher Fetcher
	repo    state.Repository[Snapshot]
	logger  *slog.Logger
	abbr    map[string]string
	school  string
	source  Source
	mu      sync.Mutex
}

// New creates a tracker.
func New(cfg Config) *Tracker {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.School == "" {
		cfg.School = DefaultSchool
	}
	return &Tracker{
		fetcher: cfg.Fetcher,
		repo:    cfg.Repo,
		logger:  cfg.Logger,
		abbr:    cfg.Abbreviations,
		school:  cfg.School,
		source:  cfg.Source,
	}
}

// page is a fetched ranking page.
type page struct {
	entries []Entry
	hash    string
}

// fetchAll downloads and parses pages concurrently, keeping input order.
func (t *Tracker) fetchAll(ctx context.Context, urls []string) ([]page, error) {
	pages := make([]page, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for i, u := range urls {
		g.Go(func() error {
			body, err := t.fetcher.Fetch(gctx, u)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", u, err)
			}
			entries, err := ParseRanking(bytes.NewReader(body))
			if err != nil {
				return fmt.Errorf("parse %s: %w", u, err)
			}
			sum := sha256.Sum256(body)
			pages[i] = page{entries: entries, hash: hex.EncodeToString(sum[:])}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pages, nil
}

// shortName abbreviates a school for display.
func (t *Tracker) shortName(school string, trimSuffix bool) string {
	if s, ok := t.abbr[school]; ok {
		return s
	}
	if trimSuffix {
		if s, ok := strings.CutSuffix(school, "中学校"); ok && s != "" {
			return s
		}
	}
	return school
}
