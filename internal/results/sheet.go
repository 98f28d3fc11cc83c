// Package results builds and renders per-contest result sheets for tracked members.
package results

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/codeGROOVE-dev/contestian/internal/atcoder"
)

// TaskColumns is the number of per-task columns (A through G).
const TaskColumns = 7

// Placeholder marks an empty cell.
const Placeholder = "-"

// Headers are the workbook column titles.
var Headers = []string{"順位", "ユーザー", "得点", "A", "B", "C", "D", "E", "F", "G", "perf", "レート変化"}

// Row is one tracked participant.
type Row struct {
	Rank         string
	User         string
	Score        string
	Performance  string
	RatingChange string
	Tasks        [TaskColumns]string
	// Perf and NewRating drive cell colours; zero means no data.
	Perf      int
	NewRating int
}

// Cells returns the row as display strings in Headers order.
func (r Row) Cells() []string {
	cells := make([]string, 0, len(Headers))
	cells = append(cells, r.Rank, r.User, r.Score)
	cells = append(cells, r.Tasks[:]...)
	return append(cells, r.Performance, r.RatingChange)
}

// Sheet is the result table of one contest.
type Sheet struct {
	ContestID string
	Rows      []Row
	Rated     bool
}

// Empty reports whether no tracked member took part.
func (s Sheet) Empty() bool {
	return len(s.Rows) == 0
}

// Build filters standings down to participants whose affiliation contains
// affiliation and renders each row. Rows keep standings order.
func Build(contestID string, standings *atcoder.Standings, perfs map[string]atcoder.Performance, affiliation string) Sheet {
	sheet := Sheet{ContestID: contestID, Rated: standings.Rated()}
	tasks := taskIDs(contestID, standings.TaskInfo)

	for _, row := range standings.StandingsData {
		if affiliation != "" && !strings.Contains(row.Affiliation, affiliation) {
			continue
		}
		if row.UserScreenName == "" {
			continue
		}

		r := Row{
			Rank:         fmt.Sprintf("%d (%d)", len(sheet.Rows)+1, row.Rank),
			User:         row.UserScreenName,
			Score:        formatScore(row.TotalResult.Score),
			Performance:  Placeholder,
			RatingChange: Placeholder,
		}
		for i, task := range tasks {
			tr, ok := row.TaskResults[task]
			r.Tasks[i] = TaskCell(tr, ok)
		}

		if p, ok := perfs[row.UserScreenName]; ok {
			r.Perf = AdjustPerformance(p.Performance, sheet.Rated)
			r.Performance = strconv.Itoa(r.Perf)
			if p.OldRating > 0 || p.NewRating > 0 {
				r.NewRating = p.NewRating
				r.RatingChange = fmt.Sprintf("%d → %d (%d)", p.OldRating, p.NewRating, p.NewRating-p.OldRating)
			}
		}
		sheet.Rows = append(sheet.Rows, r)
	}
	return sheet
}

// taskIDs returns the screen names of the first TaskColumns tasks. Contests
// without task metadata fall back to "<id>_a" through "<id>_g".
func taskIDs(contestID string, info []atcoder.TaskInfo) []string {
	ids := make([]string, TaskColumns)
	for i := range ids {
		if i < len(info) && info[i].TaskScreenName != "" {
			ids[i] = info[i].TaskScreenName
			continue
		}
		ids[i] = fmt.Sprintf("%s_%c", contestID, 'a'+i)
	}
	return ids
}

func formatScore(hundredths int) string {
	return strconv.FormatFloat(float64(hundredths)/100, 'f', -1, 64)
}

// TaskCell renders one task result: "score", "score (penalty)" or
// "(failed attempts)". Tasks without a submission are Placeholder.
func TaskCell(tr atcoder.TaskResult, ok bool) string {
	switch {
	case !ok:
		return Placeholder
	case tr.Score >= 1:
		score := tr.Score / 100
		if tr.Penalty > 0 {
			return fmt.Sprintf("%d (%d)", score, tr.Penalty)
		}
		return strconv.Itoa(score)
	case tr.Score == 0:
		return fmt.Sprintf("(%d)", tr.Failure+tr.Penalty)
	default:
		return fmt.Sprintf("(%d)", tr.Penalty)
	}
}

// AdjustPerformance undoes the low-end compression of rated performances.
func AdjustPerformance(perf int, rated bool) int {
	if !rated || perf > 400 {
		return perf
	}
	return int(math.Round(400 / math.Exp(float64(400-perf)/400)))
}
