package results

import (
	"context"
	"sync"

	"github.com/codeGROOVE-dev/contestian/internal/atcoder"
)

type mockSource struct {
	standings       *atcoder.Standings
	perfs           map[string]atcoder.Performance
	standingsErr    error
	performancesErr error
	mu              sync.Mutex
	calls           []string
}

func (m *mockSource) Standings(_ context.Context, contestID string) (*atcoder.Standings, error) {
	m.mu.Lock()
	m.calls = append(m.calls, "standings:"+contestID)
	m.mu.Unlock()
	if m.standingsErr != nil {
		return nil, m.standingsErr
	}
	return m.standings, nil
}

func (m *mockSource) Performances(_ context.Context, contestID string) (map[string]atcoder.Performance, error) {
	m.mu.Lock()
	m.calls = append(m.calls, "performances:"+contestID)
	m.mu.Unlock()
	if m.performancesErr != nil {
		return nil, m.performancesErr
	}
	return m.perfs, nil
}

type mockSheetWriter struct {
	err    error
	sheets []Sheet
}

func (m *mockSheetWriter) Write(_ context.Context, s Sheet) error {
	m.sheets = append(m.sheets, s)
	return m.err
}

func sampleStandings() *atcoder.Standings {
	return &atcoder.Standings{
		StandingsData: []atcoder.StandingsRow{
			{
				Rank:           3,
				Affiliation:    "University of Tsukuba 電子電脳技術研究会",
				UserScreenName: "alice",
				TotalResult:    atcoder.TotalResult{Score: 60000},
				TaskResults: map[string]atcoder.TaskResult{
					"abc400_a": {Score: 10000},
					"abc400_b": {Score: 20000, Penalty: 2},
					"abc400_c": {Score: 0, Failure: 1, Penalty: 3},
				},
			},
			{
				Rank:           7,
				Affiliation:    "Other Club",
				UserScreenName: "mallory",
				TotalResult:    atcoder.TotalResult{Score: 50000},
			},
			{
				Rank:           40,
				Affiliation:    "電子電脳技術研究会",
				UserScreenName: "bob",
				TotalResult:    atcoder.TotalResult{Score: 15050},
			},
		},
	}
}

func samplePerformances() map[string]atcoder.Performance {
	return map[string]atcoder.Performance{
		"alice": {UserScreenName: "alice", Performance: 1800, OldRating: 1500, NewRating: 1580},
		"bob":   {UserScreenName: "bob", Performance: 200, OldRating: 0, NewRating: 0},
	}
}
