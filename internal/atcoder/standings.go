package atcoder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

// Standings is the standings/json document. Scores are in hundredths of a point.
type Standings struct {
	IsRated       *bool          `json:"IsRated"`
	TaskInfo      []TaskInfo     `json:"TaskInfo"`
	StandingsData []StandingsRow `json:"StandingsData"`
}

// Rated reports whether the contest is rated. Missing means rated.
func (s Standings) Rated() bool {
	return s.IsRated == nil || *s.IsRated
}

// TaskInfo describes one task column.
type TaskInfo struct {
	Assignment     string `json:"Assignment"`
	TaskName       string `json:"TaskName"`
	TaskScreenName string `json:"TaskScreenName"`
}

// StandingsRow is one participant.
type StandingsRow struct {
	TaskResults    map[string]TaskResult `json:"TaskResults"`
	Affiliation    string                `json:"Affiliation"`
	UserScreenName string                `json:"UserScreenName"`
	TotalResult    TotalResult           `json:"TotalResult"`
	Rank           int                   `json:"Rank"`
}

// TotalResult is a participant's overall score.
type TotalResult struct {
	Score   int `json:"Score"`
	Penalty int `json:"Penalty"`
	Count   int `json:"Count"`
}

// TaskResult is a participant's result on one task.
type TaskResult struct {
	Score   int `json:"Score"`
	Penalty int `json:"Penalty"`
	Failure int `json:"Failure"`
	Count   int `json:"Count"`
}

// Standings fetches the final standings of a contest, logging in first when
// credentials are configured.
func (c *Client) Standings(ctx context.Context, contestID string) (*Standings, error) {
	if err := c.ensureLogin(ctx); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	body, err := c.get(ctx, c.baseURL+"/contests/"+url.PathEscape(contestID)+"/standings/json")
	if err != nil {
		return nil, fmt.Errorf("fetch standings for %s: %w", contestID, err)
	}

	var s Standings
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("decode standings for %s: %w", contestID, err)
	}
	return &s, nil
}

// Performance is one participant's predicted or final result.
type Performance struct {
	UserScreenName string `json:"UserScreenName"`
	Performance    int    `json:"Performance"`
	OldRating      int    `json:"OldRating"`
	NewRating      int    `json:"NewRating"`
}

// Performances fetches performance data keyed by user. A contest the
// predictor has not published yet yields an empty map.
func (c *Client) Performances(ctx context.Context, contestID string) (map[string]Performance, error) {
	body, err := c.get(ctx, c.predictorURL+"/"+url.PathEscape(contestID)+".json")
	if errors.Is(err, ErrNotFound) {
		c.logger.Info("no performance data published", "contest_id", contestID)
		return map[string]Performance{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch performance for %s: %w", contestID, err)
	}

	var list []Performance
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("decode performance for %s: %w", contestID, err)
	}

	out := make(map[string]Performance, len(list))
	for _, p := range list {
		out[p.UserScreenName] = p
	}
	return out, nil
}
