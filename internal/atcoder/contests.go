package atcoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/codeGROOVE-dev/contestian/internal/contest"
)

// upstreamTimeLayout is the format of <time> cells on the contest list.
const upstreamTimeLayout = "2006-01-02 15:04:05-0700"

// contestTables are scraped in order. Running contests stay listed until
// their results are out.
var contestTables = []string{"contest-table-action", "contest-table-upcoming"}

// Contests fetches the running and upcoming contest tables.
func (c *Client) Contests(ctx context.Context) ([]contest.Contest, error) {
	page, err := c.get(ctx, c.baseURL+"/contests/?lang=en")
	if err != nil {
		return nil, fmt.Errorf("fetch contest list: %w", err)
	}
	contests, err := ParseContests(strings.NewReader(string(page)), c.baseURL, c.logger)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("parsed contest list", "count", len(contests))
	return contests, nil
}

// ParseContests extracts contests from the AtCoder contest list page.
// Rows that fail to parse are logged and skipped.
func ParseContests(r io.Reader, baseURL string, logger *slog.Logger) ([]contest.Contest, error) {
	if logger == nil {
		logger = slog.Default()
	}
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse contest list: %w", err)
	}

	var out []contest.Contest
	for _, id := range contestTables {
		table := findByID(doc, id)
		if table == nil {
			logger.Debug("contest table not present", "table", id)
			continue
		}
		for _, row := range rows(table) {
			ct, err := parseRow(row, baseURL)
			if err != nil {
				logger.Warn("skipping contest row", "table", id, "error", err)
				continue
			}
			out = append(out, ct)
		}
	}
	return out, nil
}

func parseRow(row *html.Node, baseURL string) (contest.Contest, error) {
	cells := children(row, "td")
	if len(cells) != 4 {
		return contest.Contest{}, fmt.Errorf("expected 4 cells, got %d", len(cells))
	}

	timeNode := first(cells[0], "time")
	if timeNode == nil {
		return contest.Contest{}, errors.New("no start time")
	}
	start, err := time.Parse(upstreamTimeLayout, strings.TrimSpace(text(timeNode)))
	if err != nil {
		return contest.Contest{}, fmt.Errorf("parse start time: %w", err)
	}

	link := first(cells[1], "a")
	if link == nil {
		return contest.Contest{}, errors.New("no contest link")
	}
	href := attr(link, "href")
	name := strings.TrimSpace(text(link))
	if href == "" || name == "" {
		return contest.Contest{}, errors.New("incomplete contest link")
	}

	duration := strings.TrimSpace(text(cells[2]))
	d, err := contest.ParseDuration(duration)
	if err != nil {
		return contest.Contest{}, err
	}

	ct := contest.Contest{
		Name:       name,
		StartTime:  contest.At(start),
		EndTime:    contest.At(start.Add(d)),
		Duration:   duration,
		Type:       classifyCell(cells[1], name),
		URL:        strings.TrimRight(baseURL, "/") + href,
		RatedRange: strings.TrimSpace(text(cells[3])),
	}
	if err := ct.Validate(); err != nil {
		return contest.Contest{}, err
	}
	return ct, nil
}

// classifyCell uses the name first and the category icon as a hint for
// sponsored heuristic contests.
func classifyCell(cell *html.Node, name string) contest.Type {
	t := contest.Classify(name)
	if t != contest.Other {
		return t
	}
	var icon string
	walk(cell, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "span" && attr(n, "aria-hidden") == "true" {
			icon = attr(n, "title")
			return false
		}
		return true
	})
	if icon == "Heuristic" {
		return contest.AHC
	}
	return contest.Other
}

func rows(table *html.Node) []*html.Node {
	var out []*html.Node
	walk(table, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "tbody" {
			out = append(out, children(n, "tr")...)
			return false
		}
		return true
	})
	return out
}

// walk visits n depth-first until fn returns false.
func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

func findByID(n *html.Node, id string) *html.Node {
	var found *html.Node
	walk(n, func(n *html.Node) bool {
		if n.Type == html.ElementNode && attr(n, "id") == id {
			found = n
			return false
		}
		return true
	})
	return found
}

func first(n *html.Node, tag string) *html.Node {
	var found *html.Node
	walk(n, func(c *html.Node) bool {
		if c != n && c.Type == html.ElementNode && c.Data == tag {
			found = c
			return false
		}
		return true
	})
	return found
}

func children(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == tag {
			out = append(out, c)
		}
	}
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func text(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		return true
	})
	return b.String()
}
