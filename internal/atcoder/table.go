package atcoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"golang.org/x/net/html"
)

// ErrNoTable means a page carried no table with a header row.
var ErrNoTable = errors.New("no table found")

// Table is the text content of an HTML table.
type Table struct {
	Header []string
	Rows   [][]string
}

// Column returns the index of the named column, or -1.
func (t Table) Column(name string) int {
	return slices.Index(t.Header, name)
}

// Fetch downloads an arbitrary page with the client's retry policy.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	return c.get(ctx, rawURL)
}

// ParseTable extracts the first table of a page. The first row with cells
// is the header; later rows repeating it are dropped.
func ParseTable(r io.Reader) (Table, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return Table{}, fmt.Errorf("parse table page: %w", err)
	}
	table := first(doc, "table")
	if table == nil {
		return Table{}, ErrNoTable
	}

	var t Table
	walk(table, func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.Data != "tr" {
			return true
		}
		cells := rowCells(n)
		switch {
		case len(cells) == 0:
		case t.Header == nil:
			t.Header = cells
		case !slices.Equal(cells, t.Header):
			t.Rows = append(t.Rows, cells)
		}
		return false
	})
	if t.Header == nil {
		return Table{}, ErrNoTable
	}
	return t, nil
}

func rowCells(tr *html.Node) []string {
	var out []string
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.Data == "th" || c.Data == "td") {
			out = append(out, strings.Join(strings.Fields(text(c)), " "))
		}
	}
	return out
}
