package ajl

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/codeGROOVE-dev/contestian/internal/atcoder"
)

// mockFetcher serves pages by URL.
type mockFetcher struct {
	pages map[string]string
	err   error
	calls []string
	mu    sync.Mutex
}

func newMockFetcher() *mockFetcher {
	return &mockFetcher{pages: make(map[string]string)}
}

func (m *mockFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, url)
	if m.err != nil {
		return nil, m.err
	}
	page, ok := m.pages[url]
	if !ok {
		return nil, fmt.Errorf("GET %s: %w", url, atcoder.ErrNotFound)
	}
	return []byte(page), nil
}

var (
	schoolHeader  = []string{"順位", "学校名", "参加者数", "スコア"}
	studentHeader = []string{"順位", "ユーザID", "学校名", "スコア"}
)

// rankingHTML renders a ranking page; each row is "|"-separated cells.
func rankingHTML(header []string, rows ...string) string {
	var b strings.Builder
	b.WriteString("<html><body><table><thead><tr>")
	for _, h := range header {
		fmt.Fprintf(&b, "<th>%s</th>", h)
	}
	b.WriteString("</tr></thead><tbody>")
	for _, r := range rows {
		b.WriteString("<tr>")
		for _, c := range strings.Split(r, "|") {
			fmt.Fprintf(&b, "<td>%s</td>", c)
		}
		b.WriteString("</tr>")
	}
	b.WriteString("</tbody></table></body></html>")
	return b.String()
}
