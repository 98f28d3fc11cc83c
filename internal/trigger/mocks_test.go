package trigger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/codeGROOVE-dev/contestian/internal/contest"
	"github.com/codeGROOVE-dev/contestian/internal/format"
	"github.com/codeGROOVE-dev/contestian/internal/registry"
	"github.com/codeGROOVE-dev/contestian/internal/results"
	"github.com/codeGROOVE-dev/contestian/internal/state"
)

var errSend = errors.New("send failed")

type mockContests struct {
	contests []contest.Contest
	markErr  error
	panicOn  string // contest id whose mark panics
	marks    []string
	mu       sync.Mutex
}

func (m *mockContests) Contests() []contest.Contest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.contests)
}

func (m *mockContests) Contest(id string) (contest.Contest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.contests {
		if c.ID == id {
			return c, true
		}
	}
	return contest.Contest{}, false
}

func (m *mockContests) MarkThreadCreated(_ context.Context, id string) error {
	return m.mark(id, "thread:"+id, func(c *contest.Contest) { c.ThreadCreated = true })
}

func (m *mockContests) MarkResultSent(_ context.Context, id string) error {
	return m.mark(id, "result:"+id, func(c *contest.Contest) { c.ResultSent = true })
}

func (m *mockContests) mark(id, record string, set func(*contest.Contest)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	if id == m.panicOn {
		panic("mark " + id)
	}
	for i := range m.contests {
		if m.contests[i].ID == id {
			set(&m.contests[i])
			m.marks = append(m.marks, record)
			return nil
		}
	}
	return fmt.Errorf("contest %s not in snapshot", id)
}

type sentMessage struct {
	channelID string
	msg       format.Message
}

type createdThread struct {
	channelID string
	title     string
	content   string
}

type mockChat struct {
	sendErr     map[string]error // channelID -> error
	threadErr   map[string]error // channelID -> error
	unavailable map[string]bool
	roleErr     error
	panicURL    string // SendMessage panics for embeds linking here
	roles       map[string]string // guildID/name -> roleID
	sent        []sentMessage
	threads     []createdThread
	canSend     int
	sendCalls   int
	mu          sync.Mutex
}

func newMockChat() *mockChat {
	return &mockChat{
		sendErr:     make(map[string]error),
		threadErr:   make(map[string]error),
		unavailable: make(map[string]bool),
		roles:       make(map[string]string),
	}
}

func (m *mockChat) CanSend(_ context.Context, channelID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.canSend++
	return !m.unavailable[channelID]
}

func (m *mockChat) SendMessage(_ context.Context, channelID string, msg format.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendCalls++
	if msg.Embed != nil && m.panicURL != "" && msg.Embed.URL == m.panicURL {
		panic("send " + msg.Embed.URL)
	}
	if err := m.sendErr[channelID]; err != nil {
		return "", err
	}
	m.sent = append(m.sent, sentMessage{channelID: channelID, msg: msg})
	return fmt.Sprintf("msg-%d", len(m.sent)), nil
}

func (m *mockChat) CreateThread(_ context.Context, channelID, title, content string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.threadErr[channelID]; err != nil {
		return "", err
	}
	m.threads = append(m.threads, createdThread{channelID: channelID, title: title, content: content})
	return fmt.Sprintf("thread-%d", len(m.threads)), nil
}

func (m *mockChat) ResolveOrCreateRole(_ context.Context, guildID, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.roleErr != nil {
		return "", m.roleErr
	}
	key := guildID + "/" + name
	if id, ok := m.roles[key]; ok {
		return id, nil
	}
	id := fmt.Sprintf("role-%d", len(m.roles)+1)
	m.roles[key] = id
	return id, nil
}

func (m *mockChat) sentTo(channelID string) []format.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []format.Message
	for _, s := range m.sent {
		if s.channelID == channelID {
			out = append(out, s.msg)
		}
	}
	return out
}

type mockBuilder struct {
	result *results.Result
	err    error
	calls  []string
}

func (m *mockBuilder) Prepare(_ context.Context, contestID string) (*results.Result, error) {
	m.calls = append(m.calls, contestID)
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func resultWithRows(contestID string, users ...string) *results.Result {
	sheet := results.Sheet{ContestID: contestID}
	for i, u := range users {
		sheet.Rows = append(sheet.Rows, results.Row{Rank: fmt.Sprintf("%d (%d)", i+1, i+10), User: u})
	}
	return &results.Result{Sheet: sheet, PNG: []byte("png"), XLSX: []byte("xlsx")}
}

// jst parses a "2006-01-02 15:04" wall time in the contest zone.
func jst(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.ParseInLocation("2006-01-02 15:04", s, contest.Zone)
	if err != nil {
		t.Fatal(err)
	}
	return ts
}

func testContest(t *testing.T, id, name, start string, length time.Duration) contest.Contest {
	t.Helper()
	begin := jst(t, start)
	return contest.Contest{
		ID:        id,
		Name:      name,
		StartTime: contest.At(begin),
		EndTime:   contest.At(begin.Add(length)),
		Duration:  fmt.Sprintf("%02d:%02d", int(length.Hours()), int(length.Minutes())%60),
		Type:      contest.Classify(name),
		URL:       "https://atcoder.jp/contests/" + id,
	}
}

func abc400(t *testing.T) contest.Contest {
	t.Helper()
	c := testContest(t, "abc400", "AtCoder Beginner Contest 400", "2025-04-05 21:00", 100*time.Minute)
	c.RatedRange = "- 1999"
	return c
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	return registry.New(state.NewMemoryRepository[map[string]registry.GuildConfig](), nil)
}
