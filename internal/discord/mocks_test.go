package discord

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/codeGROOVE-dev/contestian/internal/contest"
	"github.com/codeGROOVE-dev/contestian/internal/format"
	"github.com/codeGROOVE-dev/contestian/internal/registry"
)

// mockAPI is a programmable restAPI.
type mockAPI struct {
	// Programmable responses
	ChannelError     error
	PermissionsError error
	MessageSendError error
	ThreadError      error
	RolesError       error
	RoleCreateError  error
	// ThreadMessageError fails sends into created threads only.
	ThreadMessageError error

	Permissions int64
	Channels    map[string]*discordgo.Channel
	Roles       []*discordgo.Role

	// Storage for tracking calls
	SentMessages   []sentMessage
	Threads        []*discordgo.ThreadStart
	ForumMessages  []*discordgo.MessageSend
	CreatedRoles   []*discordgo.RoleParams
	ChannelLookups int
	// Deadlines holds the time left on each call's context; zero means none.
	Deadlines []time.Duration

	mu sync.Mutex
}

type sentMessage struct {
	ChannelID string
	Send      *discordgo.MessageSend
	Files     map[string][]byte
}

func newMockAPI() *mockAPI {
	return &mockAPI{
		Channels:    make(map[string]*discordgo.Channel),
		Permissions: discordgo.PermissionViewChannel | discordgo.PermissionSendMessages,
	}
}

// recordDeadline applies the request options the way discordgo does and
// records the deadline they carry.
func (m *mockAPI) recordDeadline(opts []discordgo.RequestOption) {
	cfg := &discordgo.RequestConfig{Request: httptest.NewRequest(http.MethodGet, "/", http.NoBody)}
	for _, o := range opts {
		o(cfg)
	}
	var left time.Duration
	if d, ok := cfg.Request.Context().Deadline(); ok {
		left = time.Until(d)
	}
	m.Deadlines = append(m.Deadlines, left)
}

func restError(status int) error {
	return &discordgo.RESTError{
		Response: &http.Response{StatusCode: status, Status: http.StatusText(status)},
		Message:  &discordgo.APIErrorMessage{Message: http.StatusText(status)},
	}
}

func (m *mockAPI) Channel(channelID string, opts ...discordgo.RequestOption) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordDeadline(opts)
	m.ChannelLookups++
	if m.ChannelError != nil {
		return nil, m.ChannelError
	}
	ch, ok := m.Channels[channelID]
	if !ok {
		return nil, restError(http.StatusNotFound)
	}
	return ch, nil
}

func (m *mockAPI) UserChannelPermissions(_, _ string, opts ...discordgo.RequestOption) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordDeadline(opts)
	if m.PermissionsError != nil {
		return 0, m.PermissionsError
	}
	return m.Permissions, nil
}

func (m *mockAPI) ChannelMessageSendComplex(
	channelID string, data *discordgo.MessageSend, opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordDeadline(opts)
	if m.MessageSendError != nil {
		return nil, m.MessageSendError
	}
	if m.ThreadMessageError != nil && len(channelID) > 7 && channelID[:7] == "thread-" {
		return nil, m.ThreadMessageError
	}
	files := make(map[string][]byte)
	for _, f := range data.Files {
		b, _ := io.ReadAll(f.Reader) //nolint:errcheck // test
		files[f.Name] = b
	}
	m.SentMessages = append(m.SentMessages, sentMessage{ChannelID: channelID, Send: data, Files: files})
	return &discordgo.Message{ID: "msg-" + channelID, ChannelID: channelID}, nil
}

func (m *mockAPI) ThreadStartComplex(
	channelID string, data *discordgo.ThreadStart, opts ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordDeadline(opts)
	if m.ThreadError != nil {
		return nil, m.ThreadError
	}
	m.Threads = append(m.Threads, data)
	return &discordgo.Channel{ID: "thread-" + channelID, ParentID: channelID, Name: data.Name}, nil
}

func (m *mockAPI) ForumThreadStartComplex(
	channelID string, threadData *discordgo.ThreadStart, messageData *discordgo.MessageSend, opts ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordDeadline(opts)
	if m.ThreadError != nil {
		return nil, m.ThreadError
	}
	m.Threads = append(m.Threads, threadData)
	m.ForumMessages = append(m.ForumMessages, messageData)
	return &discordgo.Channel{ID: "post-" + channelID, ParentID: channelID, Name: threadData.Name}, nil
}

func (m *mockAPI) GuildRoles(_ string, opts ...discordgo.RequestOption) ([]*discordgo.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordDeadline(opts)
	if m.RolesError != nil {
		return nil, m.RolesError
	}
	return m.Roles, nil
}

func (m *mockAPI) GuildRoleCreate(_ string, data *discordgo.RoleParams, opts ...discordgo.RequestOption) (*discordgo.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordDeadline(opts)
	if m.RoleCreateError != nil {
		return nil, m.RoleCreateError
	}
	m.CreatedRoles = append(m.CreatedRoles, data)
	role := &discordgo.Role{ID: "role-" + data.Name, Name: data.Name}
	m.Roles = append(m.Roles, role)
	return role, nil
}

func newTestClient(api *mockAPI) *Client {
	state := discordgo.NewState()
	state.User = &discordgo.User{ID: "bot", Username: "contestian"}
	return newClient(api, state, nil)
}

// mockSettings is an in-memory Settings.
type mockSettings struct {
	err     error
	guilds  map[string]registry.GuildConfig
	offsets map[contest.Type][]int
	calls   []string
}

func newMockSettings() *mockSettings {
	return &mockSettings{
		guilds:  make(map[string]registry.GuildConfig),
		offsets: make(map[contest.Type][]int),
	}
}

func (m *mockSettings) Guild(guildID string) (registry.GuildConfig, bool) {
	g, ok := m.guilds[guildID]
	return g, ok
}

func (m *mockSettings) set(guildID string, fn func(*registry.GuildConfig)) error {
	if m.err != nil {
		return m.err
	}
	g := m.guilds[guildID]
	fn(&g)
	m.guilds[guildID] = g
	return nil
}

func (m *mockSettings) SetReminderChannel(_ context.Context, guildID, channelID string) error {
	m.calls = append(m.calls, "reminder:"+channelID)
	return m.set(guildID, func(g *registry.GuildConfig) { g.ReminderChannelID = channelID })
}

func (m *mockSettings) SetResultChannel(_ context.Context, guildID, channelID string) error {
	m.calls = append(m.calls, "result:"+channelID)
	return m.set(guildID, func(g *registry.GuildConfig) { g.ResultChannelID = channelID })
}

func (m *mockSettings) SetThreadChannel(_ context.Context, guildID, channelID string) error {
	m.calls = append(m.calls, "thread:"+channelID)
	return m.set(guildID, func(g *registry.GuildConfig) { g.ThreadChannelID = channelID })
}

func (m *mockSettings) SetOffsets(_ context.Context, _ string, t contest.Type, minutes []int) error {
	if m.err != nil {
		return m.err
	}
	m.offsets[t] = minutes
	return nil
}

func (m *mockSettings) ToggleEnabled(_ context.Context, _ string, t contest.Type) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	m.calls = append(m.calls, "toggle:"+string(t))
	return true, nil
}

func (m *mockSettings) SetThreadType(_ context.Context, guildID string, t contest.Type, enabled bool) error {
	return m.set(guildID, func(g *registry.GuildConfig) {
		if g.ThreadTypes == nil {
			g.ThreadTypes = make(map[contest.Type]bool)
		}
		g.ThreadTypes[t] = enabled
	})
}

type mockContests struct {
	contests []contest.Contest
}

func (m *mockContests) Contests() []contest.Contest {
	return m.contests
}

type mockPublisher struct {
	err   error
	calls []string
}

func (m *mockPublisher) PublishTo(_ context.Context, guildID, contestID string) error {
	m.calls = append(m.calls, guildID+"/"+contestID)
	return m.err
}

type mockRankings struct {
	err   error
	calls []string
}

func (m *mockRankings) embeds(kind string) ([]*format.Embed, error) {
	m.calls = append(m.calls, kind)
	if m.err != nil {
		return nil, m.err
	}
	return []*format.Embed{
		{Title: "アルゴリズム", Description: kind + " A"},
		{Title: "ヒューリスティック", Description: kind + " H"},
	}, nil
}

func (m *mockRankings) SchoolEmbeds(context.Context) ([]*format.Embed, error) {
	return m.embeds("school")
}

func (m *mockRankings) StudentEmbeds(context.Context) ([]*format.Embed, error) {
	return m.embeds("students")
}
