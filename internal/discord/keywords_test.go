package discord

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestKeywordReplies_Match(t *testing.T) {
	k := &keywordReplies{keywords: DefaultKeywords, reply: DefaultKeywordReply}
	tests := []struct {
		content string
		want    string
	}{
		{"筑付の文化祭いつ？", "筑付"},
		{"今年の桐陰祭たのしみ", "桐陰祭"},
		{"大学付属病院の前で", "大学付属"},
		{"ABC400 難しかった", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := k.match(tt.content); got != tt.want {
			t.Errorf("match(%q) = %q, want %q", tt.content, got, tt.want)
		}
	}

	ascii := &keywordReplies{keywords: []string{"AJL"}}
	if got := ascii.match("who is in ajl?"); got != "AJL" {
		t.Errorf("match() = %q, want case-insensitive AJL", got)
	}
}

func keywordClient(api *mockAPI) *Client {
	c := newTestClient(api)
	c.keywords = &keywordReplies{keywords: DefaultKeywords, reply: DefaultKeywordReply}
	return c
}

func TestClient_ReplyToKeyword(t *testing.T) {
	api := newMockAPI()
	c := keywordClient(api)
	m := &discordgo.Message{
		ID:        "m1",
		ChannelID: "c1",
		GuildID:   "g1",
		Content:   "付属中のみんなへ",
		Author:    &discordgo.User{ID: "u1"},
	}

	if !c.replyToKeyword(context.Background(), m) {
		t.Fatal("replyToKeyword() = false, want reply")
	}
	if len(api.SentMessages) != 1 {
		t.Fatalf("sent %d messages, want 1", len(api.SentMessages))
	}
	sent := api.SentMessages[0]
	if sent.ChannelID != "c1" || sent.Send.Content != DefaultKeywordReply {
		t.Errorf("sent %q to %s, want %q to c1", sent.Send.Content, sent.ChannelID, DefaultKeywordReply)
	}
	if ref := sent.Send.Reference; ref == nil || ref.MessageID != "m1" {
		t.Errorf("Reference = %+v, want reply to m1", ref)
	}
	if am := sent.Send.AllowedMentions; am == nil || len(am.Parse) != 0 {
		t.Errorf("AllowedMentions = %+v, want no pings", am)
	}
}

func TestClient_ReplyToKeyword_Ignored(t *testing.T) {
	tests := []struct {
		name string
		msg  *discordgo.Message
	}{
		{"no keyword", &discordgo.Message{Content: "こんにちは", Author: &discordgo.User{ID: "u1"}}},
		{"own message", &discordgo.Message{Content: "筑付", Author: &discordgo.User{ID: "bot"}}},
		{"other bot", &discordgo.Message{Content: "筑付", Author: &discordgo.User{ID: "b2", Bot: true}}},
		{"no author", &discordgo.Message{Content: "筑付"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newMockAPI()
			if keywordClient(api).replyToKeyword(context.Background(), tt.msg) {
				t.Error("replyToKeyword() = true, want ignored")
			}
			if len(api.SentMessages) != 0 {
				t.Errorf("sent %d messages, want 0", len(api.SentMessages))
			}
		})
	}

	// Disabled clients never reply.
	if newTestClient(newMockAPI()).replyToKeyword(context.Background(), &discordgo.Message{Content: "筑付", Author: &discordgo.User{ID: "u1"}}) {
		t.Error("replyToKeyword() = true without keywords")
	}
}

func TestClient_ReplyToKeyword_SendError(t *testing.T) {
	api := newMockAPI()
	api.MessageSendError = errors.New("missing access")
	m := &discordgo.Message{ChannelID: "c1", Content: "桐陰会", Author: &discordgo.User{ID: "u1"}}
	if keywordClient(api).replyToKeyword(context.Background(), m) {
		t.Error("replyToKeyword() = true after send failure")
	}
}

func TestClient_EnableKeywordReplies(t *testing.T) {
	c, err := New("token", 0, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", c.timeout, DefaultTimeout)
	}
	want := discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent

	c.EnableKeywordReplies(nil, DefaultKeywordReply)
	if c.keywords != nil || c.Session().Identify.Intents&want != 0 {
		t.Errorf("no keywords enabled replies: intents = %b", c.Session().Identify.Intents)
	}

	c.EnableKeywordReplies(DefaultKeywords, DefaultKeywordReply)
	if c.keywords == nil {
		t.Fatal("keywords not set")
	}
	if got := c.Session().Identify.Intents; got&want != want || got&discordgo.IntentsGuilds == 0 {
		t.Errorf("Intents = %b, want guilds and message intents", got)
	}
}
