package discord

import (
	"context"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// DefaultKeywords trigger DefaultKeywordReply.
var DefaultKeywords = []string{"筑付", "付属中", "大学付属", "桐陰祭", "桐陰会"}

// DefaultKeywordReply answers a keyword.
const DefaultKeywordReply = "附属警察です！"

type keywordReplies struct {
	reply    string
	keywords []string
}

// match returns the first keyword found in content, or "".
func (k *keywordReplies) match(content string) string {
	content = strings.ToLower(content)
	for _, kw := range k.keywords {
		if kw != "" && strings.Contains(content, strings.ToLower(kw)) {
			return kw
		}
	}
	return ""
}

// EnableKeywordReplies answers guild messages containing any keyword. Call it
// before Open: it adds the message intents, and message content is a
// privileged intent that must also be enabled for the application.
func (c *Client) EnableKeywordReplies(keywords []string, reply string) {
	if len(keywords) == 0 || reply == "" || c.session == nil {
		return
	}
	c.keywords = &keywordReplies{keywords: keywords, reply: reply}
	c.session.Identify.Intents |= discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
	c.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		c.replyToKeyword(context.Background(), m.Message)
	})
	c.logger.Info("keyword replies enabled", "keywords", len(keywords))
}

// replyToKeyword answers m if it contains a keyword. Bot messages are ignored.
func (c *Client) replyToKeyword(ctx context.Context, m *discordgo.Message) bool {
	if c.keywords == nil || m == nil || m.Author == nil || m.Author.Bot || m.Author.ID == c.botUserID() {
		return false
	}
	kw := c.keywords.match(m.Content)
	if kw == "" {
		return false
	}

	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	_, err := c.api.ChannelMessageSendComplex(m.ChannelID, &discordgo.MessageSend{
		Content:   c.keywords.reply,
		Reference: m.Reference(),
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{},
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		c.logger.Warn("failed to reply to keyword",
			"guild_id", m.GuildID,
			"channel_id", m.ChannelID,
			"keyword", kw,
			"error", err)
		return false
	}
	c.logger.Info("replied to keyword",
		"guild_id", m.GuildID,
		"channel_id", m.ChannelID,
		"keyword", kw)
	return true
}
