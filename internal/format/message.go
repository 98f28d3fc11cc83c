// Package format provides contest message formatting for Discord.
package format

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/codeGROOVE-dev/contestian/internal/contest"
)

// Message emoji.
const (
	EmojiReminder = "⏰"     // ⏰ Reminder
	EmojiThread   = "\U0001F9F5" // 🧵 Discussion thread
	EmojiResult   = "\U0001F3C1" // 🏁 Results
	EmojiUpcoming = "\U0001F4C5" // 📅 Upcoming list
)

// Embed colours.
const (
	ColorReminder = 0x3498DB // Discord blue
	ColorResult   = 0xE67E22 // orange
	ColorInfo     = 0x57F287 // Discord green
	ColorError    = 0xED4245 // Discord red
)

// MaxThreadTitle is Discord's thread name limit.
const MaxThreadTitle = 100

// Message is a platform-neutral chat message.
type Message struct {
	Embed   *Embed
	Content string
	Files   []File
}

// Embed is a rich message block.
type Embed struct {
	Title       string
	Description string
	URL         string
	Footer      string
	// Image references an attachment as "attachment://<name>".
	Image       string
	Fields      []Field
	Color       int
}

// Field is one name/value pair in an embed.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// File is an attachment.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Time styles for Discord timestamp markup.
const (
	TimeFull     = "F" // Saturday, 5 April 2025 21:00
	TimeRelative = "R" // in 10 minutes
	TimeShort    = "f" // 5 April 2025 21:00
)

// DiscordTime renders t as Discord timestamp markup, shown in each reader's
// local zone.
func DiscordTime(t time.Time, style string) string {
	return fmt.Sprintf("<t:%d:%s>", t.Unix(), style)
}

// RoleName is the mention role for participants of a contest type.
func RoleName(t contest.Type) string {
	return string(t) + "参加勢"
}

// MentionFallback is the plain-text call-out used when the role is unavailable.
func MentionFallback(t contest.Type) string {
	return string(t) + "参加勢はいませんか？"
}

// RoleMention renders a role mention.
func RoleMention(roleID string) string {
	return "<@&" + roleID + ">"
}

// ChannelMention renders a channel mention.
func ChannelMention(channelID string) string {
	return "<#" + channelID + ">"
}

// Reminder builds the reminder message for a contest.
// mention is a role mention or the plain-text fallback.
func Reminder(c contest.Contest, mention string) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "**開始:** %s (%s)\n", DiscordTime(c.Start(), TimeFull), DiscordTime(c.Start(), TimeRelative))
	fmt.Fprintf(&b, "**終了:** %s\n", DiscordTime(c.End(), TimeFull))
	fmt.Fprintf(&b, "**時間:** %s\n", c.Duration)
	fmt.Fprintf(&b, "**URL:** %s\n", c.URL)
	fmt.Fprintf(&b, "**A問題:** %s\n", c.FirstProblemURL())
	fmt.Fprintf(&b, "**Rated範囲:** %s\n", ratedRange(c.RatedRange))
	fmt.Fprintf(&b, "**atcoder-cli用:** ```acc new %s```", c.ID)

	return Message{
		Content: mention,
		Embed: &Embed{
			Title:       EmojiReminder + " " + c.Name + " リマインダー",
			URL:         c.URL,
			Description: b.String(),
			Color:       ColorReminder,
		},
	}
}

func ratedRange(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// ThreadTitle derives a discussion thread title from a contest.
//
// Sponsored contests carry the official series name in a trailing
// parenthesised segment, e.g. "トヨタ自動車プログラミングコンテスト2024#4（AtCoder Beginner
// Contest 348）" becomes "ABC348 トヨタ自動車プログラミングコンテスト2024#4". Names without
// a segment fall back to "<type> <name>".
func ThreadTitle(c contest.Contest) string {
	prefix, segment, ok := splitParenthesized(c.Name)
	if !ok || prefix == "" {
		return Truncate(fmt.Sprintf("%s %s", c.Type, c.Name), MaxThreadTitle)
	}
	return Truncate(string(c.Type)+trailingDigits(segment)+" "+prefix, MaxThreadTitle)
}

// splitParenthesized splits "prefix (segment)" on the last ASCII or
// full-width parenthesis pair.
func splitParenthesized(name string) (prefix, segment string, ok bool) {
	open := max(strings.LastIndex(name, "("), strings.LastIndex(name, "（"))
	if open < 0 {
		return "", "", false
	}
	rest := name[open:]
	_, width := utf8.DecodeRuneInString(rest)
	rest = rest[width:]
	if end := strings.IndexAny(rest, ")）"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(name[:open]), strings.TrimSpace(rest), true
}

func trailingDigits(s string) string {
	end := len(s)
	start := end
	for start > 0 && s[start-1] >= '0' && s[start-1] <= '9' {
		start--
	}
	return s[start:end]
}

// ThreadAnnouncement is posted as the first message in a contest thread.
func ThreadAnnouncement(c contest.Contest) string {
	return c.Name + " のスレッドを作成しました！"
}

// ResultContent is the caption posted with a results image.
func ResultContent(c contest.Contest) string {
	return fmt.Sprintf("%s **%s** のコンテスト結果\n%s", EmojiResult, c.Name, c.URL)
}

// Upcoming lists contests starting after now.
func Upcoming(contests []contest.Contest, now time.Time, limit int) *Embed {
	embed := &Embed{
		Title: EmojiUpcoming + " Upcoming contests",
		Color: ColorInfo,
	}
	for _, c := range contests {
		if !c.Start().After(now) {
			continue
		}
		if limit > 0 && len(embed.Fields) >= limit {
			break
		}
		embed.Fields = append(embed.Fields, Field{
			Name: Truncate(fmt.Sprintf("[%s] %s", c.Type, c.Name), 256),
			Value: fmt.Sprintf("%s (%s) · %s · rated: %s\n%s",
				DiscordTime(c.Start(), TimeShort),
				DiscordTime(c.Start(), TimeRelative),
				c.Duration,
				ratedRange(c.RatedRange),
				c.URL),
		})
	}
	if len(embed.Fields) == 0 {
		embed.Description = "No upcoming contests are known yet."
	}
	return embed
}

// Truncate shortens s to at most maxLen runes, adding "..." if truncated.
func Truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return strings.TrimRightFunc(string(runes[:maxLen-3]), unicode.IsSpace) + "..."
}
