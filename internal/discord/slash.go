package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/codeGROOVE-dev/contestian/internal/ajl"
	"github.com/codeGROOVE-dev/contestian/internal/contest"
	"github.com/codeGROOVE-dev/contestian/internal/format"
	"github.com/codeGROOVE-dev/contestian/internal/registry"
)

// Settings is the guild configuration the commands edit.
type Settings interface {
	Guild(guildID string) (registry.GuildConfig, bool)
	SetReminderChannel(ctx context.Context, guildID, channelID string) error
	SetResultChannel(ctx context.Context, guildID, channelID string) error
	SetThreadChannel(ctx context.Context, guildID, channelID string) error
	SetOffsets(ctx context.Context, guildID string, t contest.Type, minutes []int) error
	ToggleEnabled(ctx context.Context, guildID string, t contest.Type) (bool, error)
	SetThreadType(ctx context.Context, guildID string, t contest.Type, enabled bool) error
}

// ContestLister provides the current contest snapshot.
type ContestLister interface {
	Contests() []contest.Contest
}

// ResultPublisher posts a contest's results to one guild on demand.
type ResultPublisher interface {
	PublishTo(ctx context.Context, guildID, contestID string) error
}

// RankingReporter renders the tracked school's AJL standings.
type RankingReporter interface {
	SchoolEmbeds(ctx context.Context) ([]*format.Embed, error)
	StudentEmbeds(ctx context.Context) ([]*format.Embed, error)
}

// ChannelChecker validates configured channels.
type ChannelChecker interface {
	Channel(ctx context.Context, channelID string) (*discordgo.Channel, error)
	CanSend(ctx context.Context, channelID string) bool
}

// SlashConfig configures a SlashCommandHandler.
type SlashConfig struct {
	Session  *discordgo.Session
	Channels ChannelChecker
	Settings Settings
	Contests ContestLister
	Results  ResultPublisher
	// Rankings is optional; /ajl reports it is unavailable when nil.
	Rankings RankingReporter
	Logger   *slog.Logger
}

// SlashCommandHandler handles Discord slash commands.
type SlashCommandHandler struct {
	session  *discordgo.Session
	channels ChannelChecker
	settings Settings
	contests ContestLister
	results  ResultPublisher
	rankings RankingReporter
	logger   *slog.Logger
	now      func() time.Time
}

// commandTimeout bounds synchronous command work.
const commandTimeout = 10 * time.Second

// publishTimeout bounds a manual result publication.
const publishTimeout = 2 * time.Minute

// rankingTimeout bounds an AJL ranking fetch.
const rankingTimeout = time.Minute

// upcomingLimit caps /contest upcoming.
const upcomingLimit = 10

// NewSlashCommandHandler creates a new slash command handler.
func NewSlashCommandHandler(cfg SlashConfig) *SlashCommandHandler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SlashCommandHandler{
		session:  cfg.Session,
		channels: cfg.Channels,
		settings: cfg.Settings,
		contests: cfg.Contests,
		results:  cfg.Results,
		rankings: cfg.Rankings,
		logger:   cfg.Logger,
		now:      time.Now,
	}
}

// reply is a command response.
type reply struct {
	embed   *discordgo.MessageEmbed
	content string
	// ephemeral replies are only shown to the caller.
	ephemeral bool
}

func errorReply(msg string) reply {
	return reply{content: "⚠️ " + msg, ephemeral: true}
}

func typeChoices() []*discordgo.ApplicationCommandOptionChoice {
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(contest.Types))
	for _, t := range contest.Types {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: string(t), Value: string(t)})
	}
	return choices
}

func typeOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "type",
		Description: "コンテスト種別",
		Required:    true,
		Choices:     typeChoices(),
	}
}

func channelOption(types ...discordgo.ChannelType) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:         discordgo.ApplicationCommandOptionChannel,
		Name:         "channel",
		Description:  "送信先チャンネル",
		Required:     true,
		ChannelTypes: types,
	}
}

func subcommand(name, description string, opts ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Name:        name,
		Description: description,
		Options:     opts,
	}
}

// Commands returns the application command definitions.
func Commands() []*discordgo.ApplicationCommand {
	manage := int64(discordgo.PermissionManageChannels)
	textTypes := []discordgo.ChannelType{discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews}
	threadTypes := append(slices.Clone(textTypes), discordgo.ChannelTypeGuildForum)
	noDM := false

	return []*discordgo.ApplicationCommand{
		{
			Name:                     "reminder",
			Description:              "コンテストリマインダーの設定",
			DefaultMemberPermissions: &manage,
			DMPermission:             &noDM,
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("channel", "リマインダーを送信するチャンネルを設定", channelOption(textTypes...)),
				subcommand("offsets", "開始何分前に通知するかを設定", typeOption(), &discordgo.ApplicationCommandOption{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "minutes",
					Description: "例: 10 30 60",
					Required:    true,
				}),
				subcommand("toggle", "種別ごとのリマインダーを有効/無効にする", typeOption()),
				subcommand("show", "現在のリマインダー設定を表示"),
			},
		},
		{
			Name:                     "thread",
			Description:              "コンテストスレッドの設定",
			DefaultMemberPermissions: &manage,
			DMPermission:             &noDM,
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("channel", "スレッドを作成するチャンネルを設定", channelOption(threadTypes...)),
				subcommand("type", "種別ごとのスレッド作成を設定", typeOption(), &discordgo.ApplicationCommandOption{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "enabled",
					Description: "スレッドを作成するか",
					Required:    true,
				}),
				subcommand("show", "現在のスレッド設定を表示"),
			},
		},
		{
			Name:                     "result",
			Description:              "コンテスト結果の設定",
			DefaultMemberPermissions: &manage,
			DMPermission:             &noDM,
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("channel", "結果を送信するチャンネルを設定", channelOption(textTypes...)),
				subcommand("publish", "コンテスト結果を今すぐ送信", &discordgo.ApplicationCommandOption{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "contest_id",
					Description: "コンテストID (例: abc400)",
					Required:    true,
				}),
			},
		},
		{
			Name:         "contest",
			Description:  "AtCoder コンテスト情報",
			DMPermission: &noDM,
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("upcoming", "今後のコンテストを表示"),
				subcommand("help", "Botの使い方を表示"),
			},
		},
		{
			Name:         "ajl",
			Description:  "AtCoder Junior League の順位",
			DMPermission: &noDM,
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("school", "学校の順位を表示"),
				subcommand("students", "学校の生徒の順位を表示"),
			},
		},
	}
}

// RegisterCommands replaces the bot's global application commands.
func (h *SlashCommandHandler) RegisterCommands() error {
	commands := Commands()
	if _, err := h.session.ApplicationCommandBulkOverwrite(h.session.State.User.ID, "", commands); err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	for _, cmd := range commands {
		h.logger.Info("registered slash command", "command", cmd.Name)
	}
	return nil
}

// SetupHandler sets up the interaction handler.
func (h *SlashCommandHandler) SetupHandler() {
	h.session.AddHandler(h.handleInteraction)
}

func (h *SlashCommandHandler) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	if i.GuildID == "" {
		h.respond(s, i, errorReply("サーバー内で実行してください。"))
		return
	}

	sub, opts := subcommandOf(data)
	h.logger.Info("slash command",
		"guild_id", i.GuildID,
		"command", data.Name,
		"subcommand", sub)

	if data.Name == "result" && sub == "publish" {
		h.handlePublish(s, i, stringOption(opts, "contest_id"))
		return
	}

	if data.Name == "ajl" {
		h.handleRanking(s, i, sub)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	h.respond(s, i, h.execute(ctx, i.GuildID, data))
}

// execute runs a synchronous command.
func (h *SlashCommandHandler) execute(ctx context.Context, guildID string, data discordgo.ApplicationCommandInteractionData) reply {
	sub, opts := subcommandOf(data)

	switch data.Name + " " + sub {
	case "reminder channel":
		return h.setChannel(ctx, guildID, stringOption(opts, "channel"), "リマインダー", h.settings.SetReminderChannel)
	case "reminder offsets":
		return h.setOffsets(ctx, guildID, stringOption(opts, "type"), stringOption(opts, "minutes"))
	case "reminder toggle":
		return h.toggleReminder(ctx, guildID, stringOption(opts, "type"))
	case "reminder show":
		return h.showReminders(guildID)
	case "thread channel":
		return h.setChannel(ctx, guildID, stringOption(opts, "channel"), "スレッド", h.settings.SetThreadChannel)
	case "thread type":
		return h.setThreadType(ctx, guildID, stringOption(opts, "type"), boolOption(opts, "enabled"))
	case "thread show":
		return h.showThreads(guildID)
	case "result channel":
		return h.setChannel(ctx, guildID, stringOption(opts, "channel"), "コンテスト結果", h.settings.SetResultChannel)
	case "contest upcoming":
		return reply{embed: embed(format.Upcoming(h.contests.Contests(), h.now(), upcomingLimit))}
	case "contest help":
		return reply{embed: helpEmbed()}
	default:
		return errorReply("不明なコマンドです。")
	}
}

func (h *SlashCommandHandler) setChannel(
	ctx context.Context,
	guildID, channelID, label string,
	set func(ctx context.Context, guildID, channelID string) error,
) reply {
	if channelID == "" {
		return errorReply("チャンネルを指定してください。")
	}
	ch, err := h.channels.Channel(ctx, channelID)
	if err != nil {
		h.logger.Warn("channel lookup failed", "guild_id", guildID, "channel_id", channelID, "error", err)
		return errorReply("チャンネルが見つかりません。")
	}
	if ch.GuildID != "" && ch.GuildID != guildID {
		return errorReply("このサーバーのチャンネルを指定してください。")
	}
	if err := set(ctx, guildID, channelID); err != nil {
		h.logger.Error("failed to save channel", "guild_id", guildID, "channel_id", channelID, "error", err)
		return errorReply("設定の保存に失敗しました。")
	}

	msg := fmt.Sprintf("%s の送信先を %s (%s) に設定しました！", label, format.ChannelMention(channelID), channelKind(ch.Type))
	if !h.channels.CanSend(ctx, channelID) {
		msg += "\n⚠️ Bot にこのチャンネルへの送信権限がありません。"
	}
	return reply{content: msg}
}

func (h *SlashCommandHandler) setOffsets(ctx context.Context, guildID, typ, raw string) reply {
	t, ok := contest.ParseType(typ)
	if !ok {
		return errorReply("不明なコンテスト種別です: " + typ)
	}
	minutes, err := parseOffsets(raw)
	if err != nil {
		return errorReply(err.Error())
	}
	if err := h.settings.SetOffsets(ctx, guildID, t, minutes); err != nil {
		if errors.Is(err, registry.ErrInvalidOffset) {
			return errorReply("通知時間は1分以上で指定してください。")
		}
		h.logger.Error("failed to save offsets", "guild_id", guildID, "contest_type", t, "error", err)
		return errorReply("設定の保存に失敗しました。")
	}
	return reply{content: fmt.Sprintf("%s のリマインダーを %s に設定しました！", t, formatOffsets(minutes))}
}

func (h *SlashCommandHandler) toggleReminder(ctx context.Context, guildID, typ string) reply {
	t, ok := contest.ParseType(typ)
	if !ok {
		return errorReply("不明なコンテスト種別です: " + typ)
	}
	enabled, err := h.settings.ToggleEnabled(ctx, guildID, t)
	if err != nil {
		h.logger.Error("failed to toggle reminders", "guild_id", guildID, "contest_type", t, "error", err)
		return errorReply("設定の保存に失敗しました。")
	}
	state := "無効"
	if enabled {
		state = "有効"
	}
	return reply{content: fmt.Sprintf("%s のリマインダーを%sにしました。", t, state)}
}

func (h *SlashCommandHandler) setThreadType(ctx context.Context, guildID, typ string, enabled bool) reply {
	t, ok := contest.ParseType(typ)
	if !ok {
		return errorReply("不明なコンテスト種別です: " + typ)
	}
	if err := h.settings.SetThreadType(ctx, guildID, t, enabled); err != nil {
		h.logger.Error("failed to save thread type", "guild_id", guildID, "contest_type", t, "error", err)
		return errorReply("設定の保存に失敗しました。")
	}
	state := "作成しません"
	if enabled {
		state = "作成します"
	}
	return reply{content: fmt.Sprintf("%s のスレッドを%s。", t, state)}
}

func (h *SlashCommandHandler) showReminders(guildID string) reply {
	cfg, ok := h.settings.Guild(guildID)
	if !ok {
		return reply{content: "このサーバーにはリマインダーが設定されていません。"}
	}
	e := &discordgo.MessageEmbed{
		Title: "リマインダー設定",
		Color: format.ColorReminder,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "通知チャンネル", Value: channelOrUnset(cfg.ReminderChannelID)},
		},
	}
	for _, t := range contest.Types {
		offsets := cfg.Offsets(t)
		if len(offsets) == 0 {
			continue
		}
		var on, off []int
		for _, o := range offsets {
			if o.Enabled {
				on = append(on, o.Minutes)
			} else {
				off = append(off, o.Minutes)
			}
		}
		value := formatOffsets(on)
		if len(on) == 0 {
			value = "無効"
		}
		if len(off) > 0 {
			value += fmt.Sprintf(" (無効: %s)", formatOffsets(off))
		}
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: string(t), Value: value, Inline: true})
	}
	return reply{embed: e}
}

func (h *SlashCommandHandler) showThreads(guildID string) reply {
	cfg, ok := h.settings.Guild(guildID)
	if !ok || cfg.ThreadChannelID == "" {
		return reply{content: "スレッド作成チャンネルが設定されていません。"}
	}
	var types []string
	for _, t := range contest.Types {
		if cfg.ThreadsEnabled(t) {
			types = append(types, string(t))
		}
	}
	enabled := strings.Join(types, ", ")
	if enabled == "" {
		enabled = "なし"
	}
	return reply{embed: &discordgo.MessageEmbed{
		Title: "スレッド設定",
		Color: format.ColorInfo,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "チャンネル", Value: format.ChannelMention(cfg.ThreadChannelID)},
			{Name: "作成する種別", Value: enabled},
		},
	}}
}

func (h *SlashCommandHandler) handlePublish(s *discordgo.Session, i *discordgo.InteractionCreate, contestID string) {
	contestID = strings.ToLower(strings.TrimSpace(contestID))
	if contestID == "" {
		h.respond(s, i, errorReply("コンテストIDを指定してください。"))
		return
	}

	// Acknowledge immediately since fetching standings may take time
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		h.logger.Error("failed to defer response", "error", err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		h.editResponse(s, i, h.publish(ctx, i.GuildID, contestID))
	}()
}

func (h *SlashCommandHandler) publish(ctx context.Context, guildID, contestID string) string {
	if err := h.results.PublishTo(ctx, guildID, contestID); err != nil {
		h.logger.Error("manual result publish failed",
			"guild_id", guildID,
			"contest_id", contestID,
			"error", err)
		return "⚠️ 結果の送信に失敗しました: " + err.Error()
	}
	return contestID + " の結果を送信しました。"
}

func (h *SlashCommandHandler) handleRanking(s *discordgo.Session, i *discordgo.InteractionCreate, sub string) {
	if h.rankings == nil {
		h.respond(s, i, errorReply("AJL の順位表示は設定されていません。"))
		return
	}

	// Ranking pages are slow to fetch
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		h.logger.Error("failed to defer response", "error", err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), rankingTimeout)
		defer cancel()
		embeds := h.ranking(ctx, sub)
		if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Embeds: &embeds}); err != nil {
			h.logger.Error("failed to edit response", "error", err)
		}
	}()
}

// ranking builds the /ajl reply; failures become a single error embed.
func (h *SlashCommandHandler) ranking(ctx context.Context, sub string) []*discordgo.MessageEmbed {
	var (
		embeds []*format.Embed
		err    error
	)
	switch sub {
	case "school":
		embeds, err = h.rankings.SchoolEmbeds(ctx)
	case "students":
		embeds, err = h.rankings.StudentEmbeds(ctx)
	default:
		err = fmt.Errorf("unknown subcommand %q", sub)
	}
	if err != nil {
		h.logger.Warn("AJL ranking failed", "subcommand", sub, "error", err)
		desc := "順位表の取得中にエラーが発生しました: " + err.Error()
		if errors.Is(err, ajl.ErrSchoolNotRanked) {
			desc = "順位データを取得できませんでした。"
		}
		return []*discordgo.MessageEmbed{{Title: "エラー", Description: desc, Color: format.ColorError}}
	}

	out := make([]*discordgo.MessageEmbed, len(embeds))
	for i, e := range embeds {
		out[i] = embed(e)
	}
	return out
}

func helpEmbed() *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "コマンド一覧",
		Description: "AtCoder のコンテスト前にリマインダーを送り、スレッドを作成し、終了後に結果を投稿します。",
		Color:       format.ColorReminder,
		Fields: []*discordgo.MessageEmbedField{
			{
				Name: "リマインダー",
				Value: "`/reminder channel` 送信先を設定\n" +
					"`/reminder offsets` 開始何分前に通知するか (例: `10 30 60`)\n" +
					"`/reminder toggle` 種別ごとに有効/無効を切り替え\n" +
					"`/reminder show` 現在の設定",
			},
			{
				Name: "スレッド",
				Value: "`/thread channel` 作成先を設定\n" +
					"`/thread type` 種別ごとに作成するか\n" +
					"`/thread show` 現在の設定",
			},
			{
				Name: "結果",
				Value: "`/result channel` 送信先を設定\n" +
					"`/result publish` 指定したコンテストの結果を今すぐ送信",
			},
			{
				Name:  "コンテスト",
				Value: "`/contest upcoming` 今後のコンテスト\n`/contest help` このヘルプ",
			},
			{
				Name:  "AJL",
				Value: "`/ajl school` 学校の順位\n`/ajl students` 生徒の順位",
			},
		},
	}
}

func (h *SlashCommandHandler) respond(s *discordgo.Session, i *discordgo.InteractionCreate, r reply) {
	var embeds []*discordgo.MessageEmbed
	if r.embed != nil {
		embeds = []*discordgo.MessageEmbed{r.embed}
	}
	var flags discordgo.MessageFlags
	if r.ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: r.content,
			Embeds:  embeds,
			Flags:   flags,
			AllowedMentions: &discordgo.MessageAllowedMentions{
				Parse: []discordgo.AllowedMentionType{},
			},
		},
	})
	if err != nil {
		h.logger.Error("failed to respond to interaction", "error", err)
	}
}

func (h *SlashCommandHandler) editResponse(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &content}); err != nil {
		h.logger.Error("failed to edit response", "error", err)
	}
}

// subcommandOf returns the first-level subcommand name and its options.
func subcommandOf(data discordgo.ApplicationCommandInteractionData) (string, []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(data.Options) == 0 {
		return "", nil
	}
	sub := data.Options[0]
	if sub.Type != discordgo.ApplicationCommandOptionSubCommand {
		return "", data.Options
	}
	return sub.Name, sub.Options
}

func stringOption(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	for _, o := range opts {
		if o.Name == name {
			if s, ok := o.Value.(string); ok {
				return s
			}
		}
	}
	return ""
}

func boolOption(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) bool {
	for _, o := range opts {
		if o.Name == name {
			if b, ok := o.Value.(bool); ok {
				return b
			}
		}
	}
	return false
}

// parseOffsets parses minutes separated by spaces or commas.
func parseOffsets(raw string) ([]int, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '、' || r == ' ' || r == '　' || r == '\t'
	})
	if len(fields) == 0 {
		return nil, errors.New("通知時間を指定してください (例: 10 30 60)")
	}
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(strings.TrimSuffix(f, "分"))
		if err != nil {
			return nil, fmt.Errorf("数値ではありません: %s", f)
		}
		if n <= 0 {
			return nil, fmt.Errorf("通知時間は1分以上で指定してください: %d", n)
		}
		if !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return out, nil
}

func formatOffsets(minutes []int) string {
	parts := make([]string, len(minutes))
	for i, m := range minutes {
		parts[i] = fmt.Sprintf("%d分前", m)
	}
	return strings.Join(parts, ", ")
}

func channelOrUnset(channelID string) string {
	if channelID == "" {
		return "未設定"
	}
	return format.ChannelMention(channelID)
}
