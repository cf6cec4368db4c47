package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"unicode/utf8"

	"github.com/BTreeMap/TourneyPipe/internal/models"
	"github.com/bwmarrin/discordgo"
)

const (
	// PlatformDiscord names the Discord platform in events and records.
	PlatformDiscord = "discord"

	permissionAdministrator int64 = 1 << 3
	permissionManageGuild   int64 = 1 << 5
)

var discordChannelMention = regexp.MustCompile(`<#(\d+)>`)

// discordAPI is the subset of *discordgo.Session used to deliver messages.
type discordAPI interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

// DiscordOpts holds configuration options for the Discord platform.
type DiscordOpts struct {
	GuildID  string // register commands in one guild; global when empty
	Commands *CommandRegistry
	// OpenPrivileged shows privileged commands to every member, for role-based access.
	OpenPrivileged bool
}

// DiscordOption defines a configuration option for the Discord platform.
type DiscordOption func(*DiscordOpts)

// WithGuildID registers the slash commands in a single guild.
func WithGuildID(id string) DiscordOption {
	return func(o *DiscordOpts) { o.GuildID = id }
}

// WithCommands registers the commands of cr as slash commands on Start.
func WithCommands(cr *CommandRegistry) DiscordOption {
	return func(o *DiscordOpts) { o.Commands = cr }
}

// WithOpenPrivileged stops Discord from hiding privileged commands from members
// without the Manage Server permission.
func WithOpenPrivileged() DiscordOption {
	return func(o *DiscordOpts) { o.OpenPrivileged = true }
}

// DiscordService is a Platform backed by a discordgo session. Choice prompts are
// rendered as select menus or buttons and answered with component interactions.
type DiscordService struct {
	session *discordgo.Session
	api     discordAPI
	opts    DiscordOpts
	events  *eventQueue

	mu       sync.Mutex
	botID    string
	removers []func()
}

var _ Platform = (*DiscordService)(nil)

// NewDiscordService creates a Discord platform for the given bot token.
func NewDiscordService(token string, opts ...DiscordOption) (*DiscordService, error) {
	if token == "" {
		return nil, fmt.Errorf("discord bot token cannot be empty")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMessages |
		discordgo.IntentDirectMessages |
		discordgo.IntentMessageContent
	d := newDiscordService(session, opts...)
	d.session = session
	return d, nil
}

func newDiscordService(api discordAPI, opts ...DiscordOption) *DiscordService {
	var cfg DiscordOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	return &DiscordService{
		api:    api,
		opts:   cfg,
		events: newEventQueue(DefaultChannelBufferSize),
	}
}

func (d *DiscordService) Name() string { return PlatformDiscord }

// SupportsComponents is true: Discord answers choices with select menus and buttons.
func (d *DiscordService) SupportsComponents() bool { return true }

// Start opens the gateway connection and registers the slash commands.
func (d *DiscordService) Start(ctx context.Context) error {
	if d.session == nil {
		return fmt.Errorf("discord session not initialized")
	}
	d.mu.Lock()
	d.removers = append(d.removers,
		d.session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
			d.setBotID(r.User.ID)
			slog.Info("DiscordService ready", "user", r.User.Username, "guilds", len(r.Guilds))
		}),
		d.session.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
			if evt, ok := interactionToEvent(i); ok {
				d.events.push(evt)
			}
		}),
		d.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			if evt, ok := messageToEvent(m, d.BotID()); ok {
				d.events.push(evt)
			}
		}),
	)
	d.mu.Unlock()

	if err := d.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord gateway: %w", err)
	}
	if d.session.State != nil && d.session.State.User != nil {
		d.setBotID(d.session.State.User.ID)
	}
	if d.opts.Commands != nil {
		defs := commandDefinitions(d.opts.Commands.List(), d.opts.OpenPrivileged)
		if _, err := d.session.ApplicationCommandBulkOverwrite(d.BotID(), d.opts.GuildID, defs); err != nil {
			return fmt.Errorf("failed to register slash commands: %w", err)
		}
		slog.Info("DiscordService registered slash commands", "count", len(defs), "guildID", d.opts.GuildID)
	}
	return nil
}

// Stop closes the gateway connection and the events channel.
func (d *DiscordService) Stop() error {
	d.mu.Lock()
	removers := d.removers
	d.removers = nil
	d.mu.Unlock()
	for _, remove := range removers {
		remove()
	}
	if !d.events.close() {
		return nil
	}
	if d.session != nil {
		if err := d.session.Close(); err != nil {
			return fmt.Errorf("failed to close discord session: %w", err)
		}
	}
	slog.Info("DiscordService stopped and events channel closed")
	return nil
}

func (d *DiscordService) Events() <-chan models.Event { return d.events.ch }

// BotID returns the bot's user ID once connected.
func (d *DiscordService) BotID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.botID
}

func (d *DiscordService) setBotID(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.botID = id
}

func (d *DiscordService) SendMessage(ctx context.Context, channelID string, msg models.OutgoingMessage) error {
	if channelID == "" {
		return models.ErrEmptyRecipient
	}
	if msg.IsEmpty() {
		return models.ErrEmptyBody
	}
	if _, err := d.api.ChannelMessageSendComplex(channelID, toMessageSend(msg)); err != nil {
		slog.Error("DiscordService.SendMessage failed", "error", err, "channelID", channelID)
		return fmt.Errorf("%w: %v", models.ErrDeliveryFailure, err)
	}
	return nil
}

func (d *DiscordService) SendChoices(ctx context.Context, channelID string, prompt models.ChoicePrompt) error {
	if channelID == "" {
		return models.ErrEmptyRecipient
	}
	if len(prompt.Options) == 0 {
		return fmt.Errorf("choice prompt %s has no options", prompt.ID)
	}
	data := toMessageSend(prompt.Message)
	data.Components = choiceComponents(prompt)
	if _, err := d.api.ChannelMessageSendComplex(channelID, data); err != nil {
		slog.Error("DiscordService.SendChoices failed", "error", err, "channelID", channelID, "promptID", prompt.ID)
		return fmt.Errorf("%w: %v", models.ErrDeliveryFailure, err)
	}
	return nil
}

// SendPrivate opens (or reuses) the DM channel with userID and posts msg there.
func (d *DiscordService) SendPrivate(ctx context.Context, userID string, msg models.OutgoingMessage) error {
	ch, err := d.api.UserChannelCreate(userID)
	if err != nil {
		return fmt.Errorf("%w: open DM with %s: %v", models.ErrDeliveryFailure, userID, err)
	}
	return d.SendMessage(ctx, ch.ID, msg)
}

func (d *DiscordService) SendTyping(ctx context.Context, channelID string) error {
	return d.api.ChannelTyping(channelID)
}

// Respond answers the interaction carried by evt. Component answers replace the
// prompt message and drop its components. Events without an interaction are
// answered in their channel.
func (d *DiscordService) Respond(ctx context.Context, evt models.Event, msg models.OutgoingMessage, ephemeral bool) error {
	i, ok := evt.Raw.(*discordgo.Interaction)
	if !ok || i == nil {
		return d.SendMessage(ctx, evt.ChannelID, msg)
	}
	resp := interactionResponse(evt.Kind, msg, ephemeral)
	if err := d.api.InteractionRespond(i, resp); err != nil {
		slog.Error("DiscordService.Respond failed", "error", err, "userID", evt.UserID, "kind", evt.Kind)
		return fmt.Errorf("%w: %v", models.ErrDeliveryFailure, err)
	}
	return nil
}

// ResolveChannelMention resolves the first <#id> in text to a channel.
func (d *DiscordService) ResolveChannelMention(ctx context.Context, evt models.Event, text string) (models.Channel, bool) {
	m := discordChannelMention.FindStringSubmatch(text)
	if m == nil {
		return models.Channel{}, false
	}
	ch, err := d.FetchChannel(ctx, m[1])
	if err != nil {
		slog.Debug("DiscordService.ResolveChannelMention lookup failed", "error", err, "channelID", m[1])
		return models.Channel{}, false
	}
	return ch, true
}

// FetchChannel looks the channel up in the session state, then over REST.
func (d *DiscordService) FetchChannel(ctx context.Context, channelID string) (models.Channel, error) {
	if d.session != nil && d.session.State != nil {
		if ch, err := d.session.State.Channel(channelID); err == nil {
			return toChannel(ch), nil
		}
	}
	ch, err := d.api.Channel(channelID)
	if err != nil {
		return models.Channel{}, fmt.Errorf("fetch channel %s: %w", channelID, err)
	}
	return toChannel(ch), nil
}

func toChannel(ch *discordgo.Channel) models.Channel {
	return models.Channel{ID: ch.ID, Name: ch.Name, TextBased: isTextChannel(ch.Type)}
}

func isTextChannel(t discordgo.ChannelType) bool {
	switch t {
	case discordgo.ChannelTypeGuildText,
		discordgo.ChannelTypeGuildNews,
		discordgo.ChannelTypeDM,
		discordgo.ChannelTypeGroupDM,
		discordgo.ChannelTypeGuildNewsThread,
		discordgo.ChannelTypeGuildPublicThread,
		discordgo.ChannelTypeGuildPrivateThread:
		return true
	default:
		return false
	}
}

// interactionToEvent converts slash commands and component interactions.
func interactionToEvent(ic *discordgo.InteractionCreate) (models.Event, bool) {
	if ic == nil || ic.Interaction == nil {
		return models.Event{}, false
	}
	i := ic.Interaction
	evt := models.Event{
		ID:        i.ID,
		Platform:  PlatformDiscord,
		ChannelID: i.ChannelID,
		GuildID:   i.GuildID,
		Raw:       i,
	}
	switch {
	case i.Member != nil && i.Member.User != nil:
		evt.UserID = i.Member.User.ID
		evt.UserName = i.Member.User.Username
		evt.Roles = i.Member.Roles
		evt.Privileged = i.Member.Permissions&(permissionManageGuild|permissionAdministrator) != 0
	case i.User != nil:
		evt.UserID = i.User.ID
		evt.UserName = i.User.Username
	default:
		return models.Event{}, false
	}

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		evt.Kind = models.EventCommand
		evt.Command = i.ApplicationCommandData().Name
	case discordgo.InteractionMessageComponent:
		data := i.MessageComponentData()
		evt.Kind = models.EventComponent
		evt.CustomID = data.CustomID
		evt.Values = data.Values
	default:
		return models.Event{}, false
	}
	return evt, true
}

// messageToEvent converts a channel message. Messages from bots are dropped and
// messages mentioning botID become mention events.
func messageToEvent(m *discordgo.MessageCreate, botID string) (models.Event, bool) {
	if m == nil || m.Message == nil || m.Author == nil || m.Author.Bot {
		return models.Event{}, false
	}
	evt := models.Event{
		ID:        m.ID,
		Platform:  PlatformDiscord,
		Kind:      models.EventText,
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Text:      m.Content,
		Time:      m.Timestamp,
	}
	if m.Member != nil {
		evt.Roles = m.Member.Roles
	}
	for _, u := range m.Mentions {
		if botID != "" && u.ID == botID {
			evt.Kind = models.EventMention
			break
		}
	}
	return evt, true
}

func toEmbed(e *models.Embed) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		Color:       e.Color,
	}
	if e.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
	}
	for _, f := range e.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	return embed
}

func toMessageSend(msg models.OutgoingMessage) *discordgo.MessageSend {
	data := &discordgo.MessageSend{Content: msg.Content}
	if msg.Embed != nil {
		data.Embeds = []*discordgo.MessageEmbed{toEmbed(msg.Embed)}
	}
	return data
}

// choiceComponents renders a prompt as one select menu, or as rows of buttons
// whose custom IDs are "<promptID>:<value>".
func choiceComponents(prompt models.ChoicePrompt) []discordgo.MessageComponent {
	if prompt.Style == models.ChoiceStyleButtons && len(prompt.Options) <= models.MaxButtons*models.MaxButtons {
		var rows []discordgo.MessageComponent
		var row []discordgo.MessageComponent
		for _, o := range prompt.Options {
			row = append(row, discordgo.Button{
				Label:    truncateLabel(o.Label),
				Style:    discordgo.PrimaryButton,
				CustomID: prompt.ID + ":" + o.Value,
			})
			if len(row) == models.MaxButtons {
				rows = append(rows, discordgo.ActionsRow{Components: row})
				row = nil
			}
		}
		if len(row) > 0 {
			rows = append(rows, discordgo.ActionsRow{Components: row})
		}
		return rows
	}

	options := make([]discordgo.SelectMenuOption, 0, len(prompt.Options))
	for i, o := range prompt.Options {
		if i == models.MaxSelectOptions {
			break
		}
		options = append(options, discordgo.SelectMenuOption{Label: truncateLabel(o.Label), Value: o.Value})
	}
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.SelectMenu{
				MenuType:    discordgo.StringSelectMenu,
				CustomID:    prompt.ID,
				Placeholder: prompt.Placeholder,
				Options:     options,
			},
		}},
	}
}

func truncateLabel(label string) string {
	if utf8.RuneCountInString(label) <= models.MaxOptionLabelLength {
		return label
	}
	r := []rune(label)
	return string(r[:models.MaxOptionLabelLength-1]) + "…"
}

func interactionResponse(kind models.EventKind, msg models.OutgoingMessage, ephemeral bool) *discordgo.InteractionResponse {
	data := &discordgo.InteractionResponseData{Content: msg.Content}
	if msg.Embed != nil {
		data.Embeds = []*discordgo.MessageEmbed{toEmbed(msg.Embed)}
	}
	if kind == models.EventComponent && !ephemeral {
		data.Components = []discordgo.MessageComponent{}
		if data.Embeds == nil {
			data.Embeds = []*discordgo.MessageEmbed{}
		}
		return &discordgo.InteractionResponse{Type: discordgo.InteractionResponseUpdateMessage, Data: data}
	}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return &discordgo.InteractionResponse{Type: discordgo.InteractionResponseChannelMessageWithSource, Data: data}
}

// commandDefinitions maps registered commands to slash commands. Privileged
// commands are hidden from members without Manage Server unless open is set.
func commandDefinitions(specs []CommandSpec, open bool) []*discordgo.ApplicationCommand {
	defs := make([]*discordgo.ApplicationCommand, 0, len(specs))
	for _, spec := range specs {
		def := &discordgo.ApplicationCommand{Name: spec.Name, Description: spec.Description}
		if def.Description == "" {
			def.Description = spec.Name
		}
		if spec.Privileged && !open {
			perm := permissionManageGuild
			def.DefaultMemberPermissions = &perm
		}
		defs = append(defs, def)
	}
	return defs
}
