package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/TourneyPipe/internal/models"
	"github.com/BTreeMap/TourneyPipe/internal/whatsapp"
)

const (
	// PlatformWhatsApp names the WhatsApp platform in events and records.
	PlatformWhatsApp = "whatsapp"
	// DefaultChannelBufferSize defines the default buffer size of the events channel.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long an inbound event waits for room in the channel.
	DefaultChannelTimeout = 1 * time.Second
)

var (
	// whatsAppChat matches a group or user JID, or a phone number, referenced in a reply.
	whatsAppChat = regexp.MustCompile(`(\d{5,}@(?:g\.us|s\.whatsapp\.net))|(\+\d{7,15})`)
	// hereWords select the chat the answer was typed in.
	hereWords = map[string]bool{"here": true, "this chat": true, "this group": true}
)

// WhatsAppOption configures a WhatsAppService.
type WhatsAppOption func(*WhatsAppService)

// WithAdmins marks the given phone numbers as privileged. Leading "+" is ignored.
func WithAdmins(numbers []string) WhatsAppOption {
	return func(s *WhatsAppService) {
		for _, n := range numbers {
			n = strings.TrimPrefix(strings.TrimSpace(n), "+")
			if n != "" {
				s.admins[n] = true
			}
		}
	}
}

// WithBotName makes messages containing "@name" count as mentions of the bot.
func WithBotName(name string) WhatsAppOption {
	return func(s *WhatsAppService) { s.botName = strings.ToLower(strings.TrimSpace(name)) }
}

// WhatsAppService is a text-only Platform on top of a whatsmeow client. Choice
// prompts are rendered as numbered lists and commands are typed as "/name".
type WhatsAppService struct {
	client  whatsapp.Messenger
	admins  map[string]bool
	botName string

	events  *eventQueue
	mu      sync.Mutex
	started bool
}

var _ Platform = (*WhatsAppService)(nil)

// NewWhatsAppService creates a WhatsAppService wrapping the given client.
func NewWhatsAppService(client whatsapp.Messenger, opts ...WhatsAppOption) *WhatsAppService {
	s := &WhatsAppService{
		client: client,
		admins: make(map[string]bool),
		events: newEventQueue(DefaultChannelBufferSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	slog.Debug("WhatsAppService created", "admins", len(s.admins), "botName", s.botName)
	return s
}

func (s *WhatsAppService) Name() string { return PlatformWhatsApp }

// SupportsComponents is false: WhatsApp answers arrive as text.
func (s *WhatsAppService) SupportsComponents() bool { return false }

// Start subscribes to incoming messages.
func (s *WhatsAppService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true
	s.client.OnMessage(s.handleIncoming)
	slog.Info("WhatsAppService started")
	return nil
}

// Stop closes the events channel and disconnects the client.
func (s *WhatsAppService) Stop() error {
	if !s.events.close() {
		return nil
	}
	s.client.Disconnect()
	slog.Info("WhatsAppService stopped and events channel closed")
	return nil
}

func (s *WhatsAppService) Events() <-chan models.Event { return s.events.ch }

func (s *WhatsAppService) SendMessage(ctx context.Context, channelID string, msg models.OutgoingMessage) error {
	return s.send(ctx, channelID, RenderText(msg))
}

func (s *WhatsAppService) SendChoices(ctx context.Context, channelID string, prompt models.ChoicePrompt) error {
	return s.send(ctx, channelID, RenderChoicesText(prompt))
}

// SendPrivate sends to the user's own chat; user IDs are phone numbers.
func (s *WhatsAppService) SendPrivate(ctx context.Context, userID string, msg models.OutgoingMessage) error {
	return s.send(ctx, userID, RenderText(msg))
}

// SendTyping is a no-op on WhatsApp.
func (s *WhatsAppService) SendTyping(ctx context.Context, channelID string) error { return nil }

// Respond replies in the chat of evt. Ephemeral replies to group messages go to
// the author's private chat instead.
func (s *WhatsAppService) Respond(ctx context.Context, evt models.Event, msg models.OutgoingMessage, ephemeral bool) error {
	to := evt.ChannelID
	if ephemeral && evt.GuildID != "" {
		to = evt.UserID
	}
	return s.send(ctx, to, RenderText(msg))
}

// ResolveChannelMention accepts "here" for the current chat, a chat JID or a phone number.
func (s *WhatsAppService) ResolveChannelMention(ctx context.Context, evt models.Event, text string) (models.Channel, bool) {
	t := strings.ToLower(strings.TrimSpace(text))
	if hereWords[t] {
		return models.Channel{ID: evt.ChannelID, TextBased: true}, evt.ChannelID != ""
	}
	m := whatsAppChat.FindString(text)
	if m == "" {
		return models.Channel{}, false
	}
	return models.Channel{ID: strings.TrimPrefix(m, "+"), TextBased: true}, true
}

// FetchChannel returns the chat as-is; every WhatsApp chat accepts text.
func (s *WhatsAppService) FetchChannel(ctx context.Context, channelID string) (models.Channel, error) {
	if channelID == "" {
		return models.Channel{}, fmt.Errorf("channel id cannot be empty")
	}
	return models.Channel{ID: channelID, TextBased: true}, nil
}

func (s *WhatsAppService) send(ctx context.Context, to, body string) error {
	if to == "" {
		return models.ErrEmptyRecipient
	}
	if body == "" {
		return models.ErrEmptyBody
	}
	if err := s.client.SendText(ctx, to, body); err != nil {
		slog.Error("WhatsAppService send failed", "error", err, "to", to)
		return fmt.Errorf("%w: %v", models.ErrDeliveryFailure, err)
	}
	return nil
}

func (s *WhatsAppService) handleIncoming(msg whatsapp.IncomingMessage) {
	evt := s.toEvent(msg)
	if s.events.push(evt) {
		slog.Debug("WhatsAppService incoming message forwarded", "userID", evt.UserID, "kind", evt.Kind)
	}
}

// toEvent classifies an incoming message as a command, a mention or plain text.
func (s *WhatsAppService) toEvent(msg whatsapp.IncomingMessage) models.Event {
	evt := models.Event{
		ID:         msg.ID,
		Platform:   PlatformWhatsApp,
		Kind:       models.EventText,
		UserID:     msg.Sender,
		UserName:   msg.SenderName,
		ChannelID:  msg.Chat,
		Text:       strings.TrimSpace(msg.Text),
		Privileged: s.admins[msg.Sender],
		Time:       msg.Time,
		Raw:        msg,
	}
	if msg.IsGroup {
		evt.GuildID = msg.Chat
	}
	if name, ok := parseCommand(evt.Text); ok {
		evt.Kind = models.EventCommand
		evt.Command = name
		return evt
	}
	if s.botName != "" && strings.Contains(strings.ToLower(evt.Text), "@"+s.botName) {
		evt.Kind = models.EventMention
	}
	return evt
}

// parseCommand extracts "setup" from "/setup" or "/Setup now".
func parseCommand(text string) (string, bool) {
	rest, ok := strings.CutPrefix(text, "/")
	if !ok {
		return "", false
	}
	name, _, _ := strings.Cut(rest, " ")
	name = strings.ToLower(name)
	if name == "" {
		return "", false
	}
	return name, true
}
