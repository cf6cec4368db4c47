package models

import "time"

// EventKind classifies inbound platform events.
type EventKind string

const (
	// EventCommand is a command invocation such as /setup.
	EventCommand EventKind = "command"
	// EventText is a plain text message.
	EventText EventKind = "text"
	// EventComponent is a select-menu choice or button press.
	EventComponent EventKind = "component"
	// EventMention is a message that mentions the bot without being a command.
	EventMention EventKind = "mention"
)

// Command names exposed to the platforms.
const (
	CommandSetup  = "setup"
	CommandCancel = "cancel"
	CommandPing   = "ping"
	CommandInfo   = "info"
	CommandHelp   = "help"
)

// Event is a single inbound occurrence delivered by a messaging platform.
type Event struct {
	ID        string    `json:"id"`
	Platform  string    `json:"platform"`
	Kind      EventKind `json:"kind"`
	Command   string    `json:"command,omitempty"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name,omitempty"`
	ChannelID string    `json:"channel_id"`
	GuildID   string    `json:"guild_id,omitempty"`
	Text      string    `json:"text,omitempty"`
	// CustomID identifies the prompt a component event answers.
	CustomID string   `json:"custom_id,omitempty"`
	Values   []string `json:"values,omitempty"`
	// Privileged is set by the platform when the actor holds the admin permission.
	Privileged bool      `json:"privileged,omitempty"`
	Roles      []string  `json:"roles,omitempty"`
	Time       time.Time `json:"time"`
	// Raw carries the platform-specific payload needed to respond to the event.
	Raw any `json:"-"`
}

// HasRole reports whether the actor holds role.
func (e Event) HasRole(role string) bool {
	for _, r := range e.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// EmbedField is one name/value pair inside an Embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Embed is structured content attached to a message.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Footer      string       `json:"footer,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
}

// OutgoingMessage is a message body with optional embedded content.
type OutgoingMessage struct {
	Content string `json:"content,omitempty"`
	Embed   *Embed `json:"embed,omitempty"`
}

// IsEmpty reports whether the message has nothing to send.
func (m OutgoingMessage) IsEmpty() bool {
	return m.Content == "" && m.Embed == nil
}

// ChoiceStyle selects how a ChoicePrompt is presented.
type ChoiceStyle string

const (
	// ChoiceStyleList renders a single-select list.
	ChoiceStyleList ChoiceStyle = "list"
	// ChoiceStyleButtons renders exclusive buttons.
	ChoiceStyleButtons ChoiceStyle = "buttons"
)

// ChoicePrompt asks the user to pick exactly one option.
type ChoicePrompt struct {
	// ID is echoed back in the CustomID of the answering component event.
	ID          string          `json:"id"`
	Message     OutgoingMessage `json:"message"`
	Style       ChoiceStyle     `json:"style"`
	Placeholder string          `json:"placeholder,omitempty"`
	Options     []Option        `json:"options"`
}

// Channel describes a delivery target resolved by a platform.
type Channel struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	TextBased bool   `json:"text_based"`
}
