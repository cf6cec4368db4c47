// Package messaging connects TourneyPipe to chat platforms.
//
// A Platform delivers outgoing messages and choice prompts and emits inbound events.
// The Router fans inbound events out to registered commands and to one-shot answer
// listeners installed by the setup flow.
package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/TourneyPipe/internal/models"
)

// Platform defines a pluggable chat platform.
type Platform interface {
	// Name identifies the platform in logs and records (e.g. "discord").
	Name() string

	// Start connects to the platform and begins emitting events.
	Start(ctx context.Context) error

	// Stop disconnects and closes the events channel.
	Stop() error

	// Events returns the channel of inbound events.
	Events() <-chan models.Event

	// SendMessage posts a message to a channel.
	SendMessage(ctx context.Context, channelID string, msg models.OutgoingMessage) error

	// SendChoices posts a single-select prompt to a channel.
	SendChoices(ctx context.Context, channelID string, prompt models.ChoicePrompt) error

	// SendPrivate delivers a message to the user's private channel.
	SendPrivate(ctx context.Context, userID string, msg models.OutgoingMessage) error

	// SendTyping shows a typing indicator where supported.
	SendTyping(ctx context.Context, channelID string) error

	// Respond answers an inbound event directly. For commands the reply may be
	// ephemeral; for component events the answered prompt is replaced by msg.
	Respond(ctx context.Context, evt models.Event, msg models.OutgoingMessage, ephemeral bool) error

	// ResolveChannelMention finds the first channel referenced in text.
	ResolveChannelMention(ctx context.Context, evt models.Event, text string) (models.Channel, bool)

	// FetchChannel looks up a channel by ID.
	FetchChannel(ctx context.Context, channelID string) (models.Channel, error)
}

// ComponentRenderer is implemented by platforms that render choice prompts as
// interactive components. Other platforms render them as numbered text.
type ComponentRenderer interface {
	SupportsComponents() bool
}

// SupportsComponents reports whether p answers choice prompts with component events.
func SupportsComponents(p Platform) bool {
	if r, ok := p.(ComponentRenderer); ok {
		return r.SupportsComponents()
	}
	return false
}

// eventQueue is a buffered events channel that is safe to push to after close.
type eventQueue struct {
	mu     sync.Mutex
	ch     chan models.Event
	closed bool
}

func newEventQueue(size int) *eventQueue {
	return &eventQueue{ch: make(chan models.Event, size)}
}

// push waits up to DefaultChannelTimeout for room. It reports whether evt was queued.
func (q *eventQueue) push(evt models.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- evt:
		return true
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("Platform events channel blocked, dropping event", "platform", evt.Platform, "userID", evt.UserID, "timeout", DefaultChannelTimeout)
		return false
	}
}

// close closes the channel once. It reports whether this call closed it.
func (q *eventQueue) close() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.closed = true
	close(q.ch)
	return true
}
