package messaging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/TourneyPipe/internal/models"
	"github.com/BTreeMap/TourneyPipe/internal/store"
	"github.com/google/uuid"
)

// AnswerFunc receives the single event that satisfied a listener.
type AnswerFunc func(ctx context.Context, evt models.Event)

// ListenerSpec scopes a one-shot listener to an owner, a rendering context and a deadline.
type ListenerSpec struct {
	UserID    string
	ChannelID string
	// PromptID matches component events whose CustomID is PromptID or starts with "PromptID:".
	PromptID string
	// AcceptText lets plain text messages from the owner satisfy the listener.
	AcceptText bool
	Timeout    time.Duration
}

// Pending is a registered listener. Exactly one of answer, timeout or Cancel wins.
type Pending struct {
	id        string
	spec      ListenerSpec
	onAnswer  AnswerFunc
	onTimeout func()
	timerID   string
	router    *Router
}

// ID returns the listener identifier.
func (p *Pending) ID() string { return p.id }

// Cancel tears the listener down. It returns false if the listener already fired.
func (p *Pending) Cancel() bool {
	return p.router.claim(p)
}

// Router dispatches inbound events to commands and pending answer listeners.
type Router struct {
	platform Platform
	commands *CommandRegistry
	timer    models.Timer
	dedup    store.DedupRepo

	mu        sync.Mutex
	listeners map[string][]*Pending // by user ID, oldest first
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithDedup drops inbound events whose ID was already recorded.
func WithDedup(repo store.DedupRepo) RouterOption {
	return func(r *Router) { r.dedup = repo }
}

// NewRouter creates a Router for the given platform.
func NewRouter(platform Platform, commands *CommandRegistry, timer models.Timer, opts ...RouterOption) *Router {
	r := &Router{
		platform:  platform,
		commands:  commands,
		timer:     timer,
		listeners: make(map[string][]*Pending),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Await installs a one-shot listener. onTimeout runs if no qualifying event arrives
// within spec.Timeout; it never runs after onAnswer or Cancel.
func (r *Router) Await(spec ListenerSpec, onAnswer AnswerFunc, onTimeout func()) (*Pending, error) {
	p := &Pending{
		id:        uuid.NewString(),
		spec:      spec,
		onAnswer:  onAnswer,
		onTimeout: onTimeout,
		router:    r,
	}

	r.mu.Lock()
	r.listeners[spec.UserID] = append(r.listeners[spec.UserID], p)
	r.mu.Unlock()

	if spec.Timeout > 0 {
		timerID, err := r.timer.ScheduleAfter(spec.Timeout, func() {
			if r.claim(p) {
				slog.Debug("Router listener timed out", "listenerID", p.id, "userID", spec.UserID, "promptID", spec.PromptID)
				if p.onTimeout != nil {
					p.onTimeout()
				}
			}
		})
		if err != nil {
			r.claim(p)
			return nil, err
		}
		r.mu.Lock()
		p.timerID = timerID
		r.mu.Unlock()
	}

	slog.Debug("Router listener registered", "listenerID", p.id, "userID", spec.UserID, "channelID", spec.ChannelID, "promptID", spec.PromptID, "timeout", spec.Timeout)
	return p, nil
}

// claim removes p if it is still registered. Only the first caller gets true.
func (r *Router) claim(p *Pending) bool {
	r.mu.Lock()
	list := r.listeners[p.spec.UserID]
	idx := -1
	for i, candidate := range list {
		if candidate == p {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return false
	}
	list = append(list[:idx], list[idx+1:]...)
	if len(list) == 0 {
		delete(r.listeners, p.spec.UserID)
	} else {
		r.listeners[p.spec.UserID] = list
	}
	timerID := p.timerID
	r.mu.Unlock()

	if timerID != "" {
		if err := r.timer.Cancel(timerID); err != nil {
			slog.Warn("Router failed to cancel listener timer", "error", err, "listenerID", p.id)
		}
	}
	return true
}

// CancelUser tears down every listener owned by userID and returns how many were removed.
func (r *Router) CancelUser(userID string) int {
	r.mu.Lock()
	list := append([]*Pending(nil), r.listeners[userID]...)
	r.mu.Unlock()

	n := 0
	for _, p := range list {
		if r.claim(p) {
			n++
		}
	}
	return n
}

// PendingCount returns the number of registered listeners.
func (r *Router) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, list := range r.listeners {
		n += len(list)
	}
	return n
}

// match returns the newest listener of evt's author that accepts evt.
func (r *Router) match(evt models.Event) *Pending {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.listeners[evt.UserID]
	for i := len(list) - 1; i >= 0; i-- {
		p := list[i]
		if p.spec.ChannelID != "" && p.spec.ChannelID != evt.ChannelID {
			continue
		}
		switch evt.Kind {
		case models.EventComponent:
			if p.spec.PromptID != "" && (evt.CustomID == p.spec.PromptID || strings.HasPrefix(evt.CustomID, p.spec.PromptID+":")) {
				return p
			}
		case models.EventText, models.EventMention:
			if p.spec.AcceptText {
				return p
			}
		}
	}
	return nil
}

// Dispatch routes one inbound event.
func (r *Router) Dispatch(ctx context.Context, evt models.Event) {
	if r.dedup != nil && evt.ID != "" {
		fresh, err := r.dedup.RecordInbound(evt.ID, evt.UserID)
		if err != nil {
			slog.Error("Router dedup record failed", "error", err, "eventID", evt.ID)
		} else if !fresh {
			slog.Debug("Router dropping duplicate event", "eventID", evt.ID, "userID", evt.UserID)
			return
		}
		defer func() {
			if err := r.dedup.MarkProcessed(evt.ID); err != nil {
				slog.Warn("Router mark processed failed", "error", err, "eventID", evt.ID)
			}
		}()
	}

	if evt.Kind == models.EventCommand {
		r.commands.Handle(ctx, evt)
		return
	}

	if p := r.match(evt); p != nil && r.claim(p) {
		slog.Debug("Router delivering event to listener", "listenerID", p.id, "userID", evt.UserID, "kind", evt.Kind)
		p.onAnswer(ctx, evt)
		return
	}

	if evt.Kind == models.EventMention {
		r.commands.HandleMention(ctx, evt)
		return
	}
	slog.Debug("Router ignoring event without listener", "userID", evt.UserID, "kind", evt.Kind, "channelID", evt.ChannelID)
}

// Start begins processing events from the platform until ctx is cancelled or the
// events channel closes.
func (r *Router) Start(ctx context.Context) {
	slog.Info("Router starting event processing", "platform", r.platform.Name())

	go func() {
		defer slog.Info("Router stopped event processing")
		for {
			select {
			case evt, ok := <-r.platform.Events():
				if !ok {
					slog.Debug("Router events channel closed")
					return
				}
				r.Dispatch(ctx, evt)
			case <-ctx.Done():
				slog.Debug("Router stopping due to context cancellation")
				return
			}
		}
	}()
}
