package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/TourneyPipe/internal/messaging"
	"github.com/BTreeMap/TourneyPipe/internal/models"
)

// Default deadlines of a prompt.
const (
	DefaultAnswerTimeout = 5 * time.Minute
	DefaultNudgeAfter    = 2 * time.Minute
)

// ConductorOpts holds configuration options for the Conductor.
type ConductorOpts struct {
	AnswerTimeout time.Duration
	NudgeAfter    time.Duration
	Location      *time.Location
	RequiredRole  string
	Rules         []Rule
	Now           func() time.Time
}

// ConductorOption defines a configuration option for the Conductor.
type ConductorOption func(*ConductorOpts)

// WithAnswerTimeout sets how long a prompt waits for an answer.
func WithAnswerTimeout(d time.Duration) ConductorOption {
	return func(o *ConductorOpts) { o.AnswerTimeout = d }
}

// WithNudgeAfter sets when a reminder is posted for an unanswered prompt. Zero disables it.
func WithNudgeAfter(d time.Duration) ConductorOption {
	return func(o *ConductorOpts) { o.NudgeAfter = d }
}

// WithLocation sets the timezone used for dates, hours and timestamps.
func WithLocation(loc *time.Location) ConductorOption {
	return func(o *ConductorOpts) { o.Location = loc }
}

// WithRequiredRole lets members holding role start a setup without the admin permission.
func WithRequiredRole(role string) ConductorOption {
	return func(o *ConductorOpts) { o.RequiredRole = role }
}

// WithRules replaces the default rule table.
func WithRules(rules []Rule) ConductorOption {
	return func(o *ConductorOpts) { o.Rules = rules }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ConductorOption {
	return func(o *ConductorOpts) { o.Now = now }
}

// Conductor drives setup sessions through the registry.
type Conductor struct {
	reg      *Registry
	sessions *SessionStore
	platform messaging.Platform
	router   *messaging.Router
	timer    models.Timer
	exporter *Exporter
	opts     ConductorOpts
	textOnly bool
}

// NewConductor wires a conductor to its collaborators. It fails if the rule table
// references keys missing from the registry.
func NewConductor(reg *Registry, sessions *SessionStore, platform messaging.Platform, router *messaging.Router, timer models.Timer, exporter *Exporter, opts ...ConductorOption) (*Conductor, error) {
	cfg := ConductorOpts{
		AnswerTimeout: DefaultAnswerTimeout,
		NudgeAfter:    DefaultNudgeAfter,
		Location:      time.UTC,
		Rules:         DefaultRules(),
		Now:           time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := ValidateRules(reg, cfg.Rules); err != nil {
		return nil, fmt.Errorf("invalid rule table: %w", err)
	}
	c := &Conductor{
		reg:      reg,
		sessions: sessions,
		platform: platform,
		router:   router,
		timer:    timer,
		exporter: exporter,
		opts:     cfg,
		textOnly: !messaging.SupportsComponents(platform),
	}
	slog.Debug("Conductor created", "questions", reg.Len(), "rules", len(cfg.Rules), "textOnly", c.textOnly, "timeout", cfg.AnswerTimeout)
	return c, nil
}

// Authorized reports whether evt's actor may start a setup.
func (c *Conductor) Authorized(evt models.Event) bool {
	if evt.Privileged {
		return true
	}
	return c.opts.RequiredRole != "" && evt.HasRole(c.opts.RequiredRole)
}

// Start opens a session for evt's author and presents the first question.
func (c *Conductor) Start(ctx context.Context, evt models.Event) error {
	if !c.Authorized(evt) {
		slog.Info("Conductor.Start unauthorized", "userID", evt.UserID, "channelID", evt.ChannelID)
		return models.ErrUnauthorized
	}

	s := NewSession(evt.UserID, evt.ChannelID, c.opts.Now())
	s.GuildID = evt.GuildID
	s.Platform = c.platform.Name()

	// Locked before it becomes visible so a concurrent cancel waits for the first prompt.
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := c.sessions.Create(s); err != nil {
		return err
	}
	slog.Info("Conductor.Start session opened", "userID", s.UserID, "sessionID", s.ID, "channelID", s.ChannelID)

	if err := c.platform.Respond(ctx, evt, models.OutgoingMessage{Content: MsgStarting}, true); err != nil {
		slog.Warn("Conductor.Start acknowledge failed", "error", err, "userID", s.UserID)
	}
	c.advance(ctx, s)
	return nil
}

// Cancel ends the session of userID.
func (c *Conductor) Cancel(ctx context.Context, userID string) error {
	s, ok := c.sessions.Get(userID)
	if !ok {
		return models.ErrNoActiveSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active() {
		return models.ErrNoActiveSession
	}
	c.finish(s, StateCancelled)
	return nil
}

// ActiveSessions describes the sessions in progress.
func (c *Conductor) ActiveSessions() []models.SessionInfo {
	return c.sessions.Snapshot(c.reg)
}

// Registry returns the question registry.
func (c *Conductor) Registry() *Registry { return c.reg }

// advance moves to the next applicable question or completes. Caller holds s.mu.
func (c *Conductor) advance(ctx context.Context, s *Session) {
	act := Next(c.reg, s)
	s.Cursor = act.Index
	if act.Kind == ActionComplete {
		c.complete(ctx, s)
		return
	}
	c.prompt(ctx, s, act.Index)
}

// prompt renders question index and arms its listener and nudge. Caller holds s.mu.
func (c *Conductor) prompt(ctx context.Context, s *Session, index int) {
	c.disarm(s)
	s.promptSeq++
	seq := s.promptSeq
	s.State = StatePrompting

	q := c.reg.At(index)
	options := OptionsFor(q, c.opts.Now(), c.opts.Location, s.Answers)
	if q.Kind.IsChoice() && len(options) == 0 {
		slog.Error("Conductor.prompt no options for choice question", "key", q.Key, "userID", s.UserID)
		c.notify(ctx, s, "❌ This question has no options available. Setup has been stopped.")
		c.finish(s, StateAborted)
		return
	}

	if err := c.platform.SendTyping(ctx, s.ChannelID); err != nil {
		slog.Debug("Conductor.prompt typing indicator failed", "error", err, "channelID", s.ChannelID)
	}

	promptID := fmt.Sprintf("tp:%s:%d", shortID(s.ID), seq)
	msg := promptMessage(c.reg, s, index, q)
	var err error
	if q.Kind.IsChoice() {
		err = c.platform.SendChoices(ctx, s.ChannelID, models.ChoicePrompt{
			ID:          promptID,
			Message:     msg,
			Style:       choiceStyle(q.Kind),
			Placeholder: placeholder(q.Kind),
			Options:     options,
		})
	} else {
		err = c.platform.SendMessage(ctx, s.ChannelID, msg)
	}
	if err != nil {
		// The listener still runs so the session ends through the timeout path.
		slog.Error("Conductor.prompt delivery failed", "error", fmt.Errorf("%w: %v", models.ErrDeliveryFailure, err), "key", q.Key, "userID", s.UserID)
	}

	spec := messaging.ListenerSpec{
		UserID:     s.UserID,
		ChannelID:  s.ChannelID,
		PromptID:   promptID,
		AcceptText: !q.Kind.IsChoice() || c.textOnly,
		Timeout:    c.opts.AnswerTimeout,
	}
	pending, err := c.router.Await(spec, c.onAnswer(s, seq, index, promptID, options), c.onTimeout(s, seq))
	if err != nil {
		slog.Error("Conductor.prompt failed to arm listener", "error", err, "userID", s.UserID)
		c.finish(s, StateAborted)
		return
	}
	s.pending = pending
	s.State = StateAwaitingAnswer

	if c.opts.NudgeAfter > 0 && c.opts.NudgeAfter < c.opts.AnswerTimeout {
		id, err := c.timer.ScheduleAfter(c.opts.NudgeAfter, func() { c.nudge(s, seq) })
		if err != nil {
			slog.Warn("Conductor.prompt failed to schedule nudge", "error", err, "userID", s.UserID)
		} else {
			s.nudgeID = id
		}
	}
	slog.Debug("Conductor.prompt presented question", "key", q.Key, "cursor", index, "userID", s.UserID, "promptID", promptID)
}

func (c *Conductor) onAnswer(s *Session, seq, index int, promptID string, options []models.Option) messaging.AnswerFunc {
	return func(ctx context.Context, evt models.Event) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.active() || s.promptSeq != seq {
			slog.Debug("Conductor.onAnswer stale answer ignored", "userID", s.UserID, "seq", seq)
			return
		}
		s.pending = nil
		c.disarm(s)
		s.State = StateValidating

		q := c.reg.At(index)
		opt, ok := extractAnswer(q, options, evt, promptID)
		if !ok {
			hint := MsgEmptyAnswer
			if q.Kind.IsChoice() {
				hint = MsgPickAnOption
			}
			slog.Debug("Conductor.onAnswer unusable answer", "key", q.Key, "userID", s.UserID, "kind", evt.Kind)
			c.notify(ctx, s, hint)
			c.prompt(ctx, s, index)
			return
		}

		if evt.Kind == models.EventComponent {
			if err := c.platform.Respond(ctx, evt, models.OutgoingMessage{Content: confirmation(q, opt.Label)}, false); err != nil {
				slog.Warn("Conductor.onAnswer acknowledge failed", "error", err, "userID", s.UserID)
			}
		}
		c.record(ctx, s, index, q, opt.Value, evt)
	}
}

// record stores an answer, applies its rules and moves on. Caller holds s.mu.
func (c *Conductor) record(ctx context.Context, s *Session, index int, q models.QuestionSpec, value string, evt models.Event) {
	s.Answers[q.Key] = value
	out := ApplyRules(c.opts.Rules, &RuleContext{
		Ctx:      ctx,
		Registry: c.reg,
		Session:  s,
		Key:      q.Key,
		Answer:   value,
		Event:    evt,
		Location: c.opts.Location,
		Resolve:  c.platform.ResolveChannelMention,
	})
	slog.Debug("Conductor.record answer recorded", "key", q.Key, "cursor", index, "userID", s.UserID, "verdict", out.Verdict)

	switch out.Verdict {
	case Abort:
		c.notify(ctx, s, out.Message)
		c.finish(s, StateAborted)
	case Rewind:
		to := c.reg.Index(out.RewindTo)
		if to < 0 || to > index {
			to = index
		}
		for i := to; i <= index; i++ {
			delete(s.Answers, c.reg.At(i).Key)
		}
		c.notify(ctx, s, out.Message)
		s.Cursor = to
		c.advance(ctx, s)
	default:
		s.Cursor = index + 1
		c.advance(ctx, s)
	}
}

func (c *Conductor) onTimeout(s *Session, seq int) func() {
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.active() || s.promptSeq != seq {
			return
		}
		s.pending = nil
		slog.Info("Conductor.onTimeout session expired", "userID", s.UserID, "cursor", s.Cursor)
		c.notify(context.Background(), s, MsgTimedOut)
		c.finish(s, StateTimedOut)
	}
}

func (c *Conductor) nudge(s *Session, seq int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nudgeID = ""
	if !s.active() || s.promptSeq != seq || s.State != StateAwaitingAnswer {
		return
	}
	slog.Debug("Conductor.nudge reminding user", "userID", s.UserID, "cursor", s.Cursor)
	c.notify(context.Background(), s, MsgNudge)
}

// complete projects the answers and exports them. Caller holds s.mu.
func (c *Conductor) complete(ctx context.Context, s *Session) {
	rec := BuildSummary(c.reg, s, c.opts.Now(), c.opts.Location)
	c.finish(s, StateCompleted)
	slog.Info("Conductor.complete setup finished", "userID", s.UserID, "setupID", rec.ID, "entries", len(rec.Entries))
	if c.exporter != nil {
		c.exporter.Export(ctx, rec)
	}
}

// finish moves s to a terminal state and releases everything it holds. Caller holds s.mu.
func (c *Conductor) finish(s *Session, state State) {
	s.State = state
	if s.pending != nil {
		s.pending.Cancel()
		s.pending = nil
	}
	c.disarm(s)
	c.sessions.Delete(s)
	slog.Info("Conductor session closed", "userID", s.UserID, "sessionID", s.ID, "state", state)
}

// disarm cancels the nudge timer. Caller holds s.mu.
func (c *Conductor) disarm(s *Session) {
	if s.nudgeID == "" {
		return
	}
	if err := c.timer.Cancel(s.nudgeID); err != nil {
		slog.Warn("Conductor failed to cancel nudge", "error", err, "timerID", s.nudgeID)
	}
	s.nudgeID = ""
}

func (c *Conductor) notify(ctx context.Context, s *Session, text string) {
	if text == "" {
		return
	}
	if err := c.platform.SendMessage(ctx, s.ChannelID, models.OutgoingMessage{Content: text}); err != nil {
		slog.Warn("Conductor notify failed", "error", err, "userID", s.UserID, "channelID", s.ChannelID)
	}
}

// extractAnswer turns an inbound event into the chosen option. Text answers to
// text questions are recorded verbatim.
func extractAnswer(q models.QuestionSpec, options []models.Option, evt models.Event, promptID string) (models.Option, bool) {
	if evt.Kind == models.EventComponent {
		raw := ""
		if len(evt.Values) > 0 {
			raw = evt.Values[0]
		} else if v, ok := strings.CutPrefix(evt.CustomID, promptID+":"); ok {
			raw = v
		}
		for _, o := range options {
			if o.Value == raw {
				return o, true
			}
		}
		return models.Option{}, false
	}

	text := strings.TrimSpace(evt.Text)
	if !q.Kind.IsChoice() {
		if text == "" {
			return models.Option{}, false
		}
		return models.Option{Label: text, Value: text}, true
	}
	return models.FindOption(options, text)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
