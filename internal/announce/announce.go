// Package announce schedules reminder announcements for completed tournament setups.
//
// Each reminder offset becomes a durable job. When a job runs it renders the
// announcement copy and queues it in the outbox, which delivers it to the
// tournament's update channel through the chat platform.
package announce

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/TourneyPipe/internal/flow"
	"github.com/BTreeMap/TourneyPipe/internal/messaging"
	"github.com/BTreeMap/TourneyPipe/internal/models"
	"github.com/BTreeMap/TourneyPipe/internal/store"
)

const (
	// JobKind identifies announcement jobs in the job table.
	JobKind = "announce.send"
	// OutboxKind identifies rendered announcements in the outbox.
	OutboxKind = "announce.message"
	// DefaultStaleAfter drops reminders that come due this long after their time.
	DefaultStaleAfter = 30 * time.Minute
	rewriteTimeout    = 20 * time.Second
)

// DefaultOffsets are the reminder lead times before a tournament starts.
var DefaultOffsets = []time.Duration{24 * time.Hour, time.Hour, 15 * time.Minute, 0}

// Rewriter rephrases announcement copy. genai.Client satisfies it.
type Rewriter interface {
	RewriteAnnouncement(ctx context.Context, text string) (string, error)
}

// Opts configures a Scheduler.
type Opts struct {
	Offsets    []time.Duration
	Rewriter   Rewriter
	Location   *time.Location
	StaleAfter time.Duration
	Now        func() time.Time
}

// Option modifies Opts.
type Option func(*Opts)

// WithOffsets replaces the reminder lead times.
func WithOffsets(offsets ...time.Duration) Option {
	return func(o *Opts) { o.Offsets = append([]time.Duration(nil), offsets...) }
}

// WithRewriter routes announcement copy through r before it is queued.
func WithRewriter(r Rewriter) Option {
	return func(o *Opts) { o.Rewriter = r }
}

// WithLocation sets the time zone used for start times on text-only platforms.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// WithStaleAfter sets how late a reminder may run before it is dropped.
func WithStaleAfter(d time.Duration) Option {
	return func(o *Opts) { o.StaleAfter = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Scheduler turns completed setups into reminder jobs and renders them when due.
type Scheduler struct {
	jobs   store.JobRepo
	outbox store.OutboxRepo
	opts   Opts
}

var _ flow.Announcer = (*Scheduler)(nil)

// NewScheduler creates a scheduler over the durable job and outbox tables.
func NewScheduler(jobs store.JobRepo, outbox store.OutboxRepo, opts ...Option) *Scheduler {
	o := Opts{
		Offsets:    DefaultOffsets,
		Location:   time.UTC,
		StaleAfter: DefaultStaleAfter,
		Now:        time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Scheduler{jobs: jobs, outbox: outbox, opts: o}
}

// payload is the JSON body of an announcement job.
type payload struct {
	SetupID       string        `json:"setup_id"`
	Platform      string        `json:"platform"`
	ChannelID     string        `json:"channel_id"`
	Name          string        `json:"name"`
	StartsAt      time.Time     `json:"starts_at"`
	Offset        time.Duration `json:"offset"`
	Index         int           `json:"index"`
	StreamingLink string        `json:"streaming_link,omitempty"`
}

func (p payload) dueAt() time.Time { return p.StartsAt.Add(-p.Offset) }

// outboxBody is the JSON body of a queued announcement.
type outboxBody struct {
	Content string `json:"content"`
}

func dedupeKey(setupID string, offset time.Duration) string {
	return fmt.Sprintf("announce:%s:%s", setupID, offset)
}

// Schedule enqueues one job per reminder offset that is still in the future.
// Setups without a start time or update channel are ignored.
func (s *Scheduler) Schedule(ctx context.Context, rec models.SummaryRecord) error {
	if rec.UpdateChannelID == "" || rec.StartsAt == nil {
		slog.Debug("Scheduler.Schedule: nothing to announce", "setupID", rec.ID)
		return nil
	}
	name, _ := rec.Value(flow.KeyTournamentName)
	link, _ := rec.Value(flow.KeyStreamingLink)
	now := s.opts.Now()

	scheduled := 0
	for i, offset := range s.opts.Offsets {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := payload{
			SetupID:       rec.ID,
			Platform:      rec.Platform,
			ChannelID:     rec.UpdateChannelID,
			Name:          name,
			StartsAt:      *rec.StartsAt,
			Offset:        offset,
			Index:         i,
			StreamingLink: link,
		}
		if p.dueAt().Before(now) {
			slog.Debug("Scheduler.Schedule: offset already passed", "setupID", rec.ID, "offset", offset)
			continue
		}
		body, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal announcement payload: %w", err)
		}
		if _, err := s.jobs.EnqueueJob(JobKind, p.dueAt(), string(body), dedupeKey(rec.ID, offset)); err != nil {
			return fmt.Errorf("enqueue announcement for %s: %w", rec.ID, err)
		}
		scheduled++
	}
	slog.Info("Scheduler.Schedule: announcements scheduled", "setupID", rec.ID, "count", scheduled, "channelID", rec.UpdateChannelID)
	return nil
}

// Cancel cancels every queued reminder for a setup.
func (s *Scheduler) Cancel(setupID string) (int, error) {
	n, err := s.jobs.CancelJobsByDedupePrefix(fmt.Sprintf("announce:%s:", setupID))
	if err != nil {
		return 0, fmt.Errorf("cancel announcements for %s: %w", setupID, err)
	}
	slog.Info("Scheduler.Cancel", "setupID", setupID, "canceled", n)
	return n, nil
}

// Register installs the job handler on runner.
func (s *Scheduler) Register(runner *store.JobRunner) {
	runner.RegisterHandler(JobKind, s.HandleJob)
}

// HandleJob renders a due reminder and queues it for delivery.
func (s *Scheduler) HandleJob(ctx context.Context, job store.Job) error {
	var p payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		// A malformed payload will never succeed; drop it.
		slog.Error("Scheduler.HandleJob: bad payload", "jobID", job.ID, "error", err)
		return nil
	}
	if late := s.opts.Now().Sub(p.dueAt()); late > s.opts.StaleAfter {
		slog.Warn("Scheduler.HandleJob: reminder is stale, dropping", "setupID", p.SetupID, "offset", p.Offset, "late", late)
		return nil
	}

	text := s.render(p)
	if s.opts.Rewriter != nil {
		rctx, cancel := context.WithTimeout(ctx, rewriteTimeout)
		rewritten, err := s.opts.Rewriter.RewriteAnnouncement(rctx, text)
		cancel()
		if err != nil {
			slog.Warn("Scheduler.HandleJob: rewrite failed, using template", "setupID", p.SetupID, "error", err)
		} else {
			text = rewritten
		}
	}

	body, err := json.Marshal(outboxBody{Content: text})
	if err != nil {
		return fmt.Errorf("marshal announcement: %w", err)
	}
	if _, err := s.outbox.EnqueueOutboxMessage(p.ChannelID, OutboxKind, string(body), dedupeKey(p.SetupID, p.Offset)); err != nil {
		return fmt.Errorf("queue announcement: %w", err)
	}
	slog.Debug("Scheduler.HandleJob: announcement queued", "setupID", p.SetupID, "offset", p.Offset)
	return nil
}

// Sender returns the outbox delivery function posting announcements on platform.
func Sender(platform messaging.Platform) store.OutboxSendFunc {
	return func(ctx context.Context, msg store.OutboxMessage) error {
		if msg.Kind != OutboxKind {
			return fmt.Errorf("unexpected outbox kind %q", msg.Kind)
		}
		var body outboxBody
		if err := json.Unmarshal([]byte(msg.PayloadJSON), &body); err != nil {
			return fmt.Errorf("decode announcement: %w", err)
		}
		if strings.TrimSpace(body.Content) == "" {
			return models.ErrEmptyBody
		}
		return platform.SendMessage(ctx, msg.Recipient, models.OutgoingMessage{Content: body.Content})
	}
}

var templates = []string{
	"📣 **%s** starts %s! Get your team ready.",
	"⏰ Heads up: **%s** kicks off %s.",
	"🚀 **%s** begins %s. Good luck to every team!",
	"🎮 Rocket League time! **%s** is on %s.",
}

// templateIndex rotates templates per setup and offset.
func templateIndex(setupID string, offsetIndex int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(setupID))
	return int((h.Sum32() + uint32(offsetIndex)) % uint32(len(templates)))
}

func (s *Scheduler) render(p payload) string {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = "The tournament"
	}
	lines := []string{fmt.Sprintf(templates[templateIndex(p.SetupID, p.Index)], name, relative(p.Offset))}
	if p.Platform == "discord" {
		lines = append(lines, fmt.Sprintf("🕒 <t:%d:F>", p.StartsAt.Unix()))
	} else {
		lines = append(lines, "🕒 "+p.StartsAt.In(s.opts.Location).Format("Mon Jan 2, 15:04 MST"))
	}
	if p.StreamingLink != "" {
		lines = append(lines, "📺 Watch live: "+p.StreamingLink)
	}
	return strings.Join(lines, "\n")
}

// relative phrases an offset as the time left until the start.
func relative(offset time.Duration) string {
	switch {
	case offset <= 0:
		return "now"
	case offset%time.Hour == 0:
		h := int(offset / time.Hour)
		if h == 1 {
			return "in 1 hour"
		}
		return fmt.Sprintf("in %d hours", h)
	default:
		m := int(offset / time.Minute)
		if m == 1 {
			return "in 1 minute"
		}
		return fmt.Sprintf("in %d minutes", m)
	}
}
