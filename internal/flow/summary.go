package flow

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/TourneyPipe/internal/messaging"
	"github.com/BTreeMap/TourneyPipe/internal/models"
)

const (
	// PrivateCopyTimeout bounds the private copy offer.
	PrivateCopyTimeout = 60 * time.Second
	// SinkTimeout bounds audit deliveries and announcement scheduling.
	SinkTimeout = 30 * time.Second
)

// AuditSink receives completed setups. Failures never affect the user.
type AuditSink interface {
	Deliver(ctx context.Context, rec models.SummaryRecord) error
}

// Announcer schedules reminder announcements for a completed setup.
type Announcer interface {
	Schedule(ctx context.Context, rec models.SummaryRecord) error
}

// BuildSummary projects the answers of s in registry order, leaving out skipped
// and unanswered questions.
func BuildSummary(reg *Registry, s *Session, now time.Time, loc *time.Location) models.SummaryRecord {
	rec := models.SummaryRecord{
		ID:              s.ID,
		Platform:        s.Platform,
		UserID:          s.UserID,
		ChannelID:       s.ChannelID,
		GuildID:         s.GuildID,
		UpdateChannelID: s.UpdateChannelID,
		CompletedAt:     now,
	}
	for i := 0; i < reg.Len(); i++ {
		q := reg.At(i)
		if s.IsSkipped(q) {
			continue
		}
		v, ok := s.Answers[q.Key]
		if !ok {
			continue
		}
		rec.Entries = append(rec.Entries, models.SummaryEntry{Key: q.Key, Value: v})
	}

	if start, err := Timestamp(s.Answers[KeyStartDate], s.Answers[KeyStartTime], loc); err == nil {
		rec.StartsAt = &start
	}
	if q, ok := reg.Lookup(KeyEndDate); ok && !s.IsSkipped(q) {
		if end, err := Timestamp(s.Answers[KeyEndDate], s.Answers[KeyEndTime], loc); err == nil {
			rec.EndsAt = &end
		}
	}
	if v, _ := rec.Value(KeyUpdates); isNegative(v) {
		rec.UpdateChannelID = ""
	}
	return rec
}

// Exporter delivers a completed setup to the origin channel, offers a private copy
// and fans the record out to the audit sink and the announcer.
type Exporter struct {
	platform  messaging.Platform
	router    *messaging.Router
	sink      AuditSink
	announcer Announcer
	textOnly  bool
	wg        sync.WaitGroup
}

// ExporterOption configures an Exporter.
type ExporterOption func(*Exporter)

// WithAuditSink sets the audit destination.
func WithAuditSink(sink AuditSink) ExporterOption {
	return func(e *Exporter) { e.sink = sink }
}

// WithAnnouncer sets the announcement scheduler.
func WithAnnouncer(a Announcer) ExporterOption {
	return func(e *Exporter) { e.announcer = a }
}

// NewExporter creates an Exporter.
func NewExporter(platform messaging.Platform, router *messaging.Router, opts ...ExporterOption) *Exporter {
	e := &Exporter{
		platform: platform,
		router:   router,
		textOnly: !messaging.SupportsComponents(platform),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export publishes rec. Only the origin message is sent synchronously.
func (e *Exporter) Export(ctx context.Context, rec models.SummaryRecord) {
	msg := models.OutgoingMessage{Embed: SummaryEmbed(rec)}
	if err := e.platform.SendMessage(ctx, rec.ChannelID, msg); err != nil {
		slog.Error("Exporter.Export origin delivery failed", "error", err, "setupID", rec.ID, "channelID", rec.ChannelID)
	}

	if e.sink != nil {
		e.background("audit", rec, func(ctx context.Context) error { return e.sink.Deliver(ctx, rec) })
	}
	if e.announcer != nil && rec.UpdateChannelID != "" {
		e.background("announce", rec, func(ctx context.Context) error { return e.announcer.Schedule(ctx, rec) })
	}

	e.offerPrivateCopy(ctx, rec, msg)
}

// Wait blocks until background deliveries have finished.
func (e *Exporter) Wait() {
	e.wg.Wait()
}

func (e *Exporter) background(name string, rec models.SummaryRecord, fn func(ctx context.Context) error) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), SinkTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			slog.Warn("Exporter background delivery failed", "target", name, "error", err, "setupID", rec.ID)
			return
		}
		slog.Debug("Exporter background delivery done", "target", name, "setupID", rec.ID)
	}()
}

func (e *Exporter) offerPrivateCopy(ctx context.Context, rec models.SummaryRecord, summary models.OutgoingMessage) {
	promptID := "tp:copy:" + shortID(rec.ID)
	prompt := models.ChoicePrompt{
		ID:      promptID,
		Message: models.OutgoingMessage{Content: MsgPrivateCopy},
		Style:   models.ChoiceStyleButtons,
		Options: []models.Option{{Label: "Yes", Value: "yes"}, {Label: "No", Value: "no"}},
	}
	if err := e.platform.SendChoices(ctx, rec.ChannelID, prompt); err != nil {
		slog.Warn("Exporter private copy offer failed", "error", err, "setupID", rec.ID)
		return
	}

	spec := messaging.ListenerSpec{
		UserID:     rec.UserID,
		ChannelID:  rec.ChannelID,
		PromptID:   promptID,
		AcceptText: e.textOnly,
		Timeout:    PrivateCopyTimeout,
	}
	onAnswer := func(ctx context.Context, evt models.Event) {
		opt, ok := extractAnswer(models.QuestionSpec{Kind: models.KindButtons}, prompt.Options, evt, promptID)
		accepted := ok && strings.EqualFold(opt.Value, "yes")
		reply := MsgPrivateDeclined
		if accepted {
			if err := e.platform.SendPrivate(ctx, rec.UserID, summary); err != nil {
				slog.Warn("Exporter private copy delivery failed", "error", err, "setupID", rec.ID, "userID", rec.UserID)
				reply = "❌ I couldn't message you privately. Check your privacy settings."
			} else {
				reply = MsgPrivateSent
			}
		}
		if evt.Kind == models.EventComponent {
			err := e.platform.Respond(ctx, evt, models.OutgoingMessage{Content: reply}, false)
			if err != nil {
				slog.Debug("Exporter private copy acknowledge failed", "error", err)
			}
		}
		slog.Debug("Exporter private copy answered", "setupID", rec.ID, "accepted", accepted)
	}
	onTimeout := func() {
		slog.Debug("Exporter private copy offer expired", "setupID", rec.ID)
	}
	if _, err := e.router.Await(spec, onAnswer, onTimeout); err != nil {
		slog.Warn("Exporter failed to arm private copy listener", "error", err, "setupID", rec.ID)
	}
}
