// Package audit delivers completed tournament setups to operator-facing sinks:
// a log channel on the chat platform, the database and a Twilio notification.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/BTreeMap/TourneyPipe/internal/flow"
	"github.com/BTreeMap/TourneyPipe/internal/messaging"
	"github.com/BTreeMap/TourneyPipe/internal/models"
	"github.com/BTreeMap/TourneyPipe/internal/store"
	"github.com/BTreeMap/TourneyPipe/internal/twiliowhatsapp"
	"golang.org/x/sync/errgroup"
)

// ErrNotTextChannel is returned when the log channel cannot hold messages.
var ErrNotTextChannel = errors.New("log channel is not text-based")

// ChannelSink mirrors the summary into a fixed log channel.
type ChannelSink struct {
	platform  messaging.Platform
	channelID string
}

var _ flow.AuditSink = (*ChannelSink)(nil)

// NewChannelSink creates a sink posting to channelID on platform.
func NewChannelSink(platform messaging.Platform, channelID string) *ChannelSink {
	return &ChannelSink{platform: platform, channelID: channelID}
}

// Deliver posts "📥 New setup by <user>" with the summary embed.
func (c *ChannelSink) Deliver(ctx context.Context, rec models.SummaryRecord) error {
	ch, err := c.platform.FetchChannel(ctx, c.channelID)
	if err != nil {
		return fmt.Errorf("fetch log channel %s: %w", c.channelID, err)
	}
	if !ch.TextBased {
		return fmt.Errorf("%w: %s", ErrNotTextChannel, c.channelID)
	}
	embed := flow.SummaryEmbed(rec)
	msg := models.OutgoingMessage{
		Content: "📥 New setup by " + mention(rec),
		Embed:   &embed,
	}
	if err := c.platform.SendMessage(ctx, ch.ID, msg); err != nil {
		return fmt.Errorf("mirror summary to %s: %w", ch.ID, err)
	}
	slog.Debug("ChannelSink.Deliver: summary mirrored", "setupID", rec.ID, "channelID", ch.ID)
	return nil
}

// mention renders the setup author the way the origin platform links users.
func mention(rec models.SummaryRecord) string {
	if rec.Platform == "discord" {
		return "<@" + rec.UserID + ">"
	}
	return rec.UserID
}

// StoreSink persists the summary record.
type StoreSink struct {
	repo store.SetupRepo
}

var _ flow.AuditSink = (*StoreSink)(nil)

// NewStoreSink creates a sink saving into repo.
func NewStoreSink(repo store.SetupRepo) *StoreSink {
	return &StoreSink{repo: repo}
}

func (s *StoreSink) Deliver(ctx context.Context, rec models.SummaryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.repo.SaveSetup(rec); err != nil {
		return fmt.Errorf("save setup %s: %w", rec.ID, err)
	}
	slog.Debug("StoreSink.Deliver: setup saved", "setupID", rec.ID)
	return nil
}

// NotifySink sends a one-line digest to an operator phone number.
type NotifySink struct {
	sender twiliowhatsapp.Sender
	to     string
}

var _ flow.AuditSink = (*NotifySink)(nil)

// NewNotifySink creates a sink texting to through sender.
func NewNotifySink(sender twiliowhatsapp.Sender, to string) *NotifySink {
	return &NotifySink{sender: sender, to: to}
}

func (n *NotifySink) Deliver(ctx context.Context, rec models.SummaryRecord) error {
	if n.to == "" {
		return models.ErrEmptyRecipient
	}
	return n.sender.SendMessage(ctx, n.to, Digest(rec))
}

// Digest summarises a setup in one line.
func Digest(rec models.SummaryRecord) string {
	name, ok := rec.Value(flow.KeyTournamentName)
	if !ok || strings.TrimSpace(name) == "" {
		name = "Untitled tournament"
	}
	parts := []string{fmt.Sprintf("🏆 %s set up by %s on %s", name, rec.UserID, rec.Platform)}
	if rec.StartsAt != nil {
		parts = append(parts, "starts "+rec.StartsAt.Format("Mon Jan 2 15:04 MST"))
	}
	parts = append(parts, fmt.Sprintf("%d answers", len(rec.Entries)))
	return strings.Join(parts, ", ")
}

// Multi fans a record out to several sinks concurrently.
type Multi struct {
	sinks []flow.AuditSink
}

var _ flow.AuditSink = (*Multi)(nil)

// NewMulti combines sinks, ignoring nil entries.
func NewMulti(sinks ...flow.AuditSink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Len reports how many sinks are attached.
func (m *Multi) Len() int { return len(m.sinks) }

// Deliver runs every sink and joins their errors. One failing sink never
// prevents the others from running.
func (m *Multi) Deliver(ctx context.Context, rec models.SummaryRecord) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, sink := range m.sinks {
		g.Go(func() error {
			if err := sink.Deliver(ctx, rec); err != nil {
				slog.Warn("audit.Multi: sink failed", "sink", fmt.Sprintf("%T", sink), "setupID", rec.ID, "error", err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
