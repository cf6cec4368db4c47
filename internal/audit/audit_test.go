package audit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/TourneyPipe/internal/models"
	"github.com/BTreeMap/TourneyPipe/internal/store"
	"github.com/BTreeMap/TourneyPipe/internal/testutil"
	"github.com/BTreeMap/TourneyPipe/internal/twiliowhatsapp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() models.SummaryRecord {
	start := time.Date(2026, 3, 3, 18, 0, 0, 0, time.UTC)
	return models.SummaryRecord{
		ID:        "setup-1",
		Platform:  "discord",
		UserID:    "42",
		ChannelID: "chan-1",
		Entries: []models.SummaryEntry{
			{Key: "tournamentName", Value: "Spring Cup"},
			{Key: "startDate", Value: "2026-03-03"},
		},
		StartsAt:    &start,
		CompletedAt: start.Add(-24 * time.Hour),
	}
}

func TestChannelSink(t *testing.T) {
	p := testutil.NewFakePlatform()
	p.AddChannel(models.Channel{ID: "log", Name: "setup-log", TextBased: true})
	p.AddChannel(models.Channel{ID: "voice", Name: "lobby"})

	require.NoError(t, NewChannelSink(p, "log").Deliver(context.Background(), sampleRecord()))
	sent := p.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "log", sent[0].ChannelID)
	assert.Equal(t, "📥 New setup by <@42>", sent[0].Message.Content)
	require.NotNil(t, sent[0].Message.Embed)
	assert.Len(t, sent[0].Message.Embed.Fields, 2)

	err := NewChannelSink(p, "voice").Deliver(context.Background(), sampleRecord())
	assert.ErrorIs(t, err, ErrNotTextChannel)
	assert.Error(t, NewChannelSink(p, "missing").Deliver(context.Background(), sampleRecord()))
}

func TestMentionByPlatform(t *testing.T) {
	rec := sampleRecord()
	assert.Equal(t, "<@42>", mention(rec))
	rec.Platform = "whatsapp"
	assert.Equal(t, "42", mention(rec))
}

func TestStoreSink(t *testing.T) {
	repo := store.NewInMemoryStore()
	require.NoError(t, NewStoreSink(repo).Deliver(context.Background(), sampleRecord()))
	got, err := repo.GetSetup("setup-1")
	require.NoError(t, err)
	assert.Equal(t, "Spring Cup", got.Entries[0].Value)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, NewStoreSink(repo).Deliver(ctx, sampleRecord()))
}

func TestNotifySink(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	require.NoError(t, NewNotifySink(mock, "+15550001111").Deliver(context.Background(), sampleRecord()))
	msgs := mock.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "+15550001111", msgs[0].To)
	assert.Contains(t, msgs[0].Body, "Spring Cup set up by 42 on discord")
	assert.Contains(t, msgs[0].Body, "2 answers")

	assert.ErrorIs(t, NewNotifySink(mock, "").Deliver(context.Background(), sampleRecord()), models.ErrEmptyRecipient)
}

func TestDigestWithoutName(t *testing.T) {
	rec := sampleRecord()
	rec.Entries = nil
	rec.StartsAt = nil
	d := Digest(rec)
	assert.True(t, strings.HasPrefix(d, "🏆 Untitled tournament"))
	assert.NotContains(t, d, "starts")
}

type failingSink struct{ err error }

func (f failingSink) Deliver(context.Context, models.SummaryRecord) error { return f.err }

func TestMultiRunsEverySink(t *testing.T) {
	repo := store.NewInMemoryStore()
	boom := errors.New("boom")
	m := NewMulti(failingSink{err: boom}, nil, NewStoreSink(repo))
	assert.Equal(t, 2, m.Len())

	err := m.Deliver(context.Background(), sampleRecord())
	assert.ErrorIs(t, err, boom)
	_, getErr := repo.GetSetup("setup-1")
	assert.NoError(t, getErr, "a failing sink must not stop the others")

	assert.NoError(t, NewMulti().Deliver(context.Background(), sampleRecord()))
}
