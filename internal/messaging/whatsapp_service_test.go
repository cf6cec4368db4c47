package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/TourneyPipe/internal/models"
	"github.com/BTreeMap/TourneyPipe/internal/whatsapp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWhatsApp(opts ...WhatsAppOption) (*WhatsAppService, *whatsapp.MockClient) {
	client := whatsapp.NewMockClient()
	return NewWhatsAppService(client, opts...), client
}

func TestWhatsAppServiceImplementsPlatform(t *testing.T) {
	svc, _ := newWhatsApp()
	assert.Equal(t, PlatformWhatsApp, svc.Name())
	assert.False(t, SupportsComponents(svc))
}

func TestWhatsAppServiceRendersText(t *testing.T) {
	svc, client := newWhatsApp()
	ctx := context.Background()

	require.NoError(t, svc.SendMessage(ctx, "chat@g.us", models.OutgoingMessage{Embed: &models.Embed{Title: "Question 1 of 2", Description: "Name?"}}))
	require.NoError(t, svc.SendChoices(ctx, "chat@g.us", models.ChoicePrompt{
		Message: models.OutgoingMessage{Content: "Multi-day?"},
		Options: []models.Option{{Label: "Yes", Value: "Yes"}, {Label: "No", Value: "No"}},
	}))

	sent := client.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "*Question 1 of 2*\nName?", sent[0].Body)
	assert.Contains(t, sent[1].Body, "1. Yes\n2. No")

	assert.ErrorIs(t, svc.SendMessage(ctx, "", models.OutgoingMessage{Content: "x"}), models.ErrEmptyRecipient)
	assert.ErrorIs(t, svc.SendMessage(ctx, "chat", models.OutgoingMessage{}), models.ErrEmptyBody)

	client.Err = errors.New("offline")
	assert.ErrorIs(t, svc.SendMessage(ctx, "chat", models.OutgoingMessage{Content: "x"}), models.ErrDeliveryFailure)
}

func TestWhatsAppServiceRespond(t *testing.T) {
	svc, client := newWhatsApp()
	ctx := context.Background()
	group := models.Event{UserID: "15550001111", ChannelID: "chat@g.us", GuildID: "chat@g.us"}

	require.NoError(t, svc.Respond(ctx, group, models.OutgoingMessage{Content: "private"}, true))
	require.NoError(t, svc.Respond(ctx, group, models.OutgoingMessage{Content: "public"}, false))
	direct := models.Event{UserID: "15550001111", ChannelID: "15550001111@s.whatsapp.net"}
	require.NoError(t, svc.Respond(ctx, direct, models.OutgoingMessage{Content: "dm"}, true))

	sent := client.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, "15550001111", sent[0].To)
	assert.Equal(t, "chat@g.us", sent[1].To)
	assert.Equal(t, "15550001111@s.whatsapp.net", sent[2].To)
}

func TestWhatsAppServiceEvents(t *testing.T) {
	svc, client := newWhatsApp(WithAdmins([]string{"+15550001111", " "}), WithBotName("TourneyPipe"))
	require.NoError(t, svc.Start(context.Background()))
	at := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	client.Deliver(whatsapp.IncomingMessage{ID: "m1", Chat: "chat@g.us", Sender: "15550001111", Text: "/Setup please", IsGroup: true, Time: at})
	client.Deliver(whatsapp.IncomingMessage{ID: "m2", Chat: "chat@g.us", Sender: "15550002222", Text: "hey @tourneypipe", IsGroup: true})
	client.Deliver(whatsapp.IncomingMessage{ID: "m3", Chat: "15550002222@s.whatsapp.net", Sender: "15550002222", Text: " 2 "})

	cmd := <-svc.Events()
	assert.Equal(t, models.EventCommand, cmd.Kind)
	assert.Equal(t, models.CommandSetup, cmd.Command)
	assert.True(t, cmd.Privileged)
	assert.Equal(t, "chat@g.us", cmd.GuildID)
	assert.Equal(t, at, cmd.Time)

	mention := <-svc.Events()
	assert.Equal(t, models.EventMention, mention.Kind)
	assert.False(t, mention.Privileged)

	text := <-svc.Events()
	assert.Equal(t, models.EventText, text.Kind)
	assert.Equal(t, "2", text.Text)
	assert.Empty(t, text.GuildID)

	require.NoError(t, svc.Stop())
	require.NoError(t, svc.Stop())
	client.Deliver(whatsapp.IncomingMessage{ID: "late", Text: "ignored"})
	_, ok := <-svc.Events()
	assert.False(t, ok)
}

func TestWhatsAppResolveChannelMention(t *testing.T) {
	svc, _ := newWhatsApp()
	evt := models.Event{ChannelID: "origin@g.us"}
	tests := []struct {
		text string
		id   string
		ok   bool
	}{
		{"here", "origin@g.us", true},
		{"This group", "origin@g.us", true},
		{"post to 120363000000000000@g.us", "120363000000000000@g.us", true},
		{"+15550003333", "15550003333", true},
		{"#general", "", false},
	}
	for _, tt := range tests {
		ch, ok := svc.ResolveChannelMention(context.Background(), evt, tt.text)
		assert.Equal(t, tt.ok, ok, tt.text)
		assert.Equal(t, tt.id, ch.ID, tt.text)
	}
}

func TestParseCommand(t *testing.T) {
	tests := map[string]string{"/setup": "setup", "/CANCEL now": "cancel", "/": "", "setup": ""}
	for in, want := range tests {
		got, ok := parseCommand(in)
		assert.Equal(t, want != "", ok, in)
		assert.Equal(t, want, got, in)
	}
}
