package messaging

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BTreeMap/TourneyPipe/internal/models"
	"github.com/BTreeMap/TourneyPipe/internal/store"
	"github.com/BTreeMap/TourneyPipe/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestRouter(opts ...RouterOption) (*Router, *testutil.FakePlatform, *testutil.ManualTimer, *CommandRegistry) {
	p := testutil.NewFakePlatform()
	timer := testutil.NewManualTimer()
	cmds := NewCommandRegistry()
	return NewRouter(p, cmds, timer, opts...), p, timer, cmds
}

func TestAwaitAnswerWins(t *testing.T) {
	r, _, timer, _ := newTestRouter()
	var answered, timedOut atomic.Int32

	_, err := r.Await(ListenerSpec{UserID: "u1", ChannelID: "c1", AcceptText: true, Timeout: time.Minute},
		func(ctx context.Context, evt models.Event) { answered.Add(1) },
		func() { timedOut.Add(1) })
	require.NoError(t, err)
	assert.Equal(t, 1, r.PendingCount())

	r.Dispatch(context.Background(), models.Event{Kind: models.EventText, UserID: "u1", ChannelID: "c1", Text: "hi"})
	r.Dispatch(context.Background(), models.Event{Kind: models.EventText, UserID: "u1", ChannelID: "c1", Text: "again"})
	timer.Advance(time.Hour)

	assert.Equal(t, int32(1), answered.Load())
	assert.Equal(t, int32(0), timedOut.Load())
	assert.Equal(t, 0, r.PendingCount())
	assert.Equal(t, 0, timer.Pending())
}

func TestAwaitTimeoutWins(t *testing.T) {
	r, _, timer, _ := newTestRouter()
	var answered, timedOut atomic.Int32

	_, err := r.Await(ListenerSpec{UserID: "u1", ChannelID: "c1", AcceptText: true, Timeout: time.Minute},
		func(ctx context.Context, evt models.Event) { answered.Add(1) },
		func() { timedOut.Add(1) })
	require.NoError(t, err)

	timer.Advance(time.Minute)
	r.Dispatch(context.Background(), models.Event{Kind: models.EventText, UserID: "u1", ChannelID: "c1", Text: "late"})

	assert.Equal(t, int32(0), answered.Load())
	assert.Equal(t, int32(1), timedOut.Load())
}

func TestPendingCancel(t *testing.T) {
	r, _, timer, _ := newTestRouter()
	var calls atomic.Int32
	p, err := r.Await(ListenerSpec{UserID: "u1", AcceptText: true, Timeout: time.Minute},
		func(ctx context.Context, evt models.Event) { calls.Add(1) },
		func() { calls.Add(1) })
	require.NoError(t, err)

	assert.True(t, p.Cancel())
	assert.False(t, p.Cancel(), "second cancel reports the listener already ended")
	timer.Advance(time.Hour)
	r.Dispatch(context.Background(), models.Event{Kind: models.EventText, UserID: "u1", Text: "x"})
	assert.Equal(t, int32(0), calls.Load())
}

func TestListenerMatching(t *testing.T) {
	tests := []struct {
		name  string
		spec  ListenerSpec
		evt   models.Event
		match bool
	}{
		{"text accepted", ListenerSpec{UserID: "u1", ChannelID: "c1", AcceptText: true}, models.Event{Kind: models.EventText, UserID: "u1", ChannelID: "c1"}, true},
		{"text refused", ListenerSpec{UserID: "u1", ChannelID: "c1", PromptID: "p"}, models.Event{Kind: models.EventText, UserID: "u1", ChannelID: "c1"}, false},
		{"other user", ListenerSpec{UserID: "u1", AcceptText: true}, models.Event{Kind: models.EventText, UserID: "u2"}, false},
		{"other channel", ListenerSpec{UserID: "u1", ChannelID: "c1", AcceptText: true}, models.Event{Kind: models.EventText, UserID: "u1", ChannelID: "c2"}, false},
		{"select menu", ListenerSpec{UserID: "u1", PromptID: "tp:1"}, models.Event{Kind: models.EventComponent, UserID: "u1", CustomID: "tp:1"}, true},
		{"button", ListenerSpec{UserID: "u1", PromptID: "tp:1"}, models.Event{Kind: models.EventComponent, UserID: "u1", CustomID: "tp:1:Yes"}, true},
		{"other prompt", ListenerSpec{UserID: "u1", PromptID: "tp:1"}, models.Event{Kind: models.EventComponent, UserID: "u1", CustomID: "tp:12:Yes"}, false},
		{"mention as text", ListenerSpec{UserID: "u1", AcceptText: true}, models.Event{Kind: models.EventMention, UserID: "u1"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, _, _ := newTestRouter()
			var got atomic.Int32
			_, err := r.Await(tt.spec, func(ctx context.Context, evt models.Event) { got.Add(1) }, nil)
			require.NoError(t, err)
			r.Dispatch(context.Background(), tt.evt)
			assert.Equal(t, tt.match, got.Load() == 1)
		})
	}
}

func TestNewestListenerFirst(t *testing.T) {
	r, _, _, _ := newTestRouter()
	var order []string
	_, _ = r.Await(ListenerSpec{UserID: "u1", AcceptText: true}, func(ctx context.Context, evt models.Event) { order = append(order, "old") }, nil)
	_, _ = r.Await(ListenerSpec{UserID: "u1", AcceptText: true}, func(ctx context.Context, evt models.Event) { order = append(order, "new") }, nil)

	r.Dispatch(context.Background(), models.Event{Kind: models.EventText, UserID: "u1"})
	r.Dispatch(context.Background(), models.Event{Kind: models.EventText, UserID: "u1"})
	assert.Equal(t, []string{"new", "old"}, order)
}

func TestCancelUser(t *testing.T) {
	r, _, timer, _ := newTestRouter()
	for i := 0; i < 3; i++ {
		_, _ = r.Await(ListenerSpec{UserID: "u1", AcceptText: true, Timeout: time.Minute}, func(context.Context, models.Event) {}, nil)
	}
	_, _ = r.Await(ListenerSpec{UserID: "u2", AcceptText: true, Timeout: time.Minute}, func(context.Context, models.Event) {}, nil)

	assert.Equal(t, 3, r.CancelUser("u1"))
	assert.Equal(t, 1, r.PendingCount())
	assert.Equal(t, 1, timer.Pending())
}

func TestDispatchCommandsAndMentions(t *testing.T) {
	r, _, _, cmds := newTestRouter()
	var commands, mentions atomic.Int32
	require.NoError(t, cmds.Register(CommandSpec{Name: "ping", Handler: func(context.Context, models.Event) error {
		commands.Add(1)
		return nil
	}}))
	cmds.OnMention(func(context.Context, models.Event) error {
		mentions.Add(1)
		return nil
	})

	r.Dispatch(context.Background(), models.Event{Kind: models.EventCommand, Command: "ping", UserID: "u1"})
	r.Dispatch(context.Background(), models.Event{Kind: models.EventCommand, Command: "unknown", UserID: "u1"})
	r.Dispatch(context.Background(), models.Event{Kind: models.EventMention, UserID: "u1"})
	assert.Equal(t, int32(1), commands.Load())
	assert.Equal(t, int32(1), mentions.Load())

	// A pending text listener takes the mention instead of the greeting.
	_, _ = r.Await(ListenerSpec{UserID: "u1", AcceptText: true}, func(context.Context, models.Event) {}, nil)
	r.Dispatch(context.Background(), models.Event{Kind: models.EventMention, UserID: "u1"})
	assert.Equal(t, int32(1), mentions.Load())
}

func TestDispatchDropsDuplicates(t *testing.T) {
	dedup := store.NewInMemoryStore()
	r, _, _, cmds := newTestRouter(WithDedup(dedup))
	var calls atomic.Int32
	require.NoError(t, cmds.Register(CommandSpec{Name: "ping", Handler: func(context.Context, models.Event) error {
		calls.Add(1)
		return nil
	}}))

	evt := models.Event{ID: "evt-1", Kind: models.EventCommand, Command: "ping", UserID: "u1"}
	r.Dispatch(context.Background(), evt)
	r.Dispatch(context.Background(), evt)
	assert.Equal(t, int32(1), calls.Load())

	seen, err := dedup.IsDuplicate("evt-1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestRouterStartStops(t *testing.T) {
	r, p, _, cmds := newTestRouter()
	handled := make(chan struct{}, 1)
	require.NoError(t, cmds.Register(CommandSpec{Name: "ping", Handler: func(context.Context, models.Event) error {
		handled <- struct{}{}
		return nil
	}}))

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	p.Emit(models.Event{Kind: models.EventCommand, Command: "ping", UserID: "u1"})
	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("event was not dispatched")
	}
	cancel()
	require.NoError(t, p.Stop())
	// goleak in TestMain verifies the loop exits.
	time.Sleep(10 * time.Millisecond)
}

func TestCommandRegistry(t *testing.T) {
	cr := NewCommandRegistry()
	assert.Error(t, cr.Register(CommandSpec{Handler: func(context.Context, models.Event) error { return nil }}))
	assert.Error(t, cr.Register(CommandSpec{Name: "x"}))

	noop := func(context.Context, models.Event) error { return nil }
	require.NoError(t, cr.Register(CommandSpec{Name: "setup", Privileged: true, Handler: noop}))
	require.NoError(t, cr.Register(CommandSpec{Name: "cancel", Handler: noop}))
	assert.True(t, cr.IsRegistered("setup"))
	assert.False(t, cr.IsRegistered("help"))

	list := cr.List()
	require.Len(t, list, 2)
	assert.Equal(t, "cancel", list[0].Name)
	assert.True(t, list[1].Privileged)
}

func TestRenderChoicesText(t *testing.T) {
	text := RenderChoicesText(models.ChoicePrompt{
		Message: models.OutgoingMessage{Embed: &models.Embed{Title: "Question 1 of 2", Description: "Pick one", Footer: "Progress"}},
		Options: []models.Option{{Label: "Yes", Value: "yes"}, {Label: "No", Value: "no"}},
	})
	assert.Contains(t, text, "*Question 1 of 2*")
	assert.Contains(t, text, "Pick one")
	assert.Contains(t, text, "1. Yes\n2. No")
}
