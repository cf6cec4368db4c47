package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/TourneyPipe/internal/models"
	"github.com/BTreeMap/TourneyPipe/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleDaySetupCompletes(t *testing.T) {
	h := newHarness(t, testutil.NewFakePlatform())
	h.start("u1")
	assert.True(t, h.platform.Contains(MsgStarting))
	assert.Equal(t, "tournamentName", h.current("u1"))

	script := baseScript()
	h.finish("u1", script)

	assert.Equal(t, 0, len(h.conductor.ActiveSessions()))
	records := h.sink.Records()
	require.Len(t, records, 1)
	rec := records[0]

	assert.Equal(t, []string{
		"tournamentName", "discordServerName", KeyStartDate, KeyStartTime, KeyMultiDay,
		KeyMainEvent, KeyGameMode, "rankSplits", "rules", "region", "prizeDistribution",
		KeyUpdates, KeyStreaming, "promoMaterials", "contact",
	}, rec.Keys())
	for _, e := range rec.Entries {
		assert.Equal(t, script[e.Key], e.Value, e.Key)
	}
	_, hasEnd := rec.Value(KeyEndDate)
	assert.False(t, hasEnd)

	require.NotNil(t, rec.StartsAt)
	assert.True(t, rec.StartsAt.Equal(time.Date(2026, time.March, 3, 18, 0, 0, 0, testLoc)))
	assert.Nil(t, rec.EndsAt)
	assert.True(t, h.platform.Contains(MsgSummaryTitle))
	assert.True(t, h.platform.Contains(MsgPrivateCopy))
	assert.Empty(t, h.announcer.Records(), "updates=No must not schedule announcements")
}

func TestMultiDayEndBeforeStartRewinds(t *testing.T) {
	h := newHarness(t, testutil.NewFakePlatform())
	script := baseScript()
	script[KeyMultiDay] = "Yes"
	script[KeyEndDate] = "2026-03-03"
	script[KeyEndTime] = "17:00"

	h.start("u1")
	h.answerUntil("u1", script, KeyEndTime)
	h.answer("u1", script[KeyEndTime])

	assert.True(t, h.platform.Contains("End must be after start"))
	assert.Equal(t, KeyEndDate, h.current("u1"), "rewind re-asks the end date")
	s := h.session("u1")
	_, hasEndDate := s.Answers[KeyEndDate]
	assert.False(t, hasEndDate)

	h.answer("u1", "2026-03-04")
	assert.Equal(t, KeyEndTime, h.current("u1"), "end time is asked again after the end date")
	h.answer("u1", "12:00")
	assert.Equal(t, KeyMainEvent, h.current("u1"))

	h.finish("u1", script)
	rec := h.sink.Records()[0]
	v, _ := rec.Value(KeyEndDate)
	assert.Equal(t, "2026-03-04", v)
	require.NotNil(t, rec.EndsAt)
	assert.True(t, rec.EndsAt.After(*rec.StartsAt))
}

func TestEndDateOptionsBoundedByStartDate(t *testing.T) {
	h := newHarness(t, testutil.NewFakePlatform())
	script := baseScript()
	script[KeyMultiDay] = "Yes"
	script[KeyStartDate] = "2026-03-10"

	h.start("u1")
	h.answerUntil("u1", script, KeyEndDate)
	prompt, ok := h.platform.LastChoices()
	require.True(t, ok)
	require.NotEmpty(t, prompt.Options)
	assert.Equal(t, "2026-03-10", prompt.Options[0].Value)
	assert.LessOrEqual(t, len(prompt.Options), MaxDateCandidates)
}

func TestOtherGameModeAsksForName(t *testing.T) {
	h := newHarness(t, testutil.NewFakePlatform())
	script := baseScript()
	script[KeyGameMode] = "Other"
	script[KeyGameModeOther] = "Heatseeker"

	h.start("u1")
	h.answerUntil("u1", script, KeyGameMode)
	h.answer("u1", "Other")
	assert.Equal(t, KeyGameModeOther, h.current("u1"))

	h.finish("u1", script)
	v, ok := h.sink.Records()[0].Value(KeyGameModeOther)
	assert.True(t, ok)
	assert.Equal(t, "Heatseeker", v)
}

func TestNoMainEventSkipsGroup(t *testing.T) {
	h := newHarness(t, testutil.NewFakePlatform())
	h.start("u1")
	h.answerUntil("u1", baseScript(), KeyMainEvent)
	h.answer("u1", "No")

	assert.Equal(t, KeyGameMode, h.current("u1"))
	s := h.session("u1")
	for _, key := range h.conductor.reg.Group(GroupMainEvent) {
		assert.True(t, s.SkipOverrides[key], key)
	}
}

func TestMainEventYesAsksGroup(t *testing.T) {
	h := newHarness(t, testutil.NewFakePlatform())
	script := baseScript()
	script[KeyMainEvent] = "Yes"
	script["mainEventFormat"] = "Double Elimination"
	script["teamsAdvancing"] = "8"
	script["mainEventBO"] = "Best of 5"
	script["seeding"] = "Yes"

	h.start("u1")
	h.finish("u1", script)
	rec := h.sink.Records()[0]
	for _, key := range []string{"mainEventFormat", "teamsAdvancing", "mainEventBO", "seeding"} {
		v, ok := rec.Value(key)
		assert.True(t, ok, key)
		assert.Equal(t, script[key], v)
	}
}

func TestTimeoutDestroysSessionOnce(t *testing.T) {
	h := newHarness(t, testutil.NewFakePlatform())
	h.start("u1")

	h.timer.Advance(DefaultNudgeAfter)
	assert.Equal(t, 1, h.platform.Count(MsgNudge))
	assert.Equal(t, "tournamentName", h.current("u1"))

	h.timer.Advance(DefaultAnswerTimeout - DefaultNudgeAfter)
	assert.Equal(t, 1, h.platform.Count(MsgTimedOut))
	assert.Equal(t, "", h.current("u1"))
	assert.Equal(t, 0, h.router.PendingCount())

	h.timer.Advance(time.Hour)
	assert.Equal(t, 1, h.platform.Count(MsgTimedOut))
	assert.Equal(t, 0, h.timer.Pending())
}

func TestAnswerResetsDeadline(t *testing.T) {
	h := newHarness(t, testutil.NewFakePlatform())
	h.start("u1")
	h.timer.Advance(4 * time.Minute)
	h.answer("u1", "Spring Cup")

	h.timer.Advance(4 * time.Minute)
	assert.Equal(t, "discordServerName", h.current("u1"))
	assert.Equal(t, 0, h.platform.Count(MsgTimedOut))
}

func TestUnresolvableUpdateChannelAborts(t *testing.T) {
	h := newHarness(t, testutil.NewFakePlatform())
	script := baseScript()
	script[KeyUpdates] = "Yes"

	h.start("u1")
	h.answerUntil("u1", script, KeyUpdateChannel)
	h.answer("u1", "the general channel please")

	assert.Equal(t, "", h.current("u1"))
	assert.Equal(t, 1, h.platform.Count("Please @mention a valid channel"))
	assert.False(t, h.platform.Contains(MsgSummaryTitle))
	h.exporter.Wait()
	assert.Empty(t, h.sink.Records())
}

func TestNonTextUpdateChannelAborts(t *testing.T) {
	h := newHarness(t, testutil.NewFakePlatform())
	script := baseScript()
	script[KeyUpdates] = "Yes"

	h.start("u1")
	h.answerUntil("u1", script, KeyUpdateChannel)
	h.answer("u1", "<#777>")
	assert.Equal(t, "", h.current("u1"))
}

func TestUpdateChannelSchedulesAnnouncements(t *testing.T) {
	h := newHarness(t, testutil.NewFakePlatform())
	script := baseScript()
	script[KeyUpdates] = "Yes"
	script[KeyUpdateChannel] = "<#" + testUpdateChannel + ">"

	h.start("u1")
	h.finish("u1", script)

	scheduled := h.announcer.Records()
	require.Len(t, scheduled, 1)
	assert.Equal(t, testUpdateChannel, scheduled[0].UpdateChannelID)
}

func TestStartWhileActive(t *testing.T) {
	h := newHarness(t, testutil.NewFakePlatform())
	h.start("u1")

	err := h.conductor.Start(context.Background(), setupEvent("u1"))
	assert.True(t, errors.Is(err, models.ErrAlreadyActive))
	assert.Len(t, h.conductor.ActiveSessions(), 1)

	h.router.Dispatch(context.Background(), setupEvent("u1"))
	assert.True(t, h.platform.Contains(MsgAlreadyActive))
}

func TestStartAuthorization(t *testing.T) {
	h := newHarness(t, testutil.NewFakePlatform())

	evt := setupEvent("u1")
	evt.Privileged = false
	err := h.conductor.Start(context.Background(), evt)
	assert.True(t, errors.Is(err, models.ErrUnauthorized))
	assert.Empty(t, h.conductor.ActiveSessions())

	h.router.Dispatch(context.Background(), evt)
	assert.True(t, h.platform.Contains(MsgUnauthorized))

	evt.Roles = []string{"organizer"}
	require.NoError(t, h.conductor.Start(context.Background(), evt))
	assert.Len(t, h.conductor.ActiveSessions(), 1)
}

func TestCancel(t *testing.T) {
	h := newHarness(t, testutil.NewFakePlatform())
	ctx := context.Background()

	assert.True(t, errors.Is(h.conductor.Cancel(ctx, "u1"), models.ErrNoActiveSession))

	h.start("u1")
	h.router.Dispatch(ctx, models.Event{Kind: models.EventCommand, Command: models.CommandCancel, UserID: "u1", ChannelID: testChannel})
	assert.True(t, h.platform.Contains(MsgCancelled))
	assert.Equal(t, "", h.current("u1"))
	assert.Equal(t, 0, h.router.PendingCount())
	assert.Equal(t, 0, h.timer.Pending())

	// A late answer after cancel is ignored.
	h.router.Dispatch(ctx, models.Event{Kind: models.EventText, UserID: "u1", ChannelID: testChannel, Text: "Spring Cup"})
	assert.Empty(t, h.conductor.ActiveSessions())

	// The user may start over.
	h.start("u1")
}

func TestConcurrentUsersAreIndependent(t *testing.T) {
	h := newHarness(t, testutil.NewTextOnlyPlatform())
	h.start("u1")
	h.start("u2")

	h.answerUntil("u1", baseScript(), KeyMultiDay)
	h.answer("u1", "Yes")
	h.answerUntil("u2", baseScript(), KeyMultiDay)
	h.answer("u2", "No")

	assert.Equal(t, KeyEndDate, h.current("u1"))
	assert.Equal(t, KeyMainEvent, h.current("u2"))
}

func TestTextOnlyChoiceAnswers(t *testing.T) {
	h := newHarness(t, testutil.NewTextOnlyPlatform())
	h.start("u1")
	h.answerUntil("u1", baseScript(), KeyGameMode)

	// Unknown reply re-renders the prompt with a hint.
	h.answer("u1", "Polo")
	assert.True(t, h.platform.Contains(MsgPickAnOption))
	assert.Equal(t, KeyGameMode, h.current("u1"))

	// Position and case-insensitive label both match.
	h.answer("u1", "3")
	assert.Equal(t, "rankSplits", h.current("u1"))
	h.answer("u1", "yes")
	s := h.session("u1")
	assert.Equal(t, "3s", s.Answers[KeyGameMode])
	assert.Equal(t, "Yes", s.Answers["rankSplits"])
}

func TestComponentAnswerIsAcknowledged(t *testing.T) {
	h := newHarness(t, testutil.NewFakePlatform())
	h.start("u1")
	h.answerUntil("u1", baseScript(), KeyStartDate)
	h.answer("u1", "2026-03-03")
	h.answer("u1", "18:00")

	assert.True(t, h.platform.Contains("Date set to **Tomorrow**"))
	assert.True(t, h.platform.Contains("You chose **6:00 PM EST**"))
}

func TestForeignComponentIgnored(t *testing.T) {
	h := newHarness(t, testutil.NewFakePlatform())
	h.start("u1")
	h.answerUntil("u1", baseScript(), KeyStartDate)
	prompt, _ := h.platform.LastChoices()

	// Another user pressing the same prompt is not routed to u1's listener.
	h.router.Dispatch(context.Background(), models.Event{Kind: models.EventComponent, UserID: "u2", ChannelID: testChannel, CustomID: prompt.ID, Values: []string{"2026-03-03"}})
	assert.Equal(t, KeyStartDate, h.current("u1"))
}

func TestPrivateCopy(t *testing.T) {
	h := newHarness(t, testutil.NewFakePlatform())
	h.start("u1")
	h.finish("u1", baseScript())

	prompt, ok := h.platform.LastChoices()
	require.True(t, ok)
	require.Equal(t, MsgPrivateCopy, prompt.Message.Content)

	h.router.Dispatch(context.Background(), models.Event{Kind: models.EventComponent, UserID: "u1", ChannelID: testChannel, CustomID: prompt.ID + ":yes"})
	var private int
	for _, s := range h.platform.Sent() {
		if s.Kind == "private" {
			private++
			require.NotNil(t, s.Message.Embed)
			assert.Equal(t, MsgSummaryTitle, s.Message.Embed.Title)
		}
	}
	assert.Equal(t, 1, private)
}

func TestPrivateCopyExpires(t *testing.T) {
	h := newHarness(t, testutil.NewFakePlatform())
	h.start("u1")
	h.finish("u1", baseScript())
	require.Equal(t, 1, h.router.PendingCount())

	h.timer.Advance(PrivateCopyTimeout)
	assert.Equal(t, 0, h.router.PendingCount())
	for _, s := range h.platform.Sent() {
		assert.NotEqual(t, "private", s.Kind)
	}
}

func TestAuditFailureDoesNotAffectUser(t *testing.T) {
	h := newHarness(t, testutil.NewFakePlatform())
	h.sink.err = errors.New("log channel gone")
	h.start("u1")
	h.finish("u1", baseScript())
	assert.True(t, h.platform.Contains(MsgSummaryTitle))
	assert.Len(t, h.sink.Records(), 1)
}

func TestDeliveryFailureEndsByTimeout(t *testing.T) {
	h := newHarness(t, testutil.NewFakePlatform())
	h.platform.FailSends(models.ErrDeliveryFailure)
	require.NoError(t, h.conductor.Start(context.Background(), setupEvent("u1")))
	assert.Len(t, h.conductor.ActiveSessions(), 1)

	h.timer.Advance(DefaultAnswerTimeout)
	assert.Empty(t, h.conductor.ActiveSessions())
}

func TestInvalidRuleTableRejected(t *testing.T) {
	reg, err := NewRegistry([]models.QuestionSpec{{Key: "only", Kind: models.KindText, Prompt: "?"}})
	require.NoError(t, err)
	_, err = NewConductor(reg, NewSessionStore(), testutil.NewFakePlatform(), nil, testutil.NewManualTimer(), nil)
	assert.True(t, errors.Is(err, models.ErrUnknownQuestion))
}

func TestMentionGreeting(t *testing.T) {
	h := newHarness(t, testutil.NewFakePlatform())
	h.router.Dispatch(context.Background(), models.Event{Platform: "discord", Kind: models.EventMention, UserID: "u9", ChannelID: testChannel, Text: "<@bot>"})
	assert.True(t, h.platform.Contains("Hey <@u9>! Ready to build your next Rocket League tournament?"))
}

func TestInfoAndHelpCommands(t *testing.T) {
	h := newHarness(t, testutil.NewFakePlatform())
	ctx := context.Background()
	h.router.Dispatch(ctx, models.Event{Kind: models.EventCommand, Command: models.CommandPing, UserID: "u1", ChannelID: testChannel})
	h.router.Dispatch(ctx, models.Event{Kind: models.EventCommand, Command: models.CommandHelp, UserID: "u1", ChannelID: testChannel})
	h.router.Dispatch(ctx, models.Event{Kind: models.EventCommand, Command: models.CommandInfo, UserID: "u1", ChannelID: testChannel})

	assert.True(t, h.platform.Contains("🏓 Pong!"))
	assert.True(t, h.platform.Contains("/setup: Start the tournament setup wizard"))
	assert.True(t, h.platform.Contains("About TourneyPipe"))
}
