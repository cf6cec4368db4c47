package flow

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/TourneyPipe/internal/models"
)

// Keys of the default questionnaire referenced by the rule table.
const (
	KeyTournamentName = "tournamentName"
	KeyStartDate      = "startDate"
	KeyStartTime      = "startTime"
	KeyMultiDay       = "multiDay"
	KeyEndDate        = "endDate"
	KeyEndTime        = "endTime"
	KeyMainEvent      = "mainEvent"
	KeyGameMode       = "gameMode"
	KeyGameModeOther  = "gameModeOther"
	KeyUpdates        = "updates"
	KeyUpdateChannel  = "updateChannel"
	KeyStreaming      = "streaming"
	KeyStreamingLink  = "streamingLink"

	GroupMainEvent = "main_event"

	gameModeOther = "Other"
)

// Verdict is the result of evaluating the rules of one answer.
type Verdict int

const (
	// Accept records the answer and advances.
	Accept Verdict = iota
	// Rewind moves the cursor back to Outcome.RewindTo and re-asks from there.
	Rewind
	// Abort destroys the session.
	Abort
)

// Outcome describes what should happen after an answer was recorded.
type Outcome struct {
	Verdict  Verdict
	RewindTo string
	Message  string
}

// ChannelResolver finds a channel referenced in free text.
type ChannelResolver func(ctx context.Context, evt models.Event, text string) (models.Channel, bool)

// RuleContext is the input of a rule.
type RuleContext struct {
	Ctx      context.Context
	Registry *Registry
	Session  *Session
	Key      string
	Answer   string
	Event    models.Event
	Location *time.Location
	Resolve  ChannelResolver
}

// Rule is one row of the conditional rule table.
type Rule struct {
	Name    string
	Trigger string
	// Keys lists the questions the rule touches; checked against the registry at startup.
	Keys []string
	Eval func(rc *RuleContext) Outcome
}

// DefaultRules returns the tournament questionnaire rules.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:    "multi-day asks for end date and time",
			Trigger: KeyMultiDay,
			Keys:    []string{KeyEndDate, KeyEndTime},
			Eval:    toggle(isAffirmative, KeyEndDate, KeyEndTime),
		},
		{
			Name:    "end must be after start",
			Trigger: KeyEndTime,
			Keys:    []string{KeyStartDate, KeyStartTime, KeyEndDate},
			Eval:    endAfterStart,
		},
		{
			Name:    "other game mode needs a name",
			Trigger: KeyGameMode,
			Keys:    []string{KeyGameModeOther},
			Eval: toggle(func(a string) bool {
				return strings.EqualFold(strings.TrimSpace(a), gameModeOther)
			}, KeyGameModeOther),
		},
		{
			Name:    "no main event skips its sub-flow",
			Trigger: KeyMainEvent,
			Eval: func(rc *RuleContext) Outcome {
				keys := rc.Registry.Group(GroupMainEvent)
				if isNegative(rc.Answer) {
					rc.Session.Skip(keys...)
				} else if isAffirmative(rc.Answer) {
					rc.Session.Unskip(keys...)
				}
				return Outcome{}
			},
		},
		{
			Name:    "no updates skips the update channel",
			Trigger: KeyUpdates,
			Keys:    []string{KeyUpdateChannel},
			Eval:    toggle(func(a string) bool { return !isNegative(a) }, KeyUpdateChannel),
		},
		{
			Name:    "update channel must resolve",
			Trigger: KeyUpdateChannel,
			Eval:    resolveUpdateChannel,
		},
		{
			Name:    "streaming asks for a link",
			Trigger: KeyStreaming,
			Keys:    []string{KeyStreamingLink},
			Eval:    toggle(isAffirmative, KeyStreamingLink),
		},
	}
}

// ValidateRules checks that every key used by rules exists in reg.
func ValidateRules(reg *Registry, rules []Rule) error {
	for _, r := range rules {
		if err := reg.Require(append([]string{r.Trigger}, r.Keys...)...); err != nil {
			return err
		}
	}
	return nil
}

// ApplyRules runs every rule triggered by rc.Key. All skip effects are applied
// before the outcome is returned; Abort takes precedence over Rewind.
func ApplyRules(rules []Rule, rc *RuleContext) Outcome {
	result := Outcome{Verdict: Accept}
	for _, r := range rules {
		if r.Trigger != rc.Key {
			continue
		}
		out := r.Eval(rc)
		if out.Verdict > result.Verdict {
			result = out
		}
		if out.Verdict != Accept {
			slog.Debug("Rule rejected answer", "rule", r.Name, "key", rc.Key, "verdict", out.Verdict)
		}
	}
	return result
}

// toggle asks keys when cond holds for the answer and skips them otherwise.
func toggle(cond func(string) bool, keys ...string) func(rc *RuleContext) Outcome {
	return func(rc *RuleContext) Outcome {
		if cond(rc.Answer) {
			rc.Session.Unskip(keys...)
		} else {
			rc.Session.Skip(keys...)
		}
		return Outcome{}
	}
}

func isAffirmative(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "yes", "y", "true":
		return true
	}
	return false
}

func isNegative(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "no", "n", "false":
		return true
	}
	return false
}

func endAfterStart(rc *RuleContext) Outcome {
	a := rc.Session.Answers
	reject := Outcome{Verdict: Rewind, RewindTo: KeyEndDate, Message: "❌ End must be after start. Please re-pick."}

	start, err := Timestamp(a[KeyStartDate], a[KeyStartTime], rc.Location)
	if err != nil {
		slog.Warn("Rule could not build start timestamp", "error", err, "userID", rc.Session.UserID)
		return reject
	}
	end, err := Timestamp(a[KeyEndDate], rc.Answer, rc.Location)
	if err != nil {
		slog.Warn("Rule could not build end timestamp", "error", err, "userID", rc.Session.UserID)
		return reject
	}
	if !end.After(start) {
		return reject
	}
	return Outcome{}
}

func resolveUpdateChannel(rc *RuleContext) Outcome {
	if rc.Resolve != nil {
		if ch, ok := rc.Resolve(rc.Ctx, rc.Event, rc.Answer); ok && ch.TextBased {
			rc.Session.UpdateChannelID = ch.ID
			return Outcome{}
		}
	}
	rc.Session.UpdateChannelID = ""
	return Outcome{Verdict: Abort, Message: "❌ Please @mention a valid channel. Setup has been stopped; run /setup to try again."}
}
