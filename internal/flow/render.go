package flow

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/TourneyPipe/internal/models"
)

// User-facing texts.
const (
	MsgStarting        = "📝 Starting setup…"
	MsgCancelled       = "🛑 Setup cancelled."
	MsgNoSession       = "ℹ️ You don't have an active setup. Start one with /setup."
	MsgAlreadyActive   = "⚠️ You already have a setup in progress. Finish it or use /cancel."
	MsgUnauthorized    = "🚫 You need the Manage Server permission or the organizer role to run setup."
	MsgNudge           = "⏳ Still there? Answer the question above to continue."
	MsgTimedOut        = "⏰ Time's up! Restart with /setup"
	MsgPickAnOption    = "🤔 Please pick one of the listed options."
	MsgEmptyAnswer     = "✏️ Please type an answer."
	MsgSummaryTitle    = "🏁 Tournament Setup Complete!"
	MsgPrivateCopy     = "📬 Want a private copy of this summary?"
	MsgPrivateSent     = "📨 Sent! Check your direct messages."
	MsgPrivateDeclined = "👍 No problem."

	colorPrompt  = 0x5865F2
	colorSummary = 0x57F287

	progressWidth = 10
)

// ProgressBar renders a fixed-width bar for position n of total.
func ProgressBar(n, total int) string {
	if total <= 0 {
		return ""
	}
	if n < 0 {
		n = 0
	}
	if n > total {
		n = total
	}
	filled := n * progressWidth / total
	return strings.Repeat("█", filled) + strings.Repeat("░", progressWidth-filled)
}

// promptPosition counts the questions the session will have been asked up to and
// including index, and the number it is expected to be asked overall.
func promptPosition(reg *Registry, s *Session, index int) (n, total int) {
	for i := 0; i < reg.Len(); i++ {
		if s.IsSkipped(reg.At(i)) {
			continue
		}
		total++
		if i <= index {
			n++
		}
	}
	return n, total
}

func promptMessage(reg *Registry, s *Session, index int, q models.QuestionSpec) models.OutgoingMessage {
	n, total := promptPosition(reg, s, index)
	embed := &models.Embed{
		Title:       fmt.Sprintf("Question %d of %d", n, total),
		Description: q.Prompt,
		Footer:      fmt.Sprintf("Progress: %s %d/%d", ProgressBar(n, total), n, total),
		Color:       colorPrompt,
	}
	return models.OutgoingMessage{Embed: embed}
}

func choiceStyle(k models.QuestionKind) models.ChoiceStyle {
	if k == models.KindButtons {
		return models.ChoiceStyleButtons
	}
	return models.ChoiceStyleList
}

func placeholder(k models.QuestionKind) string {
	if k == models.KindDate {
		return "Pick a date"
	}
	return "Choose an option"
}

func confirmation(q models.QuestionSpec, label string) string {
	if q.Kind == models.KindDate {
		return fmt.Sprintf("✅ Date set to **%s**", label)
	}
	return fmt.Sprintf("✅ You chose **%s**", label)
}

// SummaryEmbed renders a completed setup.
func SummaryEmbed(rec models.SummaryRecord) *models.Embed {
	embed := &models.Embed{
		Title:  MsgSummaryTitle,
		Color:  colorSummary,
		Footer: fmt.Sprintf("Setup %s", rec.ID),
	}
	for _, e := range rec.Entries {
		embed.Fields = append(embed.Fields, models.EmbedField{Name: e.Key, Value: e.Value, Inline: len(e.Value) <= 24})
	}
	if rec.StartsAt != nil {
		embed.Description = "Starts " + rec.StartsAt.Format("Mon Jan 2, 2006 3:04 PM MST")
	}
	return embed
}

// SummaryText renders a completed setup as plain lines of "key: value".
func SummaryText(rec models.SummaryRecord) string {
	var b strings.Builder
	b.WriteString(MsgSummaryTitle)
	for _, e := range rec.Entries {
		fmt.Fprintf(&b, "\n%s: %s", e.Key, e.Value)
	}
	return b.String()
}
