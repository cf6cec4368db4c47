package messaging

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/TourneyPipe/internal/models"
)

// RenderText flattens a message with its embed into plain text for platforms
// without rich content.
func RenderText(msg models.OutgoingMessage) string {
	var parts []string
	if msg.Content != "" {
		parts = append(parts, msg.Content)
	}
	if e := msg.Embed; e != nil {
		if e.Title != "" {
			parts = append(parts, "*"+e.Title+"*")
		}
		if e.Description != "" {
			parts = append(parts, e.Description)
		}
		for _, f := range e.Fields {
			parts = append(parts, fmt.Sprintf("%s: %s", f.Name, f.Value))
		}
		if e.Footer != "" {
			parts = append(parts, "_"+e.Footer+"_")
		}
	}
	return strings.Join(parts, "\n")
}

// RenderChoicesText renders a choice prompt as numbered options the user can
// answer by number or label.
func RenderChoicesText(prompt models.ChoicePrompt) string {
	var b strings.Builder
	b.WriteString(RenderText(prompt.Message))
	for i, o := range prompt.Options {
		fmt.Fprintf(&b, "\n%d. %s", i+1, o.Label)
	}
	b.WriteString("\nReply with the number or the name of your choice.")
	return b.String()
}
