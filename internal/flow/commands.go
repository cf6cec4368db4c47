package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/TourneyPipe/internal/messaging"
	"github.com/BTreeMap/TourneyPipe/internal/models"
)

// BotInfo describes the running bot for the info command.
type BotInfo struct {
	Name      string
	Version   string
	StartedAt time.Time
}

// RegisterCommands exposes the conductor and the informational commands on cr.
func RegisterCommands(cr *messaging.CommandRegistry, c *Conductor, platform messaging.Platform, info BotInfo) error {
	specs := []messaging.CommandSpec{
		{
			Name:        models.CommandSetup,
			Description: "Start the tournament setup wizard",
			Privileged:  true,
			Handler: func(ctx context.Context, evt models.Event) error {
				err := c.Start(ctx, evt)
				if err == nil {
					return nil
				}
				return reply(ctx, platform, evt, errorMessage(err), err)
			},
		},
		{
			Name:        models.CommandCancel,
			Description: "Cancel your setup in progress",
			Handler: func(ctx context.Context, evt models.Event) error {
				err := c.Cancel(ctx, evt.UserID)
				if err == nil {
					return reply(ctx, platform, evt, MsgCancelled, nil)
				}
				return reply(ctx, platform, evt, errorMessage(err), err)
			},
		},
		{
			Name:        models.CommandPing,
			Description: "Check that the bot is alive",
			Handler: func(ctx context.Context, evt models.Event) error {
				return reply(ctx, platform, evt, "🏓 Pong!", nil)
			},
		},
		{
			Name:        models.CommandInfo,
			Description: "About this bot",
			Handler: func(ctx context.Context, evt models.Event) error {
				msg := models.OutgoingMessage{Embed: infoEmbed(info, c, time.Now())}
				return platform.Respond(ctx, evt, msg, true)
			},
		},
		{
			Name:        models.CommandHelp,
			Description: "List the available commands",
			Handler: func(ctx context.Context, evt models.Event) error {
				return reply(ctx, platform, evt, helpText(cr.List()), nil)
			},
		},
	}
	for _, spec := range specs {
		if err := cr.Register(spec); err != nil {
			return err
		}
	}

	cr.OnMention(func(ctx context.Context, evt models.Event) error {
		greeting := fmt.Sprintf("Hey <@%s>! Ready to build your next Rocket League tournament? Run /setup to begin.", evt.UserID)
		if evt.Platform != "discord" {
			greeting = fmt.Sprintf("Hey %s! Ready to build your next Rocket League tournament? Send /setup to begin.", displayName(evt))
		}
		return platform.SendMessage(ctx, evt.ChannelID, models.OutgoingMessage{Content: greeting})
	})
	slog.Debug("RegisterCommands done", "count", len(specs))
	return nil
}

func reply(ctx context.Context, platform messaging.Platform, evt models.Event, text string, cause error) error {
	if err := platform.Respond(ctx, evt, models.OutgoingMessage{Content: text}, true); err != nil {
		return fmt.Errorf("reply to %s: %w", evt.Command, err)
	}
	if cause != nil {
		slog.Debug("Command rejected", "command", evt.Command, "userID", evt.UserID, "reason", cause)
	}
	return nil
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, models.ErrUnauthorized):
		return MsgUnauthorized
	case errors.Is(err, models.ErrAlreadyActive):
		return MsgAlreadyActive
	case errors.Is(err, models.ErrNoActiveSession):
		return MsgNoSession
	default:
		return "❌ Something went wrong. Please try again."
	}
}

func infoEmbed(info BotInfo, c *Conductor, now time.Time) *models.Embed {
	uptime := now.Sub(info.StartedAt).Truncate(time.Second)
	return &models.Embed{
		Title:       "ℹ️ About " + info.Name,
		Description: "I walk organizers through setting up a tournament and remind players when it starts.",
		Color:       colorPrompt,
		Fields: []models.EmbedField{
			{Name: "Version", Value: info.Version, Inline: true},
			{Name: "Uptime", Value: uptime.String(), Inline: true},
			{Name: "Questions", Value: fmt.Sprint(c.Registry().Len()), Inline: true},
			{Name: "Active setups", Value: fmt.Sprint(len(c.ActiveSessions())), Inline: true},
		},
	}
}

func helpText(specs []messaging.CommandSpec) string {
	var b strings.Builder
	b.WriteString("📖 Commands:")
	for _, s := range specs {
		fmt.Fprintf(&b, "\n/%s: %s", s.Name, s.Description)
	}
	return b.String()
}

func displayName(evt models.Event) string {
	if evt.UserName != "" {
		return evt.UserName
	}
	return evt.UserID
}
