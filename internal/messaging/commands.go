package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/BTreeMap/TourneyPipe/internal/models"
)

// CommandHandler handles one command invocation.
type CommandHandler func(ctx context.Context, evt models.Event) error

// CommandSpec describes a command exposed to the platforms.
type CommandSpec struct {
	Name        string
	Description string
	// Privileged commands are only offered to members holding the admin permission.
	Privileged bool
	Handler    CommandHandler
}

// CommandRegistry manages the mapping of command names to handlers.
type CommandRegistry struct {
	commands map[string]CommandSpec
	mention  CommandHandler
	mu       sync.RWMutex
}

// NewCommandRegistry creates an empty registry.
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{commands: make(map[string]CommandSpec)}
}

// Register adds or replaces a command.
func (cr *CommandRegistry) Register(spec CommandSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("command name cannot be empty")
	}
	if spec.Handler == nil {
		return fmt.Errorf("command %s has no handler", spec.Name)
	}
	cr.mu.Lock()
	defer cr.mu.Unlock()
	cr.commands[spec.Name] = spec
	slog.Debug("CommandRegistry registered command", "name", spec.Name, "privileged", spec.Privileged)
	return nil
}

// OnMention sets the handler for messages that mention the bot.
func (cr *CommandRegistry) OnMention(handler CommandHandler) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	cr.mention = handler
}

// IsRegistered checks if a command name has a handler.
func (cr *CommandRegistry) IsRegistered(name string) bool {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	_, ok := cr.commands[name]
	return ok
}

// List returns the registered commands sorted by name.
func (cr *CommandRegistry) List() []CommandSpec {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	specs := make([]CommandSpec, 0, len(cr.commands))
	for _, spec := range cr.commands {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Handle runs the handler registered for evt.Command. Handler errors are logged.
func (cr *CommandRegistry) Handle(ctx context.Context, evt models.Event) {
	cr.mu.RLock()
	spec, ok := cr.commands[evt.Command]
	cr.mu.RUnlock()
	if !ok {
		slog.Warn("CommandRegistry unknown command", "command", evt.Command, "userID", evt.UserID)
		return
	}
	slog.Debug("CommandRegistry handling command", "command", evt.Command, "userID", evt.UserID, "channelID", evt.ChannelID)
	if err := spec.Handler(ctx, evt); err != nil {
		slog.Error("CommandRegistry handler failed", "error", err, "command", evt.Command, "userID", evt.UserID)
	}
}

// HandleMention runs the mention handler, if any.
func (cr *CommandRegistry) HandleMention(ctx context.Context, evt models.Event) {
	cr.mu.RLock()
	handler := cr.mention
	cr.mu.RUnlock()
	if handler == nil {
		return
	}
	if err := handler(ctx, evt); err != nil {
		slog.Error("CommandRegistry mention handler failed", "error", err, "userID", evt.UserID)
	}
}
