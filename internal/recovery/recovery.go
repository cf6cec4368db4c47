// Package recovery restores durable work left in flight when TourneyPipe restarts.
//
// Setup sessions live in memory and are not recovered. What survives a restart is
// the queued announcement work in the store: jobs and outbox messages claimed by
// a process that died before finishing them.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/TourneyPipe/internal/store"
)

// Recoverable defines the interface for components that can recover their state.
type Recoverable interface {
	// RecoverState is called during application startup, before any worker runs.
	RecoverState(ctx context.Context) error
}

// Func adapts a function to Recoverable.
type Func func(ctx context.Context) error

func (f Func) RecoverState(ctx context.Context) error { return f(ctx) }

// StaleJobs requeues jobs left running by a previous process.
func StaleJobs(runner *store.JobRunner) Recoverable {
	return Func(func(ctx context.Context) error { return runner.RecoverStaleJobs() })
}

// StaleOutbox requeues outbox messages left sending by a previous process.
func StaleOutbox(sender *store.OutboxSender) Recoverable {
	return Func(func(ctx context.Context) error { return sender.RecoverStaleMessages() })
}

type component struct {
	name string
	r    Recoverable
}

// Manager orchestrates recovery of all registered components.
type Manager struct {
	components []component
}

// NewManager creates an empty recovery manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register adds a component. Components recover in registration order.
func (m *Manager) Register(name string, r Recoverable) {
	m.components = append(m.components, component{name: name, r: r})
}

// Len returns the number of registered components.
func (m *Manager) Len() int { return len(m.components) }

// RecoverAll runs every component even when earlier ones fail, and returns the
// joined failures.
func (m *Manager) RecoverAll(ctx context.Context) error {
	slog.Info("Starting application recovery", "components", len(m.components))

	var errs []error
	for _, c := range m.components {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.r.RecoverState(ctx); err != nil {
			slog.Error("Component recovery failed", "error", err, "component", c.name)
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			continue
		}
		slog.Debug("Component recovered", "component", c.name)
	}

	slog.Info("Application recovery completed", "recovered", len(m.components)-len(errs), "errors", len(errs))
	return errors.Join(errs...)
}
