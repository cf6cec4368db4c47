// Package store provides storage backends for TourneyPipe.
//
// A backend persists completed setup summaries along with the durable job,
// outbox and inbound dedup tables that keep scheduled announcements restart-safe.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/TourneyPipe/internal/models"
)

// ErrSetupNotFound is returned when a setup summary does not exist.
var ErrSetupNotFound = errors.New("setup not found")

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string // Database connection string or file path
}

// Option defines a function that modifies store options.
type Option func(*Opts)

// WithDSN sets the database connection string or SQLite file path.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// SetupRepo persists completed setup summaries.
type SetupRepo interface {
	// SaveSetup stores rec, replacing any summary with the same ID.
	SaveSetup(rec models.SummaryRecord) error
	// GetSetup returns ErrSetupNotFound when id is unknown.
	GetSetup(id string) (*models.SummaryRecord, error)
	// ListSetups returns up to limit summaries, newest first. A non-positive limit returns all.
	ListSetups(limit int) ([]models.SummaryRecord, error)
}

// PurgeStats reports how many rows a retention pass removed.
type PurgeStats struct {
	Jobs   int `json:"jobs"`
	Outbox int `json:"outbox"`
	Dedup  int `json:"dedup"`
}

// Total is the number of rows removed across all tables.
func (p PurgeStats) Total() int {
	return p.Jobs + p.Outbox + p.Dedup
}

// Store is the full persistence surface used by the bot.
type Store interface {
	SetupRepo
	JobRepo
	OutboxRepo
	DedupRepo

	// PurgeFinished deletes terminal jobs, sent outbox messages and dedup
	// records last touched before the cutoff. Setup summaries are kept.
	PurgeFinished(before time.Time) (PurgeStats, error)
	Close() error
}

// Backend names reported by DetectDSNType.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// DetectDSNType returns the backend a DSN refers to.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	switch {
	case strings.HasPrefix(d, "postgres://"), strings.HasPrefix(d, "postgresql://"):
		return BackendPostgres
	case d == "" || strings.EqualFold(d, BackendMemory) || d == ":memory:":
		return BackendMemory
	case strings.HasPrefix(d, "file:"):
		return BackendSQLite
	case strings.Contains(d, "host=") || (strings.Contains(d, "=") && strings.Contains(d, " ")):
		// libpq key=value connection string
		return BackendPostgres
	default:
		return BackendSQLite
	}
}

// Open returns the backend selected by the DSN.
func Open(dsn string) (Store, error) {
	kind := DetectDSNType(dsn)
	slog.Debug("store.Open", "backend", kind)
	switch kind {
	case BackendPostgres:
		return NewPostgresStore(WithDSN(dsn))
	case BackendSQLite:
		return NewSQLiteStore(WithDSN(dsn))
	case BackendMemory:
		return NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q", kind)
	}
}
