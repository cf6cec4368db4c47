package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/TourneyPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

var _ Store = (*PostgresStore)(nil)

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	slog.Debug("Opening Postgres database connection")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	slog.Debug("Postgres database opened")

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	slog.Debug("Postgres ping successful")
		slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	slog.Debug("PostgresStore.Close: closing database")
	return s.db.Close()
}

func (s *PostgresStore) SaveSetup(rec models.SummaryRecord) error {
	entries, err := json.Marshal(rec.Entries)
	if err != nil {
		return fmt.Errorf("marshal setup entries failed: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO setups (id, platform, user_id, channel_id, guild_id, update_channel_id, entries_json, starts_at, ends_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET platform = excluded.platform, user_id = excluded.user_id, channel_id = excluded.channel_id,
		 guild_id = excluded.guild_id, update_channel_id = excluded.update_channel_id, entries_json = excluded.entries_json,
		 starts_at = excluded.starts_at, ends_at = excluded.ends_at, completed_at = excluded.completed_at`,
		rec.ID, rec.Platform, rec.UserID, rec.ChannelID, nilIfEmpty(rec.GuildID), nilIfEmpty(rec.UpdateChannelID),
		string(entries), rec.StartsAt, rec.EndsAt, rec.CompletedAt,
	)
	if err != nil {
		slog.Error("PostgresStore.SaveSetup failed", "error", err, "id", rec.ID)
		return fmt.Errorf("save setup failed: %w", err)
	}
	slog.Debug("PostgresStore.SaveSetup", "id", rec.ID, "entries", len(rec.Entries))
	return nil
}

func (s *PostgresStore) GetSetup(id string) (*models.SummaryRecord, error) {
	row := s.db.QueryRow(setupSelect+` WHERE id = $1`, id)
	rec, err := scanSetup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSetupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get setup failed: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) ListSetups(limit int) ([]models.SummaryRecord, error) {
	query := setupSelect + ` ORDER BY completed_at DESC, id ASC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list setups failed: %w", err)
	}
	defer rows.Close()

	var out []models.SummaryRecord
	for rows.Next() {
		rec, err := scanSetup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) PurgeFinished(before time.Time) (PurgeStats, error) {
	var stats PurgeStats
	purge := []struct {
		query string
		count *int
	}{
		{`DELETE FROM jobs WHERE status IN ('done', 'failed', 'canceled') AND updated_at < $1`, &stats.Jobs},
		{`DELETE FROM outbox_messages WHERE status IN ('sent', 'failed', 'canceled') AND updated_at < $1`, &stats.Outbox},
		{`DELETE FROM inbound_dedup WHERE received_at < $1`, &stats.Dedup},
	}
	for _, p := range purge {
		res, err := s.db.Exec(p.query, before)
		if err != nil {
			return stats, fmt.Errorf("purge failed: %w", err)
		}
		n, _ := res.RowsAffected()
		*p.count = int(n)
	}
	if stats.Total() > 0 {
		slog.Info("PostgresStore.PurgeFinished", "jobs", stats.Jobs, "outbox", stats.Outbox, "dedup", stats.Dedup)
	}
	return stats, nil
}
