package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/TourneyPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is a Store backed by a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	slog.Debug("SQLite database opened")

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}
	slog.Debug("SQLite ping successful")

	// Run migrations to ensure tables exist
	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	slog.Debug("SQLiteStore.Close: closing database")
	return s.db.Close()
}

func (s *SQLiteStore) SaveSetup(rec models.SummaryRecord) error {
	entries, err := json.Marshal(rec.Entries)
	if err != nil {
		return fmt.Errorf("marshal setup entries failed: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO setups (id, platform, user_id, channel_id, guild_id, update_channel_id, entries_json, starts_at, ends_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET platform = excluded.platform, user_id = excluded.user_id, channel_id = excluded.channel_id,
		 guild_id = excluded.guild_id, update_channel_id = excluded.update_channel_id, entries_json = excluded.entries_json,
		 starts_at = excluded.starts_at, ends_at = excluded.ends_at, completed_at = excluded.completed_at`,
		rec.ID, rec.Platform, rec.UserID, rec.ChannelID, nilIfEmpty(rec.GuildID), nilIfEmpty(rec.UpdateChannelID),
		string(entries), rec.StartsAt, rec.EndsAt, rec.CompletedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore.SaveSetup failed", "error", err, "id", rec.ID)
		return fmt.Errorf("save setup failed: %w", err)
	}
	slog.Debug("SQLiteStore.SaveSetup", "id", rec.ID, "entries", len(rec.Entries))
	return nil
}

func (s *SQLiteStore) GetSetup(id string) (*models.SummaryRecord, error) {
	row := s.db.QueryRow(setupSelect+` WHERE id = ?`, id)
	rec, err := scanSetup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSetupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get setup failed: %w", err)
	}
	return &rec, nil
}

func (s *SQLiteStore) ListSetups(limit int) ([]models.SummaryRecord, error) {
	query := setupSelect + ` ORDER BY completed_at DESC, id ASC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
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

func (s *SQLiteStore) PurgeFinished(before time.Time) (PurgeStats, error) {
	var stats PurgeStats
	purge := []struct {
		query string
		count *int
	}{
		{`DELETE FROM jobs WHERE status IN ('done', 'failed', 'canceled') AND updated_at < ?`, &stats.Jobs},
		{`DELETE FROM outbox_messages WHERE status IN ('sent', 'failed', 'canceled') AND updated_at < ?`, &stats.Outbox},
		{`DELETE FROM inbound_dedup WHERE received_at < ?`, &stats.Dedup},
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
		slog.Info("SQLiteStore.PurgeFinished", "jobs", stats.Jobs, "outbox", stats.Outbox, "dedup", stats.Dedup)
	}
	return stats, nil
}
