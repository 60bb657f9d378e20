package db

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// HistoryStore records every executed command with its outcome, so operators
// can audit what was run against which server and when.
type HistoryStore struct {
	db *Database
}

// HistoryEntry is one recorded command execution.
type HistoryEntry struct {
	ID         int64         `json:"id"`
	Profile    string        `json:"profile"`
	Command    string        `json:"command"`
	Response   string        `json:"response,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	ExecutedAt time.Time     `json:"executed_at"`
}

// NewHistoryStore opens the history database and runs migrations.
func NewHistoryStore(dbPath string) (*HistoryStore, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	store := &HistoryStore{db: database}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}

	return store, nil
}

// migrate creates the database schema.
func (s *HistoryStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS command_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			profile TEXT NOT NULL,
			command TEXT NOT NULL,
			response TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL DEFAULT 0,
			executed_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_history_profile
			ON command_history(profile);
		CREATE INDEX IF NOT EXISTS idx_history_executed_at
			ON command_history(executed_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Record stores one executed command. The timestamp is set here rather than
// by the database so that inserts and prune comparisons use one format.
func (s *HistoryStore) Record(entry HistoryEntry) error {
	executedAt := entry.ExecutedAt
	if executedAt.IsZero() {
		executedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO command_history (profile, command, response, error, duration_ms, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Profile, entry.Command, entry.Response, entry.Error,
		entry.Duration.Milliseconds(), executedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record command: %w", err)
	}
	return nil
}

// Recent returns the most recent entries, newest first. A limit of zero
// defaults to 50.
func (s *HistoryStore) Recent(limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT id, profile, command, response, error, duration_ms, executed_at
		 FROM command_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var durationMS int64
		if err := rows.Scan(&e.ID, &e.Profile, &e.Command, &e.Response,
			&e.Error, &durationMS, &e.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RecentForProfile returns the most recent entries for one profile.
func (s *HistoryStore) RecentForProfile(profile string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT id, profile, command, response, error, duration_ms, executed_at
		 FROM command_history WHERE profile = ? ORDER BY id DESC LIMIT ?`,
		profile, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var durationMS int64
		if err := rows.Scan(&e.ID, &e.Profile, &e.Command, &e.Response,
			&e.Error, &durationMS, &e.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries older than the retention period and returns how
// many were removed.
func (s *HistoryStore) Prune(retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	res, err := s.db.Exec(
		`DELETE FROM command_history WHERE executed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}

	n, _ := res.RowsAffected()
	if n > 0 {
		log.Info().Int64("removed", n).Time("cutoff", cutoff).Msg("pruned command history")
	}
	return n, nil
}

// Count returns the number of stored entries.
func (s *HistoryStore) Count() (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM command_history`).Scan(&n)
	return n, err
}

// Close closes the underlying database.
func (s *HistoryStore) Close() error {
	return s.db.Close()
}
