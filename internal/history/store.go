// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The OpenVee Authors

// Package history persists workout sessions recorded from the telemetry
// stream into a local sqlite database.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no session matches a lookup.
var ErrNotFound = errors.New("history: session not found")

// Session is one recorded workout session, from connect (or record start)
// to disconnect.
type Session struct {
	ID         string
	Device     string
	Firmware   string
	StartedAt  time.Time
	EndedAt    *time.Time // nil while the session is open
	TotalReps  int
	WorkJoules int64
}

// Set is one contiguous block of reps inside a session. The firmware
// restarts its set rep counter after a rest; the recorder turns that
// into set boundaries.
type Set struct {
	ID           string
	SessionID    string
	Number       int
	StartedAt    time.Time
	EndedAt      *time.Time
	Reps         int
	WorkJoules   int64
	PeakLoadKg   float64
	PeakVelocity float64
	PeakPowerW   float64
	MeanLoadKg   float64
}

// Store wraps the sqlite session database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database at path, creating parent
// directories as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating history dir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id          TEXT PRIMARY KEY,
			device      TEXT NOT NULL,
			firmware    TEXT NOT NULL DEFAULT '',
			started_at  TEXT NOT NULL,
			ended_at    TEXT,
			total_reps  INTEGER NOT NULL DEFAULT 0,
			work_joules INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS sets (
			id            TEXT PRIMARY KEY,
			session_id    TEXT NOT NULL REFERENCES sessions(id),
			set_number    INTEGER NOT NULL,
			started_at    TEXT NOT NULL,
			ended_at      TEXT,
			reps          INTEGER NOT NULL DEFAULT 0,
			work_joules   INTEGER NOT NULL DEFAULT 0,
			peak_load_kg  REAL NOT NULL DEFAULT 0,
			peak_velocity REAL NOT NULL DEFAULT 0,
			peak_power_w  REAL NOT NULL DEFAULT 0,
			mean_load_kg  REAL NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_sets_session ON sets(session_id, set_number);
	`)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new open session row.
func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, device, firmware, started_at) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.Device, sess.Firmware, sess.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// FinishSession closes a session and writes its totals.
func (s *Store) FinishSession(ctx context.Context, id string, endedAt time.Time, totalReps int, workJoules int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, total_reps = ?, work_joules = ? WHERE id = ?`,
		endedAt.UTC().Format(time.RFC3339Nano), totalReps, workJoules, id,
	)
	if err != nil {
		return fmt.Errorf("finishing session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertSet persists one completed set.
func (s *Store) InsertSet(ctx context.Context, set *Set) error {
	var ended any
	if set.EndedAt != nil {
		ended = set.EndedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sets (id, session_id, set_number, started_at, ended_at, reps,
			work_joules, peak_load_kg, peak_velocity, peak_power_w, mean_load_kg)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		set.ID, set.SessionID, set.Number,
		set.StartedAt.UTC().Format(time.RFC3339Nano), ended,
		set.Reps, set.WorkJoules, set.PeakLoadKg, set.PeakVelocity,
		set.PeakPowerW, set.MeanLoadKg,
	)
	if err != nil {
		return fmt.Errorf("inserting set: %w", err)
	}
	return nil
}

// ListSessions returns the most recent sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device, firmware, started_at, ended_at, total_reps, work_joules
		 FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var result []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *sess)
	}
	return result, rows.Err()
}

// GetSession looks a session up by ID or unique ID prefix. With an
// ambiguous prefix the most recent match wins.
func (s *Store) GetSession(ctx context.Context, idOrPrefix string) (*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device, firmware, started_at, ended_at, total_reps, work_joules
		 FROM sessions WHERE id LIKE ? || '%' ORDER BY started_at DESC LIMIT 1`, idOrPrefix)
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanSession(rows)
}

// SessionSets returns a session's sets in set order.
func (s *Store) SessionSets(ctx context.Context, sessionID string) ([]Set, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, set_number, started_at, ended_at, reps,
			work_joules, peak_load_kg, peak_velocity, peak_power_w, mean_load_kg
		 FROM sets WHERE session_id = ? ORDER BY set_number`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying sets: %w", err)
	}
	defer rows.Close()

	var result []Set
	for rows.Next() {
		var set Set
		var started string
		var ended sql.NullString
		if err := rows.Scan(&set.ID, &set.SessionID, &set.Number, &started, &ended,
			&set.Reps, &set.WorkJoules, &set.PeakLoadKg, &set.PeakVelocity,
			&set.PeakPowerW, &set.MeanLoadKg); err != nil {
			return nil, fmt.Errorf("scanning set: %w", err)
		}
		set.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		if ended.Valid {
			t, _ := time.Parse(time.RFC3339Nano, ended.String)
			set.EndedAt = &t
		}
		result = append(result, set)
	}
	return result, rows.Err()
}

func scanSession(rows *sql.Rows) (*Session, error) {
	var sess Session
	var started string
	var ended sql.NullString
	if err := rows.Scan(&sess.ID, &sess.Device, &sess.Firmware, &started, &ended,
		&sess.TotalReps, &sess.WorkJoules); err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	sess.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	if ended.Valid {
		t, _ := time.Parse(time.RFC3339Nano, ended.String)
		sess.EndedAt = &t
	}
	return &sess, nil
}
