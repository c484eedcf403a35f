// Package journal persists event onsets to SQLite.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hanrai/VoiceShow/internal/analyzer"
	"github.com/hanrai/VoiceShow/internal/classify"
)

const schema = `
CREATE TABLE IF NOT EXISTS onsets (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL,
	category     TEXT NOT NULL,
	confidence   REAL NOT NULL,
	ts_unix_nano INTEGER NOT NULL,
	features     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS onsets_ts ON onsets (ts_unix_nano DESC);
`

// DefaultLimit caps Recent when no limit is given.
const DefaultLimit = 50

// Entry is one journaled onset.
type Entry struct {
	ID         string                 `json:"id"`
	SessionID  string                 `json:"sessionId"`
	Category   classify.Category      `json:"category"`
	Confidence float64                `json:"confidence"`
	Timestamp  time.Time              `json:"timestamp"`
	Features   analyzer.FeatureVector `json:"features"`
}

// Store is a SQLite-backed onset journal.
type Store struct {
	db *sql.DB
}

// Open opens or creates the journal at path. ":memory:" is accepted.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %q: %w", path, err)
	}
	// A single connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Record stores ev under sessionID and returns the new entry ID.
func (s *Store) Record(ctx context.Context, sessionID string, ev classify.Event) (string, error) {
	features, err := json.Marshal(ev.Features)
	if err != nil {
		return "", fmt.Errorf("journal: encode features: %w", err)
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO onsets (id, session_id, category, confidence, ts_unix_nano, features) VALUES (?, ?, ?, ?, ?, ?)`,
		id, sessionID, string(ev.Type), ev.Confidence, ev.Timestamp.UnixNano(), string(features))
	if err != nil {
		return "", fmt.Errorf("journal: insert: %w", err)
	}
	return id, nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, category, confidence, ts_unix_nano, features FROM onsets ORDER BY ts_unix_nano DESC, rowid DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var (
			e        Entry
			category string
			ts       int64
			features string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &category, &e.Confidence, &ts, &features); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.Category = classify.Category(category)
		e.Timestamp = time.Unix(0, ts).UTC()
		if err := json.Unmarshal([]byte(features), &e.Features); err != nil {
			return nil, fmt.Errorf("journal: decode features of %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountBySession returns the number of onsets recorded for sessionID.
func (s *Store) CountBySession(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM onsets WHERE session_id = ?`, sessionID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

func (s *Store) Close() error {
	return s.db.Close()
}
