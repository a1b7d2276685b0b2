// Package state persists the event journal. Every event a run publishes is
// appended here, so a finished or interrupted session can be replayed later
// to regenerate reports without touching the network.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"github.com/grabbit/grabbit/internal/events"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	event_id   TEXT NOT NULL,
	kind       TEXT NOT NULL,
	timestamp  TEXT NOT NULL,
	payload    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_session ON events (session_id, seq);
`

// Journal is an append-only SQLite log of events, one row per event in
// publication order.
type Journal struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) the journal database at dsn.
func Open(dsn string) (*Journal, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append persists one event.
func (j *Journal) Append(ctx context.Context, ev events.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err = j.db.ExecContext(ctx,
		`INSERT INTO events (session_id, event_id, kind, timestamp, payload) VALUES (?, ?, ?, ?, ?)`,
		ev.SessionID, ev.EventID, string(ev.Kind), ev.Timestamp.UTC().Format(time.RFC3339Nano), string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Handler returns a bus subscriber that appends every event it sees.
// Persistence failures are swallowed here; the bus reports handler panics,
// not errors, and a journal hiccup must not disturb the run.
func (j *Journal) Handler(logger interface{ Warn(string, ...any) }) events.Handler {
	return func(ev events.Event) {
		if err := j.Append(context.Background(), ev); err != nil && logger != nil {
			logger.Warn("journal append failed", "event_id", ev.EventID, "error", err)
		}
	}
}

// Replay returns the session's events in their original publication order.
func (j *Journal) Replay(ctx context.Context, sessionID string) ([]events.Event, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT event_id, kind, timestamp, payload FROM events WHERE session_id = ? ORDER BY seq`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []events.Event
	for rows.Next() {
		var eventID, kind, ts, payload string
		if err := rows.Scan(&eventID, &kind, &ts, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		raw := fmt.Sprintf(`{"kind":%q,"event_id":%q,"session_id":%q,"timestamp":%q,"payload":%s}`,
			kind, eventID, sessionID, ts, payload)
		var ev events.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("decode event %s: %w", eventID, err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// Sessions lists recorded session IDs, most recent first.
func (j *Journal) Sessions(ctx context.Context) ([]string, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT session_id FROM events GROUP BY session_id ORDER BY MAX(seq) DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
