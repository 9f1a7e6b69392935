package sybilscope

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS trace_events (
	id          INTEGER PRIMARY KEY,
	parent_id   INTEGER,
	trace_type  TEXT NOT NULL,
	action_type TEXT NOT NULL,
	timestamp   TEXT NOT NULL,
	payload     TEXT NOT NULL,
	duration    REAL
);`

// SQLiteBackend persists events to a SQLite database, one row per event,
// with the payload stored as JSON text. It suits queries across many runs
// where grepping JSONL files falls short.
type SQLiteBackend struct {
	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// NewSQLiteBackend opens (or creates) the database at path and ensures the
// trace_events table exists.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sybilscope: open database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sybilscope: create trace_events table: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

// Append inserts the event as one row. The payload is serialized first;
// nothing is written if it cannot be encoded.
func (b *SQLiteBackend) Append(e *TraceEvent) error {
	payload := e.Payload
	if payload == nil {
		payload = Payload{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return &SerializationError{EventID: e.ID, Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBackendClosed
	}
	parent := sql.NullInt64{Int64: e.ParentID, Valid: e.ParentID != 0}
	_, err = b.db.Exec(
		`INSERT INTO trace_events (id, parent_id, trace_type, action_type, timestamp, payload, duration)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, parent, string(e.Type), string(e.Action),
		e.Timestamp.UTC().Format(TimestampFormat), string(body), e.Duration)
	if err != nil {
		return &BackendWriteError{Op: "append", Err: err}
	}
	return nil
}

// Flush is a no-op; every Append commits on its own.
func (b *SQLiteBackend) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBackendClosed
	}
	return nil
}

// Close closes the database. It is idempotent.
func (b *SQLiteBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if err := b.db.Close(); err != nil {
		return &BackendWriteError{Op: "close", Err: err}
	}
	return nil
}

// Events returns every stored event in insertion order.
func (b *SQLiteBackend) Events() ([]*TraceEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBackendClosed
	}
	rows, err := b.db.Query(
		`SELECT id, parent_id, trace_type, action_type, timestamp, payload, duration
		 FROM trace_events ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("sybilscope: query trace_events: %w", err)
	}
	defer rows.Close()

	var events []*TraceEvent
	for rows.Next() {
		var (
			e        TraceEvent
			parent   sql.NullInt64
			typ, act string
			ts, body string
			duration sql.NullFloat64
		)
		if err := rows.Scan(&e.ID, &parent, &typ, &act, &ts, &body, &duration); err != nil {
			return nil, fmt.Errorf("sybilscope: scan trace_events row: %w", err)
		}
		if parent.Valid {
			e.ParentID = parent.Int64
		}
		e.Type = TraceType(typ)
		e.Action = ActionType(act)
		when, err := time.Parse(TimestampFormat, ts)
		if err != nil {
			return nil, fmt.Errorf("sybilscope: parse stored timestamp %q: %w", ts, err)
		}
		e.Timestamp = when.UTC()
		if err := json.Unmarshal([]byte(body), &e.Payload); err != nil {
			return nil, fmt.Errorf("sybilscope: decode stored payload: %w", err)
		}
		if duration.Valid {
			d := duration.Float64
			e.Duration = &d
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sybilscope: iterate trace_events: %w", err)
	}
	return events, nil
}
