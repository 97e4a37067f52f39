package store

import (
	"fmt"
	"time"
)

// EventRecord is one committed ledger event.
type EventRecord struct {
	ID         int64
	EventID    string
	Kind       string
	PositionID *int64
	Identity   string
	Payload    string
	CreatedAt  int64
}

// AppendEvent adds an event to the log. CreatedAt defaults to now.
func (tx *Tx) AppendEvent(e *EventRecord) error {
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().UnixMilli()
	}
	result, err := tx.Exec(`
		INSERT INTO events (event_id, kind, position_id, identity, payload, created_at)
		VALUES (?, ?, ?, NULLIF(?, ''), ?, ?)
	`, e.EventID, e.Kind, e.PositionID, e.Identity, e.Payload, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	if e.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("append event id: %w", err)
	}
	return nil
}

// ListEvents returns up to limit events with id greater than afterID,
// oldest first. An empty identity matches every event.
func (db *DB) ListEvents(afterID int64, identity string, limit int) ([]EventRecord, error) {
	rows, err := db.Query(`
		SELECT id, event_id, kind, position_id, COALESCE(identity, ''), payload, created_at
		FROM events
		WHERE id > ? AND (? = '' OR identity = ?)
		ORDER BY id LIMIT ?
	`, afterID, identity, identity, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var e EventRecord
		if err := rows.Scan(&e.ID, &e.EventID, &e.Kind, &e.PositionID, &e.Identity, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountEvents returns the number of events of one kind.
func (db *DB) CountEvents(kind string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM events WHERE kind = ?`, kind).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}
