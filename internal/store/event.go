package store

import (
	"database/sql"
	"time"
)

// Source event kinds.
const (
	EventStarted = "started"
	EventFailed  = "failed"
	EventStopped = "stopped"
)

// Event is a frame source lifecycle record.
type Event struct {
	ID         int64     `json:"id"`
	Source     string    `json:"source"`
	Kind       string    `json:"kind"`
	Message    string    `json:"message,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventRepository provides access to source events.
type EventRepository struct {
	db *sql.DB
}

// Events returns the event repository for this store.
func (s *Store) Events() *EventRepository {
	return &EventRepository{db: s.db}
}

// Record appends an event.
func (r *EventRepository) Record(source, kind, message string) error {
	_, err := r.db.Exec(
		`INSERT INTO source_events (source, kind, message, occurred_at) VALUES (?, ?, ?, ?)`,
		source, kind, message, time.Now(),
	)
	return err
}

// Recent returns up to limit events, newest first.
func (r *EventRepository) Recent(limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(
		`SELECT id, source, kind, message, occurred_at
		 FROM source_events
		 ORDER BY id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]Event, 0)
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Source, &e.Kind, &e.Message, &e.OccurredAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}
