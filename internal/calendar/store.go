package calendar

import (
	"context"
	"database/sql"
	"fmt"

	"time"
)

// Store persists calendar events in PostgreSQL.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	if db == nil {
		panic("calendar: db cannot be nil")
	}
	return &Store{db: db}
}

func (s *Store) Insert(ctx context.Context, event *Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calendar_events (
			id, user_id, guest_id, conversation_id, service_type, location,
			start_at, end_at, status, google_event_id, calendar_link, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		event.ID, event.UserID, event.GuestID, event.ConversationID,
		event.ServiceType, event.Location, event.Start, event.End,
		event.Status, event.GoogleEventID, event.CalendarLink, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("calendar: insert event: %w", err)
	}
	return nil
}

// SetMirrorRef records the external calendar's event reference.
func (s *Store) SetMirrorRef(ctx context.Context, eventID, googleEventID, link string) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE calendar_events
		SET google_event_id = $2, calendar_link = $3
		WHERE id = $1
	`, eventID, googleEventID, link); err != nil {
		return fmt.Errorf("calendar: set mirror ref: %w", err)
	}
	return nil
}

// ListByUser returns the user's non-cancelled events in [from, to),
// ascending by start time.
func (s *Store) ListByUser(ctx context.Context, userID string, from, to time.Time) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, guest_id, conversation_id, service_type, location,
			start_at, end_at, status, google_event_id, calendar_link, created_at
		FROM calendar_events
		WHERE user_id = $1 AND status <> $2 AND start_at >= $3 AND start_at < $4
		ORDER BY start_at ASC
	`, userID, StatusCancelled, from, to)
	if err != nil {
		return nil, fmt.Errorf("calendar: list events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var e Event
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.GuestID, &e.ConversationID, &e.ServiceType, &e.Location,
			&e.Start, &e.End, &e.Status, &e.GoogleEventID, &e.CalendarLink, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("calendar: scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calendar: iterate events: %w", err)
	}
	return events, nil
}

// Cancel marks an event cancelled without deleting history.
func (s *Store) Cancel(ctx context.Context, eventID string) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE calendar_events SET status = $2 WHERE id = $1
	`, eventID, StatusCancelled); err != nil {
		return fmt.Errorf("calendar: cancel event: %w", err)
	}
	return nil
}
