package calendar

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

// timeNear matches a query argument within a minute of the expected instant.
type timeNear struct {
	want time.Time
}

func (m timeNear) Match(v driver.Value) bool {
	ts, ok := v.(time.Time)
	if !ok {
		return false
	}
	d := ts.Sub(m.want)
	if d < 0 {
		d = -d
	}
	return d < time.Minute
}

type stubMirror struct {
	externalID string
	link       string
	err        error
	calls      int
}

func (m *stubMirror) Insert(ctx context.Context, event *Event) (string, string, error) {
	m.calls++
	return m.externalID, m.link, m.err
}

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestCreateEventMirrorsToGoogle(t *testing.T) {
	store, mock := newTestStore(t)
	mirror := &stubMirror{externalID: "g-1", link: "https://calendar.google.com/event?eid=g-1"}

	mock.ExpectExec("INSERT INTO calendar_events").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE calendar_events").
		WillReturnResult(sqlmock.NewResult(0, 1))

	start := time.Date(2026, 9, 3, 12, 0, 0, 0, time.UTC)
	event, err := NewService(store, mirror, nil).CreateEvent(context.Background(), Event{
		ConversationID: "conv-1",
		ServiceType:    "massage",
		Start:          start,
		End:            start.Add(30 * time.Minute),
	})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if event.ID == "" {
		t.Error("event id not assigned")
	}
	if event.Status != StatusConfirmed {
		t.Errorf("status = %q", event.Status)
	}
	if event.CalendarLink != mirror.link {
		t.Errorf("calendar link = %q", event.CalendarLink)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateEventSurvivesMirrorFailure(t *testing.T) {
	store, mock := newTestStore(t)
	mirror := &stubMirror{err: errors.New("google down")}

	mock.ExpectExec("INSERT INTO calendar_events").
		WillReturnResult(sqlmock.NewResult(1, 1))

	event, err := NewService(store, mirror, nil).CreateEvent(context.Background(), Event{
		ConversationID: "conv-1",
		ServiceType:    "massage",
	})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if event.GoogleEventID != "" || event.CalendarLink != "" {
		t.Errorf("mirror refs set despite failure: %+v", event)
	}
}

func TestCreateEventFailsWhenStoreFails(t *testing.T) {
	store, mock := newTestStore(t)
	mirror := &stubMirror{externalID: "g-1"}

	mock.ExpectExec("INSERT INTO calendar_events").
		WillReturnError(errors.New("db down"))

	if _, err := NewService(store, mirror, nil).CreateEvent(context.Background(), Event{}); err == nil {
		t.Fatal("expected error")
	}
	if mirror.calls != 0 {
		t.Error("mirror must not be called when the store write fails")
	}
}

func TestListUserEventsExcludesCancelled(t *testing.T) {
	store, mock := newTestStore(t)

	start := time.Date(2026, 9, 3, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "guest_id", "conversation_id", "service_type", "location",
		"start_at", "end_at", "status", "google_event_id", "calendar_link", "created_at",
	}).AddRow("ev-1", "user-1", "", "conv-1", "massage", "",
		start, start.Add(30*time.Minute), StatusConfirmed, "", "", start)

	// The listing covers the trailing year, not upcoming events.
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT id, user_id").
		WithArgs("user-1", StatusCancelled, timeNear{now.AddDate(-1, 0, 0)}, timeNear{now}).
		WillReturnRows(rows)

	events, err := NewService(store, nil, nil).ListUserEvents(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ListUserEvents: %v", err)
	}
	if len(events) != 1 || events[0].ID != "ev-1" {
		t.Fatalf("unexpected events: %+v", events)
	}
}
