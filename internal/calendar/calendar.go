// Package calendar owns appointment events. PostgreSQL is the source of
// truth; Google Calendar is a best-effort mirror so staff see bookings in
// their normal tooling.
package calendar

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vogohq/concierge/pkg/logging"
)

const (
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

// Event is one booked appointment.
type Event struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id,omitempty"`
	GuestID        string    `json:"guest_id,omitempty"`
	ConversationID string    `json:"conversation_id"`
	ServiceType    string    `json:"service_type"`
	Location       string    `json:"location,omitempty"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	Status         string    `json:"status"`
	GoogleEventID  string    `json:"google_event_id,omitempty"`
	CalendarLink   string    `json:"calendar_link,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Mirror pushes an event to an external calendar. Implementations must be
// safe to skip: a mirror failure never fails the booking.
type Mirror interface {
	Insert(ctx context.Context, event *Event) (externalID, link string, err error)
}

// Service coordinates the event store and the optional mirror.
type Service struct {
	store  *Store
	mirror Mirror
	logger *logging.Logger
}

func NewService(store *Store, mirror Mirror, logger *logging.Logger) *Service {
	if store == nil {
		panic("calendar: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{store: store, mirror: mirror, logger: logger}
}

// CreateEvent books an appointment. The database write must succeed; the
// mirror write is attempted afterwards and only logged on failure.
func (s *Service) CreateEvent(ctx context.Context, event Event) (*Event, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Status == "" {
		event.Status = StatusConfirmed
	}
	event.CreatedAt = time.Now().UTC()

	if err := s.store.Insert(ctx, &event); err != nil {
		return nil, err
	}

	if s.mirror != nil {
		externalID, link, err := s.mirror.Insert(ctx, &event)
		if err != nil {
			s.logger.Warn("calendar mirror insert failed, event kept locally",
				"event_id", event.ID,
				"error", err,
			)
			return &event, nil
		}
		event.GoogleEventID = externalID
		event.CalendarLink = link
		if err := s.store.SetMirrorRef(ctx, event.ID, externalID, link); err != nil {
			s.logger.Warn("failed to record calendar mirror ref",
				"event_id", event.ID,
				"error", err,
			)
		}
	}
	return &event, nil
}

// ListUserEvents returns the user's non-cancelled events from the trailing
// twelve months, oldest first.
func (s *Service) ListUserEvents(ctx context.Context, userID string) ([]Event, error) {
	now := time.Now().UTC()
	return s.store.ListByUser(ctx, userID, now.AddDate(-1, 0, 0), now)
}
