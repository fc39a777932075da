package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// GoogleMirror implements Mirror against the Google Calendar API.
type GoogleMirror struct {
	svc        *gcal.Service
	calendarID string
}

// NewGoogleMirror builds a mirror from a service account credentials blob.
// calendarID defaults to "primary".
func NewGoogleMirror(ctx context.Context, credentialsJSON []byte, calendarID string) (*GoogleMirror, error) {
	if len(credentialsJSON) == 0 {
		return nil, errors.New("calendar: google credentials are required")
	}
	if strings.TrimSpace(calendarID) == "" {
		calendarID = "primary"
	}

	svc, err := gcal.NewService(ctx,
		option.WithCredentialsJSON(credentialsJSON),
		option.WithScopes(gcal.CalendarEventsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("calendar: create google client: %w", err)
	}
	return &GoogleMirror{svc: svc, calendarID: calendarID}, nil
}

func (m *GoogleMirror) Insert(ctx context.Context, event *Event) (string, string, error) {
	summary := event.ServiceType
	if summary == "" {
		summary = "Appointment"
	}

	gEvent := &gcal.Event{
		Summary:     summary,
		Location:    event.Location,
		Description: "Booked via chat, conversation " + event.ConversationID,
		Start:       &gcal.EventDateTime{DateTime: event.Start.Format(time.RFC3339)},
		End:         &gcal.EventDateTime{DateTime: event.End.Format(time.RFC3339)},
	}

	created, err := m.svc.Events.Insert(m.calendarID, gEvent).Context(ctx).Do()
	if err != nil {
		return "", "", fmt.Errorf("calendar: google insert: %w", err)
	}
	return created.Id, created.HtmlLink, nil
}
