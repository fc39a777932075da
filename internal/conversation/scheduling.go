package conversation

import (
	"errors"
	"strings"
	"time"
)

// Appointment slots are half-hour blocks.
const AppointmentDuration = 30 * time.Minute

var (
	// ErrMissingDateTime means the extractor flagged both date and time as
	// present but produced no usable timestamp. The turn must re-ask instead
	// of guessing.
	ErrMissingDateTime = errors.New("conversation: scheduling slots complete but datetime missing")

	// ErrAlreadyFinalized means another request finalized this negotiation
	// first.
	ErrAlreadyFinalized = errors.New("conversation: scheduling already finalized")
)

// SchedulingPhase describes how far a scheduling negotiation has progressed.
type SchedulingPhase string

const (
	PhaseEmpty      SchedulingPhase = "empty"
	PhaseCollecting SchedulingPhase = "collecting"
	PhaseComplete   SchedulingPhase = "complete"
	PhaseFinalized  SchedulingPhase = "finalized"
)

// SchedulingState accumulates appointment details across turns. It is
// persisted with the conversation so a negotiation survives restarts.
type SchedulingState struct {
	ServiceType string     `json:"serviceType,omitempty"`
	HasDate     bool       `json:"hasDate"`
	HasTime     bool       `json:"hasTime"`
	DateTime    *time.Time `json:"dateTime,omitempty"`
	Location    string     `json:"location,omitempty"`
	Finalized   bool       `json:"finalized"`

	AppointmentID string `json:"appointmentId,omitempty"`
	TicketID      string `json:"ticketId,omitempty"`
}

// Merge folds newly extracted slots into the state. Filled fields are never
// cleared by a turn that does not mention them; a turn that does mention a
// field overwrites it.
func (s *SchedulingState) Merge(slots SchedulingSlots) {
	if s.Finalized {
		return
	}
	if v := strings.TrimSpace(slots.ServiceType); v != "" {
		s.ServiceType = v
	}
	if slots.HasDate {
		s.HasDate = true
	}
	if slots.HasTime {
		s.HasTime = true
	}
	if slots.DateTime != nil {
		ts := *slots.DateTime
		s.DateTime = &ts
	}
	if v := strings.TrimSpace(slots.Location); v != "" {
		s.Location = v
	}
}

// Complete reports whether every required slot has been collected.
func (s *SchedulingState) Complete() bool {
	return s.ServiceType != "" && s.HasDate && s.HasTime
}

// Phase derives the current phase from the collected slots.
func (s *SchedulingState) Phase() SchedulingPhase {
	switch {
	case s.Finalized:
		return PhaseFinalized
	case s.Complete():
		return PhaseComplete
	case s.ServiceType != "" || s.HasDate || s.HasTime || s.Location != "":
		return PhaseCollecting
	default:
		return PhaseEmpty
	}
}

// Validate checks a complete state for internal consistency before
// finalization is attempted.
func (s *SchedulingState) Validate() error {
	if s.Finalized {
		return ErrAlreadyFinalized
	}
	if s.Complete() && s.DateTime == nil {
		return ErrMissingDateTime
	}
	return nil
}

// missingSlot names the next slot to ask for, in fixed priority order.
// Returns "" when nothing is missing.
func (s *SchedulingState) missingSlot() string {
	switch {
	case s.ServiceType == "":
		return "service"
	case !s.HasDate:
		return "date"
	case !s.HasTime:
		return "time"
	default:
		return ""
	}
}

// Window returns the appointment's start and end.
func (s *SchedulingState) Window() (time.Time, time.Time) {
	if s.DateTime == nil {
		return time.Time{}, time.Time{}
	}
	start := *s.DateTime
	return start, start.Add(AppointmentDuration)
}

// FormatDate renders the appointment date for the user in the given timezone.
func (s *SchedulingState) FormatDate(loc *time.Location) string {
	if s.DateTime == nil {
		return ""
	}
	return s.DateTime.In(loc).Format("Monday, 2 January 2006")
}

// FormatTime renders the appointment start time in the given timezone.
func (s *SchedulingState) FormatTime(loc *time.Location) string {
	if s.DateTime == nil {
		return ""
	}
	return s.DateTime.In(loc).Format("15:04")
}
