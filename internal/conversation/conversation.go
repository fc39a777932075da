package conversation

import (
	"time"

	"github.com/vogohq/concierge/internal/catalog"
)

// Conversation is the unit of consistency for a chat session.
type Conversation struct {
	ID        string
	SessionID string
	UserID    string // authenticated user, empty for guests
	GuestID   string

	Language string
	Location string

	Messages []Message

	// SchedulingState exists only while a booking negotiation is in
	// progress; at most one per conversation.
	SchedulingState *SchedulingState

	// OperatorAssigned freezes automated routing once true. Cleared only
	// when the ticketing collaborator closes the ticket.
	OperatorAssigned bool
	TicketID         string

	// LastShownProducts resolves ambiguous "order this" references in
	// later turns.
	LastShownProducts []catalog.Product

	LastMessageAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time

	// Version guards optimistic writes; bumped by the store on save.
	Version int64

	// persistedMessages counts messages already written; set on load so
	// saves only insert the appended tail.
	persistedMessages int
}

// Append adds a message to the transcript and advances LastMessageAt.
func (c *Conversation) Append(role, content string, at time.Time) {
	c.Messages = append(c.Messages, Message{Role: role, Content: content, Timestamp: at})
	c.LastMessageAt = at
}

// LastUserMessage returns the most recent user message, or an empty string.
func (c *Conversation) LastUserMessage() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			return c.Messages[i].Content
		}
	}
	return ""
}

// ActorID returns the identity a booking or ticket should be attributed to:
// the authenticated user when present, otherwise a synthesized guest id.
func (c *Conversation) ActorID() (userID, guestID string) {
	if c.UserID != "" {
		return c.UserID, ""
	}
	if c.GuestID != "" {
		return "", c.GuestID
	}
	return "", "guest-" + c.ID
}

// Summary is the paginated listing row for operator views.
type Summary struct {
	ID               string    `json:"conversation_id"`
	Language         string    `json:"language"`
	LastMessageAt    time.Time `json:"last_message_at"`
	OperatorAssigned bool      `json:"operator_assigned"`
	TicketID         string    `json:"ticket_id,omitempty"`
	LastUserMessage  string    `json:"last_user_message,omitempty"`
}
