package conversation

import (
	"context"
	"time"

	"github.com/vogohq/concierge/internal/catalog"
)

// Service describes how the conversation engine behaves toward the transport layer.
type Service interface {
	StartConversation(ctx context.Context, req StartRequest) (*Snapshot, error)
	ProcessMessage(ctx context.Context, req MessageRequest) (*Snapshot, error)
	GetConversation(ctx context.Context, conversationID string) (*Snapshot, error)
}

// Message roles. Operator messages are appended out-of-band once a
// conversation has been handed off.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleOperator  = "operator"
)

// Message is a single entry in a conversation transcript. Append-only,
// insertion order is conversation order.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// StartRequest opens a new conversation with its first user message.
type StartRequest struct {
	InitialMessage string `json:"initial_message"`
	UserID         string `json:"user_id,omitempty"` // empty for guests
}

// MessageRequest is a single turn in an existing conversation.
type MessageRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
	UserID         string `json:"user_id,omitempty"`
}

// Action is a UI affordance attached to an assistant reply, e.g. an
// "add to calendar" link after a booking.
type Action struct {
	Type  string `json:"type"` // "link" or "button"
	Text  string `json:"text"`
	URL   string `json:"url,omitempty"`
	Name  string `json:"action,omitempty"`
	Style string `json:"style,omitempty"`
}

// Appointment is the booking metadata returned on a finalization turn.
type Appointment struct {
	ID            string    `json:"id"`
	ServiceType   string    `json:"service_type"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	FormattedDate string    `json:"formatted_date"`
	FormattedTime string    `json:"formatted_time"`
	CalendarLink  string    `json:"calendar_link,omitempty"`
	TicketID      string    `json:"ticket_id,omitempty"`
}

// Snapshot is the full conversation view returned to the transport layer
// after every turn. Products is never nil.
type Snapshot struct {
	ConversationID   string            `json:"conversation_id"`
	SessionID        string            `json:"session_id"`
	Messages         []Message         `json:"messages"`
	Language         string            `json:"language"`
	Products         []catalog.Product `json:"products"`
	OperatorAssigned bool              `json:"operator_assigned"`
	TicketID         string            `json:"ticket_id,omitempty"`
	Actions          []Action          `json:"actions,omitempty"`
	Appointment      *Appointment      `json:"appointment,omitempty"`
}
