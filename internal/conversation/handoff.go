package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/vogohq/concierge/internal/notify"
	"github.com/vogohq/concierge/internal/ticketing"
	"github.com/vogohq/concierge/pkg/logging"
)

// TicketClient is the slice of the helpdesk API the engine needs.
type TicketClient interface {
	Create(ctx context.Context, req ticketing.CreateRequest) (*ticketing.Ticket, error)
	ListByRequester(ctx context.Context, requesterID string, limit int) ([]ticketing.Ticket, error)
}

// Words that escalate a handoff ticket to high priority, across the
// supported languages.
var urgencyKeywords = []string{
	"urgent", "emergency", "immediately", "asap", "right now",
	"urgence", "immédiatement", "tout de suite",
	"urgenta", "urgentă", "imediat", "acum",
}

// Handoff routes a conversation to a human operator: it opens a helpdesk
// ticket, marks the conversation as operator-owned, and notifies staff.
type Handoff struct {
	tickets       TicketClient
	email         notify.EmailSender
	operatorEmail string
	logger        *logging.Logger
}

func NewHandoff(tickets TicketClient, email notify.EmailSender, operatorEmail string, logger *logging.Logger) *Handoff {
	if tickets == nil {
		panic("conversation: ticket client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handoff{
		tickets:       tickets,
		email:         email,
		operatorEmail: operatorEmail,
		logger:        logger,
	}
}

// Priority maps the triggering message to a ticket priority.
func (h *Handoff) Priority(message string) string {
	lowered := strings.ToLower(message)
	for _, kw := range urgencyKeywords {
		if strings.Contains(lowered, kw) {
			return ticketing.PriorityHigh
		}
	}
	return ticketing.PriorityNormal
}

// Execute performs the handoff. Calling it on an already handed-off
// conversation is a no-op that re-confirms to the user.
func (h *Handoff) Execute(ctx context.Context, conv *Conversation, message string) (string, error) {
	if conv.OperatorAssigned {
		return reply(conv.Language, "handoff_already"), nil
	}

	userID, guestID := conv.ActorID()
	requester := userID
	if requester == "" {
		requester = guestID
	}

	ticket, err := h.tickets.Create(ctx, ticketing.CreateRequest{
		Subject:        "Human representative requested",
		Description:    h.transcriptTail(conv, message),
		Priority:       h.Priority(message),
		RequesterID:    requester,
		ConversationID: conv.ID,
		Language:       conv.Language,
	})
	if err != nil {
		return "", fmt.Errorf("conversation: open handoff ticket: %w", err)
	}

	conv.OperatorAssigned = true
	conv.TicketID = ticket.ID

	h.notifyOperator(ctx, conv, ticket)

	// A local fallback ID means the helpdesk never saw the request, so
	// don't promise an operator is on the way yet.
	if ticketing.IsFallbackID(ticket.ID) {
		return reply(conv.Language, "handoff_pending"), nil
	}
	return reply(conv.Language, "handoff_confirmed"), nil
}

// notifyOperator is best-effort: the ticket already exists, staff will see
// it even if the email bounces.
func (h *Handoff) notifyOperator(ctx context.Context, conv *Conversation, ticket *ticketing.Ticket) {
	if h.email == nil || h.operatorEmail == "" {
		return
	}

	subject := fmt.Sprintf("Chat handoff: ticket %s", ticket.ID)
	if ticket.Priority == ticketing.PriorityHigh {
		subject = "[URGENT] " + subject
	}
	err := h.email.Send(ctx, notify.EmailMessage{
		To:      h.operatorEmail,
		Subject: subject,
		Body: fmt.Sprintf(
			"A customer asked for a human operator.\n\nConversation: %s\nTicket: %s\nPriority: %s\nLanguage: %s\n\nRecent transcript:\n%s",
			conv.ID, ticket.ID, ticket.Priority, conv.Language, h.transcriptTail(conv, ""),
		),
	})
	if err != nil {
		h.logger.Warn("handoff notification email failed",
			"conversation_id", conv.ID,
			"ticket_id", ticket.ID,
			"error", err,
		)
	}
}

const transcriptTailLen = 6

func (h *Handoff) transcriptTail(conv *Conversation, pending string) string {
	var b strings.Builder
	start := 0
	if len(conv.Messages) > transcriptTailLen {
		start = len(conv.Messages) - transcriptTailLen
	}
	for _, msg := range conv.Messages[start:] {
		fmt.Fprintf(&b, "[%s] %s\n", msg.Role, msg.Content)
	}
	if pending != "" {
		fmt.Fprintf(&b, "[%s] %s\n", RoleUser, pending)
	}
	return strings.TrimRight(b.String(), "\n")
}
