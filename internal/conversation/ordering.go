package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/vogohq/concierge/internal/catalog"
	"github.com/vogohq/concierge/internal/ticketing"
	"github.com/vogohq/concierge/pkg/logging"
)

// Orderer resolves "I'll take that one" turns into concrete products and
// files the order with the helpdesk for fulfillment.
type Orderer struct {
	products ProductSearcher
	tickets  TicketClient
	logger   *logging.Logger
}

func NewOrderer(products ProductSearcher, tickets TicketClient, logger *logging.Logger) *Orderer {
	if products == nil {
		panic("conversation: product searcher cannot be nil")
	}
	if tickets == nil {
		panic("conversation: ticket client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Orderer{products: products, tickets: tickets, logger: logger}
}

// Order resolves the named product, preferring what the user was just
// shown, and opens a fulfillment ticket. A product that cannot be resolved
// yields a clarification question, not an error.
func (o *Orderer) Order(ctx context.Context, conv *Conversation, slots *OrderSlots) (string, error) {
	if slots == nil || strings.TrimSpace(slots.ProductName) == "" {
		return reply(conv.Language, "order_clarify"), nil
	}

	product := resolveShownProduct(conv.LastShownProducts, slots.ProductName)
	if product == nil {
		found, err := o.products.FindByName(ctx, slots.ProductName)
		if err != nil {
			return "", fmt.Errorf("conversation: resolve order product: %w", err)
		}
		product = found
	}
	if product == nil {
		return reply(conv.Language, "order_clarify"), nil
	}

	quantity := slots.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	userID, guestID := conv.ActorID()
	requester := userID
	if requester == "" {
		requester = guestID
	}

	description := fmt.Sprintf("Order request: %d x %s (product %s, unit price %s)",
		quantity, product.Name, product.ID, product.Price)
	if slots.Notes != "" {
		description += "\nNotes: " + slots.Notes
	}

	ticket, err := o.tickets.Create(ctx, ticketing.CreateRequest{
		Subject:        fmt.Sprintf("New order: %s", product.Name),
		Description:    description,
		Priority:       ticketing.PriorityNormal,
		RequesterID:    requester,
		ConversationID: conv.ID,
		Language:       conv.Language,
	})
	if err != nil {
		return "", fmt.Errorf("conversation: file order: %w", err)
	}

	o.logger.Info("order filed",
		"conversation_id", conv.ID,
		"ticket_id", ticket.ID,
		"product_id", product.ID,
		"quantity", quantity,
	)
	return replyf(conv.Language, "order_confirmed", quantity, product.Name), nil
}

// resolveShownProduct matches the user's words against the products they
// were last shown, case-insensitive, substring in either direction.
func resolveShownProduct(shown []catalog.Product, name string) *catalog.Product {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return nil
	}
	for i := range shown {
		candidate := strings.ToLower(shown[i].Name)
		if strings.Contains(candidate, needle) || strings.Contains(needle, candidate) {
			return &shown[i]
		}
	}
	return nil
}
