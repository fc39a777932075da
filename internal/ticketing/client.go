// Package ticketing talks to the external helpdesk that human operators
// work out of. The chatbot opens tickets there on handoff and when a
// booking needs operator follow-up.
package ticketing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/vogohq/concierge/pkg/logging"
)

const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Ticket is a helpdesk ticket as seen by the chatbot.
type Ticket struct {
	ID          string    `json:"id"`
	Subject     string    `json:"subject"`
	Description string    `json:"description"`
	Priority    string    `json:"priority"`
	Status      string    `json:"status"`
	RequesterID string    `json:"requester_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateRequest opens a new ticket.
type CreateRequest struct {
	Subject        string `json:"subject"`
	Description    string `json:"description"`
	Priority       string `json:"priority"`
	RequesterID    string `json:"requester_id"`
	ConversationID string `json:"conversation_id"`
	Language       string `json:"language,omitempty"`
}

// Client is a bearer-authenticated JSON client for the helpdesk API.
// When the helpdesk is unreachable, Create degrades to a locally generated
// fallback ticket ID so the conversation can still proceed; a background
// job reconciles those later.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *logging.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, logger *logging.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Create opens a ticket. On transport or server failure it returns a ticket
// with a fallback ID instead of an error; the caller cannot tell the user
// "try later" when they just asked for a human.
func (c *Client) Create(ctx context.Context, req CreateRequest) (*Ticket, error) {
	if req.Priority == "" {
		req.Priority = PriorityNormal
	}

	ticket, err := c.create(ctx, req)
	if err != nil {
		fallbackID := FallbackID()
		c.logger.Warn("helpdesk unavailable, issuing fallback ticket id",
			"fallback_id", fallbackID,
			"conversation_id", req.ConversationID,
			"error", err,
		)
		return &Ticket{
			ID:          fallbackID,
			Subject:     req.Subject,
			Description: req.Description,
			Priority:    req.Priority,
			Status:      "pending_sync",
			RequesterID: req.RequesterID,
			CreatedAt:   time.Now().UTC(),
		}, nil
	}
	return ticket, nil
}

func (c *Client) create(ctx context.Context, req CreateRequest) (*Ticket, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("ticketing: marshal create request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tickets", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ticketing: build request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ticketing: create ticket: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ticketing: create ticket: status %d: %s", resp.StatusCode, payload)
	}

	var ticket Ticket
	if err := json.NewDecoder(resp.Body).Decode(&ticket); err != nil {
		return nil, fmt.Errorf("ticketing: decode ticket: %w", err)
	}
	if ticket.ID == "" {
		return nil, fmt.Errorf("ticketing: helpdesk returned ticket without id")
	}
	return &ticket, nil
}

// ListByRequester returns the requester's tickets, newest first. Unlike
// Create this surfaces errors; a listing turn can apologize and retry.
func (c *Client) ListByRequester(ctx context.Context, requesterID string, limit int) ([]Ticket, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}

	url := fmt.Sprintf("%s/tickets?requester_id=%s&limit=%d", c.baseURL, requesterID, limit)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ticketing: build request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ticketing: list tickets: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ticketing: list tickets: status %d: %s", resp.StatusCode, payload)
	}

	var out struct {
		Tickets []Ticket `json:"tickets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("ticketing: decode tickets: %w", err)
	}
	return out.Tickets, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// FallbackID generates a locally unique ticket ID for offline operation.
func FallbackID() string {
	return fmt.Sprintf("FB-%d-%04d", time.Now().Unix(), rand.Intn(10000))
}

// IsFallbackID reports whether the ticket ID was generated locally and
// still needs reconciliation with the helpdesk.
func IsFallbackID(id string) bool {
	return strings.HasPrefix(id, "FB-")
}
