package ticketing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTicket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/tickets", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req CreateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, PriorityHigh, req.Priority)

		json.NewEncoder(w).Encode(Ticket{ID: "TK-100", Subject: req.Subject, Priority: req.Priority, Status: "open"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret", time.Second, nil)
	ticket, err := client.Create(context.Background(), CreateRequest{
		Subject:     "Customer requested an operator",
		Priority:    PriorityHigh,
		RequesterID: "user-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "TK-100", ticket.ID)
	assert.False(t, IsFallbackID(ticket.ID))
}

func TestCreateTicketFallsBackWhenHelpdeskDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret", time.Second, nil)
	ticket, err := client.Create(context.Background(), CreateRequest{Subject: "help"})
	require.NoError(t, err)
	assert.True(t, IsFallbackID(ticket.ID))
	assert.Equal(t, "pending_sync", ticket.Status)
}

func TestListByRequester(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "user-1", r.URL.Query().Get("requester_id"))
		json.NewEncoder(w).Encode(map[string]any{
			"tickets": []Ticket{{ID: "TK-1"}, {ID: "TK-2"}},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret", time.Second, nil)
	tickets, err := client.ListByRequester(context.Background(), "user-1", 10)
	require.NoError(t, err)
	require.Len(t, tickets, 2)
}

func TestListByRequesterSurfacesErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret", time.Second, nil)
	_, err := client.ListByRequester(context.Background(), "user-1", 10)
	require.Error(t, err)
}

func TestFallbackIDShape(t *testing.T) {
	assert.True(t, IsFallbackID(FallbackID()))
	assert.False(t, IsFallbackID("TK-123"))
}
