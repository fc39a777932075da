package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/vogohq/concierge/internal/conversation"
	"github.com/vogohq/concierge/internal/http/middleware"
	"github.com/vogohq/concierge/pkg/logging"
)

type stubDispatcher struct {
	startSnap    *conversation.Snapshot
	messageSnap  *conversation.Snapshot
	getSnap      *conversation.Snapshot
	startErr     error
	messageErr   error
	getErr       error
	lastStartReq conversation.StartRequest
	lastMsgReq   conversation.MessageRequest
}

func (s *stubDispatcher) StartConversation(ctx context.Context, req conversation.StartRequest) (*conversation.Snapshot, error) {
	s.lastStartReq = req
	return s.startSnap, s.startErr
}

func (s *stubDispatcher) ProcessMessage(ctx context.Context, req conversation.MessageRequest) (*conversation.Snapshot, error) {
	s.lastMsgReq = req
	return s.messageSnap, s.messageErr
}

func (s *stubDispatcher) GetConversation(ctx context.Context, conversationID string) (*conversation.Snapshot, error) {
	return s.getSnap, s.getErr
}

func (s *stubDispatcher) Shutdown(ctx context.Context) error { return nil }

type stubLister struct {
	summaries  []conversation.Summary
	err        error
	lastUserID string
	lastLimit  int
	lastOffset int
}

func (s *stubLister) ListConversations(ctx context.Context, userID string, limit, offset int) ([]conversation.Summary, error) {
	s.lastUserID = userID
	s.lastLimit = limit
	s.lastOffset = offset
	return s.summaries, s.err
}

func withTestUser(req *http.Request, userID string) *http.Request {
	return req.WithContext(middleware.ContextWithUserID(req.Context(), userID))
}

func TestChatStart(t *testing.T) {
	dispatcher := &stubDispatcher{
		startSnap: &conversation.Snapshot{ConversationID: "conv-1", Language: "en"},
	}
	h := NewChatHandler(dispatcher, nil, logging.Default())

	body := `{"initial_message":"I want a haircut tomorrow"}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat/start", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Start(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var snap conversation.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if snap.ConversationID != "conv-1" {
		t.Fatalf("expected conversation ID conv-1, got %s", snap.ConversationID)
	}
	if dispatcher.lastStartReq.InitialMessage != "I want a haircut tomorrow" {
		t.Fatalf("unexpected forwarded message %q", dispatcher.lastStartReq.InitialMessage)
	}
}

func TestChatStartRequiresMessage(t *testing.T) {
	h := NewChatHandler(&stubDispatcher{}, nil, logging.Default())

	cases := []struct {
		name string
		body string
	}{
		{"empty body", `{}`},
		{"whitespace message", `{"initial_message":"   "}`},
		{"invalid json", `{"initial_message":`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/chat/start", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.Start(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestChatMessage(t *testing.T) {
	dispatcher := &stubDispatcher{
		messageSnap: &conversation.Snapshot{ConversationID: "conv-2"},
	}
	h := NewChatHandler(dispatcher, nil, logging.Default())

	body := `{"conversation_id":"conv-2","message":"tomorrow at 3pm"}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat/message", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Message(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if dispatcher.lastMsgReq.ConversationID != "conv-2" {
		t.Fatalf("unexpected conversation ID %q", dispatcher.lastMsgReq.ConversationID)
	}
}

func TestChatMessageUnknownConversation(t *testing.T) {
	dispatcher := &stubDispatcher{messageErr: conversation.ErrConversationNotFound}
	h := NewChatHandler(dispatcher, nil, logging.Default())

	body := `{"conversation_id":"nope","message":"hello"}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat/message", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Message(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestChatGet(t *testing.T) {
	dispatcher := &stubDispatcher{
		getSnap: &conversation.Snapshot{ConversationID: "conv-3"},
	}
	h := NewChatHandler(dispatcher, nil, logging.Default())

	r := chi.NewRouter()
	r.Get("/api/chat/{conversationID}", h.Get)

	req := httptest.NewRequest(http.MethodGet, "/api/chat/conv-3", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var snap conversation.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if snap.ConversationID != "conv-3" {
		t.Fatalf("expected conversation ID conv-3, got %s", snap.ConversationID)
	}
}

func TestChatListRequiresAuth(t *testing.T) {
	h := NewChatHandler(&stubDispatcher{}, &stubLister{}, logging.Default())

	req := httptest.NewRequest(http.MethodGet, "/api/chat", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", rec.Code)
	}
}

func TestChatListReturnsEmptySlice(t *testing.T) {
	lister := &stubLister{}
	h := NewChatHandler(&stubDispatcher{}, lister, logging.Default())

	req := withTestUser(httptest.NewRequest(http.MethodGet, "/api/chat?limit=5", nil), "user-42")
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if lister.lastUserID != "user-42" {
		t.Fatalf("expected lookup for user-42, got %q", lister.lastUserID)
	}
	if !strings.Contains(rec.Body.String(), `"conversations":[]`) {
		t.Fatalf("expected empty conversations array, got %s", rec.Body.String())
	}
}

func TestChatListPagination(t *testing.T) {
	lister := &stubLister{}
	h := NewChatHandler(&stubDispatcher{}, lister, logging.Default())

	req := withTestUser(httptest.NewRequest(http.MethodGet, "/api/chat?page=3&limit=10", nil), "user-42")
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if lister.lastLimit != 10 || lister.lastOffset != 20 {
		t.Fatalf("expected limit 10 offset 20, got limit %d offset %d", lister.lastLimit, lister.lastOffset)
	}
}
