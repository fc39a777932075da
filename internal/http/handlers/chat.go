package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vogohq/concierge/internal/conversation"
	"github.com/vogohq/concierge/internal/http/middleware"
	"github.com/vogohq/concierge/pkg/logging"
)

// ConversationLister is implemented by the engine; the queue-backed
// dispatcher does not expose listing, so handlers take it separately.
type ConversationLister interface {
	ListConversations(ctx context.Context, userID string, limit, offset int) ([]conversation.Summary, error)
}

// ChatHandler exposes the conversation endpoints.
type ChatHandler struct {
	dispatcher conversation.Dispatcher
	lister     ConversationLister
	logger     *logging.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(dispatcher conversation.Dispatcher, lister ConversationLister, logger *logging.Logger) *ChatHandler {
	if dispatcher == nil {
		panic("handlers: dispatcher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ChatHandler{
		dispatcher: dispatcher,
		lister:     lister,
		logger:     logger,
	}
}

// StartChatRequest is the request body for opening a conversation.
// user_id is accepted for trusted internal callers; a bearer token
// always wins over the body field.
type StartChatRequest struct {
	Message string `json:"initial_message"`
	UserID  string `json:"user_id,omitempty"`
}

// SendMessageRequest is the request body for a conversation turn.
type SendMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
	UserID         string `json:"user_id,omitempty"`
}

// Start opens a new conversation with the first user message.
// POST /api/chat/start
func (h *ChatHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		jsonError(w, "message is required", http.StatusBadRequest)
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		userID = strings.TrimSpace(req.UserID)
	}

	snap, err := h.dispatcher.StartConversation(r.Context(), conversation.StartRequest{
		InitialMessage: req.Message,
		UserID:         userID,
	})
	if err != nil {
		h.logger.Error("failed to start conversation", "error", err)
		jsonError(w, "failed to start conversation", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, snap)
}

// Message processes one turn of an existing conversation.
// POST /api/chat/message
func (h *ChatHandler) Message(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	req.ConversationID = strings.TrimSpace(req.ConversationID)
	req.Message = strings.TrimSpace(req.Message)
	if req.ConversationID == "" {
		jsonError(w, "conversation_id is required", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		jsonError(w, "message is required", http.StatusBadRequest)
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		userID = strings.TrimSpace(req.UserID)
	}

	snap, err := h.dispatcher.ProcessMessage(r.Context(), conversation.MessageRequest{
		ConversationID: req.ConversationID,
		Message:        req.Message,
		UserID:         userID,
	})
	if err != nil {
		if errors.Is(err, conversation.ErrConversationNotFound) {
			jsonError(w, "conversation not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to process message", "error", err, "conversation_id", req.ConversationID)
		jsonError(w, "failed to process message", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// Get returns the current state of a conversation.
// GET /api/chat/{conversationID}
func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if conversationID == "" {
		jsonError(w, "conversation id is required", http.StatusBadRequest)
		return
	}

	snap, err := h.dispatcher.GetConversation(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, conversation.ErrConversationNotFound) {
			jsonError(w, "conversation not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load conversation", "error", err, "conversation_id", conversationID)
		jsonError(w, "failed to load conversation", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// ListResponse wraps conversation summaries for the history endpoint.
type ListResponse struct {
	Conversations []conversation.Summary `json:"conversations"`
	Page          int                    `json:"page"`
	Limit         int                    `json:"limit"`
}

// List returns the authenticated user's conversation history, newest first.
// GET /api/chat?page=&limit=
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.lister == nil {
		jsonError(w, "listing not available", http.StatusNotImplemented)
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	limit := queryInt(r, "limit", 20)

	summaries, err := h.lister.ListConversations(r.Context(), userID, limit, (page-1)*limit)
	if err != nil {
		h.logger.Error("failed to list conversations", "error", err, "user_id", userID)
		jsonError(w, "failed to list conversations", http.StatusInternalServerError)
		return
	}
	if summaries == nil {
		summaries = []conversation.Summary{}
	}

	writeJSON(w, http.StatusOK, ListResponse{
		Conversations: summaries,
		Page:          page,
		Limit:         limit,
	})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return def
	}
	return value
}
