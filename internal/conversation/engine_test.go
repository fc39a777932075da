package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vogohq/concierge/internal/calendar"
	"github.com/vogohq/concierge/internal/catalog"
	"github.com/vogohq/concierge/internal/ticketing"
)

// routingLLM answers by prompt kind: language detection pops from the langs
// script (defaulting to "en"), classifier calls pop from the intent script,
// everything else is a generic reply.
type routingLLM struct {
	mu      sync.Mutex
	langs   []string
	intents []string
	general string
	fail    bool
}

func (r *routingLLM) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fail {
		return LLMResponse{}, errors.New("model unavailable")
	}
	system := ""
	if len(req.System) > 0 {
		system = req.System[0]
	}
	switch {
	case strings.Contains(system, "Identify the language"):
		if len(r.langs) == 0 {
			return LLMResponse{Text: "en"}, nil
		}
		next := r.langs[0]
		r.langs = r.langs[1:]
		return LLMResponse{Text: next}, nil
	case strings.Contains(system, "intent classifier"):
		if len(r.intents) == 0 {
			return LLMResponse{Text: `{"isGeneral": true}`}, nil
		}
		next := r.intents[0]
		r.intents = r.intents[1:]
		return LLMResponse{Text: next}, nil
	default:
		reply := r.general
		if reply == "" {
			reply = "Happy to help!"
		}
		return LLMResponse{Text: reply}, nil
	}
}

type fakeCalendar struct {
	mu     sync.Mutex
	events []calendar.Event
	err    error
}

func (f *fakeCalendar) CreateEvent(ctx context.Context, event calendar.Event) (*calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	event.ID = uuid.NewString()
	event.Status = calendar.StatusConfirmed
	f.events = append(f.events, event)
	return &event, nil
}

func (f *fakeCalendar) ListUserEvents(ctx context.Context, userID string) ([]calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := []calendar.Event{}
	for _, ev := range f.events {
		if ev.UserID == userID {
			out = append(out, ev)
		}
	}
	return out, nil
}

type engineFixture struct {
	engine   *Engine
	store    *MemoryStore
	llm      *routingLLM
	calendar *fakeCalendar
	tickets  *fakeTicketClient
	products *fakeProductSearcher
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	llm := &routingLLM{}
	store := NewMemoryStore()
	cal := &fakeCalendar{}
	tickets := &fakeTicketClient{}
	products := &fakeProductSearcher{}

	engine := NewEngine(EngineConfig{
		Store:      store,
		Classifier: NewClassifier(llm, nil, "test-model", time.UTC, time.Hour, nil),
		LLM:        llm,
		Model:      "test-model",
		Searcher:   NewSearcher(nil, "", products, nil),
		Orderer:    NewOrderer(products, tickets, nil),
		Handoff:    NewHandoff(tickets, nil, "", nil),
		Calendar:   cal,
		Tickets:    tickets,
		Timezone:   time.UTC,
	})
	return &engineFixture{engine: engine, store: store, llm: llm, calendar: cal, tickets: tickets, products: products}
}

func lastAssistantMessage(t *testing.T, snap *Snapshot) string {
	t.Helper()
	for i := len(snap.Messages) - 1; i >= 0; i-- {
		if snap.Messages[i].Role == RoleAssistant {
			return snap.Messages[i].Content
		}
	}
	t.Fatal("no assistant message in snapshot")
	return ""
}

func TestGuestCannotSchedule(t *testing.T) {
	f := newEngineFixture(t)
	f.llm.intents = []string{`{"isScheduling": true, "serviceType": "massage"}`}

	snap, err := f.engine.StartConversation(context.Background(), StartRequest{
		InitialMessage: "I want to book a massage",
	})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if got := lastAssistantMessage(t, snap); got != reply("en", "login_required") {
		t.Errorf("reply = %q", got)
	}
	if len(f.calendar.events) != 0 {
		t.Error("guest turn must not create events")
	}
}

func TestSchedulingSlotFillingAcrossTurns(t *testing.T) {
	f := newEngineFixture(t)
	f.llm.intents = []string{`{"isScheduling": true, "serviceType": "massage"}`}

	snap, err := f.engine.StartConversation(context.Background(), StartRequest{
		InitialMessage: "I want to book a massage",
		UserID:         "user-1",
	})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if got := lastAssistantMessage(t, snap); got != replyf("en", "ask_date", "massage") {
		t.Fatalf("first reply = %q", got)
	}

	f.llm.intents = []string{`{"isScheduling": true, "hasDate": true, "hasTime": true, "dateTime": "2026-09-03T15:00:00Z"}`}
	snap, err = f.engine.ProcessMessage(context.Background(), MessageRequest{
		ConversationID: snap.ConversationID,
		Message:        "3rd of September at 15:00",
		UserID:         "user-1",
	})
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}

	if snap.Appointment == nil {
		t.Fatal("no appointment in snapshot")
	}
	if snap.Appointment.ServiceType != "massage" {
		t.Errorf("service = %q", snap.Appointment.ServiceType)
	}
	if snap.Appointment.End.Sub(snap.Appointment.Start) != 30*time.Minute {
		t.Errorf("window = %v", snap.Appointment.End.Sub(snap.Appointment.Start))
	}
	if len(snap.Actions) != 2 {
		t.Errorf("actions = %+v", snap.Actions)
	}
	if len(f.calendar.events) != 1 {
		t.Fatalf("created %d events", len(f.calendar.events))
	}
	if snap.Appointment.TicketID == "" {
		t.Error("appointment ticket not recorded")
	}
}

func TestSchedulingAsksForServiceFirst(t *testing.T) {
	f := newEngineFixture(t)
	f.llm.intents = []string{`{"isScheduling": true, "hasDate": true, "hasTime": true, "dateTime": "2026-09-03T15:00:00Z"}`}

	snap, err := f.engine.StartConversation(context.Background(), StartRequest{
		InitialMessage: "book me something tomorrow at 3pm",
		UserID:         "user-1",
	})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if got := lastAssistantMessage(t, snap); got != reply("en", "ask_service") {
		t.Errorf("reply = %q", got)
	}
	if len(f.calendar.events) != 0 {
		t.Error("incomplete slots must not book")
	}
}

func TestCalendarFailureKeepsNegotiationOpen(t *testing.T) {
	f := newEngineFixture(t)
	f.calendar.err = errors.New("calendar down")
	f.llm.intents = []string{`{"isScheduling": true, "serviceType": "massage", "hasDate": true, "hasTime": true, "dateTime": "2026-09-03T15:00:00Z"}`}

	snap, err := f.engine.StartConversation(context.Background(), StartRequest{
		InitialMessage: "massage on 3rd September at 15:00",
		UserID:         "user-1",
	})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if got := lastAssistantMessage(t, snap); got != reply("en", "appointment_retry") {
		t.Fatalf("reply = %q", got)
	}

	// The guard was released, so a retry turn books normally.
	f.calendar.err = nil
	f.llm.intents = []string{`{"isScheduling": true}`}
	snap, err = f.engine.ProcessMessage(context.Background(), MessageRequest{
		ConversationID: snap.ConversationID,
		Message:        "try again please",
		UserID:         "user-1",
	})
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if snap.Appointment == nil {
		t.Fatal("retry did not book")
	}
	if len(f.calendar.events) != 1 {
		t.Errorf("created %d events", len(f.calendar.events))
	}
}

func TestConcurrentFinalizationBooksOnce(t *testing.T) {
	f := newEngineFixture(t)
	f.llm.intents = []string{`{"isScheduling": true, "serviceType": "massage"}`}

	snap, err := f.engine.StartConversation(context.Background(), StartRequest{
		InitialMessage: "I want a massage",
		UserID:         "user-1",
	})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}

	completing := `{"isScheduling": true, "hasDate": true, "hasTime": true, "dateTime": "2026-09-03T15:00:00Z"}`
	f.llm.intents = []string{completing, completing}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.ProcessMessage(context.Background(), MessageRequest{
				ConversationID: snap.ConversationID,
				Message:        "3rd September at 15:00",
				UserID:         "user-1",
			})
			if err != nil {
				t.Errorf("ProcessMessage: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(f.calendar.events) != 1 {
		t.Fatalf("created %d events, want exactly 1", len(f.calendar.events))
	}
}

func TestOperatorFreezeSuppressesBot(t *testing.T) {
	f := newEngineFixture(t)
	f.llm.intents = []string{`{"isHumanRepresentative": true}`}

	snap, err := f.engine.StartConversation(context.Background(), StartRequest{
		InitialMessage: "get me a human",
		UserID:         "user-1",
	})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if !snap.OperatorAssigned {
		t.Fatal("operator not assigned")
	}
	if snap.TicketID == "" {
		t.Fatal("no handoff ticket")
	}

	before := len(snap.Messages)
	snap, err = f.engine.ProcessMessage(context.Background(), MessageRequest{
		ConversationID: snap.ConversationID,
		Message:        "hello? are you there?",
		UserID:         "user-1",
	})
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if got := len(snap.Messages); got != before+1 {
		t.Errorf("messages = %d, want user message persisted with no bot reply (%d)", got, before+1)
	}
	if snap.Messages[len(snap.Messages)-1].Role != RoleUser {
		t.Error("last message should be the user's")
	}
}

func TestClassifierOutageFallsBackToGeneralReply(t *testing.T) {
	f := newEngineFixture(t)
	f.llm.intents = []string{"this is not json at all"}
	f.llm.general = "I can still chat even when classification glitches."

	snap, err := f.engine.StartConversation(context.Background(), StartRequest{
		InitialMessage: "hello there",
	})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if got := lastAssistantMessage(t, snap); got != f.llm.general {
		t.Errorf("reply = %q", got)
	}
}

func TestLanguageFixedByFirstMessage(t *testing.T) {
	f := newEngineFixture(t)
	f.llm.langs = []string{"fr", "en"}
	f.llm.intents = []string{`{"isGeneral": true}`, `{"isGeneral": true}`}

	snap, err := f.engine.StartConversation(context.Background(), StartRequest{
		InitialMessage: "bonjour, avez-vous des soins du visage ?",
	})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if snap.Language != "fr" {
		t.Fatalf("language = %q, want fr", snap.Language)
	}

	// A terse follow-up must not re-detect and flip the language.
	snap, err = f.engine.ProcessMessage(context.Background(), MessageRequest{
		ConversationID: snap.ConversationID,
		Message:        "ok",
	})
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if snap.Language != "fr" {
		t.Errorf("language = %q after follow-up, want fr", snap.Language)
	}
	if len(f.llm.langs) != 1 {
		t.Errorf("detection ran %d times, want once", 2-len(f.llm.langs))
	}
}

func TestPreviousSchedulesRequiresLogin(t *testing.T) {
	f := newEngineFixture(t)
	f.llm.intents = []string{`{"isPreviousSchedules": true}`}

	snap, err := f.engine.StartConversation(context.Background(), StartRequest{
		InitialMessage: "show me my appointments",
	})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if got := lastAssistantMessage(t, snap); got != reply("en", "login_required") {
		t.Errorf("reply = %q", got)
	}
}

func TestPreviousSchedulesRendersNumberedList(t *testing.T) {
	f := newEngineFixture(t)
	f.calendar.events = []calendar.Event{
		{ID: "ev-1", UserID: "user-1", ServiceType: "facial",
			Start: time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)},
		{ID: "ev-2", UserID: "user-1", ServiceType: "massage",
			Start: time.Date(2026, 7, 2, 9, 0, 0, 0, time.UTC)},
		{ID: "ev-3", UserID: "someone-else", ServiceType: "facial",
			Start: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)},
	}
	f.llm.intents = []string{`{"isPreviousSchedules": true}`}

	snap, err := f.engine.StartConversation(context.Background(), StartRequest{
		InitialMessage: "what appointments have I had?",
		UserID:         "user-1",
	})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	got := lastAssistantMessage(t, snap)
	if !strings.Contains(got, reply("en", "schedules_intro")) {
		t.Errorf("reply = %q, want intro", got)
	}
	if !strings.Contains(got, "1. facial: Tuesday, 10 March 2026 14:30") {
		t.Errorf("reply = %q, want numbered first entry", got)
	}
	if !strings.Contains(got, "2. massage: Thursday, 2 July 2026 09:00") {
		t.Errorf("reply = %q, want numbered second entry", got)
	}
	if strings.Contains(got, "someone-else") || strings.Count(got, "facial") != 1 {
		t.Errorf("reply = %q, leaked another user's events", got)
	}
}

func TestPreviousSchedulesEmpty(t *testing.T) {
	f := newEngineFixture(t)
	f.llm.intents = []string{`{"isPreviousSchedules": true}`}

	snap, err := f.engine.StartConversation(context.Background(), StartRequest{
		InitialMessage: "what appointments have I had?",
		UserID:         "user-1",
	})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if got := lastAssistantMessage(t, snap); got != reply("en", "schedules_empty") {
		t.Errorf("reply = %q", got)
	}
}

func TestPreviousTicketsListsRecent(t *testing.T) {
	f := newEngineFixture(t)
	f.tickets.tickets = []ticketing.Ticket{
		{ID: "TK-9", Subject: "Order: 2 x Face Cream", Status: "open"},
	}
	f.llm.intents = []string{`{"isPreviousTickets": true}`}

	snap, err := f.engine.StartConversation(context.Background(), StartRequest{
		InitialMessage: "what did I order before?",
		UserID:         "user-1",
	})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	got := lastAssistantMessage(t, snap)
	if !strings.Contains(got, reply("en", "tickets_intro")) {
		t.Errorf("reply = %q, want intro", got)
	}
	if !strings.Contains(got, "TK-9") || !strings.Contains(got, "Face Cream") {
		t.Errorf("reply = %q, want ticket line", got)
	}
}

func TestSearchTurnRecordsShownProducts(t *testing.T) {
	f := newEngineFixture(t)
	f.products.results = []catalog.Product{
		{ID: "p-1", Name: "Face Cream", Price: "24.00"},
		{ID: "p-2", Name: "Night Serum", Price: "31.50"},
	}
	f.llm.intents = []string{`{"isProductorServiceSearch": true, "searchQuery": "face cream"}`}

	snap, err := f.engine.StartConversation(context.Background(), StartRequest{
		InitialMessage: "do you have any face cream?",
	})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if got := lastAssistantMessage(t, snap); !strings.Contains(got, "2") {
		t.Errorf("reply = %q, want result count", got)
	}
	if len(snap.Products) != 2 {
		t.Fatalf("snapshot products = %d", len(snap.Products))
	}

	// The shown list survives the turn so a later "order this" can resolve it.
	conv, err := f.store.Get(context.Background(), snap.ConversationID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(conv.LastShownProducts) != 2 || conv.LastShownProducts[0].Name != "Face Cream" {
		t.Errorf("last shown products = %+v", conv.LastShownProducts)
	}
}

func TestOrderingUsesLastShownProducts(t *testing.T) {
	f := newEngineFixture(t)

	// Seed a conversation that has already seen search results.
	f.llm.intents = []string{`{"isGeneral": true}`}
	snap, err := f.engine.StartConversation(context.Background(), StartRequest{
		InitialMessage: "hi",
		UserID:         "user-1",
	})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}

	conv, err := f.store.Get(context.Background(), snap.ConversationID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	conv.LastShownProducts = []catalog.Product{{ID: "p-1", Name: "Lavender Candle", Price: "12.00"}}
	if err := f.store.Save(context.Background(), conv); err != nil {
		t.Fatalf("Save: %v", err)
	}

	f.llm.intents = []string{`{"isOrdering": true, "productName": "lavender candle", "quantity": 3}`}
	snap, err = f.engine.ProcessMessage(context.Background(), MessageRequest{
		ConversationID: snap.ConversationID,
		Message:        "I'll take three of the lavender candles",
		UserID:         "user-1",
	})
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if got := lastAssistantMessage(t, snap); !strings.Contains(got, "Lavender Candle") {
		t.Errorf("reply = %q", got)
	}
	if len(f.tickets.created) != 1 {
		t.Fatalf("created %d tickets", len(f.tickets.created))
	}
	if !strings.Contains(f.tickets.created[0].Description, "3 x Lavender Candle") {
		t.Errorf("ticket description = %q", f.tickets.created[0].Description)
	}
}

func TestGetConversationReturnsState(t *testing.T) {
	f := newEngineFixture(t)
	f.llm.intents = []string{`{"isGeneral": true}`}

	snap, err := f.engine.StartConversation(context.Background(), StartRequest{InitialMessage: "hi"})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}

	got, err := f.engine.GetConversation(context.Background(), snap.ConversationID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.ConversationID != snap.ConversationID {
		t.Errorf("conversation id = %q", got.ConversationID)
	}
	if got.Products == nil {
		t.Error("products must never be nil")
	}
	if len(got.Messages) != len(snap.Messages) {
		t.Errorf("messages = %d, want %d", len(got.Messages), len(snap.Messages))
	}
}

func TestGetUnknownConversationFromEngine(t *testing.T) {
	f := newEngineFixture(t)
	if _, err := f.engine.GetConversation(context.Background(), "ghost"); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("err = %v, want ErrConversationNotFound", err)
	}
}
