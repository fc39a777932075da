package conversation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vogohq/concierge/internal/calendar"
	"github.com/vogohq/concierge/internal/catalog"
	"github.com/vogohq/concierge/internal/observability/metrics"
	"github.com/vogohq/concierge/internal/ticketing"
	"github.com/vogohq/concierge/pkg/logging"
)

var engineTracer = otel.Tracer("concierge.internal.conversation.engine")

const assistantSystemPrompt = `You are a friendly customer support assistant for an online store that also offers bookable in-person services.
Answer in the language with code %q.
Keep replies short and conversational, no markdown.
You can help with: booking appointments, finding products and services, placing orders, and general questions about the business.
Never invent prices, stock levels, or appointment availability.
If the customer asks for something you cannot do, say so and offer to connect them with a human.`

// CalendarService is the slice of the calendar collaborator the engine needs.
type CalendarService interface {
	CreateEvent(ctx context.Context, event calendar.Event) (*calendar.Event, error)
	ListUserEvents(ctx context.Context, userID string) ([]calendar.Event, error)
}

// Engine implements Service. It routes each user turn through the intent
// classifier, runs the matching branch, and persists the conversation under
// optimistic locking.
type Engine struct {
	store      Store
	classifier *Classifier
	llm        LLMClient
	model      string
	searcher   *Searcher
	orderer    *Orderer
	handoff    *Handoff
	calendar   CalendarService
	tickets    TicketClient
	metrics    *metrics.ConversationMetrics
	timezone   *time.Location
	logger     *logging.Logger
	now        func() time.Time
}

// EngineConfig wires the engine's collaborators.
type EngineConfig struct {
	Store      Store
	Classifier *Classifier
	LLM        LLMClient
	Model      string
	Searcher   *Searcher
	Orderer    *Orderer
	Handoff    *Handoff
	Calendar   CalendarService
	Tickets    TicketClient
	Metrics    *metrics.ConversationMetrics
	Timezone   *time.Location
	Logger     *logging.Logger
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Store == nil {
		panic("conversation: store cannot be nil")
	}
	if cfg.Classifier == nil {
		panic("conversation: classifier cannot be nil")
	}
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(nil)
	}
	return &Engine{
		store:      cfg.Store,
		classifier: cfg.Classifier,
		llm:        cfg.LLM,
		model:      cfg.Model,
		searcher:   cfg.Searcher,
		orderer:    cfg.Orderer,
		handoff:    cfg.Handoff,
		calendar:   cfg.Calendar,
		tickets:    cfg.Tickets,
		metrics:    cfg.Metrics,
		timezone:   cfg.Timezone,
		logger:     cfg.Logger,
		now:        time.Now,
	}
}

// turnResult collects everything a branch produced for one turn.
type turnResult struct {
	reply       string
	products    []catalog.Product
	actions     []Action
	appointment *Appointment
}

// StartConversation opens a conversation with its first user message and
// answers it.
func (e *Engine) StartConversation(ctx context.Context, req StartRequest) (*Snapshot, error) {
	ctx, span := engineTracer.Start(ctx, "conversation.start")
	defer span.End()

	message := strings.TrimSpace(req.InitialMessage)
	if message == "" {
		return nil, errors.New("conversation: initial message required")
	}

	now := e.now().UTC()
	conv := &Conversation{
		ID:        uuid.NewString(),
		SessionID: uuid.NewString(),
		UserID:    req.UserID,
		Language:  e.classifier.DetectLanguage(ctx, message),
		CreatedAt: now,
		UpdatedAt: now,
	}
	span.SetAttributes(attribute.String("concierge.conversation_id", conv.ID))

	conv.Append(RoleUser, message, now)
	if err := e.store.Create(ctx, conv); err != nil {
		return nil, err
	}

	result := e.runTurn(ctx, conv, message)
	conv.UpdatedAt = e.now().UTC()
	if err := e.save(ctx, conv); err != nil {
		return nil, err
	}
	return e.snapshot(conv, result), nil
}

// ProcessMessage handles one turn of an existing conversation.
func (e *Engine) ProcessMessage(ctx context.Context, req MessageRequest) (*Snapshot, error) {
	ctx, span := engineTracer.Start(ctx, "conversation.message")
	defer span.End()
	span.SetAttributes(attribute.String("concierge.conversation_id", req.ConversationID))

	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, errors.New("conversation: message required")
	}

	conv, err := e.store.Get(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}

	// A guest who logged in mid-conversation gets attached to their account.
	if conv.UserID == "" && req.UserID != "" {
		conv.UserID = req.UserID
	}

	now := e.now().UTC()
	conv.Append(RoleUser, message, now)

	// Once an operator owns the conversation the bot stays silent. The
	// message is persisted so the operator sees it.
	var result turnResult
	if conv.OperatorAssigned {
		e.logger.Info("turn suppressed, operator assigned",
			"conversation_id", conv.ID,
			"ticket_id", conv.TicketID,
		)
	} else {
		// Language is fixed by the first message. Re-detecting on short
		// follow-ups like "ok" or "2pm" would flip the reply language.
		if conv.Language == "" {
			if lang := e.classifier.DetectLanguage(ctx, message); lang != "" {
				conv.Language = lang
			}
		}
		result = e.runTurn(ctx, conv, message)
	}

	conv.UpdatedAt = e.now().UTC()
	if err := e.save(ctx, conv); err != nil {
		return nil, err
	}
	return e.snapshot(conv, result), nil
}

// GetConversation returns the stored state without generating a reply.
func (e *Engine) GetConversation(ctx context.Context, conversationID string) (*Snapshot, error) {
	conv, err := e.store.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return e.snapshot(conv, turnResult{products: conv.LastShownProducts}), nil
}

// ListConversations pages through a user's conversations, newest first.
func (e *Engine) ListConversations(ctx context.Context, userID string, limit, offset int) ([]Summary, error) {
	return e.store.List(ctx, userID, limit, offset)
}

// runTurn classifies the message and runs the matching branch. Branch
// failures never fail the turn; the user gets an apology and the error is
// recorded.
func (e *Engine) runTurn(ctx context.Context, conv *Conversation, message string) turnResult {
	start := e.now()
	history := conv.Messages[:len(conv.Messages)-1] // exclude the turn's own message
	intent := e.classifier.Classify(ctx, history, message)

	result, err := e.dispatch(ctx, conv, intent, message)
	e.metrics.ObserveTurn(string(intent.Intent), err, e.now().Sub(start))
	if err != nil {
		e.logger.Error("turn branch failed",
			"conversation_id", conv.ID,
			"intent", string(intent.Intent),
			"error", err,
		)
		result = turnResult{reply: reply(conv.Language, "apology")}
	}

	conv.Append(RoleAssistant, result.reply, e.now().UTC())
	return result
}

func (e *Engine) dispatch(ctx context.Context, conv *Conversation, intent IntentResult, message string) (turnResult, error) {
	switch intent.Intent {
	case IntentScheduling:
		return e.handleScheduling(ctx, conv, intent.Scheduling)
	case IntentProductSearch:
		return e.handleSearch(ctx, conv, intent.Search, message)
	case IntentOrdering:
		return e.handleOrder(ctx, conv, intent.Order)
	case IntentPreviousSchedules:
		return e.handlePreviousSchedules(ctx, conv)
	case IntentPreviousTickets:
		return e.handlePreviousTickets(ctx, conv)
	case IntentHumanRepresentative:
		return e.handleHandoff(ctx, conv, message)
	default:
		return e.handleGeneral(ctx, conv, message)
	}
}

func (e *Engine) handleScheduling(ctx context.Context, conv *Conversation, slots *SchedulingSlots) (turnResult, error) {
	if conv.UserID == "" {
		return turnResult{reply: reply(conv.Language, "login_required")}, nil
	}
	if slots == nil {
		slots = &SchedulingSlots{}
	}

	// A finalized negotiation means this turn starts a new one.
	if conv.SchedulingState != nil && conv.SchedulingState.Finalized {
		if err := e.store.ResetSchedulingGuard(ctx, conv.ID); err != nil {
			return turnResult{}, err
		}
		conv.SchedulingState = nil
	}
	if conv.SchedulingState == nil {
		conv.SchedulingState = &SchedulingState{}
	}
	state := conv.SchedulingState
	state.Merge(*slots)
	if conv.Location == "" && state.Location != "" {
		conv.Location = state.Location
	}

	if !state.Complete() {
		return turnResult{reply: e.slotQuestion(conv.Language, state)}, nil
	}
	if err := state.Validate(); err != nil {
		if errors.Is(err, ErrMissingDateTime) {
			return turnResult{reply: reply(conv.Language, "ask_datetime_explicit")}, nil
		}
		return turnResult{}, err
	}

	return e.finalizeScheduling(ctx, conv, state)
}

// finalizeScheduling books the appointment exactly once. The guard claim
// decides the winner; side-effect failure releases the claim so the user
// can retry.
func (e *Engine) finalizeScheduling(ctx context.Context, conv *Conversation, state *SchedulingState) (turnResult, error) {
	claimed, err := e.store.ClaimSchedulingFinalization(ctx, conv.ID)
	if err != nil {
		return turnResult{}, err
	}

	formattedDate := state.FormatDate(e.timezone)
	formattedTime := state.FormatTime(e.timezone)

	if !claimed {
		// Another request won the race; confirm without booking again.
		state.Finalized = true
		return turnResult{
			reply: replyf(conv.Language, "appointment_confirmed", state.ServiceType, formattedDate, formattedTime),
		}, nil
	}

	userID, guestID := conv.ActorID()
	start, end := state.Window()
	event, err := e.calendar.CreateEvent(ctx, calendar.Event{
		UserID:         userID,
		GuestID:        guestID,
		ConversationID: conv.ID,
		ServiceType:    state.ServiceType,
		Location:       state.Location,
		Start:          start,
		End:            end,
	})
	if err != nil {
		if relErr := e.store.ReleaseSchedulingFinalization(ctx, conv.ID); relErr != nil {
			e.logger.Error("failed to release finalization guard",
				"conversation_id", conv.ID,
				"error", relErr,
			)
		}
		e.logger.Warn("appointment booking failed, negotiation kept open",
			"conversation_id", conv.ID,
			"error", err,
		)
		return turnResult{reply: reply(conv.Language, "appointment_retry")}, nil
	}

	state.Finalized = true
	state.AppointmentID = event.ID
	e.metrics.ObserveFinalization()

	if e.tickets != nil {
		requester := userID
		if requester == "" {
			requester = guestID
		}
		ticket, terr := e.tickets.Create(ctx, ticketing.CreateRequest{
			Subject: fmt.Sprintf("New appointment: %s", state.ServiceType),
			Description: fmt.Sprintf("Appointment booked via chat.\nService: %s\nWhen: %s at %s\nEvent: %s",
				state.ServiceType, formattedDate, formattedTime, event.ID),
			Priority:       ticketing.PriorityNormal,
			RequesterID:    requester,
			ConversationID: conv.ID,
			Language:       conv.Language,
		})
		if terr != nil {
			e.logger.Warn("appointment ticket creation failed", "conversation_id", conv.ID, "error", terr)
		} else {
			state.TicketID = ticket.ID
		}
	}

	link := event.CalendarLink
	if link == "" {
		link = googleCalendarRenderLink(state.ServiceType, start, end)
	}
	appointment := &Appointment{
		ID:            event.ID,
		ServiceType:   state.ServiceType,
		Start:         start,
		End:           end,
		FormattedDate: formattedDate,
		FormattedTime: formattedTime,
		CalendarLink:  link,
		TicketID:      state.TicketID,
	}

	return turnResult{
		reply: replyf(conv.Language, "appointment_confirmed", state.ServiceType, formattedDate, formattedTime),
		actions: []Action{
			{Type: "link", Text: reply(conv.Language, "action_calendar"), URL: link},
			{Type: "button", Text: reply(conv.Language, "action_send_details"), Name: "send_appointment_details", Style: "primary"},
		},
		appointment: appointment,
	}, nil
}

func (e *Engine) slotQuestion(lang string, state *SchedulingState) string {
	switch state.missingSlot() {
	case "service":
		return reply(lang, "ask_service")
	case "date":
		return replyf(lang, "ask_date", state.ServiceType)
	default:
		return reply(lang, "ask_time")
	}
}

func (e *Engine) handleSearch(ctx context.Context, conv *Conversation, slots *SearchSlots, message string) (turnResult, error) {
	if e.searcher == nil {
		return e.handleGeneral(ctx, conv, message)
	}
	replyText, products, err := e.searcher.Search(ctx, conv, slots, message)
	if err != nil {
		return turnResult{}, err
	}
	if len(products) > 0 {
		conv.LastShownProducts = products
	}
	return turnResult{reply: replyText, products: products}, nil
}

func (e *Engine) handleOrder(ctx context.Context, conv *Conversation, slots *OrderSlots) (turnResult, error) {
	if e.orderer == nil {
		return turnResult{reply: reply(conv.Language, "order_clarify")}, nil
	}
	replyText, err := e.orderer.Order(ctx, conv, slots)
	if err != nil {
		return turnResult{}, err
	}
	return turnResult{reply: replyText}, nil
}

func (e *Engine) handlePreviousSchedules(ctx context.Context, conv *Conversation) (turnResult, error) {
	if conv.UserID == "" {
		return turnResult{reply: reply(conv.Language, "login_required")}, nil
	}
	events, err := e.calendar.ListUserEvents(ctx, conv.UserID)
	if err != nil {
		return turnResult{}, err
	}
	if len(events) == 0 {
		return turnResult{reply: reply(conv.Language, "schedules_empty")}, nil
	}

	var b strings.Builder
	b.WriteString(reply(conv.Language, "schedules_intro"))
	for i, ev := range events {
		fmt.Fprintf(&b, "\n%d. %s: %s %s",
			i+1,
			ev.ServiceType,
			ev.Start.In(e.timezone).Format("Monday, 2 January 2006"),
			ev.Start.In(e.timezone).Format("15:04"),
		)
	}
	return turnResult{reply: b.String()}, nil
}

func (e *Engine) handlePreviousTickets(ctx context.Context, conv *Conversation) (turnResult, error) {
	if e.tickets == nil {
		return turnResult{reply: reply(conv.Language, "tickets_empty")}, nil
	}
	userID, guestID := conv.ActorID()
	requester := userID
	if requester == "" {
		requester = guestID
	}
	tickets, err := e.tickets.ListByRequester(ctx, requester, 10)
	if err != nil {
		return turnResult{}, err
	}
	if len(tickets) == 0 {
		return turnResult{reply: reply(conv.Language, "tickets_empty")}, nil
	}

	var b strings.Builder
	b.WriteString(reply(conv.Language, "tickets_intro"))
	for _, t := range tickets {
		fmt.Fprintf(&b, "\n- %s: %s (%s)", t.ID, t.Subject, t.Status)
	}
	return turnResult{reply: b.String()}, nil
}

func (e *Engine) handleHandoff(ctx context.Context, conv *Conversation, message string) (turnResult, error) {
	if e.handoff == nil {
		return turnResult{reply: reply(conv.Language, "apology")}, nil
	}
	alreadyAssigned := conv.OperatorAssigned
	replyText, err := e.handoff.Execute(ctx, conv, message)
	if err != nil {
		return turnResult{}, err
	}
	if !alreadyAssigned {
		e.metrics.ObserveHandoff(e.handoff.Priority(message))
	}
	return turnResult{reply: replyText}, nil
}

func (e *Engine) handleGeneral(ctx context.Context, conv *Conversation, message string) (turnResult, error) {
	if e.llm == nil {
		return turnResult{reply: reply(conv.Language, "apology")}, nil
	}

	messages := make([]ChatMessage, 0, classifyHistoryMax)
	history := conv.Messages[:len(conv.Messages)-1]
	start := 0
	if len(history) > classifyHistoryMax {
		start = len(history) - classifyHistoryMax
	}
	for _, msg := range history[start:] {
		role := ChatRoleUser
		if msg.Role == RoleAssistant {
			role = ChatRoleAssistant
		}
		messages = append(messages, ChatMessage{Role: role, Content: msg.Content})
	}
	messages = append(messages, ChatMessage{Role: ChatRoleUser, Content: message})

	callCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	resp, err := e.llm.Complete(callCtx, LLMRequest{
		Model:       e.model,
		System:      []string{fmt.Sprintf(assistantSystemPrompt, conv.Language)},
		Messages:    messages,
		MaxTokens:   450,
		Temperature: 0.3,
	})
	if err != nil {
		return turnResult{}, fmt.Errorf("conversation: general reply failed: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return turnResult{}, errors.New("conversation: general reply empty")
	}
	return turnResult{reply: text}, nil
}

// save persists the conversation, retrying once on a version conflict by
// replaying this turn's appended messages onto the fresh row.
func (e *Engine) save(ctx context.Context, conv *Conversation) error {
	err := e.store.Save(ctx, conv)
	if !errors.Is(err, ErrVersionConflict) {
		return err
	}

	e.logger.Warn("save conflict, replaying turn on fresh state", "conversation_id", conv.ID)
	fresh, getErr := e.store.Get(ctx, conv.ID)
	if getErr != nil {
		return getErr
	}
	newMessages := conv.Messages[conv.persistedMessages:]
	for _, msg := range newMessages {
		fresh.Append(msg.Role, msg.Content, msg.Timestamp)
	}
	fresh.Language = conv.Language
	fresh.Location = conv.Location
	fresh.SchedulingState = conv.SchedulingState
	fresh.OperatorAssigned = fresh.OperatorAssigned || conv.OperatorAssigned
	if conv.TicketID != "" {
		fresh.TicketID = conv.TicketID
	}
	if len(conv.LastShownProducts) > 0 {
		fresh.LastShownProducts = conv.LastShownProducts
	}
	fresh.UpdatedAt = e.now().UTC()
	if err := e.store.Save(ctx, fresh); err != nil {
		return err
	}
	*conv = *fresh
	return nil
}

func (e *Engine) snapshot(conv *Conversation, result turnResult) *Snapshot {
	products := result.products
	if products == nil {
		products = []catalog.Product{}
	}
	return &Snapshot{
		ConversationID:   conv.ID,
		SessionID:        conv.SessionID,
		Messages:         conv.Messages,
		Language:         conv.Language,
		Products:         products,
		OperatorAssigned: conv.OperatorAssigned,
		TicketID:         conv.TicketID,
		Actions:          result.actions,
		Appointment:      result.appointment,
	}
}

func googleCalendarRenderLink(title string, start, end time.Time) string {
	const layout = "20060102T150405Z"
	v := url.Values{}
	v.Set("action", "TEMPLATE")
	v.Set("text", title)
	v.Set("dates", start.UTC().Format(layout)+"/"+end.UTC().Format(layout))
	return "https://calendar.google.com/calendar/render?" + v.Encode()
}
