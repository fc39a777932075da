package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vogohq/concierge/internal/catalog"
)

var (
	// ErrConversationNotFound is returned for unknown conversation IDs.
	ErrConversationNotFound = errors.New("conversation: not found")

	// ErrVersionConflict means another request saved the conversation after
	// we loaded it. Callers reload and retry.
	ErrVersionConflict = errors.New("conversation: version conflict")
)

// Store persists conversations and their messages.
type Store interface {
	Create(ctx context.Context, conv *Conversation) error
	Get(ctx context.Context, id string) (*Conversation, error)

	// Save writes mutable state under optimistic locking and appends any
	// messages added since the conversation was loaded. It never touches
	// the scheduling finalization guard.
	Save(ctx context.Context, conv *Conversation) error

	// ClaimSchedulingFinalization atomically flips the finalization guard.
	// Exactly one concurrent caller gets true.
	ClaimSchedulingFinalization(ctx context.Context, id string) (bool, error)

	// ReleaseSchedulingFinalization returns the guard after a failed
	// finalization so the user can retry.
	ReleaseSchedulingFinalization(ctx context.Context, id string) error

	// ResetSchedulingGuard clears both the guard and the collected slots,
	// opening a fresh negotiation.
	ResetSchedulingGuard(ctx context.Context, id string) error

	List(ctx context.Context, userID string, limit, offset int) ([]Summary, error)
}

var storeTracer trace.Tracer = otel.Tracer("concierge.internal.conversation.store")

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	if db == nil {
		panic("conversation: db cannot be nil")
	}
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, conv *Conversation) error {
	ctx, span := storeTracer.Start(ctx, "conversation.store.create")
	defer span.End()
	span.SetAttributes(attribute.String("concierge.conversation_id", conv.ID))

	schedState, err := marshalNullable(conv.SchedulingState)
	if err != nil {
		return fmt.Errorf("conversation: marshal scheduling state: %w", err)
	}
	products, err := marshalNullable(conv.LastShownProducts)
	if err != nil {
		return fmt.Errorf("conversation: marshal shown products: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("conversation: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (
			id, session_id, user_id, guest_id, language, location,
			scheduling_state, operator_assigned, ticket_id, last_shown_products,
			last_message_at, created_at, updated_at, version, scheduling_finalized
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1, FALSE)
	`,
		conv.ID, conv.SessionID, conv.UserID, conv.GuestID, conv.Language, conv.Location,
		schedState, conv.OperatorAssigned, conv.TicketID, products,
		conv.LastMessageAt, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("conversation: insert conversation: %w", err)
	}

	if err := insertMessages(ctx, tx, conv.ID, conv.Messages); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("conversation: commit create: %w", err)
	}

	conv.Version = 1
	conv.persistedMessages = len(conv.Messages)
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Conversation, error) {
	ctx, span := storeTracer.Start(ctx, "conversation.store.get")
	defer span.End()
	span.SetAttributes(attribute.String("concierge.conversation_id", id))

	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, user_id, guest_id, language, location,
			scheduling_state, operator_assigned, ticket_id, last_shown_products,
			last_message_at, created_at, updated_at, version, scheduling_finalized
		FROM conversations
		WHERE id = $1
	`, id)

	var conv Conversation
	var schedState, products []byte
	var finalized bool
	err := row.Scan(
		&conv.ID, &conv.SessionID, &conv.UserID, &conv.GuestID, &conv.Language, &conv.Location,
		&schedState, &conv.OperatorAssigned, &conv.TicketID, &products,
		&conv.LastMessageAt, &conv.CreatedAt, &conv.UpdatedAt, &conv.Version, &finalized,
	)
	if err == sql.ErrNoRows {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: select conversation: %w", err)
	}

	if len(schedState) > 0 {
		state := &SchedulingState{}
		if err := json.Unmarshal(schedState, state); err != nil {
			return nil, fmt.Errorf("conversation: decode scheduling state: %w", err)
		}
		state.Finalized = finalized
		conv.SchedulingState = state
	}
	if len(products) > 0 {
		if err := json.Unmarshal(products, &conv.LastShownProducts); err != nil {
			return nil, fmt.Errorf("conversation: decode shown products: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY id ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("conversation: select messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.Role, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("conversation: scan message: %w", err)
		}
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: iterate messages: %w", err)
	}

	conv.persistedMessages = len(conv.Messages)
	return &conv, nil
}

func (s *PostgresStore) Save(ctx context.Context, conv *Conversation) error {
	ctx, span := storeTracer.Start(ctx, "conversation.store.save")
	defer span.End()
	span.SetAttributes(
		attribute.String("concierge.conversation_id", conv.ID),
		attribute.Int64("concierge.conversation_version", conv.Version),
	)

	schedState, err := marshalNullable(conv.SchedulingState)
	if err != nil {
		return fmt.Errorf("conversation: marshal scheduling state: %w", err)
	}
	products, err := marshalNullable(conv.LastShownProducts)
	if err != nil {
		return fmt.Errorf("conversation: marshal shown products: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("conversation: begin tx: %w", err)
	}
	defer tx.Rollback()

	// scheduling_finalized is owned by the claim/release methods and is
	// deliberately absent here.
	res, err := tx.ExecContext(ctx, `
		UPDATE conversations SET
			language = $2, location = $3, scheduling_state = $4,
			operator_assigned = $5, ticket_id = $6, last_shown_products = $7,
			last_message_at = $8, updated_at = $9, version = version + 1
		WHERE id = $1 AND version = $10
	`,
		conv.ID, conv.Language, conv.Location, schedState,
		conv.OperatorAssigned, conv.TicketID, products,
		conv.LastMessageAt, conv.UpdatedAt, conv.Version,
	)
	if err != nil {
		return fmt.Errorf("conversation: update conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conversation: rows affected: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}

	if conv.persistedMessages < len(conv.Messages) {
		if err := insertMessages(ctx, tx, conv.ID, conv.Messages[conv.persistedMessages:]); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("conversation: commit save: %w", err)
	}

	conv.Version++
	conv.persistedMessages = len(conv.Messages)
	return nil
}

func (s *PostgresStore) ClaimSchedulingFinalization(ctx context.Context, id string) (bool, error) {
	ctx, span := storeTracer.Start(ctx, "conversation.store.claim_finalization")
	defer span.End()
	span.SetAttributes(attribute.String("concierge.conversation_id", id))

	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET scheduling_finalized = TRUE, updated_at = NOW()
		WHERE id = $1 AND scheduling_finalized = FALSE
	`, id)
	if err != nil {
		return false, fmt.Errorf("conversation: claim finalization: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("conversation: rows affected: %w", err)
	}
	if affected == 1 {
		return true, nil
	}

	// Zero rows either means the guard was already taken or the row does
	// not exist. Callers need to tell those apart.
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("conversation: check existence: %w", err)
	}
	if !exists {
		return false, ErrConversationNotFound
	}
	return false, nil
}

func (s *PostgresStore) ReleaseSchedulingFinalization(ctx context.Context, id string) error {
	ctx, span := storeTracer.Start(ctx, "conversation.store.release_finalization")
	defer span.End()
	span.SetAttributes(attribute.String("concierge.conversation_id", id))

	if _, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET scheduling_finalized = FALSE, updated_at = NOW()
		WHERE id = $1
	`, id); err != nil {
		return fmt.Errorf("conversation: release finalization: %w", err)
	}
	return nil
}

func (s *PostgresStore) ResetSchedulingGuard(ctx context.Context, id string) error {
	ctx, span := storeTracer.Start(ctx, "conversation.store.reset_scheduling")
	defer span.End()
	span.SetAttributes(attribute.String("concierge.conversation_id", id))

	if _, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET scheduling_finalized = FALSE, scheduling_state = NULL, updated_at = NOW()
		WHERE id = $1
	`, id); err != nil {
		return fmt.Errorf("conversation: reset scheduling guard: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, userID string, limit, offset int) ([]Summary, error) {
	ctx, span := storeTracer.Start(ctx, "conversation.store.list")
	defer span.End()
	span.SetAttributes(attribute.String("concierge.user_id", userID))

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.language, c.operator_assigned, c.ticket_id, c.last_message_at,
			(SELECT m.content FROM messages m
				WHERE m.conversation_id = c.id AND m.role = $2
				ORDER BY m.id DESC LIMIT 1)
		FROM conversations c
		WHERE c.user_id = $1
		ORDER BY c.last_message_at DESC
		LIMIT $3 OFFSET $4
	`, userID, RoleUser, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("conversation: list conversations: %w", err)
	}
	defer rows.Close()

	summaries := []Summary{}
	for rows.Next() {
		var sum Summary
		var lastMessage sql.NullString
		if err := rows.Scan(&sum.ID, &sum.Language, &sum.OperatorAssigned,
			&sum.TicketID, &sum.LastMessageAt, &lastMessage); err != nil {
			return nil, fmt.Errorf("conversation: scan summary: %w", err)
		}
		sum.LastUserMessage = lastMessage.String
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: iterate summaries: %w", err)
	}
	return summaries, nil
}

func insertMessages(ctx context.Context, tx *sql.Tx, conversationID string, msgs []Message) error {
	for _, msg := range msgs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (conversation_id, role, content, created_at)
			VALUES ($1, $2, $3, $4)
		`, conversationID, msg.Role, msg.Content, msg.Timestamp); err != nil {
			return fmt.Errorf("conversation: insert message: %w", err)
		}
	}
	return nil
}

func marshalNullable(v any) ([]byte, error) {
	switch val := v.(type) {
	case *SchedulingState:
		if val == nil {
			return nil, nil
		}
	case []catalog.Product:
		if len(val) == 0 {
			return nil, nil
		}
	}
	return json.Marshal(v)
}
