package conversation

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store for local development and tests.
type MemoryStore struct {
	mu    sync.Mutex
	convs map[string]*Conversation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[string]*Conversation)}
}

func (s *MemoryStore) Create(ctx context.Context, conv *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv.Version = 1
	conv.persistedMessages = len(conv.Messages)
	s.convs[conv.ID] = cloneConversation(conv)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.convs[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return cloneConversation(stored), nil
}

func (s *MemoryStore) Save(ctx context.Context, conv *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.convs[conv.ID]
	if !ok {
		return ErrConversationNotFound
	}
	if stored.Version != conv.Version {
		return ErrVersionConflict
	}

	finalized := stored.SchedulingState != nil && stored.SchedulingState.Finalized
	conv.Version++
	conv.persistedMessages = len(conv.Messages)
	clone := cloneConversation(conv)
	// The guard column is owned by the claim methods, mirror that here.
	if clone.SchedulingState != nil {
		clone.SchedulingState.Finalized = finalized
	}
	s.convs[conv.ID] = clone
	return nil
}

func (s *MemoryStore) ClaimSchedulingFinalization(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.convs[id]
	if !ok {
		return false, ErrConversationNotFound
	}
	if stored.SchedulingState == nil {
		stored.SchedulingState = &SchedulingState{}
	}
	if stored.SchedulingState.Finalized {
		return false, nil
	}
	stored.SchedulingState.Finalized = true
	return true, nil
}

func (s *MemoryStore) ReleaseSchedulingFinalization(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stored, ok := s.convs[id]; ok && stored.SchedulingState != nil {
		stored.SchedulingState.Finalized = false
	}
	return nil
}

func (s *MemoryStore) ResetSchedulingGuard(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stored, ok := s.convs[id]; ok {
		stored.SchedulingState = nil
	}
	return nil
}

func (s *MemoryStore) List(ctx context.Context, userID string, limit, offset int) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > 100 {
		limit = 20
	}

	matched := make([]*Conversation, 0)
	for _, conv := range s.convs {
		if conv.UserID == userID {
			matched = append(matched, conv)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].LastMessageAt.After(matched[j].LastMessageAt)
	})

	summaries := []Summary{}
	for i := offset; i < len(matched) && len(summaries) < limit; i++ {
		conv := matched[i]
		summaries = append(summaries, Summary{
			ID:               conv.ID,
			Language:         conv.Language,
			LastMessageAt:    conv.LastMessageAt,
			OperatorAssigned: conv.OperatorAssigned,
			TicketID:         conv.TicketID,
			LastUserMessage:  conv.LastUserMessage(),
		})
	}
	return summaries, nil
}

func cloneConversation(conv *Conversation) *Conversation {
	clone := *conv
	clone.Messages = append([]Message(nil), conv.Messages...)
	clone.LastShownProducts = append(clone.LastShownProducts[:0:0], conv.LastShownProducts...)
	if conv.SchedulingState != nil {
		state := *conv.SchedulingState
		if conv.SchedulingState.DateTime != nil {
			ts := *conv.SchedulingState.DateTime
			state.DateTime = &ts
		}
		clone.SchedulingState = &state
	}
	return &clone
}
