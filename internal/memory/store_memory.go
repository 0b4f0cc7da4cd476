package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NewMemoryStore returns an in-process Store double, grounded on the
// teacher's internal/persistence/databases/chat_store_memory.go. Used by
// tests and by deployments that don't need durability across restarts.
func NewMemoryStore() Store {
	return &memStore{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]Message),
	}
}

type memStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	messages      map[string][]Message
}

func (s *memStore) Init(ctx context.Context) error { return nil }

func (s *memStore) MostRecentConversationForUser(ctx context.Context, userID string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *Conversation
	for _, c := range s.conversations {
		if c.UserID == nil || *c.UserID != userID {
			continue
		}
		if best == nil || c.UpdatedAt.After(best.UpdatedAt) {
			best = c
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (s *memStore) CreateConversation(ctx context.Context, userID *string, modelName string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	c := &Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		ModelName: modelName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations[c.ID] = c
	s.messages[c.ID] = nil
	cp := *c
	return &cp, nil
}

func (s *memStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) UpdateSystemMessage(ctx context.Context, id, text, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return false, ErrConversationNotFound
	}
	if c.SystemMessageHash != nil && *c.SystemMessageHash == hash {
		return false, nil
	}
	c.SystemMessage = &text
	c.SystemMessageHash = &hash
	c.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *memStore) ListConversationsByUser(ctx context.Context, userID string, limit int) ([]ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ConversationSummary, 0)
	for _, c := range s.conversations {
		if c.UserID == nil || *c.UserID != userID {
			continue
		}
		out = append(out, ConversationSummary{
			ID: c.ID, Title: c.Title, ModelName: c.ModelName,
			MessageCount: c.MessageCount, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return ErrConversationNotFound
	}
	delete(s.conversations, id)
	delete(s.messages, id)
	return nil
}

func (s *memStore) NextSequenceAndInsert(ctx context.Context, conversationID string, msg Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return Message{}, ErrConversationNotFound
	}

	existing := s.messages[conversationID]
	nextSeq := 1
	if len(existing) > 0 {
		nextSeq = existing[len(existing)-1].Sequence + 1
	}

	msg.ConversationID = conversationID
	msg.Sequence = nextSeq
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	tokens := estimateTokens(msg.Content, len(msg.ToolCalls))
	msg.Tokens = &tokens

	s.messages[conversationID] = append(existing, msg)
	c.MessageCount++
	c.TotalTokens += tokens
	c.UpdatedAt = time.Now().UTC()

	return msg, nil
}

func (s *memStore) GetMessages(ctx context.Context, conversationID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[conversationID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *memStore) UpdateSummary(ctx context.Context, conversationID, summary string, lastSummarySequence int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return ErrConversationNotFound
	}
	c.Summary = &summary
	c.LastSummarySequence = &lastSummarySequence
	c.UpdatedAt = time.Now().UTC()
	return nil
}
