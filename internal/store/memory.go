package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roelfdiedericks/chatgate/internal/types"
)

// MemoryStore keeps everything in process memory. Used in tests and with
// storage.driver = "memory".
type MemoryStore struct {
	mu            sync.Mutex
	conversations map[string]*types.Conversation
	messages      map[string][]*types.Message // by conversation, oldest first
	now           func() time.Time

	// FailInsert, when set, is returned by InsertFinalMessage
	FailInsert error
	inserts    int
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*types.Conversation),
		messages:      make(map[string][]*types.Message),
		now:           time.Now,
	}
}

// Inserts returns the number of successful InsertFinalMessage calls
func (s *MemoryStore) Inserts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserts
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateConversation(ctx context.Context, ownerID, name string) (*types.Conversation, error) {
	if name == "" {
		name = types.DefaultConversationName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	conv := &types.Conversation{ID: uuid.NewString(), OwnerID: ownerID, Name: name, CreatedAt: now, LastUsedAt: now}
	s.conversations[conv.ID] = conv
	c := *conv
	return &c, nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, id string) (*types.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *conv
	return &c, nil
}

func (s *MemoryStore) ListConversations(ctx context.Context, ownerID string) ([]types.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Conversation
	for _, conv := range s.conversations {
		if conv.OwnerID == ownerID {
			out = append(out, *conv)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastUsedAt.After(out[j].LastUsedAt)
	})
	return out, nil
}

func (s *MemoryStore) RenameConversation(ctx context.Context, id, name string) (*types.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	conv.Name = name
	c := *conv
	return &c, nil
}

func (s *MemoryStore) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(s.conversations, id)
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) StorePrompt(ctx context.Context, p *PendingPrompt) (*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[p.ConversationID]; !ok {
		return nil, ErrNotFound
	}
	msg := &types.Message{
		ID:               uuid.NewString(),
		ConversationID:   p.ConversationID,
		Prompt:           p.Prompt,
		Model:            p.Model,
		IncludeSearch:    p.IncludeSearch,
		IncludeReasoning: p.IncludeReasoning,
		Attachments:      append([]types.Attachment{}, p.Attachments...),
		Sources:          []types.Source{},
		CreatedAt:        s.now(),
	}
	s.messages[p.ConversationID] = append(s.messages[p.ConversationID], msg)
	return copyMessage(msg), nil
}

func (s *MemoryStore) InsertFinalMessage(ctx context.Context, fm *FinalMessage) (*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailInsert != nil {
		return nil, s.FailInsert
	}
	conv, ok := s.conversations[fm.ConversationID]
	if !ok {
		return nil, ErrNotFound
	}
	now := s.now()
	response := fm.Response
	msg := &types.Message{
		ID:               uuid.NewString(),
		ConversationID:   fm.ConversationID,
		Prompt:           fm.Prompt,
		Response:         &response,
		Model:            fm.Model,
		FinishReason:     fm.FinishReason,
		Reasoning:        types.StringPtr(fm.Reasoning),
		Usage:            fm.Usage,
		ResponseTimeMs:   fm.ResponseTimeMs,
		IncludeSearch:    fm.IncludeSearch,
		IncludeReasoning: fm.IncludeReasoning,
		Attachments:      append([]types.Attachment{}, fm.Attachments...),
		Sources:          append([]types.Source{}, fm.Sources...),
		CreatedAt:        now,
	}
	s.messages[fm.ConversationID] = append(s.messages[fm.ConversationID], msg)
	conv.LastUsedAt = laterOf(conv.LastUsedAt, now)
	s.inserts++
	return copyMessage(msg), nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, conversationID string) ([]types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	out := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, *copyMessage(m))
	}
	return out, nil
}

func (s *MemoryStore) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	for i, m := range msgs {
		if m.ID == messageID {
			s.messages[conversationID] = append(msgs[:i:i], msgs[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) DeleteLastMessageIfPending(ctx context.Context, conversationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	if len(msgs) == 0 || !msgs[len(msgs)-1].Pending() {
		return false, nil
	}
	s.messages[conversationID] = msgs[:len(msgs)-1]
	return true, nil
}

func (s *MemoryStore) SetLiked(ctx context.Context, conversationID, messageID string, liked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages[conversationID] {
		if m.ID == messageID {
			m.Liked = liked
			return nil
		}
	}
	return ErrNotFound
}

func copyMessage(m *types.Message) *types.Message {
	c := *m
	c.Attachments = append([]types.Attachment{}, m.Attachments...)
	c.Sources = append([]types.Source{}, m.Sources...)
	return &c
}
