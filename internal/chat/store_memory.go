package chat

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is the in-memory Store used when no database is configured,
// and by tests. Ids are assigned from per-store counters.
type MemoryStore struct {
	mu sync.Mutex

	nextUserID int64
	nextConvID int64
	nextMsgID  int64

	users map[int64]string
	convs map[int64]*memConversation
}

type memConversation struct {
	id           int64
	kind         string
	createdAt    time.Time
	participants []int64
	msgs         []Message
}

// NewMemoryStore constructs an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[int64]string),
		convs: make(map[int64]*memConversation),
	}
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// AddUser seeds a user and returns its id.
func (s *MemoryStore) AddUser(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextUserID++
	s.users[s.nextUserID] = name
	return s.nextUserID
}

// AddDirectConversation seeds a direct conversation between two users.
func (s *MemoryStore) AddDirectConversation(a, b int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addDirectLocked(a, b)
}

func (s *MemoryStore) addDirectLocked(a, b int64) int64 {
	s.nextConvID++
	s.convs[s.nextConvID] = &memConversation{
		id:           s.nextConvID,
		kind:         "directa",
		createdAt:    time.Now().UTC(),
		participants: []int64{a, b},
	}
	return s.nextConvID
}

// CreateMessage appends a message and resolves the sender's display name.
func (s *MemoryStore) CreateMessage(ctx context.Context, conversationID, senderID int64, body string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[conversationID]
	if !ok {
		return Message{}, ErrConversationNotFound
	}
	name, ok := s.users[senderID]
	if !ok {
		return Message{}, ErrUserNotFound
	}

	s.nextMsgID++
	msg := Message{
		ID:             s.nextMsgID,
		ConversationID: conversationID,
		SenderID:       senderID,
		SenderName:     name,
		Body:           body,
		CreatedAt:      time.Now().UTC(),
	}
	c.msgs = append(c.msgs, msg)
	return msg, nil
}

// History returns the conversation's messages ordered by creation.
func (s *MemoryStore) History(ctx context.Context, conversationID int64) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}

	out := make([]Message, 0, len(c.msgs))
	for _, m := range c.msgs {
		if m.DeletedAt != nil {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// IsParticipant reports whether userID belongs to conversationID.
func (s *MemoryStore) IsParticipant(ctx context.Context, userID, conversationID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[conversationID]
	if !ok {
		return false, ErrConversationNotFound
	}
	for _, p := range c.participants {
		if p == userID {
			return true, nil
		}
	}
	return false, nil
}

// Conversations lists the user's direct conversations with the counterpart identity.
func (s *MemoryStore) Conversations(ctx context.Context, userID int64) ([]ConversationSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ConversationSummary
	for _, c := range s.convs {
		peer, ok := peerOf(c.participants, userID)
		if !ok {
			continue
		}
		out = append(out, ConversationSummary{
			ID:        c.id,
			Kind:      c.kind,
			CreatedAt: c.createdAt,
			PeerID:    peer,
			PeerName:  s.users[peer],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// EnsureDirectConversation returns the conversation between the two users,
// creating it when absent. A user cannot converse with themselves.
func (s *MemoryStore) EnsureDirectConversation(ctx context.Context, userID, peerID int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if userID == peerID {
		return 0, ErrSelfConversation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[peerID]; !ok {
		return 0, ErrUserNotFound
	}
	if _, ok := s.users[userID]; !ok {
		return 0, ErrUserNotFound
	}

	for _, c := range s.convs {
		if len(c.participants) != 2 {
			continue
		}
		if hasBoth(c.participants, userID, peerID) {
			return c.id, nil
		}
	}
	return s.addDirectLocked(userID, peerID), nil
}

func peerOf(participants []int64, userID int64) (int64, bool) {
	found := false
	var peer int64
	for _, p := range participants {
		if p == userID {
			found = true
		} else {
			peer = p
		}
	}
	return peer, found
}

func hasBoth(participants []int64, a, b int64) bool {
	var hasA, hasB bool
	for _, p := range participants {
		hasA = hasA || p == a
		hasB = hasB || p == b
	}
	return hasA && hasB
}

var _ Store = (*MemoryStore)(nil)
