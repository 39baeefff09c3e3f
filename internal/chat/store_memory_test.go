package chat

import (
	"context"
	"errors"
	"testing"
)

func seedDirect(t *testing.T) (*MemoryStore, int64, int64, int64) {
	t.Helper()

	s := NewMemoryStore()
	alice := s.AddUser("Alice")
	bruno := s.AddUser("Bruno")
	conv := s.AddDirectConversation(alice, bruno)
	return s, alice, bruno, conv
}

func TestCreateMessageAssignsIDsAndName(t *testing.T) {
	s, alice, _, conv := seedDirect(t)
	ctx := context.Background()

	m1, err := s.CreateMessage(ctx, conv, alice, "hola")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	m2, err := s.CreateMessage(ctx, conv, alice, "qué tal")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if m1.ID == 0 || m2.ID <= m1.ID {
		t.Fatalf("ids not increasing: %d, %d", m1.ID, m2.ID)
	}
	if m1.SenderName != "Alice" {
		t.Fatalf("sender name = %q", m1.SenderName)
	}
	if m1.CreatedAt.IsZero() {
		t.Fatal("created at not set")
	}
}

func TestCreateMessageUnknownConversation(t *testing.T) {
	s, alice, _, _ := seedDirect(t)

	if _, err := s.CreateMessage(context.Background(), 999, alice, "hola"); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("err = %v, want ErrConversationNotFound", err)
	}
}

func TestHistoryOrderedAndExcludesDeleted(t *testing.T) {
	s, alice, bruno, conv := seedDirect(t)
	ctx := context.Background()

	first, _ := s.CreateMessage(ctx, conv, alice, "uno")
	second, _ := s.CreateMessage(ctx, conv, bruno, "dos")
	third, _ := s.CreateMessage(ctx, conv, alice, "tres")

	// Mark the middle message deleted directly through store internals.
	s.mu.Lock()
	for i := range s.convs[conv].msgs {
		if s.convs[conv].msgs[i].ID == second.ID {
			now := s.convs[conv].msgs[i].CreatedAt
			s.convs[conv].msgs[i].DeletedAt = &now
		}
	}
	s.mu.Unlock()

	got, err := s.History(ctx, conv)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != first.ID || got[1].ID != third.ID {
		t.Fatalf("order wrong: %d, %d", got[0].ID, got[1].ID)
	}
}

func TestHistoryUnknownConversation(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.History(context.Background(), 1); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("err = %v, want ErrConversationNotFound", err)
	}
}

func TestIsParticipant(t *testing.T) {
	s, alice, _, conv := seedDirect(t)
	outsider := s.AddUser("Carla")
	ctx := context.Background()

	ok, err := s.IsParticipant(ctx, alice, conv)
	if err != nil || !ok {
		t.Fatalf("participant: ok=%v err=%v", ok, err)
	}

	ok, err = s.IsParticipant(ctx, outsider, conv)
	if err != nil || ok {
		t.Fatalf("outsider: ok=%v err=%v", ok, err)
	}

	if _, err := s.IsParticipant(ctx, alice, 999); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("unknown conversation: err = %v", err)
	}
}

func TestConversationsListsPeerIdentity(t *testing.T) {
	s, alice, bruno, conv := seedDirect(t)

	convs, err := s.Conversations(context.Background(), alice)
	if err != nil {
		t.Fatalf("conversations: %v", err)
	}
	if len(convs) != 1 {
		t.Fatalf("len = %d, want 1", len(convs))
	}
	if convs[0].ID != conv || convs[0].PeerID != bruno || convs[0].PeerName != "Bruno" {
		t.Fatalf("summary = %+v", convs[0])
	}
	if convs[0].Kind != "directa" {
		t.Fatalf("kind = %q", convs[0].Kind)
	}
}

func TestEnsureDirectConversation(t *testing.T) {
	s := NewMemoryStore()
	alice := s.AddUser("Alice")
	bruno := s.AddUser("Bruno")
	ctx := context.Background()

	id1, err := s.EnsureDirectConversation(ctx, alice, bruno)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	// Same pair, either direction, yields the same conversation.
	id2, err := s.EnsureDirectConversation(ctx, bruno, alice)
	if err != nil {
		t.Fatalf("ensure reverse: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("got two conversations for one pair: %d, %d", id1, id2)
	}

	if _, err := s.EnsureDirectConversation(ctx, alice, alice); !errors.Is(err, ErrSelfConversation) {
		t.Fatalf("self: err = %v, want ErrSelfConversation", err)
	}
	if _, err := s.EnsureDirectConversation(ctx, alice, 999); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown peer: err = %v, want ErrUserNotFound", err)
	}
}

func TestStoreHonorsContextCancellation(t *testing.T) {
	s, alice, _, conv := seedDirect(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.CreateMessage(ctx, conv, alice, "hola"); err == nil {
		t.Fatal("expected context error")
	}
	if _, err := s.History(ctx, conv); err == nil {
		t.Fatal("expected context error")
	}
}
