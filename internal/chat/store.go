// Package chat contains Charla's realtime messaging core: the broadcast hub,
// the websocket gateway, the HTTP delivery endpoint, and message persistence.
package chat

import (
	"context"
	"errors"
	"time"
)

// Store error taxonomy. Handlers map these to HTTP status codes.
var (
	ErrConversationNotFound = errors.New("chat: conversation not found")
	ErrUserNotFound         = errors.New("chat: user not found")
	ErrSelfConversation     = errors.New("chat: conversation requires two distinct participants")
)

// Message is the canonical persisted message representation.
// EditedAt/DeletedAt are soft markers carried in the shape; no endpoint in
// this service writes them.
type Message struct {
	ID             int64
	ConversationID int64
	SenderID       int64
	SenderName     string
	Body           string
	CreatedAt      time.Time
	EditedAt       *time.Time
	DeletedAt      *time.Time
}

// ConversationSummary is the listing shape for a user's conversations:
// the conversation plus the counterpart's display identity.
type ConversationSummary struct {
	ID        int64
	Kind      string
	CreatedAt time.Time
	PeerID    int64
	PeerName  string
}

// Store persists conversations, participants, and messages.
//
// Requirements:
//   - CreateMessage resolves the sender's display name via the user join.
//   - History is ordered by creation (oldest first) and excludes soft-deleted rows.
//   - IsParticipant is the authorization boundary for both read and post;
//     it returns ErrConversationNotFound for unknown conversations.
type Store interface {
	CreateMessage(ctx context.Context, conversationID, senderID int64, body string) (Message, error)
	History(ctx context.Context, conversationID int64) ([]Message, error)
	IsParticipant(ctx context.Context, userID, conversationID int64) (bool, error)
	Conversations(ctx context.Context, userID int64) ([]ConversationSummary, error)
	// EnsureDirectConversation returns the direct conversation between the two
	// users, creating it (with exactly those two participants) when absent.
	EnsureDirectConversation(ctx context.Context, userID, peerID int64) (int64, error)
	Close() error
}
