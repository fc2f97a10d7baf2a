package chat

import (
	"context"
	"time"
)

// Store persists chats and messages. Each method is one atomic record update.
type Store interface {
	// CreateChat returns the existing chat for the pair when there is one.
	CreateChat(ctx context.Context, id, userA, userB string, now time.Time) (c Chat, created bool, err error)
	ChatByID(ctx context.Context, id string) (Chat, error)
	ChatByPair(ctx context.Context, userA, userB string) (Chat, error)
	// ChatsForUser returns chats ordered by LastActivity, newest first.
	ChatsForUser(ctx context.Context, userID string) ([]Chat, error)

	// InsertMessage stores m and bumps the chat pointer, activity and count.
	// A repeated (SenderID, ClientActionID) returns the stored message with dup set.
	InsertMessage(ctx context.Context, m Message) (stored Message, dup bool, err error)
	MessageByID(ctx context.Context, id string) (Message, error)
	MessagesByID(ctx context.Context, ids []string) (map[string]Message, error)
	ToggleReaction(ctx context.Context, messageID, emoji, userID string, now time.Time) (Message, error)
	// UpdateContent and DeleteMessage only match messages authored by senderID.
	UpdateContent(ctx context.Context, messageID, senderID, content string, now time.Time) (Message, error)
	DeleteMessage(ctx context.Context, messageID, senderID string, now time.Time) error

	// MessagesSince returns up to limit messages with CreatedAt > since (when non-zero)
	// and ID > afterID (when non-empty), oldest first.
	MessagesSince(ctx context.Context, chatID string, since time.Time, afterID string, limit int) ([]Message, error)
	// MessagesPage skips offset messages from the newest end and returns the
	// next limit older ones, oldest first, with the chat's total.
	MessagesPage(ctx context.Context, chatID string, offset, limit int) ([]Message, int, error)

	Close() error
}
