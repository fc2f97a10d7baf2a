package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"duo/cmd/identity"
	"duo/cmd/identity/ids"
	syncv1 "duo/shared/contracts/sync/v1"
)

// Directory resolves user ids to accounts for rendering.
type Directory interface {
	Users(ctx context.Context, ids []string) (map[string]identity.User, error)
}

// Service enforces participant and author rules over a Store.
type Service struct {
	store Store
	users Directory
	now   func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(store Store, users Directory, opts ...Option) *Service {
	s := &Service{store: store, users: users, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Open returns the chat between a and b, creating it when absent.
func (s *Service) Open(ctx context.Context, a, b string) (Chat, bool, error) {
	now := s.now()
	id, err := ids.New(now)
	if err != nil {
		return Chat{}, false, err
	}
	return s.store.CreateChat(ctx, id, a, b, now)
}

// Between returns the chat of a pair or ErrChatNotFound.
func (s *Service) Between(ctx context.Context, a, b string) (Chat, error) {
	return s.store.ChatByPair(ctx, a, b)
}

// ChatFor returns chatID when userID participates in it.
func (s *Service) ChatFor(ctx context.Context, userID, chatID string) (Chat, error) {
	c, err := s.store.ChatByID(ctx, chatID)
	if err != nil {
		return Chat{}, err
	}
	if !c.Has(userID) {
		return Chat{}, ErrNotParticipant
	}
	return c, nil
}

type Summary struct {
	ID            string            `json:"id"`
	Peer          syncv1.UserRef    `json:"peer"`
	Presence      identity.Presence `json:"presence"`
	LastMessageID string            `json:"last_message_id,omitempty"`
	LastActivity  time.Time         `json:"last_activity"`
	MessageCount  int64             `json:"message_count"`
}

// List returns userID's chats, most recently active first.
func (s *Service) List(ctx context.Context, userID string) ([]Summary, error) {
	chats, err := s.store.ChatsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	peers := make([]string, len(chats))
	for i, c := range chats {
		peers[i] = c.Peer(userID)
	}
	users, err := s.users.Users(ctx, peers)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]Summary, len(chats))
	for i, c := range chats {
		peer := users[peers[i]]
		out[i] = Summary{
			ID:            c.ID,
			Peer:          syncv1.UserRef{ID: peers[i], Username: peer.Username},
			Presence:      identity.PresenceAt(peer.LastActive, now),
			LastMessageID: c.LastMessageID,
			LastActivity:  c.LastActivity,
			MessageCount:  c.MessageCount,
		}
	}
	return out, nil
}

type SendInput struct {
	ChatID         string
	Content        string
	MessageType    string
	ReplyTo        string
	ClientActionID string
}

// Send stores a message from userID. A non-empty ReplyTo must name a message of the same chat.
func (s *Service) Send(ctx context.Context, userID string, in SendInput) (syncv1.Message, error) {
	if err := (syncv1.SendOp{ConversationID: in.ChatID, Content: in.Content, MessageType: in.MessageType}).Validate(); err != nil {
		return syncv1.Message{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if _, err := s.ChatFor(ctx, userID, in.ChatID); err != nil {
		return syncv1.Message{}, err
	}
	if in.ReplyTo != "" {
		target, err := s.store.MessageByID(ctx, in.ReplyTo)
		if err != nil || target.ChatID != in.ChatID {
			if err != nil && !errors.Is(err, ErrMessageNotFound) {
				return syncv1.Message{}, err
			}
			return syncv1.Message{}, ErrInvalidReply
		}
	}

	msgType := in.MessageType
	if msgType == "" {
		msgType = syncv1.MessageTypeText
	}
	now := s.now()
	id, err := ids.New(now)
	if err != nil {
		return syncv1.Message{}, err
	}

	stored, _, err := s.store.InsertMessage(ctx, Message{
		ID:             id,
		ChatID:         in.ChatID,
		SenderID:       userID,
		Content:        syncv1.NormalizeContent(in.Content),
		MessageType:    msgType,
		ReplyTo:        in.ReplyTo,
		ClientActionID: in.ClientActionID,
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        1,
	})
	if err != nil {
		return syncv1.Message{}, err
	}
	return s.renderOne(ctx, stored)
}

// React toggles userID's emoji on a message of a chat they participate in.
func (s *Service) React(ctx context.Context, userID, messageID, emoji string) (syncv1.Message, error) {
	if _, err := s.memberOfMessage(ctx, userID, messageID); err != nil {
		return syncv1.Message{}, err
	}
	m, err := s.store.ToggleReaction(ctx, messageID, strings.TrimSpace(emoji), userID, s.now())
	if err != nil {
		return syncv1.Message{}, err
	}
	return s.renderOne(ctx, m)
}

// Edit replaces the content of a message authored by userID.
func (s *Service) Edit(ctx context.Context, userID, messageID, content string) (syncv1.Message, error) {
	if err := (syncv1.EditOp{MessageID: messageID, Content: content}).Validate(); err != nil {
		return syncv1.Message{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	m, err := s.store.UpdateContent(ctx, messageID, userID, syncv1.NormalizeContent(content), s.now())
	if err != nil {
		return syncv1.Message{}, err
	}
	return s.renderOne(ctx, m)
}

// Delete removes a message authored by userID.
func (s *Service) Delete(ctx context.Context, userID, messageID string) error {
	return s.store.DeleteMessage(ctx, messageID, userID, s.now())
}

// MarkRead checks membership and returns the message unchanged.
func (s *Service) MarkRead(ctx context.Context, userID, messageID string) (syncv1.Message, error) {
	m, err := s.memberOfMessage(ctx, userID, messageID)
	if err != nil {
		return syncv1.Message{}, err
	}
	return s.renderOne(ctx, m)
}

// MarkSeen checks membership of chatID. Nothing is recorded.
func (s *Service) MarkSeen(ctx context.Context, userID, chatID string) error {
	_, err := s.ChatFor(ctx, userID, chatID)
	return err
}

func (s *Service) memberOfMessage(ctx context.Context, userID, messageID string) (Message, error) {
	m, err := s.store.MessageByID(ctx, messageID)
	if err != nil {
		return Message{}, err
	}
	if _, err := s.ChatFor(ctx, userID, m.ChatID); err != nil {
		if errors.Is(err, ErrChatNotFound) {
			return Message{}, ErrNotParticipant
		}
		return Message{}, err
	}
	return m, nil
}

// Since returns up to syncv1.PageCap messages of chatID newer than both watermarks.
func (s *Service) Since(ctx context.Context, userID, chatID string, since time.Time, afterID string) ([]syncv1.Message, error) {
	if _, err := s.ChatFor(ctx, userID, chatID); err != nil {
		return nil, err
	}
	msgs, err := s.store.MessagesSince(ctx, chatID, since, afterID, syncv1.PageCap)
	if err != nil {
		return nil, err
	}
	return s.Render(ctx, msgs)
}

const (
	DefaultPageLimit = 30
	MaxPageLimit     = 100
)

// Page returns the window of chatID that skips offset newest messages, oldest first.
func (s *Service) Page(ctx context.Context, userID, chatID string, offset, limit int) (syncv1.MessagePage, error) {
	if _, err := s.ChatFor(ctx, userID, chatID); err != nil {
		return syncv1.MessagePage{}, err
	}
	offset = max(offset, 0)
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	limit = min(limit, MaxPageLimit)

	msgs, total, err := s.store.MessagesPage(ctx, chatID, offset, limit)
	if err != nil {
		return syncv1.MessagePage{}, err
	}
	out, err := s.Render(ctx, msgs)
	if err != nil {
		return syncv1.MessagePage{}, err
	}
	return syncv1.MessagePage{Messages: out, HasMore: offset+limit < total, Total: total}, nil
}
