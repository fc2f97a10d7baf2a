package connect

import (
	"context"
	"errors"
	"strings"
	"time"

	"duo/cmd/identity"
	"duo/cmd/identity/ids"
	"duo/cmd/internal/chat"
	syncv1 "duo/shared/contracts/sync/v1"
)

const (
	DefaultKeyTTL = 20 * time.Minute
	keyLength     = 8
	keyAttempts   = 5
)

// Chats is the slice of chat.Service that connection handling needs.
type Chats interface {
	Between(ctx context.Context, a, b string) (chat.Chat, error)
	Open(ctx context.Context, a, b string) (chat.Chat, bool, error)
}

// Directory resolves user ids to accounts.
type Directory interface {
	Users(ctx context.Context, ids []string) (map[string]identity.User, error)
}

// Service issues shareable keys and turns redeemed keys into chats.
type Service struct {
	store  Store
	chats  Chats
	users  Directory
	now    func() time.Time
	keyTTL time.Duration
}

type Option func(*Service) error

func WithClock(now func() time.Time) Option {
	return func(s *Service) error {
		if now == nil {
			return ErrInvalidInput
		}
		s.now = now
		return nil
	}
}

// WithKeyTTL sets how long a freshly issued key stays redeemable.
func WithKeyTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl <= 0 {
			return ErrInvalidInput
		}
		s.keyTTL = ttl
		return nil
	}
}

func NewService(store Store, chats Chats, users Directory, opts ...Option) (*Service, error) {
	if store == nil || chats == nil || users == nil {
		return nil, ErrInvalidInput
	}
	s := &Service{
		store:  store,
		chats:  chats,
		users:  users,
		now:    func() time.Time { return time.Now().UTC() },
		keyTTL: DefaultKeyTTL,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// IssueKey replaces userID's shareable key with a fresh one.
func (s *Service) IssueKey(ctx context.Context, userID string) (Key, error) {
	if strings.TrimSpace(userID) == "" {
		return Key{}, ErrInvalidInput
	}
	now := s.now()
	for range keyAttempts {
		code, err := identity.RandomCode(keyLength)
		if err != nil {
			return Key{}, err
		}
		k, err := s.store.PutKey(ctx, Key{
			UserID:    userID,
			Key:       code,
			ExpiresAt: now.Add(s.keyTTL),
			Active:    true,
			CreatedAt: now,
		})
		if errors.Is(err, ErrKeyTaken) {
			continue
		}
		return k, err
	}
	return Key{}, ErrKeyTaken
}

// CurrentKey returns userID's key, expired or not. ErrKeyNotFound when none was ever issued.
func (s *Service) CurrentKey(ctx context.Context, userID string) (Key, error) {
	return s.store.KeyByUser(ctx, userID)
}

// Submit redeems key on behalf of fromUser and files a pending request to its owner.
func (s *Service) Submit(ctx context.Context, fromUser, key string) (Request, error) {
	key = strings.ToUpper(strings.TrimSpace(key))
	if key == "" || fromUser == "" {
		return Request{}, ErrInvalidInput
	}
	k, err := s.store.KeyByValue(ctx, key)
	if err != nil {
		return Request{}, err
	}
	if !k.Active {
		return Request{}, ErrKeyNotFound
	}
	now := s.now()
	if !k.Usable(now) {
		return Request{}, ErrKeyExpired
	}
	if k.UserID == fromUser {
		return Request{}, ErrSelfRequest
	}

	switch _, err := s.chats.Between(ctx, fromUser, k.UserID); {
	case err == nil:
		return Request{}, ErrChatExists
	case !errors.Is(err, chat.ErrChatNotFound):
		return Request{}, err
	}

	id, err := ids.New(now)
	if err != nil {
		return Request{}, err
	}
	return s.store.CreateRequest(ctx, Request{
		ID:        id,
		FromUser:  fromUser,
		ToUser:    k.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// PendingRequest is a pending request rendered for its recipient.
type PendingRequest struct {
	ID        string         `json:"id"`
	From      syncv1.UserRef `json:"from"`
	CreatedAt time.Time      `json:"created_at"`
}

// Pending lists requests waiting on userID, newest first.
func (s *Service) Pending(ctx context.Context, userID string) ([]PendingRequest, error) {
	reqs, err := s.store.PendingFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	senders := make([]string, len(reqs))
	for i, r := range reqs {
		senders[i] = r.FromUser
	}
	users, err := s.users.Users(ctx, senders)
	if err != nil {
		return nil, err
	}
	out := make([]PendingRequest, len(reqs))
	for i, r := range reqs {
		out[i] = PendingRequest{
			ID:        r.ID,
			From:      syncv1.UserRef{ID: r.FromUser, Username: users[r.FromUser].Username},
			CreatedAt: r.CreatedAt,
		}
	}
	return out, nil
}

// Accept claims the request for userID and opens the chat of the pair.
// An already existing chat is returned as is.
func (s *Service) Accept(ctx context.Context, userID, requestID string) (chat.Chat, error) {
	r, err := s.store.Resolve(ctx, requestID, userID, StatusAccepted, s.now())
	if err != nil {
		return chat.Chat{}, err
	}
	c, _, err := s.chats.Open(ctx, r.FromUser, r.ToUser)
	return c, err
}

// Reject declines a pending request addressed to userID.
func (s *Service) Reject(ctx context.Context, userID, requestID string) (Request, error) {
	return s.store.Resolve(ctx, requestID, userID, StatusRejected, s.now())
}
