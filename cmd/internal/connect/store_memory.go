package connect

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore is the Store used when no database is configured.
type MemoryStore struct {
	mu       sync.Mutex
	keys     map[string]Key    // by user id
	keyOwner map[string]string // key -> user id
	requests map[string]*Request
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys:     make(map[string]Key),
		keyOwner: make(map[string]string),
		requests: make(map[string]*Request),
	}
}

func (s *MemoryStore) PutKey(ctx context.Context, k Key) (Key, error) {
	if err := ctx.Err(); err != nil {
		return Key{}, err
	}
	if k.UserID == "" || k.Key == "" {
		return Key{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, ok := s.keyOwner[k.Key]; ok && owner != k.UserID {
		return Key{}, ErrKeyTaken
	}
	if prev, ok := s.keys[k.UserID]; ok {
		delete(s.keyOwner, prev.Key)
	}
	s.keys[k.UserID] = k
	s.keyOwner[k.Key] = k.UserID
	return k, nil
}

func (s *MemoryStore) KeyByUser(ctx context.Context, userID string) (Key, error) {
	if err := ctx.Err(); err != nil {
		return Key{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[userID]
	if !ok {
		return Key{}, ErrKeyNotFound
	}
	return k, nil
}

func (s *MemoryStore) KeyByValue(ctx context.Context, key string) (Key, error) {
	if err := ctx.Err(); err != nil {
		return Key{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.keyOwner[key]
	if !ok {
		return Key{}, ErrKeyNotFound
	}
	return s.keys[owner], nil
}

func (s *MemoryStore) CreateRequest(ctx context.Context, r Request) (Request, error) {
	if err := ctx.Err(); err != nil {
		return Request{}, err
	}
	if r.ID == "" || r.FromUser == "" || r.ToUser == "" {
		return Request{}, ErrInvalidInput
	}
	if r.FromUser == r.ToUser {
		return Request{}, ErrSelfRequest
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.requests {
		if existing.Status != StatusPending {
			continue
		}
		if (existing.FromUser == r.FromUser && existing.ToUser == r.ToUser) ||
			(existing.FromUser == r.ToUser && existing.ToUser == r.FromUser) {
			return Request{}, ErrRequestExists
		}
	}
	r.Status = StatusPending
	cp := r
	s.requests[r.ID] = &cp
	return r, nil
}

func (s *MemoryStore) PendingFor(ctx context.Context, toUser string) ([]Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	var out []Request
	for _, r := range s.requests {
		if r.ToUser == toUser && r.Status == StatusPending {
			out = append(out, *r)
		}
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b Request) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})
	return out, nil
}

func (s *MemoryStore) Resolve(ctx context.Context, id, toUser string, status Status, now time.Time) (Request, error) {
	if err := ctx.Err(); err != nil {
		return Request{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.requests[id]
	if !ok || r.ToUser != toUser || r.Status != StatusPending {
		return Request{}, ErrRequestNotFound
	}
	r.Status = status
	r.UpdatedAt = now
	return *r, nil
}
