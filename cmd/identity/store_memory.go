package identity

import (
	"context"
	"sync"
	"time"
)

type memUser struct {
	user  User
	creds Credentials
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu         sync.RWMutex
	byID       map[string]*memUser
	byUsername map[string]string
	byEmail    map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       make(map[string]*memUser),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
	}
}

func (s *MemoryStore) CreateUser(ctx context.Context, in NewUser) (User, error) {
	const op = "identity.CreateUser"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	u := User{
		ID:           in.ID,
		Username:     in.Username,
		UsernameNorm: NormalizeUsername(in.Username),
		Email:        in.Email,
		EmailNorm:    NormalizeEmail(in.Email),
		CreatedAt:    in.Now,
		LastActive:   in.Now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUsername[u.UsernameNorm]; ok {
		return User{}, ConflictError{Op: op, Field: "username"}
	}
	if _, ok := s.byEmail[u.EmailNorm]; ok {
		return User{}, ConflictError{Op: op, Field: "email"}
	}
	s.byID[u.ID] = &memUser{user: u, creds: Credentials{PasswordHash: in.PasswordHash, PasskeyHash: in.PasskeyHash}}
	s.byUsername[u.UsernameNorm] = u.ID
	s.byEmail[u.EmailNorm] = u.ID
	return u, nil
}

func (s *MemoryStore) UserByID(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.byID[id]
	if !ok {
		return User{}, notFound("identity.UserByID")
	}
	return m.user, nil
}

func (s *MemoryStore) CredentialsByUsername(ctx context.Context, username string) (User, Credentials, error) {
	if err := ctx.Err(); err != nil {
		return User{}, Credentials{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[NormalizeUsername(username)]
	if !ok {
		return User{}, Credentials{}, notFound("identity.CredentialsByUsername")
	}
	m := s.byID[id]
	return m.user, m.creds, nil
}

func (s *MemoryStore) SetPasskeyHash(ctx context.Context, userID, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[userID]
	if !ok {
		return notFound("identity.SetPasskeyHash")
	}
	m.creds.PasskeyHash = hash
	return nil
}

func (s *MemoryStore) TouchLastActive(ctx context.Context, userID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[userID]
	if !ok {
		return notFound("identity.TouchLastActive")
	}
	if at.After(m.user.LastActive) {
		m.user.LastActive = at
	}
	return nil
}

func (s *MemoryStore) UsersByID(ctx context.Context, ids []string) (map[string]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]User, len(ids))
	for _, id := range ids {
		if m, ok := s.byID[id]; ok {
			out[id] = m.user
		}
	}
	return out, nil
}
