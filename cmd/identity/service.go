package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"duo/cmd/identity/ids"
	"duo/cmd/security/password"
	"duo/cmd/security/token"
)

// Service implements account flows on top of a Store.
type Service struct {
	store  Store
	hasher *password.Hasher
	now    func() time.Time

	// dummyHash keeps unknown-username logins on the same cost as real ones.
	dummyHash string
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(store Store, hasher *password.Hasher, opts ...Option) (*Service, error) {
	if store == nil || hasher == nil {
		return nil, errors.New("identity: nil store or hasher")
	}
	s := &Service{store: store, hasher: hasher, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	dummy, err := hasher.Hash(strings.Repeat("x", max(hasher.Policy().MinLength, 16)))
	if err != nil {
		return nil, err
	}
	s.dummyHash = dummy
	return s, nil
}

type SignupInput struct {
	Username string
	Email    string
	Password string
}

// Signup registers a user and returns the one-time recovery passkey in clear.
func (s *Service) Signup(ctx context.Context, in SignupInput) (User, string, error) {
	const op = "identity.Signup"

	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)
	if username == "" || email == "" || in.Password == "" {
		return User{}, "", invalid(op, "all fields are required")
	}
	if !validUsername(username) {
		return User{}, "", invalid(op, "username must be 3-32 characters of letters, digits, '_', '.', '-'")
	}
	if !validEmail(email) {
		return User{}, "", invalid(op, "invalid email")
	}

	pwHash, err := s.hasher.Hash(in.Password)
	if err != nil {
		if errors.Is(err, password.ErrInvalidHash) {
			return User{}, "", err
		}
		return User{}, "", invalid(op, err.Error())
	}

	now := s.now()
	id, err := ids.New(now)
	if err != nil {
		return User{}, "", err
	}
	passkey := NewRecoveryPasskey()

	u, err := s.store.CreateUser(ctx, NewUser{
		ID:           id,
		Username:     username,
		Email:        email,
		PasswordHash: pwHash,
		PasskeyHash:  token.HashSecretHex(passkey),
		Now:          now,
	})
	if err != nil {
		return User{}, "", err
	}
	return u, passkey, nil
}

type LoginInput struct {
	Username string
	Password string
	Passkey  string
}

// Login checks a password or a passkey. Every failure is ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, in LoginInput) (User, error) {
	const op = "identity.Login"

	if strings.TrimSpace(in.Username) == "" || (in.Password == "" && in.Passkey == "") {
		return User{}, invalid(op, "username and password or passkey required")
	}

	u, creds, err := s.store.CredentialsByUsername(ctx, in.Username)
	if err != nil {
		if !IsNotFound(err) {
			return User{}, err
		}
		_, _ = s.hasher.Verify(s.dummyHash, in.Password)
		return User{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}

	ok := false
	if in.Password != "" {
		ok, err = s.hasher.Verify(creds.PasswordHash, in.Password)
		if err != nil {
			return User{}, err
		}
	} else {
		ok = token.MatchSecretHex(strings.TrimSpace(in.Passkey), creds.PasskeyHash)
	}
	if !ok {
		return User{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}

	now := s.now()
	if err := s.store.TouchLastActive(ctx, u.ID, now); err != nil {
		return User{}, err
	}
	u.LastActive = now
	return u, nil
}

// RegeneratePasskey verifies the password and replaces the passkey with a short one.
func (s *Service) RegeneratePasskey(ctx context.Context, username, pw string) (string, error) {
	const op = "identity.RegeneratePasskey"

	if strings.TrimSpace(username) == "" || pw == "" {
		return "", invalid(op, "username and password are required")
	}

	u, err := s.Login(ctx, LoginInput{Username: username, Password: pw})
	if err != nil {
		return "", err
	}

	passkey, err := NewShortPasskey()
	if err != nil {
		return "", err
	}
	if err := s.store.SetPasskeyHash(ctx, u.ID, token.HashSecretHex(passkey)); err != nil {
		return "", err
	}
	return passkey, nil
}

func (s *Service) User(ctx context.Context, id string) (User, error) {
	return s.store.UserByID(ctx, id)
}

// Touch stamps lastActive for id and returns the refreshed user.
func (s *Service) Touch(ctx context.Context, id string) (User, error) {
	if err := s.store.TouchLastActive(ctx, id, s.now()); err != nil {
		return User{}, err
	}
	return s.store.UserByID(ctx, id)
}

func (s *Service) Users(ctx context.Context, ids []string) (map[string]User, error) {
	return s.store.UsersByID(ctx, ids)
}

// Presence of u as of the service clock.
func (s *Service) Presence(u User) Presence { return PresenceAt(u.LastActive, s.now()) }
