package identity

import (
	"context"
	"time"
)

// Store persists users and credentials.
type Store interface {
	CreateUser(ctx context.Context, in NewUser) (User, error)
	UserByID(ctx context.Context, id string) (User, error)
	// CredentialsByUsername looks up by normalized username.
	CredentialsByUsername(ctx context.Context, username string) (User, Credentials, error)
	SetPasskeyHash(ctx context.Context, userID, hash string) error
	TouchLastActive(ctx context.Context, userID string, at time.Time) error
	// UsersByID returns the users found; missing ids are absent from the map.
	UsersByID(ctx context.Context, ids []string) (map[string]User, error)
}
