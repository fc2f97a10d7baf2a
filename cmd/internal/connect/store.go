package connect

import (
	"context"
	"time"
)

// Store is the persistence boundary for shareable keys and connection requests.
type Store interface {
	// PutKey replaces the key of k.UserID. ErrKeyTaken when another user holds k.Key.
	PutKey(ctx context.Context, k Key) (Key, error)
	KeyByUser(ctx context.Context, userID string) (Key, error)
	KeyByValue(ctx context.Context, key string) (Key, error)

	// CreateRequest inserts a pending request. ErrRequestExists when the pair already has one pending,
	// in either direction.
	CreateRequest(ctx context.Context, r Request) (Request, error)
	PendingFor(ctx context.Context, toUser string) ([]Request, error)
	// Resolve moves a pending request addressed to toUser into status. Anything else is ErrRequestNotFound.
	Resolve(ctx context.Context, id, toUser string, status Status, now time.Time) (Request, error)
}
