package connect

import "time"

// Key is a user's current shareable key. A user holds at most one; rotating replaces it.
type Key struct {
	UserID    string    `json:"-"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expires_at"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Usable reports whether the key can still be redeemed at now.
func (k Key) Usable(now time.Time) bool {
	return k.Active && now.Before(k.ExpiresAt)
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Request asks ToUser to open a chat with FromUser.
type Request struct {
	ID        string
	FromUser  string
	ToUser    string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}
