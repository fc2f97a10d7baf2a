package identity

import "time"

type User struct {
	ID           string
	Username     string
	UsernameNorm string
	Email        string
	EmailNorm    string
	CreatedAt    time.Time
	LastActive   time.Time
}

// Credentials are the stored secrets of a user. Both fields are digests.
type Credentials struct {
	PasswordHash string // argon2id PHC
	PasskeyHash  string // 64 hex chars, see security/token
}

// NewUser is the validated, hashed input to Store.CreateUser.
type NewUser struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	PasskeyHash  string
	Now          time.Time
}
