package authapi

import (
	"time"

	"duo/cmd/identity"
	"duo/cmd/internal/connect"
	"duo/cmd/internal/auth/session"
)

type signupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	Passkey  string `json:"passkey,omitempty"`
}

type forgotPasskeyRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userResponse struct {
	ID         string            `json:"id"`
	Username   string            `json:"username"`
	Email      string            `json:"email"`
	CreatedAt  time.Time         `json:"created_at"`
	LastActive time.Time         `json:"last_active"`
	Presence   identity.Presence `json:"presence"`
}

type signupResponse struct {
	User         userResponse `json:"user"`
	Passkey      string       `json:"passkey"`
	ShareableKey *connect.Key `json:"shareable_key,omitempty"`
}

type loginResponse struct {
	User    userResponse   `json:"user"`
	Session session.Issued `json:"session"`
}

type passkeyResponse struct {
	Passkey string `json:"passkey"`
}

type meResponse struct {
	User         userResponse `json:"user"`
	ShareableKey *connect.Key `json:"shareable_key,omitempty"`
}
