package token

import "errors"

var (
	ErrHMACKeyMissing  = errors.New("secret HMAC key missing")
	ErrHMACKeyTooShort = errors.New("secret HMAC key too short")
)
