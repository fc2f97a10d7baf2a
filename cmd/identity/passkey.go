package identity

import (
	"crypto/rand"

	"github.com/google/uuid"
)

const passkeyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewRecoveryPasskey returns the one-time passkey handed out at signup.
func NewRecoveryPasskey() string { return uuid.NewString() }

// NewShortPasskey returns an 8-character [A-Z0-9] passkey for forgot-passkey.
func NewShortPasskey() (string, error) {
	return RandomCode(8)
}

// RandomCode draws n characters uniformly from [A-Z0-9].
func RandomCode(n int) (string, error) {
	const limit = 256 - 256%len(passkeyAlphabet)

	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, passkeyAlphabet[int(b)%len(passkeyAlphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
