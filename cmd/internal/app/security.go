package app

import (
	"errors"
	"fmt"

	"duo/cmd/security/token"
)

// ValidateSecurityConfig enforces the startup security policy. It fails fast rather than
// letting passkey digests fall back to unkeyed SHA-256.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireSecretHMAC {
		return nil
	}

	// Key is used as raw bytes, so length is measured in bytes.
	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return fmt.Errorf("security policy: DUO_REQUIRE_SECRET_HMAC=true but %s is missing", token.HMACEnvKey)
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return fmt.Errorf("security policy: DUO_REQUIRE_SECRET_HMAC=true but %s is too short (min 32 bytes)", token.HMACEnvKey)
		default:
			return err
		}
	}

	if !token.HMACEnabled() {
		return errors.New("security policy: DUO_REQUIRE_SECRET_HMAC=true but secret hashing is not in HMAC mode")
	}
	return nil
}
