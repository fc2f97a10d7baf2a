package session

import (
	"os"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// Config controls access-token issuing and verification.
type Config struct {
	// Issuer is the value set in the "iss" claim.
	Issuer string

	// AccessTokenTTL is the lifetime of an access token.
	AccessTokenTTL time.Duration

	// ClockSkew is added to the verification instant to tolerate minor clock differences.
	ClockSkew time.Duration

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key used to sign tokens.
	PasetoV4SecretKeyHex string
}

func DefaultConfig() Config {
	return Config{
		Issuer:         "duo",
		AccessTokenTTL: 7 * 24 * time.Hour,
		ClockSkew:      30 * time.Second,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - DUO_PASETO_V4_SECRET_KEY_HEX
//
// Optional (Go duration strings):
//   - DUO_AUTH_ISSUER
//   - DUO_AUTH_ACCESS_TTL
//   - DUO_AUTH_CLOCK_SKEW
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("DUO_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}
	if v := os.Getenv("DUO_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}
	if v := os.Getenv("DUO_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	cfg.PasetoV4SecretKeyHex = os.Getenv("DUO_PASETO_V4_SECRET_KEY_HEX")
	if cfg.PasetoV4SecretKeyHex == "" {
		return Config{}, ErrConfig
	}
	if cfg.ClockSkew >= cfg.AccessTokenTTL {
		return Config{}, ErrConfig
	}
	return cfg, nil
}

// GenerateSecretKeyHex returns a fresh signing key. Tokens signed with it do not survive a restart.
func GenerateSecretKeyHex() string {
	return paseto.NewV4AsymmetricSecretKey().ExportHex()
}
