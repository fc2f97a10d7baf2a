package authapi

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls auth API limits.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// Attempts per client IP on signup, login and forgot-passkey.
	LoginIPMax    int
	LoginIPWindow time.Duration

	// Failed attempts per username before login and forgot-passkey are refused.
	LoginUserMax    int
	LoginUserWindow time.Duration
}

// LoadConfigFromEnv loads auth config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	return Config{
		TrustProxy:      envBool("DUO_AUTH_TRUST_PROXY", false),
		MaxBodyBytes:    envInt64("DUO_AUTH_MAX_BODY_BYTES", 64<<10),
		LoginIPMax:      envInt("DUO_AUTH_LOGIN_IP_MAX", 20),
		LoginIPWindow:   envDuration("DUO_AUTH_LOGIN_IP_WINDOW", 5*time.Minute),
		LoginUserMax:    envInt("DUO_AUTH_LOGIN_USER_MAX", 5),
		LoginUserWindow: envDuration("DUO_AUTH_LOGIN_USER_WINDOW", 15*time.Minute),
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
