package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestManager(t *testing.T, mutate func(*Config)) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.PasetoV4SecretKeyHex = GenerateSecretKeyHex()
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestManager_IssueAndVerify(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, nil)

	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	iss, err := m.Issue("01HZZZZZZZZZZZZZZZZZZZZZZZ", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if want := now.Add(7 * 24 * time.Hour); !iss.ExpiresAt.Equal(want) {
		t.Fatalf("exp=%v want=%v", iss.ExpiresAt, want)
	}

	claims, err := m.Verify(iss.Token, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != "01HZZZZZZZZZZZZZZZZZZZZZZZ" || claims.TokenID == "" || claims.Issuer != "duo" {
		t.Fatalf("claims=%+v", claims)
	}

	uid, err := m.Authenticate(context.Background(), iss.Token, now.Add(time.Minute))
	if err != nil || uid != claims.UserID {
		t.Fatalf("Authenticate=%q err=%v", uid, err)
	}
}

func TestManager_RejectsExpiredAndForeignTokens(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, func(c *Config) { c.AccessTokenTTL = time.Hour })
	other := newTestManager(t, nil)
	otherIssuer := newTestManager(t, func(c *Config) { c.Issuer = "someone-else" })

	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	iss, err := m.Issue("user-1", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	foreign, err := other.Issue("user-1", now)
	if err != nil {
		t.Fatalf("Issue(other): %v", err)
	}
	wrongIss, err := otherIssuer.Issue("user-1", now)
	if err != nil {
		t.Fatalf("Issue(otherIssuer): %v", err)
	}

	cases := []struct {
		name  string
		token string
		at    time.Time
	}{
		{name: "expired", token: iss.Token, at: now.Add(2 * time.Hour)},
		{name: "expires within skew", token: iss.Token, at: now.Add(time.Hour - 10*time.Second)},
		{name: "other key", token: foreign.Token, at: now},
		{name: "other issuer", token: wrongIss.Token, at: now},
		{name: "garbage", token: "v4.public.nope", at: now},
	}
	for _, tc := range cases {
		if _, err := m.Verify(tc.token, tc.at); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: err=%v want=%v", tc.name, err, ErrInvalidToken)
		}
	}
}

func TestNewManager_InvalidConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.PasetoV4SecretKeyHex = "not-hex"
	if _, err := NewManager(cfg); !errors.Is(err, ErrConfig) {
		t.Fatalf("err=%v want=%v", err, ErrConfig)
	}
}
