package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"duo/cmd/internal/syncclient"
	syncv1 "duo/shared/contracts/sync/v1"
)

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "client.yaml")
	yml := "server: https://duo.example.com/\nusername: alice\npoll_interval: 2s\n"
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Server != "https://duo.example.com" || cfg.Username != "alice" || cfg.PollInterval != 2*time.Second {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.DataDir != filepath.Join(dir, "data") {
		t.Fatalf("data dir=%q", cfg.DataDir)
	}
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Server != defaultConfig().Server || cfg.PollInterval != syncclient.PollInterval {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "client.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := loadConfig(path); err == nil {
		t.Fatalf("want parse error")
	}
}

func TestSessionRoundTrip(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := loadSession(cfg, now); !errors.Is(err, errNotLoggedIn) {
		t.Fatalf("loadSession before login err=%v", err)
	}

	want := savedSession{Server: cfg.Server, UserID: "u1", Username: "alice", Token: "tok", ExpiresAt: now.Add(time.Hour)}
	if err := saveSession(cfg, want); err != nil {
		t.Fatalf("saveSession: %v", err)
	}
	info, err := os.Stat(sessionPath(cfg))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("session file mode=%v", info.Mode().Perm())
	}

	got, err := loadSession(cfg, now)
	if err != nil {
		t.Fatalf("loadSession: %v", err)
	}
	if got.Token != "tok" || got.Username != "alice" || !got.ExpiresAt.Equal(want.ExpiresAt) {
		t.Fatalf("session=%+v", got)
	}

	if _, err := loadSession(cfg, now.Add(2*time.Hour)); !errors.Is(err, errNotLoggedIn) {
		t.Fatalf("expired session err=%v", err)
	}
	other := cfg
	other.Server = "https://elsewhere.example.com"
	if _, err := loadSession(other, now); !errors.Is(err, errNotLoggedIn) {
		t.Fatalf("session for another server err=%v", err)
	}
}

func TestFormatItem(t *testing.T) {
	t.Parallel()

	it := syncclient.Item{Message: syncv1.Message{
		ID:        "m2",
		Sender:    syncv1.UserRef{ID: "u1", Username: "bob"},
		Content:   "sure",
		ReplyTo:   &syncv1.ReplyRef{ID: "m1", Deleted: true},
		Reactions: []syncv1.Reaction{{Emoji: "👍", Users: []syncv1.UserRef{{ID: "u2"}}}},
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}}

	got := formatItem(it)
	for _, want := range []string{"<bob>", "[reply to deleted message]", "sure", "👍1", "#m2"} {
		if !strings.Contains(got, want) {
			t.Fatalf("formatItem()=%q missing %q", got, want)
		}
	}
	if got := truncate("abcdefgh", 5); got != "abcd…" {
		t.Fatalf("truncate=%q", got)
	}
}
