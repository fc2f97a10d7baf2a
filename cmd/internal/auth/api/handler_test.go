package authapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"duo/cmd/identity"
	"duo/cmd/internal/auth/session"
	"duo/cmd/internal/chat"
	"duo/cmd/internal/connect"
	"duo/cmd/security/password"
)

func newTestServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()

	pwCfg := password.DefaultConfig()
	pwCfg.Params.MemoryKiB = 8 * 1024
	pwCfg.Params.Iterations = 1
	pwCfg.Params.Parallelism = 1

	accounts, err := identity.NewService(identity.NewMemoryStore(), password.New(pwCfg))
	if err != nil {
		t.Fatalf("identity.NewService: %v", err)
	}
	chats := chat.NewService(chat.NewMemoryStore(), accounts)
	keys, err := connect.NewService(connect.NewMemoryStore(), chats, accounts)
	if err != nil {
		t.Fatalf("connect.NewService: %v", err)
	}

	sessCfg := session.DefaultConfig()
	sessCfg.PasetoV4SecretKeyHex = session.GenerateSecretKeyHex()
	tokens, err := session.NewManager(sessCfg)
	if err != nil {
		t.Fatalf("session.NewManager: %v", err)
	}

	h, err := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), cfg, accounts, keys, tokens)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	mux := http.NewServeMux()
	h.Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func testConfig() Config {
	return Config{
		MaxBodyBytes:    1 << 16,
		LoginIPMax:      100,
		LoginIPWindow:   time.Minute,
		LoginUserMax:    3,
		LoginUserWindow: 15 * time.Minute,
	}
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, bearer string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	res, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return res.StatusCode
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func TestAuthAPI_SignupLoginMe(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, testConfig())

	var signup signupResponse
	status := doJSON(t, ts, http.MethodPost, "/auth/signup", "", signupRequest{
		Username: "alice", Email: "alice@example.com", Password: "correct horse battery",
	}, &signup)
	if status != http.StatusCreated {
		t.Fatalf("signup status=%d", status)
	}
	if signup.Passkey == "" || signup.ShareableKey == nil || len(signup.ShareableKey.Key) != 8 {
		t.Fatalf("signup=%+v", signup)
	}

	var dup errorEnvelope
	status = doJSON(t, ts, http.MethodPost, "/auth/signup", "", signupRequest{
		Username: "ALICE", Email: "other@example.com", Password: "correct horse battery",
	}, &dup)
	if status != http.StatusBadRequest || dup.Error.Message != "User already exists" {
		t.Fatalf("duplicate signup status=%d body=%+v", status, dup)
	}

	var login loginResponse
	status = doJSON(t, ts, http.MethodPost, "/auth/login", "", loginRequest{Username: "alice", Passkey: signup.Passkey}, &login)
	if status != http.StatusOK || login.Session.Token == "" {
		t.Fatalf("passkey login status=%d body=%+v", status, login)
	}
	if login.User.Presence.Status != identity.StatusOnline {
		t.Fatalf("presence=%+v want online", login.User.Presence)
	}

	var me meResponse
	status = doJSON(t, ts, http.MethodGet, "/auth/me", login.Session.Token, nil, &me)
	if status != http.StatusOK || me.User.ID != signup.User.ID {
		t.Fatalf("me status=%d body=%+v", status, me)
	}
	if me.ShareableKey == nil || me.ShareableKey.Key != signup.ShareableKey.Key {
		t.Fatalf("me key=%+v want %q", me.ShareableKey, signup.ShareableKey.Key)
	}

	if status := doJSON(t, ts, http.MethodGet, "/auth/me", "garbage", nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("me with bad token status=%d", status)
	}
}

func TestAuthAPI_LoginFailuresAndLockout(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, testConfig())

	if status := doJSON(t, ts, http.MethodPost, "/auth/signup", "", signupRequest{
		Username: "bob", Email: "bob@example.com", Password: "correct horse battery",
	}, nil); status != http.StatusCreated {
		t.Fatalf("signup status=%d", status)
	}

	var unknown, wrong errorEnvelope
	s1 := doJSON(t, ts, http.MethodPost, "/auth/login", "", loginRequest{Username: "nobody", Password: "whatever-pass"}, &unknown)
	s2 := doJSON(t, ts, http.MethodPost, "/auth/login", "", loginRequest{Username: "bob", Password: "wrong-password"}, &wrong)
	if s1 != http.StatusUnauthorized || s2 != http.StatusUnauthorized || unknown != wrong {
		t.Fatalf("failures differ: %d %+v / %d %+v", s1, unknown, s2, wrong)
	}
	if wrong.Error.Message != "Invalid credentials" {
		t.Fatalf("message=%q", wrong.Error.Message)
	}

	if status := doJSON(t, ts, http.MethodPost, "/auth/login", "", loginRequest{Username: "bob"}, nil); status != http.StatusBadRequest {
		t.Fatalf("missing secret status=%d", status)
	}

	// Two more failures reach LoginUserMax; even the right password is then refused.
	for range 2 {
		doJSON(t, ts, http.MethodPost, "/auth/login", "", loginRequest{Username: "bob", Password: "wrong-password"}, nil)
	}
	if status := doJSON(t, ts, http.MethodPost, "/auth/login", "", loginRequest{Username: "bob", Password: "correct horse battery"}, nil); status != http.StatusTooManyRequests {
		t.Fatalf("locked login status=%d want 429", status)
	}
}

func TestAuthAPI_ForgotPasskey(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, testConfig())

	var signup signupResponse
	doJSON(t, ts, http.MethodPost, "/auth/signup", "", signupRequest{
		Username: "carol", Email: "carol@example.com", Password: "correct horse battery",
	}, &signup)

	var fresh passkeyResponse
	status := doJSON(t, ts, http.MethodPost, "/auth/forgot-passkey", "", forgotPasskeyRequest{Username: "carol", Password: "correct horse battery"}, &fresh)
	if status != http.StatusOK || len(fresh.Passkey) != 8 {
		t.Fatalf("forgot status=%d body=%+v", status, fresh)
	}

	if status := doJSON(t, ts, http.MethodPost, "/auth/login", "", loginRequest{Username: "carol", Passkey: signup.Passkey}, nil); status != http.StatusUnauthorized {
		t.Fatalf("old passkey status=%d want 401", status)
	}
	if status := doJSON(t, ts, http.MethodPost, "/auth/login", "", loginRequest{Username: "carol", Passkey: fresh.Passkey}, nil); status != http.StatusOK {
		t.Fatalf("new passkey status=%d want 200", status)
	}

	if status := doJSON(t, ts, http.MethodPost, "/auth/forgot-passkey", "", forgotPasskeyRequest{Username: "carol", Password: "nope-nope"}, nil); status != http.StatusUnauthorized {
		t.Fatalf("bad password status=%d want 401", status)
	}
}

func TestAuthAPI_IPThrottle(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.LoginIPMax = 2
	ts := newTestServer(t, cfg)

	for i := range 2 {
		if status := doJSON(t, ts, http.MethodPost, "/auth/login", "", loginRequest{Username: "x", Password: "y"}, nil); status == http.StatusTooManyRequests {
			t.Fatalf("attempt %d throttled early", i)
		}
	}
	if status := doJSON(t, ts, http.MethodPost, "/auth/login", "", loginRequest{Username: "x", Password: "y"}, nil); status != http.StatusTooManyRequests {
		t.Fatalf("status=%d want 429", status)
	}
}
