package app

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"duo/cmd/security/password"
	syncv1 "duo/shared/contracts/sync/v1"
)

func testConfig() Config {
	return Config{
		HTTPAddr:         "127.0.0.1:0",
		MaxBodyBytes:     1 << 20,
		DBSchema:         "duo",
		MetricsEnabled:   true,
		BatchMaxActions:  200,
		BatchMaxReads:    100,
		BatchRateMax:     1000,
		BatchRateWindow:  time.Minute,
		BatchResultTTL:   time.Minute,
		BatchReadWorkers: 4,
		KeyTTL:           20 * time.Minute,
	}
}

func newTestApp(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()

	pwCfg := password.DefaultConfig()
	pwCfg.Params.MemoryKiB = 8 * 1024
	pwCfg.Params.Iterations = 1
	pwCfg.Params.Parallelism = 1

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(cfg, log, WithHasher(password.New(pwCfg)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		srv.Close()
		a.Close()
	})
	return srv
}

type client struct {
	t     *testing.T
	base  string
	token string
}

func (c client) do(method, path string, body, out any) *http.Response {
	c.t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		c.t.Fatalf("NewRequest: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			c.t.Fatalf("%s %s: decode %q: %v", method, path, raw, err)
		}
	}
	resp.Body = io.NopCloser(bytes.NewReader(raw))
	return resp
}

func (c client) expect(status int, method, path string, body, out any) {
	c.t.Helper()
	resp := c.do(method, path, body, out)
	if resp.StatusCode != status {
		raw, _ := io.ReadAll(resp.Body)
		c.t.Fatalf("%s %s: status=%d want=%d body=%s", method, path, resp.StatusCode, status, raw)
	}
}

type signupOut struct {
	User struct {
		ID string `json:"id"`
	} `json:"user"`
	Passkey      string `json:"passkey"`
	ShareableKey struct {
		Key string `json:"key"`
	} `json:"shareable_key"`
}

func signupAndLogin(t *testing.T, base, username string) (client, signupOut) {
	t.Helper()

	anon := client{t: t, base: base}
	var su signupOut
	anon.expect(http.StatusCreated, http.MethodPost, "/auth/signup", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "correct horse battery",
	}, &su)

	var login struct {
		Session struct {
			Token string `json:"token"`
		} `json:"session"`
	}
	anon.expect(http.StatusOK, http.MethodPost, "/auth/login", map[string]string{
		"username": username,
		"password": "correct horse battery",
	}, &login)
	if login.Session.Token == "" {
		t.Fatalf("login %s: empty token", username)
	}
	return client{t: t, base: base, token: login.Session.Token}, su
}

func TestApp_ConnectAndSync(t *testing.T) {
	t.Parallel()

	srv := newTestApp(t, testConfig())

	alice, aliceSignup := signupAndLogin(t, srv.URL, "alice")
	bob, bobSignup := signupAndLogin(t, srv.URL, "bob")
	if aliceSignup.ShareableKey.Key == "" {
		t.Fatalf("signup did not issue a shareable key")
	}

	var submitted struct {
		RequestID string `json:"request_id"`
	}
	bob.expect(http.StatusCreated, http.MethodPost, "/api/requests",
		map[string]string{"shareable_key": aliceSignup.ShareableKey.Key}, &submitted)

	var pending struct {
		Requests []struct {
			ID   string `json:"id"`
			From struct {
				Username string `json:"username"`
			} `json:"from"`
		} `json:"requests"`
	}
	alice.expect(http.StatusOK, http.MethodGet, "/api/requests", nil, &pending)
	if len(pending.Requests) != 1 || pending.Requests[0].From.Username != "bob" {
		t.Fatalf("pending=%+v", pending)
	}

	var accepted struct {
		ChatID string `json:"chat_id"`
	}
	alice.expect(http.StatusOK, http.MethodPost, "/api/requests/"+submitted.RequestID+"/accept", nil, &accepted)
	if accepted.ChatID == "" {
		t.Fatalf("accept returned no chat id")
	}

	var sent syncv1.BatchResponse
	bob.expect(http.StatusOK, http.MethodPost, "/api/sync/batch", syncv1.BatchRequest{
		Actions: []syncv1.Action{{ClientActionID: "a1", Type: syncv1.TypeSend, ConversationID: accepted.ChatID, Content: "hi alice"}},
		Reads:   []syncv1.ReadCursor{{ConversationID: accepted.ChatID}},
	}, &sent)
	res, ok := sent.ActionResults["a1"]
	if !ok || !res.Success || res.Message == nil {
		t.Fatalf("action result=%+v", sent.ActionResults)
	}
	if res.Message.Sender.ID != bobSignup.User.ID {
		t.Fatalf("sender=%q want=%q", res.Message.Sender.ID, bobSignup.User.ID)
	}
	if got := sent.Updates[accepted.ChatID].Messages; len(got) != 1 || got[0].ID != res.Message.ID {
		t.Fatalf("read-your-writes: %+v", got)
	}

	var got syncv1.BatchResponse
	alice.expect(http.StatusOK, http.MethodPost, "/api/sync/batch", syncv1.BatchRequest{
		Reads: []syncv1.ReadCursor{{ConversationID: accepted.ChatID}},
	}, &got)
	up := got.Updates[accepted.ChatID]
	if len(up.Messages) != 1 || up.Messages[0].Content != "hi alice" || up.Messages[0].Sender.Username != "bob" {
		t.Fatalf("alice update=%+v", up)
	}

	var chats struct {
		Chats []struct {
			ID string `json:"id"`
		} `json:"chats"`
	}
	alice.expect(http.StatusOK, http.MethodGet, "/api/chats", nil, &chats)
	if len(chats.Chats) != 1 || chats.Chats[0].ID != accepted.ChatID {
		t.Fatalf("chats=%+v", chats)
	}

	var page syncv1.MessagePage
	alice.expect(http.StatusOK, http.MethodGet, "/api/chats/"+accepted.ChatID+"/messages?offset=0&limit=30", nil, &page)
	if page.Total != 1 || page.HasMore {
		t.Fatalf("page=%+v", page)
	}
}

func TestApp_OperationalEndpoints(t *testing.T) {
	t.Parallel()

	srv := newTestApp(t, testConfig())
	anon := client{t: t, base: srv.URL}

	resp := anon.do(http.MethodGet, "/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz=%d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("security headers missing: %q", got)
	}
	anon.expect(http.StatusOK, http.MethodGet, "/readyz", nil, nil)
	anon.expect(http.StatusUnauthorized, http.MethodPost, "/api/sync/batch", syncv1.BatchRequest{}, nil)

	resp = anon.do(http.MethodGet, "/metrics", nil, nil)
	raw, _ := io.ReadAll(resp.Body)
	body := string(raw)
	for _, want := range []string{"duo_http_requests_total", "go_goroutines"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q", want)
		}
	}
}

func TestApp_ReadinessRequiresDB(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.ReadinessRequireDB = true
	cfg.MetricsEnabled = false
	srv := newTestApp(t, cfg)
	anon := client{t: t, base: srv.URL}

	anon.expect(http.StatusServiceUnavailable, http.MethodGet, "/readyz", nil, nil)
	anon.expect(http.StatusNotFound, http.MethodGet, "/metrics", nil, nil)
}
