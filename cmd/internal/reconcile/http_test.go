package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"duo/cmd/identity"
	syncv1 "duo/shared/contracts/sync/v1"
)

type tokenAuth struct{}

// Authenticate treats the token as the user id.
func (tokenAuth) Authenticate(_ context.Context, tok string, _ time.Time) (string, error) {
	if tok == "" {
		return "", errors.New("empty")
	}
	return tok, nil
}

type touchRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *touchRecorder) Touch(_ context.Context, id string) (identity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return identity.User{ID: id}, nil
}

func newTestServer(t *testing.T, cfg HandlerConfig) (*http.ServeMux, fixture, *touchRecorder) {
	t.Helper()
	f := newFixture(t)
	touch := &touchRecorder{}
	mux := http.NewServeMux()
	NewHandler(f.reconciler(nil), quietLogger(), touch, cfg).Register(mux, tokenAuth{})
	return mux, f, touch
}

func post(mux http.Handler, user, body string) *httptest.ResponseRecorder {
	var rd io.Reader = strings.NewReader(body)
	req := httptest.NewRequest(http.MethodPost, "/api/sync/batch", rd)
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+user)
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func TestHTTP_Batch(t *testing.T) {
	t.Parallel()
	mux, f, touch := newTestServer(t, DefaultHandlerConfig())

	body := `{"reads":[{"conversation_id":"` + f.chat.ID + `"}],` +
		`"actions":[{"client_action_id":"c-1","type":"send","conversation_id":"` + f.chat.ID + `","content":"hi bob"}]}`
	rr := post(mux, "alice", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}

	var resp syncv1.BatchResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.ActionResults["c-1"].Success {
		t.Fatalf("action result=%+v", resp.ActionResults["c-1"])
	}
	if msgs := resp.Updates[f.chat.ID].Messages; len(msgs) != 1 || msgs[0].Content != "hi bob" {
		t.Fatalf("updates=%+v", resp.Updates)
	}
	if resp.Timestamp == 0 {
		t.Fatalf("timestamp missing")
	}
	if len(touch.ids) != 1 || touch.ids[0] != "alice" {
		t.Fatalf("touched=%v want [alice]", touch.ids)
	}
}

func TestHTTP_BatchRejects(t *testing.T) {
	t.Parallel()
	cfg := DefaultHandlerConfig()
	cfg.MaxActions = 1
	mux, _, touch := newTestServer(t, cfg)

	cases := []struct {
		name string
		user string
		body string
		want int
	}{
		{"no token", "", `{}`, http.StatusUnauthorized},
		{"bad json", "alice", `{"reads":`, http.StatusBadRequest},
		{"unknown field", "alice", `{"foo":1}`, http.StatusBadRequest},
		{"too many actions", "alice", `{"actions":[{"type":"delete","message_id":"a"},{"type":"delete","message_id":"b"}]}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		if rr := post(mux, tc.user, tc.body); rr.Code != tc.want {
			t.Fatalf("%s: status=%d want %d body=%s", tc.name, rr.Code, tc.want, rr.Body.String())
		}
	}
	if len(touch.ids) != 0 {
		t.Fatalf("rejected batches stamped activity: %v", touch.ids)
	}
}

func TestHTTP_BatchRateLimited(t *testing.T) {
	t.Parallel()
	cfg := DefaultHandlerConfig()
	cfg.RateMax = 2
	cfg.RateWindow = time.Hour
	mux, _, _ := newTestServer(t, cfg)

	for i := range 2 {
		if rr := post(mux, "alice", `{}`); rr.Code != http.StatusOK {
			t.Fatalf("batch %d status=%d", i, rr.Code)
		}
	}
	rr := post(mux, "alice", `{}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}
	if rr := post(mux, "bob", `{}`); rr.Code != http.StatusOK {
		t.Fatalf("other user limited: status=%d", rr.Code)
	}
}

func TestHTTP_BatchStorageFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	m := f.send(t, "alice", "hi")
	mux := http.NewServeMux()
	rec := f.reconciler(&flakyChats{Chats: f.svc})
	NewHandler(rec, quietLogger(), nil, DefaultHandlerConfig()).Register(mux, tokenAuth{})

	body := `{"actions":[{"client_action_id":"r-1","type":"react","message_id":"` + m.ID + `","emoji":"👍"}]}`
	rr := post(mux, "bob", body)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d want 503 body=%s", rr.Code, rr.Body.String())
	}
	if b := rr.Body.String(); !strings.Contains(b, `"unavailable"`) || strings.Contains(b, errDown.Error()) {
		t.Fatalf("body=%s", b)
	}
}
