package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

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

func newTestMux(t *testing.T) (*http.ServeMux, *Service, Chat) {
	t.Helper()
	svc, c := newFixture(t)
	mux := http.NewServeMux()
	NewHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil)), nil, 0).Register(mux, tokenAuth{})
	return mux, svc, c
}

func do(mux http.Handler, method, path, user, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+user)
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func TestHTTP_SendAndPage(t *testing.T) {
	t.Parallel()
	mux, _, c := newTestMux(t)

	rr := do(mux, http.MethodPost, "/api/chats/"+c.ID+"/messages", "alice", `{"content":"hello"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("send status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = do(mux, http.MethodGet, "/api/chats/"+c.ID+"/messages?offset=0&limit=10", "bob", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("page status=%d", rr.Code)
	}
	var page syncv1.MessagePage
	if err := json.Unmarshal(rr.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page.Messages) != 1 || page.Messages[0].Content != "hello" || page.HasMore {
		t.Fatalf("page=%+v", page)
	}
}

func TestHTTP_Errors(t *testing.T) {
	t.Parallel()
	mux, _, c := newTestMux(t)

	cases := []struct {
		name, method, path, user, body string
		status                         int
	}{
		{"no token", http.MethodGet, "/api/chats", "", "", http.StatusUnauthorized},
		{"non-participant page", http.MethodGet, "/api/chats/" + c.ID + "/messages", "eve", "", http.StatusForbidden},
		{"bad limit", http.MethodGet, "/api/chats/" + c.ID + "/messages?limit=x", "alice", "", http.StatusBadRequest},
		{"bad reply", http.MethodPost, "/api/chats/" + c.ID + "/messages", "alice", `{"content":"x","reply_to":"nope"}`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/chats/" + c.ID + "/messages", "alice", `{"text":"x"}`, http.StatusBadRequest},
		{"list ok", http.MethodGet, "/api/chats", "alice", "", http.StatusOK},
	}
	for _, tc := range cases {
		if rr := do(mux, tc.method, tc.path, tc.user, tc.body); rr.Code != tc.status {
			t.Fatalf("%s: status=%d want=%d body=%s", tc.name, rr.Code, tc.status, rr.Body.String())
		}
	}
}
