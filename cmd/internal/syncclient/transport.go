package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	syncv1 "duo/shared/contracts/sync/v1"
)

// Transport is the server surface a Session needs.
type Transport interface {
	Batch(ctx context.Context, req syncv1.BatchRequest) (syncv1.BatchResponse, error)
	Page(ctx context.Context, chatID string, offset, limit int) (syncv1.MessagePage, error)
}

const maxResponseBytes = 8 << 20

// HTTPTransport talks JSON to a duo server.
type HTTPTransport struct {
	base   *url.URL
	client *http.Client

	mu    sync.RWMutex
	token string
}

// NewHTTPTransport returns a transport for baseURL. A nil client gets a 30s timeout.
func NewHTTPTransport(baseURL string, client *http.Client) (*HTTPTransport, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url: unsupported scheme %q", u.Scheme)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPTransport{base: u, client: client}, nil
}

func (t *HTTPTransport) SetToken(token string) {
	t.mu.Lock()
	t.token = token
	t.mu.Unlock()
}

func (t *HTTPTransport) Batch(ctx context.Context, req syncv1.BatchRequest) (syncv1.BatchResponse, error) {
	var out syncv1.BatchResponse
	err := t.do(ctx, http.MethodPost, "/api/sync/batch", nil, req, &out)
	return out, err
}

func (t *HTTPTransport) Page(ctx context.Context, chatID string, offset, limit int) (syncv1.MessagePage, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	var out syncv1.MessagePage
	err := t.do(ctx, http.MethodGet, "/api/chats/"+url.PathEscape(chatID)+"/messages", q, nil, &out)
	return out, err
}

type Presence struct {
	Status   string `json:"status"`
	LastSeen string `json:"last_seen"`
}

type ChatSummary struct {
	ID           string         `json:"id"`
	Peer         syncv1.UserRef `json:"peer"`
	Presence     Presence       `json:"presence"`
	LastActivity time.Time      `json:"last_activity"`
	MessageCount int64          `json:"message_count"`
}

func (t *HTTPTransport) Chats(ctx context.Context) ([]ChatSummary, error) {
	var out struct {
		Chats []ChatSummary `json:"chats"`
	}
	err := t.do(ctx, http.MethodGet, "/api/chats", nil, nil, &out)
	return out.Chats, err
}

// Credentials log in with either a password or a recovery passkey.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	Passkey  string `json:"passkey,omitempty"`
}

type Login struct {
	User    syncv1.UserRef
	Token   string
	Expires time.Time
}

// Login exchanges credentials for a bearer token and keeps it for later calls.
func (t *HTTPTransport) Login(ctx context.Context, cred Credentials) (Login, error) {
	var out struct {
		User    syncv1.UserRef `json:"user"`
		Session struct {
			Token     string    `json:"token"`
			ExpiresAt time.Time `json:"expires_at"`
		} `json:"session"`
	}
	if err := t.do(ctx, http.MethodPost, "/auth/login", nil, cred, &out); err != nil {
		return Login{}, err
	}
	t.SetToken(out.Session.Token)
	return Login{User: out.User, Token: out.Session.Token, Expires: out.Session.ExpiresAt}, nil
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := *t.base
	u.Path = t.base.Path + path
	u.RawQuery = query.Encode()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	t.mu.RLock()
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	t.mu.RUnlock()

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	rd := io.LimitReader(resp.Body, maxResponseBytes)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(rd).Decode(&env)
		return &StatusError{Status: resp.StatusCode, Code: env.Error.Code, Message: env.Error.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(rd).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// IsUnauthorized reports whether err is a 401 from the server.
func IsUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusUnauthorized
}
