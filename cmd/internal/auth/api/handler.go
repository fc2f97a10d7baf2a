// Package authapi serves signup, login, passkey recovery and the caller's profile.
package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"duo/cmd/identity"
	"duo/cmd/internal/auth/session"
	"duo/cmd/internal/connect"
	"duo/cmd/internal/httpjson"
)

// Accounts is the identity surface the handler needs.
type Accounts interface {
	Signup(ctx context.Context, in identity.SignupInput) (identity.User, string, error)
	Login(ctx context.Context, in identity.LoginInput) (identity.User, error)
	RegeneratePasskey(ctx context.Context, username, password string) (string, error)
	Touch(ctx context.Context, id string) (identity.User, error)
	Presence(u identity.User) identity.Presence
}

// Keys hands out shareable keys.
type Keys interface {
	IssueKey(ctx context.Context, userID string) (connect.Key, error)
	CurrentKey(ctx context.Context, userID string) (connect.Key, error)
}

// Tokens issues and verifies bearer tokens.
type Tokens interface {
	httpjson.Authenticator
	Issue(userID string, now time.Time) (session.Issued, error)
}

// Handler wires HTTP auth endpoints to the identity, connect and session services.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	accounts Accounts
	keys     Keys
	tokens   Tokens
	throttle throttle
	now      func() time.Time
}

type HandlerOption func(*Handler)

func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

func NewHandler(log *slog.Logger, cfg Config, accounts Accounts, keys Keys, tokens Tokens, opts ...HandlerOption) (*Handler, error) {
	if accounts == nil || keys == nil || tokens == nil {
		return nil, errors.New("auth: missing dependency")
	}
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		log:      log,
		cfg:      cfg,
		accounts: accounts,
		keys:     keys,
		tokens:   tokens,
		throttle: newThrottle(cfg),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /auth/signup", h.handleSignup)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/forgot-passkey", h.handleForgotPasskey)
	mux.Handle("GET /auth/me", httpjson.RequireAuth(h.tokens, http.HandlerFunc(h.handleMe)))
}

func (h *Handler) admit(w http.ResponseWriter, r *http.Request, now time.Time) bool {
	ip := httpjson.ClientIP(r, h.cfg.TrustProxy)
	ok, retry := h.throttle.admitIP(ip, now)
	if !ok {
		h.log.Warn("auth.throttle.ip", "ip", ip.String(), "path", r.URL.Path, "retry_after", retry)
		httpjson.WriteRateLimited(w, retry)
	}
	return ok
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	if !h.admit(w, r, now) {
		return
	}

	var req signupRequest
	if err := httpjson.DecodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	ctx := r.Context()
	u, passkey, err := h.accounts.Signup(ctx, identity.SignupInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		var opErr identity.OpError
		switch {
		case identity.IsConflict(err):
			httpjson.WriteError(w, http.StatusBadRequest, "user_exists", "User already exists")
		case errors.As(err, &opErr) && identity.IsInvalidInput(err):
			httpjson.WriteError(w, http.StatusBadRequest, "invalid_request", opErr.Msg)
		default:
			h.log.Error("auth.signup.fail", "err", err)
			httpjson.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	resp := signupResponse{User: toUserResponse(u, h.accounts.Presence(u)), Passkey: passkey}
	if k, err := h.keys.IssueKey(ctx, u.ID); err != nil {
		// The account exists; the user can rotate a key later.
		h.log.Error("auth.signup.issue_key.fail", "user_id", u.ID, "err", err)
	} else {
		resp.ShareableKey = &k
	}

	h.log.Info("auth.signup.ok", "user_id", u.ID)
	httpjson.WriteJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	if !h.admit(w, r, now) {
		return
	}

	var req loginRequest
	if err := httpjson.DecodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if req.Username == "" || (req.Password == "" && req.Passkey == "") {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid_request", "Username and password or passkey required")
		return
	}
	if locked, retry := h.throttle.userLocked(req.Username, now); locked {
		h.log.Warn("auth.login.locked", "username", loginKey(req.Username), "retry_after", retry)
		httpjson.WriteRateLimited(w, retry)
		return
	}

	u, err := h.accounts.Login(r.Context(), identity.LoginInput{
		Username: req.Username,
		Password: req.Password,
		Passkey:  req.Passkey,
	})
	if err != nil {
		if identity.IsInvalidCredentials(err) {
			h.throttle.recordFailure(req.Username, now)
			httpjson.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid credentials")
			return
		}
		h.log.Error("auth.login.fail", "err", err)
		httpjson.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	issued, err := h.tokens.Issue(u.ID, now)
	if err != nil {
		h.log.Error("auth.login.issue_token.fail", "user_id", u.ID, "err", err)
		httpjson.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.log.Info("auth.login.ok", "user_id", u.ID, "method", loginMethod(req))
	httpjson.WriteJSON(w, http.StatusOK, loginResponse{
		User:    toUserResponse(u, h.accounts.Presence(u)),
		Session: issued,
	})
}

func loginMethod(req loginRequest) string {
	if req.Password != "" {
		return "password"
	}
	return "passkey"
}

func (h *Handler) handleForgotPasskey(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	if !h.admit(w, r, now) {
		return
	}

	var req forgotPasskeyRequest
	if err := httpjson.DecodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid_request", "Username and password are required")
		return
	}
	if locked, retry := h.throttle.userLocked(req.Username, now); locked {
		httpjson.WriteRateLimited(w, retry)
		return
	}

	passkey, err := h.accounts.RegeneratePasskey(r.Context(), req.Username, req.Password)
	if err != nil {
		if identity.IsInvalidCredentials(err) {
			h.throttle.recordFailure(req.Username, now)
			httpjson.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid credentials")
			return
		}
		h.log.Error("auth.forgot_passkey.fail", "err", err)
		httpjson.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, passkeyResponse{Passkey: passkey})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	uid, _ := httpjson.UserID(r.Context())
	ctx := r.Context()

	u, err := h.accounts.Touch(ctx, uid)
	if err != nil {
		if identity.IsNotFound(err) {
			httpjson.WriteError(w, http.StatusNotFound, "not_found", "User not found")
			return
		}
		h.log.Error("auth.me.fail", "user_id", uid, "err", err)
		httpjson.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	resp := meResponse{User: toUserResponse(u, h.accounts.Presence(u))}
	switch k, err := h.keys.CurrentKey(ctx, uid); {
	case err == nil:
		resp.ShareableKey = &k
	case !errors.Is(err, connect.ErrKeyNotFound):
		h.log.Error("auth.me.key.fail", "user_id", uid, "err", err)
		httpjson.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, resp)
}
