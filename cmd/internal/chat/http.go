package chat

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"duo/cmd/identity"
	"duo/cmd/internal/httpjson"
)

// ActivityStamper records that a user was just active.
type ActivityStamper interface {
	Touch(ctx context.Context, userID string) (identity.User, error)
}

// Handler serves the chat list and paginated history endpoints.
type Handler struct {
	svc     *Service
	log     *slog.Logger
	stamper ActivityStamper
	maxBody int64
}

func NewHandler(svc *Service, log *slog.Logger, stamper ActivityStamper, maxBody int64) *Handler {
	return &Handler{svc: svc, log: log, stamper: stamper, maxBody: maxBody}
}

// Register mounts the routes behind auth.
func (h *Handler) Register(mux *http.ServeMux, auth httpjson.Authenticator) {
	mux.Handle("GET /api/chats", httpjson.RequireAuth(auth, http.HandlerFunc(h.handleList)))
	mux.Handle("GET /api/chats/{id}/messages", httpjson.RequireAuth(auth, http.HandlerFunc(h.handlePage)))
	mux.Handle("POST /api/chats/{id}/messages", httpjson.RequireAuth(auth, http.HandlerFunc(h.handleSend)))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	uid, _ := httpjson.UserID(r.Context())

	if h.stamper != nil {
		if _, err := h.stamper.Touch(r.Context(), uid); err != nil {
			h.log.Warn("chat.list.touch.fail", "user_id", uid, "err", err)
		}
	}

	chats, err := h.svc.List(r.Context(), uid)
	if err != nil {
		h.log.Error("chat.list.fail", "user_id", uid, "err", err)
		httpjson.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

func (h *Handler) handlePage(w http.ResponseWriter, r *http.Request) {
	uid, _ := httpjson.UserID(r.Context())
	chatID := r.PathValue("id")

	offset, ok1 := queryInt(r, "offset", 0)
	limit, ok2 := queryInt(r, "limit", DefaultPageLimit)
	if !ok1 || !ok2 || offset < 0 || limit < 0 {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid_query", "offset and limit must be non-negative integers")
		return
	}

	page, err := h.svc.Page(r.Context(), uid, chatID, offset, limit)
	if err != nil {
		h.writeErr(w, "chat.page.fail", uid, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, page)
}

type sendRequest struct {
	Content        string `json:"content"`
	MessageType    string `json:"message_type,omitempty"`
	ReplyTo        string `json:"reply_to,omitempty"`
	ClientActionID string `json:"client_action_id,omitempty"`
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	uid, _ := httpjson.UserID(r.Context())

	var req sendRequest
	if err := httpjson.DecodeJSON(w, r, h.maxBody, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}

	msg, err := h.svc.Send(r.Context(), uid, SendInput{
		ChatID:         r.PathValue("id"),
		Content:        req.Content,
		MessageType:    req.MessageType,
		ReplyTo:        req.ReplyTo,
		ClientActionID: req.ClientActionID,
	})
	if err != nil {
		h.writeErr(w, "chat.send.fail", uid, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusCreated, map[string]any{"message": msg})
}

func (h *Handler) writeErr(w http.ResponseWriter, event, uid string, err error) {
	switch {
	case errors.Is(err, ErrChatNotFound), errors.Is(err, ErrNotParticipant):
		httpjson.WriteError(w, http.StatusForbidden, "forbidden", "Unauthorized")
	case errors.Is(err, ErrInvalidReply):
		httpjson.WriteError(w, http.StatusBadRequest, "invalid_reply", "Invalid reply target")
	case errors.Is(err, ErrInvalidInput):
		httpjson.WriteError(w, http.StatusBadRequest, "invalid_input", err.Error())
	default:
		h.log.Error(event, "user_id", uid, "err", err)
		httpjson.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func queryInt(r *http.Request, key string, def int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	return n, err == nil
}
