package connect

import (
	"errors"
	"log/slog"
	"net/http"

	"duo/cmd/internal/httpjson"
)

// Handler serves the shareable-key and connection-request endpoints.
type Handler struct {
	svc     *Service
	log     *slog.Logger
	maxBody int64
}

func NewHandler(svc *Service, log *slog.Logger, maxBody int64) *Handler {
	return &Handler{svc: svc, log: log, maxBody: maxBody}
}

func (h *Handler) Register(mux *http.ServeMux, auth httpjson.Authenticator) {
	mux.Handle("GET /api/requests", httpjson.RequireAuth(auth, http.HandlerFunc(h.handlePending)))
	mux.Handle("POST /api/requests", httpjson.RequireAuth(auth, http.HandlerFunc(h.handleSubmit)))
	mux.Handle("POST /api/requests/{id}/accept", httpjson.RequireAuth(auth, http.HandlerFunc(h.handleAccept)))
	mux.Handle("POST /api/requests/{id}/reject", httpjson.RequireAuth(auth, http.HandlerFunc(h.handleReject)))
	mux.Handle("POST /api/keys/rotate", httpjson.RequireAuth(auth, http.HandlerFunc(h.handleRotate)))
}

func (h *Handler) handlePending(w http.ResponseWriter, r *http.Request) {
	uid, _ := httpjson.UserID(r.Context())
	reqs, err := h.svc.Pending(r.Context(), uid)
	if err != nil {
		h.writeErr(w, "connect.pending.fail", uid, err)
		return
	}
	if reqs == nil {
		reqs = []PendingRequest{}
	}
	httpjson.WriteJSON(w, http.StatusOK, map[string]any{"requests": reqs})
}

type submitRequest struct {
	ShareableKey string `json:"shareable_key"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	uid, _ := httpjson.UserID(r.Context())

	var req submitRequest
	if err := httpjson.DecodeJSON(w, r, h.maxBody, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	out, err := h.svc.Submit(r.Context(), uid, req.ShareableKey)
	if err != nil {
		h.writeErr(w, "connect.submit.fail", uid, err)
		return
	}
	h.log.Info("connect.request.created", "request_id", out.ID, "from", out.FromUser, "to", out.ToUser)
	httpjson.WriteJSON(w, http.StatusCreated, map[string]any{"request_id": out.ID, "status": out.Status})
}

func (h *Handler) handleAccept(w http.ResponseWriter, r *http.Request) {
	uid, _ := httpjson.UserID(r.Context())
	c, err := h.svc.Accept(r.Context(), uid, r.PathValue("id"))
	if err != nil {
		h.writeErr(w, "connect.accept.fail", uid, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, map[string]any{"chat_id": c.ID})
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	uid, _ := httpjson.UserID(r.Context())
	out, err := h.svc.Reject(r.Context(), uid, r.PathValue("id"))
	if err != nil {
		h.writeErr(w, "connect.reject.fail", uid, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, map[string]any{"request_id": out.ID, "status": out.Status})
}

func (h *Handler) handleRotate(w http.ResponseWriter, r *http.Request) {
	uid, _ := httpjson.UserID(r.Context())
	k, err := h.svc.IssueKey(r.Context(), uid)
	if err != nil {
		h.writeErr(w, "connect.rotate.fail", uid, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, map[string]any{"shareable_key": k})
}

func (h *Handler) writeErr(w http.ResponseWriter, event, uid string, err error) {
	switch {
	case errors.Is(err, ErrKeyNotFound):
		httpjson.WriteError(w, http.StatusNotFound, "invalid_key", "Invalid or expired key")
	case errors.Is(err, ErrKeyExpired):
		httpjson.WriteError(w, http.StatusBadRequest, "key_expired", "Key has expired")
	case errors.Is(err, ErrSelfRequest):
		httpjson.WriteError(w, http.StatusBadRequest, "self_request", "Cannot send request to yourself")
	case errors.Is(err, ErrChatExists):
		httpjson.WriteError(w, http.StatusBadRequest, "chat_exists", "Chat already exists")
	case errors.Is(err, ErrRequestExists):
		httpjson.WriteError(w, http.StatusBadRequest, "request_exists", "Request already exists")
	case errors.Is(err, ErrRequestNotFound):
		httpjson.WriteError(w, http.StatusNotFound, "request_not_found", "Request not found or already processed")
	case errors.Is(err, ErrInvalidInput):
		httpjson.WriteError(w, http.StatusBadRequest, "invalid_input", "invalid input")
	default:
		h.log.Error(event, "user_id", uid, "err", err)
		httpjson.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}
