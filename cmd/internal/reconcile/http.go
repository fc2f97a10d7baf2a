package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"duo/cmd/identity"
	"duo/cmd/internal/httpjson"
	"duo/cmd/internal/ratelimit"
	syncv1 "duo/shared/contracts/sync/v1"
)

// ActivityStamper records that a user was just active.
type ActivityStamper interface {
	Touch(ctx context.Context, userID string) (identity.User, error)
}

// HandlerConfig bounds the batch endpoint.
type HandlerConfig struct {
	MaxBodyBytes int64
	MaxActions   int
	MaxReads     int

	// RateMax batches per RateWindow per user. Zero disables limiting.
	RateMax    int
	RateWindow time.Duration
}

func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		MaxBodyBytes: 1 << 20,
		MaxActions:   200,
		MaxReads:     100,
		RateMax:      120,
		RateWindow:   time.Minute,
	}
}

// Handler serves POST /api/sync/batch.
type Handler struct {
	rec     *Reconciler
	log     *slog.Logger
	stamper ActivityStamper
	cfg     HandlerConfig
	limiter *ratelimit.Pool
	metrics *Metrics
}

func NewHandler(rec *Reconciler, log *slog.Logger, stamper ActivityStamper, cfg HandlerConfig) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		rec:     rec,
		log:     log,
		stamper: stamper,
		cfg:     cfg,
		limiter: ratelimit.New(cfg.RateMax, cfg.RateWindow),
		metrics: rec.metrics,
	}
}

func (h *Handler) Register(mux *http.ServeMux, auth httpjson.Authenticator) {
	mux.Handle("POST /api/sync/batch", httpjson.RequireAuth(auth, http.HandlerFunc(h.handleBatch)))
}

func (h *Handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	uid, _ := httpjson.UserID(r.Context())

	if ok, retry := h.limiter.Allow(uid, time.Now()); !ok {
		h.metrics.batch("rate_limited", -1)
		h.log.Warn("sync.batch.limited", "user_id", uid, "retry_after", retry)
		httpjson.WriteRateLimited(w, retry)
		return
	}

	var req syncv1.BatchRequest
	if err := httpjson.DecodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		h.metrics.batch("invalid", -1)
		httpjson.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	if h.cfg.MaxActions > 0 && len(req.Actions) > h.cfg.MaxActions {
		h.metrics.batch("invalid", -1)
		httpjson.WriteError(w, http.StatusBadRequest, "too_many_actions", "too many actions in one batch")
		return
	}
	if h.cfg.MaxReads > 0 && len(req.Reads) > h.cfg.MaxReads {
		h.metrics.batch("invalid", -1)
		httpjson.WriteError(w, http.StatusBadRequest, "too_many_reads", "too many reads in one batch")
		return
	}

	if h.stamper != nil {
		if _, err := h.stamper.Touch(r.Context(), uid); err != nil {
			h.log.Warn("sync.batch.touch.fail", "user_id", uid, "err", err)
		}
	}

	resp, err := h.rec.Reconcile(r.Context(), uid, req)
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			h.log.Error("sync.batch.fail", "user_id", uid, "err", err)
			httpjson.WriteError(w, http.StatusServiceUnavailable, "unavailable", "sync temporarily unavailable")
			return
		}
		h.log.Warn("sync.batch.cancelled", "user_id", uid, "err", err)
		httpjson.WriteError(w, http.StatusServiceUnavailable, "cancelled", "request cancelled")
		return
	}

	h.log.Debug("sync.batch.ok",
		"user_id", uid,
		"actions", len(req.Actions),
		"reads", len(req.Reads),
		"updates", len(resp.Updates),
	)
	httpjson.WriteJSON(w, http.StatusOK, resp)
}
