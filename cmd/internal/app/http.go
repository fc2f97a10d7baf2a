package app

import (
	"net/http"
	"time"

	authapi "duo/cmd/internal/auth/api"
	"duo/cmd/internal/chat"
	"duo/cmd/internal/connect"
	"duo/cmd/internal/httpjson"
	"duo/cmd/internal/reconcile"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

type routes struct {
	log      Logger
	cfg      Config
	dbPool   *pgxpool.Pool
	registry *prometheus.Registry

	tokens  httpjson.Authenticator
	auth    *authapi.Handler
	chats   *chat.Handler
	connect *connect.Handler
	batch   *reconcile.Handler
}

func registerHTTP(mux *http.ServeMux, rt routes) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if rt.cfg.ReadinessRequireDB && rt.dbPool == nil {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if rt.dbPool != nil {
			if err := PingDB(r.Context(), rt.dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				rt.log.Warn("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if rt.registry != nil {
		mux.Handle("GET /metrics", metricsHandler(rt.registry))
	}

	rt.auth.Register(mux)
	rt.chats.Register(mux, rt.tokens)
	rt.connect.Register(mux, rt.tokens)
	rt.batch.Register(mux, rt.tokens)
}
