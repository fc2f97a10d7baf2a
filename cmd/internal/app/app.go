// Package app wires the duo server runtime: config, logging, persistence, HTTP routes and metrics.
package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"duo/cmd/identity"
	authapi "duo/cmd/internal/auth/api"
	"duo/cmd/internal/auth/session"
	"duo/cmd/internal/chat"
	"duo/cmd/internal/connect"
	"duo/cmd/internal/reconcile"
	"duo/cmd/security/password"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// App is the duo server runtime: it owns the stores, the services and the HTTP server wiring.
type App struct {
	cfg Config
	log Logger

	dbPool *pgxpool.Pool

	registry *prometheus.Registry
	handler  http.Handler
	now      func() time.Time
	hasher   *password.Hasher
}

// Option customises New.
type Option func(*App)

// WithClock replaces the wall clock used by every service.
func WithClock(now func() time.Time) Option {
	return func(a *App) {
		if now != nil {
			a.now = now
		}
	}
}

// WithHasher replaces the password hasher built from the environment.
func WithHasher(h *password.Hasher) Option {
	return func(a *App) {
		if h != nil {
			a.hasher = h
		}
	}
}

type stores struct {
	users    identity.Store
	chats    chat.Store
	requests connect.Store
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger, opts ...Option) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	a := &App{
		cfg: cfg,
		log: log,
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	if a.hasher == nil {
		h, err := password.NewFromEnv()
		if err != nil {
			return nil, err
		}
		a.hasher = h
	}

	st, err := a.openStores(context.Background())
	if err != nil {
		return nil, err
	}

	if err := a.wire(st); err != nil {
		a.closeDB()
		return nil, err
	}
	return a, nil
}

// openStores picks Postgres when a database URL is configured and in-memory stores otherwise.
func (a *App) openStores(ctx context.Context) (stores, error) {
	if a.cfg.DatabaseURL == "" {
		a.log.Info("db.disabled.inmemory_store")
		return stores{
			users:    identity.NewMemoryStore(),
			chats:    chat.NewMemoryStore(),
			requests: connect.NewMemoryStore(),
		}, nil
	}

	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return stores{}, err
	}
	a.dbPool = pool

	users, err := identity.NewPostgresStore(pool, identity.WithSchema(a.cfg.DBSchema))
	if err != nil {
		a.closeDB()
		return stores{}, err
	}
	chats, err := chat.NewPostgresStore(pool, chat.WithSchema(a.cfg.DBSchema))
	if err != nil {
		a.closeDB()
		return stores{}, err
	}
	requests, err := connect.NewPostgresStore(pool, connect.WithSchema(a.cfg.DBSchema))
	if err != nil {
		a.closeDB()
		return stores{}, err
	}

	a.log.Info("db.enabled.postgres_store", "schema", a.cfg.DBSchema)
	return stores{users: users, chats: chats, requests: requests}, nil
}

func (a *App) wire(st stores) error {
	ids, err := identity.NewService(st.users, a.hasher, identity.WithClock(a.now))
	if err != nil {
		return err
	}
	chats := chat.NewService(st.chats, ids, chat.WithClock(a.now))
	conns, err := connect.NewService(st.requests, chats, ids,
		connect.WithClock(a.now),
		connect.WithKeyTTL(a.cfg.KeyTTL),
	)
	if err != nil {
		return err
	}

	tokens, err := a.tokenManager()
	if err != nil {
		return err
	}

	auth, err := authapi.NewHandler(a.log, authapi.LoadConfigFromEnv(), ids, conns, tokens, authapi.WithClock(a.now))
	if err != nil {
		return err
	}

	var (
		recMetrics *reconcile.Metrics
		reqMetrics *httpMetrics
	)
	if a.cfg.MetricsEnabled {
		a.registry = newRegistry()
		recMetrics = reconcile.NewMetrics(a.registry)
		reqMetrics = newHTTPMetrics(a.registry)
	}

	rec := reconcile.New(chats,
		reconcile.WithClock(a.now),
		reconcile.WithLogger(a.log),
		reconcile.WithMetrics(recMetrics),
		reconcile.WithResultTTL(a.cfg.BatchResultTTL),
		reconcile.WithReadWorkers(a.cfg.BatchReadWorkers),
	)
	batch := reconcile.NewHandler(rec, a.log, ids, reconcile.HandlerConfig{
		MaxBodyBytes: a.cfg.MaxBodyBytes,
		MaxActions:   a.cfg.BatchMaxActions,
		MaxReads:     a.cfg.BatchMaxReads,
		RateMax:      a.cfg.BatchRateMax,
		RateWindow:   a.cfg.BatchRateWindow,
	})

	mux := http.NewServeMux()
	registerHTTP(mux, routes{
		log:      a.log,
		cfg:      a.cfg,
		dbPool:   a.dbPool,
		registry: a.registry,
		tokens:   tokens,
		auth:     auth,
		chats:    chat.NewHandler(chats, a.log, ids, a.cfg.MaxBodyBytes),
		connect:  connect.NewHandler(conns, a.log, a.cfg.MaxBodyBytes),
		batch:    batch,
	})

	var h http.Handler = mux
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	h = WithRecover(h, a.log)
	h = WithRequestLogging(h, a.log, reqMetrics)
	a.handler = h
	return nil
}

// tokenManager loads the PASETO signing key. Without one, an ephemeral key is generated
// so local runs work; tokens then do not survive a restart.
func (a *App) tokenManager() (*session.Manager, error) {
	if os.Getenv("DUO_PASETO_V4_SECRET_KEY_HEX") == "" {
		cfg := session.DefaultConfig()
		cfg.PasetoV4SecretKeyHex = session.GenerateSecretKeyHex()
		a.log.Warn("auth.key.ephemeral", "hint", "set DUO_PASETO_V4_SECRET_KEY_HEX to keep sessions across restarts")
		return session.NewManager(cfg)
	}
	cfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return session.NewManager(cfg)
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbPool != nil, "metrics", a.registry != nil)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		a.closeDB()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		a.closeDB()
		return err
	}

	a.closeDB()
	a.log.Info("server.stopped")
	return nil
}

// Close releases the database pool. It is safe to call more than once.
func (a *App) Close() { a.closeDB() }

func (a *App) closeDB() {
	if a.dbPool != nil {
		a.dbPool.Close()
		a.dbPool = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
