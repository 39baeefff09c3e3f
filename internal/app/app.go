// Package app wires the Charla server runtime: config, logging, metrics,
// HTTP routes, and the realtime gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"charla/internal/chat"
	"charla/internal/session"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// App is the server runtime: it owns HTTP wiring and the chat core's dependencies.
type App struct {
	cfg Config
	log Logger

	dbPool    *pgxpool.Pool
	dbEnabled bool

	store   chat.Store
	hub     *chat.Hub
	ws      *chat.WSGateway
	handler *chat.Handler
	reg     *prometheus.Registry
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	store, dbPool, dbEnabled, err := newStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	reg := NewMetricsRegistry()
	metrics := chat.NewMetrics(reg)

	hub := chat.NewHub(log, metrics)
	verifier := session.NewJWTVerifier(cfg.SessionSecret, cfg.SessionCookie)
	handler := chat.NewHandler(log, store, verifier, hub, metrics,
		chat.WithMaxBodyChars(cfg.MaxBodyChars))
	ws := chat.NewWSGateway(log, hub, chat.WSGatewayConfig{
		AllowedOriginPatterns: cfg.WSAllowedOrigins,
		SendQueueSize:         cfg.WSSendQueue,
		WriteTimeout:          cfg.WSWriteTimeout,
		PingInterval:          cfg.WSPingInterval,
	})

	return &App{
		cfg:       cfg,
		log:       log,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		store:     store,
		hub:       hub,
		ws:        ws,
		handler:   handler,
		reg:       reg,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or a
// fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.ws, a.handler, a.reg)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

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
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.store.Close(); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}

	a.log.Info("server.stopped")
	return nil
}

// newStore decides between Postgres-backed persistence and the in-memory store.
//
// Ownership model: the app owns the pool lifecycle; PostgresStore.Close is a no-op.
func newStore(ctx context.Context, cfg Config, log Logger) (chat.Store, *pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return chat.NewMemoryStore(), nil, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, err
	}

	store, err := chat.NewPostgresStore(pool, chat.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, false, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	return store, pool, true, nil
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
