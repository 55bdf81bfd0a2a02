// Package app wires the cipherchat relay runtime: config, logging, key loading,
// the TCP listener, the optional ops HTTP server and journal storage.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"cipherchat/cmd/internal/codec"
	"cipherchat/cmd/internal/relay"
	"cipherchat/cmd/security/keyring"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App is the relay runtime: it owns the key, the relay pipeline and every
// resource that needs an orderly shutdown.
type App struct {
	cfg Config
	log Logger

	key   *keyring.Key
	codec *codec.Codec

	promReg *prometheus.Registry
	metrics *relay.Metrics

	registry *relay.Registry
	relay    *relay.Relay
	server   *relay.Server
	ws       *relay.WSGateway

	journal   relay.Journal
	dbPool    *pgxpool.Pool
	dbEnabled bool

	closeOnce sync.Once
}

// New constructs a fully wired App. Key material is read from the environment
// (see keyring.MaterialFromEnv) and moved into locked memory.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	kcfg, err := keyring.FromEnv()
	if err != nil {
		return nil, err
	}
	if err := ValidateSecurityConfig(cfg, kcfg); err != nil {
		return nil, err
	}

	key, err := keyring.Load(keyring.MaterialFromEnv(), kcfg)
	if err != nil {
		return nil, fmt.Errorf("load key: %w", err)
	}

	var c *codec.Codec
	if err := key.Use(func(k []byte) error {
		var cerr error
		c, cerr = codec.New(k, cfg.FrameSize)
		return cerr
	}); err != nil {
		key.Destroy()
		return nil, err
	}

	log.Info("key.loaded",
		"fingerprint", key.Fingerprint(),
		"aes_bits", key.Len()*8,
		"kdf", kcfg.KDF,
		"frame_size", c.FrameSize(),
	)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := relay.NewMetrics(promReg)

	journal, pool, err := newJournal(context.Background(), cfg, log)
	if err != nil {
		key.Destroy()
		return nil, err
	}

	registry := relay.NewRegistry(log)

	opts := []relay.RelayOption{
		relay.WithMetrics(metrics),
		relay.WithQueueSize(cfg.RelayQueue),
	}
	if journal != nil {
		opts = append(opts, relay.WithJournal(journal))
	}
	rel := relay.NewRelay(log, c, registry, opts...)

	srv := relay.NewServer(log, relay.Config{
		AuthTimeout:     cfg.AuthTimeout,
		ReadIdleTimeout: cfg.ReadIdleTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		SendQueueSize:   cfg.SendQueue,
		RateEvents:      cfg.RateEvents,
		RateWindow:      cfg.RateWindow,
	}, c, registry, rel, metrics)

	var ws *relay.WSGateway
	if cfg.WSEnabled {
		ws = relay.NewWSGateway(log, srv, relay.WSOptions{
			OriginRequired: cfg.WSOriginRequired,
			AllowedOrigins: cfg.WSAllowedOrigins,
			DevInsecure:    cfg.WSDevInsecure,
		})
	}

	return &App{
		cfg:       cfg,
		log:       log,
		key:       key,
		codec:     c,
		promReg:   promReg,
		metrics:   metrics,
		registry:  registry,
		relay:     rel,
		server:    srv,
		ws:        ws,
		journal:   journal,
		dbPool:    pool,
		dbEnabled: pool != nil,
	}, nil
}

// Handler returns the ops HTTP handler (health, readiness, metrics, journal, WebSocket).
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, opsDeps{
		log:       a.log,
		cfg:       a.cfg,
		dbPool:    a.dbPool,
		dbEnabled: a.dbEnabled,
		registry:  a.registry,
		journal:   a.journal,
		gatherer:  a.promReg,
		ws:        a.ws,
	})
	return WithSecurityHeaders(WithRequestLogging(mux, a.log))
}

// Run listens on cfg.Addr and serves until ctx is cancelled.
// A bind failure is returned to the caller unchanged in meaning.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Addr)
	if err != nil {
		a.close(context.Background())
		return fmt.Errorf("listen %s: %w", a.cfg.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the relay on ln (and the ops server when configured) until ctx is
// cancelled or a listener fails. Resources are released before it returns.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()

	go func() {
		if err := a.relay.Run(relayCtx); err != nil {
			a.log.Error("relay.run.fail", "err", err)
		}
	}()

	errCh := make(chan error, 2)

	var ops *http.Server
	if a.cfg.OpsAddr != "" {
		ops = &http.Server{
			Addr:              a.cfg.OpsAddr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
			IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
			MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
		}
		base := runtimeBaseURL(a.cfg.OpsAddr)
		a.log.Info("ops.start",
			"addr", a.cfg.OpsAddr,
			"metrics_url", base+"/metrics",
			"ws_enabled", a.ws != nil,
			"ws_url", wsBaseURL(base)+"/ws",
		)
		go func() {
			if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("ops server: %w", err)
			}
		}()
	}

	serveCtx, stopServe := context.WithCancel(ctx)
	defer stopServe()

	a.log.Info("server.start",
		"addr", ln.Addr().String(),
		"journal", a.cfg.Journal,
		"db_enabled", a.dbEnabled,
	)

	go func() {
		if err := a.server.Serve(serveCtx, ln); err != nil {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case runErr = <-errCh:
		a.log.Error("server.fail", "err", runErr)
	}
	stopServe()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if ops != nil {
		if err := ops.Shutdown(shutdownCtx); err != nil {
			a.log.Error("ops.shutdown.fail", "err", err)
		}
	}

	// Sessions first so nothing publishes into a stopped relay.
	a.server.Close()

	stopRelay()
	select {
	case <-a.relay.Done():
	case <-shutdownCtx.Done():
		a.log.Warn("relay.stop.timeout")
	}

	a.close(shutdownCtx)
	a.log.Info("server.stopped")
	return runErr
}

func (a *App) close(_ context.Context) {
	a.closeOnce.Do(func() {
		if a.journal != nil {
			if err := a.journal.Close(); err != nil {
				a.log.Error("journal.close.fail", "err", err)
			}
		}
		if a.dbPool != nil {
			a.dbPool.Close()
		}
		a.key.Destroy()
	})
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

// newJournal opens the configured journal backend. The pool is returned whenever
// CIPHERCHAT_DATABASE_URL is set so /readyz can ping it, even without a Postgres journal.
func newJournal(ctx context.Context, cfg Config, log Logger) (relay.Journal, *pgxpool.Pool, error) {
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		p, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("db: %w", err)
		}
		pool = p
		log.Info("db.enabled")
	}

	switch cfg.Journal {
	case JournalOff, "":
		log.Info("journal.disabled")
		return nil, pool, nil

	case JournalMemory:
		log.Info("journal.enabled", "backend", JournalMemory)
		return relay.NewMemoryJournal(), pool, nil

	case JournalBolt:
		j, err := relay.OpenBoltJournal(cfg.JournalPath)
		if err != nil {
			if pool != nil {
				pool.Close()
			}
			return nil, nil, err
		}
		log.Info("journal.enabled", "backend", JournalBolt, "path", cfg.JournalPath)
		return j, pool, nil

	case JournalPostgres:
		if pool == nil {
			return nil, nil, errors.New("journal: postgres backend requires CIPHERCHAT_DATABASE_URL")
		}
		// Ownership: the app closes the pool; PostgresJournal.Close is a no-op.
		j, err := relay.NewPostgresJournal(pool, relay.WithSchema(cfg.DBSchema))
		if err == nil {
			err = j.Migrate(ctx)
		}
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("journal: %w", err)
		}
		log.Info("journal.enabled", "backend", JournalPostgres, "schema", cfg.DBSchema)
		return j, pool, nil

	default:
		if pool != nil {
			pool.Close()
		}
		return nil, nil, fmt.Errorf("journal: unknown backend %q", cfg.Journal)
	}
}
