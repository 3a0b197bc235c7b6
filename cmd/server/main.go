package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc"

	"github.com/atmx/longshot/internal/allocator"
	"github.com/atmx/longshot/internal/broker"
	"github.com/atmx/longshot/internal/config"
	"github.com/atmx/longshot/internal/dashboard"
	"github.com/atmx/longshot/internal/feed"
	"github.com/atmx/longshot/internal/metrics"
	"github.com/atmx/longshot/internal/model"
	"github.com/atmx/longshot/internal/scan"
	"github.com/atmx/longshot/internal/store"
)

const (
	shutdownTimeout = 5 * time.Second
	connectAttempts = 6
)

func main() {
	once := flag.Bool("once", false, "run a single scan cycle and exit")
	webOnly := flag.Bool("web-only", false, "serve the dashboard without scanning")
	envFile := flag.String("env", config.DefaultEnvFile, "env file to load and edit from the dashboard")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if err := run(cfg, *once, *webOnly); err != nil {
		slog.Error("longshot exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, once, webOnly bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	st, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if webOnly {
		slog.Info("web-only mode, scanning disabled")
		return serve(ctx, stop, cfg, st, nil, nil)
	}

	// --- Scan cycle ---
	exec, err := newExecution(cfg)
	if err != nil {
		return err
	}
	gamma, err := feed.NewClient(feed.Config{
		BaseURL:  cfg.Gamma.BaseURL,
		PageSize: cfg.Gamma.PageSize,
		MaxPages: cfg.Gamma.MaxPages,
		RPS:      cfg.Gamma.RPS,
	})
	if err != nil {
		return err
	}

	slog.Info("longshot starting",
		"mode", cfg.Mode,
		"interval", cfg.ScanInterval.String(),
		"price_band", cfg.MinPrice.String()+"-"+cfg.MaxPrice.String(),
		"max_orders_per_scan", cfg.MaxOrdersPerScan,
		"web", cfg.Web.Enabled && !once,
	)

	if once {
		runner := scan.NewRunner(cfg, gamma, st, exec, nil, nil)
		_, err := runner.RunOnce(ctx)
		return err
	}

	runtime := scan.NewRuntime()
	if !cfg.Web.Enabled {
		scan.NewRunner(cfg, gamma, st, exec, runtime, nil).Run(ctx)
		return nil
	}
	return serve(ctx, stop, cfg, st, runtime, func(pub scan.Publisher) *scan.Runner {
		return scan.NewRunner(cfg, gamma, st, exec, runtime, pub)
	})
}

// serve runs the dashboard and, when newRunner is set, the scan loop
// alongside it until ctx is done.
func serve(ctx context.Context, stop context.CancelFunc, cfg *config.Config, st store.Store, runtime *scan.Runtime, newRunner func(scan.Publisher) *scan.Runner) error {
	var lifecycle conc.WaitGroup

	// --- WebSocket hub ---
	wsHub := dashboard.NewWSHub()
	lifecycle.Go(func() { wsHub.Run(ctx) })

	if newRunner != nil {
		runner := newRunner(wsHub)
		lifecycle.Go(func() { runner.Run(ctx) })
	}

	dash := dashboard.NewService(st, cfg, runtime)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"longshot"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Get("/", dash.Index)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", dash.GetStatus)
		r.Get("/trades", dash.GetTrades)
		r.Get("/config", dash.GetConfig)
		r.Post("/config", dash.UpdateConfig)

		// WebSocket endpoint for scan and fill events.
		r.Get("/v1/ws", wsHub.HandleWS)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var serveErr error
	lifecycle.Go(func() {
		slog.Info("dashboard listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("dashboard server: %w", err)
			stop()
		}
	})

	<-ctx.Done()
	slog.Info("shutting down longshot...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	lifecycle.Wait()
	slog.Info("longshot stopped")
	return serveErr
}

// openStore picks the ledger backend: Postgres (optionally behind Redis)
// when DATABASE_URL is set, otherwise the JSON file at STATE_FILE.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		slog.Info("using file store", "path", cfg.StateFile)
		return store.NewFileStore(cfg.StateFile), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	cleanup := []func(){pool.Close}
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	if err := retryConnect(ctx, "postgres", pool.Ping); err != nil {
		closeAll()
		return nil, nil, err
	}
	pg := store.NewPostgresStore(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		closeAll()
		return nil, nil, err
	}
	slog.Info("connected to PostgreSQL")
	var st store.Store = pg

	// Wrap with Redis read-through cache if configured.
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		if err := retryConnect(ctx, "redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}); err != nil {
			// The cache is optional; CachedStore falls back to Postgres.
			slog.Warn("redis unreachable, cache will miss", "err", err)
		}
		st = store.NewCachedStore(st, rdb, 30*time.Second)
		slog.Info("Redis cache enabled")
	}
	return st, closeAll, nil
}

// retryConnect pings with exponential backoff, giving up after
// connectAttempts tries.
func retryConnect(ctx context.Context, name string, ping func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 5 * time.Second

	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		if err = ping(ctx); err == nil {
			return nil
		}
		sleep := b.NextBackOff()
		if sleep == backoff.Stop || attempt == connectAttempts {
			break
		}
		slog.Warn("connect failed, retrying", "backend", name, "attempt", attempt, "in", sleep.String(), "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
	return fmt.Errorf("%s: %w: %w", name, store.ErrPersistence, err)
}

func newExecution(cfg *config.Config) (allocator.Execution, error) {
	if cfg.Mode != model.ModeLive {
		return allocator.PaperExecution{AccountUSD: cfg.PaperAccountUSD}, nil
	}
	clob, err := broker.NewCLOB(broker.CLOBConfig{
		Host:          cfg.Live.Host,
		ChainID:       cfg.Live.ChainID,
		PrivateKey:    cfg.Live.PrivateKey,
		Funder:        cfg.Live.Funder,
		APIKey:        cfg.Live.APIKey,
		APISecret:     cfg.Live.APISecret,
		APIPassphrase: cfg.Live.APIPassphrase,
		OrderType:     cfg.Live.OrderType,
	})
	if err != nil {
		return nil, err
	}
	slog.Warn("LIVE mode: orders will be sent to the exchange")
	return allocator.LiveExecution{Broker: clob}, nil
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
