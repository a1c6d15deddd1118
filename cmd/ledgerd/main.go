package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/0gfoundation/0g-invoice-ledger/internal/api"
	"github.com/0gfoundation/0g-invoice-ledger/internal/auth"
	"github.com/0gfoundation/0g-invoice-ledger/internal/config"
	"github.com/0gfoundation/0g-invoice-ledger/internal/events"
	"github.com/0gfoundation/0g-invoice-ledger/internal/ledger"
	"github.com/0gfoundation/0g-invoice-ledger/internal/logging"
	"github.com/0gfoundation/0g-invoice-ledger/internal/metrics"
	"github.com/0gfoundation/0g-invoice-ledger/internal/store"
	"github.com/0gfoundation/0g-invoice-ledger/internal/store/pebblestore"
	"github.com/0gfoundation/0g-invoice-ledger/internal/store/redisstore"
	"github.com/0gfoundation/0g-invoice-ledger/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("ledgerd exited", zap.Error(err))
	}
	log.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	// ── Redis ─────────────────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	// ── State store ───────────────────────────────────────────────────────────
	st, err := openStore(cfg.Store, cfg.Redis, rdb)
	if err != nil {
		return err
	}
	defer st.Close()
	log.Info("state store ready", zap.String("backend", cfg.Store.Backend))

	// ── Metrics ───────────────────────────────────────────────────────────────
	m, err := metrics.New()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// ── Ledger ────────────────────────────────────────────────────────────────
	l := ledger.New(st, log,
		ledger.WithDenom(cfg.Ledger.Denom),
		ledger.OnSkippedInvoice(m.IndexOrphan),
	)
	if err := ensureInstantiated(ctx, l, log); err != nil {
		return err
	}

	// ── Event relay (disabled without a webhook) ──────────────────────────────
	var relay *events.Relay
	opts := []api.Option{api.WithRecorder(m), api.WithHealth(st)}
	if cfg.Webhook.URL != "" {
		sink, err := newWebhook(cfg.Webhook)
		if err != nil {
			return err
		}
		opts = append(opts, api.WithPublisher(events.NewPublisher(rdb, cfg.Events.QueueKey)))
		relay = events.NewRelay(rdb, cfg.Events.QueueKey, sink, log,
			events.WithCounters(m),
			events.WithConsumer(cfg.Events.Consumer),
		)
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	r := newRouter(api.NewHandler(l, log, opts...), m, rdb, time.Duration(cfg.Auth.MaxFutureWindowSec)*time.Second)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}

func openStore(sc config.StoreConfig, rc config.RedisConfig, rdb *redis.Client) (store.Store, error) {
	switch sc.Backend {
	case config.BackendPebble:
		st, err := pebblestore.Open(sc.PebblePath)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.BackendRedis:
		return redisstore.New(rdb,
			redisstore.WithPrefix(rc.KeyPrefix+"state:"),
			redisstore.WithMaxRetries(sc.MaxRetries),
		), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", sc.Backend)
	}
}

// ensureInstantiated creates the id counter on first boot only.
func ensureInstantiated(ctx context.Context, l *ledger.Ledger, log *zap.Logger) error {
	ok, err := l.IsInstantiated(ctx)
	if err != nil {
		return fmt.Errorf("check ledger state: %w", err)
	}
	if ok {
		return nil
	}
	_, err = l.Instantiate(ctx)
	if errors.Is(err, ledger.ErrAlreadyInstantiated) {
		// another replica won the race
		return nil
	}
	if err != nil {
		return fmt.Errorf("instantiate ledger: %w", err)
	}
	log.Info("ledger state created")
	return nil
}

func newWebhook(wc config.WebhookConfig) (*webhook.Client, error) {
	opts := []webhook.Option{webhook.WithTimeout(time.Duration(wc.TimeoutSec) * time.Second)}
	if wc.SigningKey != "" {
		key, err := auth.ParseKey(wc.SigningKey)
		if err != nil {
			return nil, fmt.Errorf("webhook signing key: %w", err)
		}
		opts = append(opts, webhook.WithSigningKey(key))
	}
	return webhook.NewClient(wc.URL, opts...), nil
}

func newRouter(h *api.Handler, m *metrics.Metrics, rdb *redis.Client, maxFutureWindow time.Duration) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/metrics", gin.WrapH(m.Handler()))
	h.Register(r, auth.Middleware(rdb, "execute", maxFutureWindow))
	return r
}
