package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/cartkeeper/internal/cartstore"
	"github.com/utafrali/cartkeeper/internal/checkout"
	"github.com/utafrali/cartkeeper/internal/config"
	"github.com/utafrali/cartkeeper/internal/event"
	handler "github.com/utafrali/cartkeeper/internal/handler/http"
	"github.com/utafrali/cartkeeper/internal/ledger"
	"github.com/utafrali/cartkeeper/internal/persistence"
	"github.com/utafrali/cartkeeper/pkg/database"
	"github.com/utafrali/cartkeeper/pkg/health"
	pkgkafka "github.com/utafrali/cartkeeper/pkg/kafka"
	"github.com/utafrali/cartkeeper/pkg/kvstore"
	"github.com/utafrali/cartkeeper/pkg/middleware"
	"github.com/utafrali/cartkeeper/pkg/tracing"
)

const serviceName = "cartd"

// App wires together all dependencies and runs cartd.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	store    kvstore.Store
	gateway  *persistence.Gateway
	cart     *cartstore.Store
	ledger   *ledger.Ledger
	checkout *checkout.Flow

	rdb           *redis.Client
	db            *sql.DB
	dbStats       prometheus.Collector
	producer      *pkgkafka.Producer
	traceShutdown tracing.Shutdown
	httpServer    *http.Server
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}

	shutdown, err := tracing.InitTracer(ctx, cfg.Tracing())
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.traceShutdown = shutdown

	base, err := a.openStore(ctx)
	if err != nil {
		_ = a.traceShutdown(ctx)
		return nil, err
	}

	// Spans wrap the breaker so rejected calls are traced too.
	store := base
	if cfg.BreakerEnabled {
		store = kvstore.WithBreaker(store, cfg.Breaker(), logger)
	}
	a.store = kvstore.WithTracing(store, cfg.StoreBackend, cfg.SlowStoreThreshold, logger)

	a.gateway = persistence.NewGateway(a.store, persistence.Config{
		Key: cfg.CartKey,
		Retry: persistence.RetryPolicy{
			MaxAttempts:    cfg.WriteMaxAttempts,
			InitialBackoff: cfg.WriteInitialBackoff,
			MaxBackoff:     cfg.WriteMaxBackoff,
		},
		WriteTimeout: cfg.WriteTimeout,
	}, logger)

	var opts []cartstore.Option
	if cfg.StrictLookups {
		opts = append(opts, cartstore.WithStrictLookups())
	}
	a.cart = cartstore.Open(ctx, a.gateway, a.gateway, logger, opts...)

	a.ledger = ledger.New(a.store, ledger.Config{
		OrdersKey: cfg.OrdersKey,
		MetaKey:   cfg.OrdersMetaKey,
	}, logger)

	var events checkout.EventPublisher = event.Nop{}
	if cfg.KafkaEnabled {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		events = event.NewProducer(a.producer, cfg.CartKey, logger)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	sess := &session{flag: &checkout.SessionFlag{}, gateway: a.gateway, keys: cfg.SessionKeys}
	a.checkout = checkout.NewFlow(a.cart, a.ledger, sess.flag, sess.flag, events, logger)

	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("store", func(ctx context.Context) error {
		return kvstore.Ping(ctx, a.store)
	})
	if a.producer != nil {
		healthHandler.RegisterNonCritical("kafka", a.producer.Ping)
	}

	h := handler.NewHandler(a.cart, a.checkout, a.ledger, sess, logger)
	a.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler.NewRouter(h, healthHandler, logger, routerConfig(cfg)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return a, nil
}

func routerConfig(cfg *config.Config) handler.RouterConfig {
	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = cfg.CORSAllowedOrigins
	return handler.RouterConfig{CORS: cors, PprofCIDRs: cfg.PprofAllowedCIDRs}
}

func (a *App) openStore(ctx context.Context) (kvstore.Store, error) {
	switch a.cfg.StoreBackend {
	case config.BackendRedis:
		rdb, err := database.NewRedisClient(ctx, database.RedisConfig{
			Addr:     a.cfg.RedisAddr,
			Password: a.cfg.RedisPass,
			DB:       a.cfg.RedisDB,

			ConnectAttempts: a.cfg.StoreConnectAttempts,
			SlowCommand:     a.cfg.SlowStoreThreshold,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.rdb = rdb
		a.logger.Info("connected to Redis",
			slog.String("addr", a.cfg.RedisAddr),
			slog.Int("db", a.cfg.RedisDB),
		)
		return kvstore.NewRedisStore(rdb, a.cfg.RedisPrefix), nil

	case config.BackendSQLite:
		db, err := database.OpenSQLite(ctx, a.cfg.SQLitePath, a.logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		a.db = db
		a.dbStats = database.NewDBStatsCollector(db, serviceName)
		if err := prometheus.Register(a.dbStats); err != nil {
			a.logger.Warn("sqlite pool metrics not registered", slog.String("error", err.Error()))
			a.dbStats = nil
		}
		a.logger.Info("opened SQLite store", slog.String("path", a.cfg.SQLitePath))
		return kvstore.NewSQLiteStore(db), nil

	default:
		a.logger.Warn("using in-memory store, state is lost on exit")
		return kvstore.NewMemory(), nil
	}
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.httpServer.Addr)
	if err != nil {
		_ = a.Shutdown()
		return fmt.Errorf("listen on %s: %w", a.httpServer.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves HTTP on ln until ctx is canceled, then shuts down.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", ln.Addr().String()))
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown stops accepting requests, flushes the pending cart snapshot and
// closes every backend.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.gateway.Close(ctx); err != nil {
		a.logger.Error("cart flush on shutdown failed", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		}
	}

	a.closeBackends()

	if err := a.traceShutdown(ctx); err != nil {
		a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeBackends() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
		}
		a.rdb = nil
	}
	if a.dbStats != nil {
		prometheus.Unregister(a.dbStats)
		a.dbStats = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("sqlite close error", slog.String("error", err.Error()))
		}
		a.db = nil
	}
}
