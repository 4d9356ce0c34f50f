package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/liamcoop/flyclaim/claims"
	"github.com/liamcoop/flyclaim/compensation"
	"github.com/liamcoop/flyclaim/internal/config"
	"github.com/liamcoop/flyclaim/internal/logger"
	"github.com/liamcoop/flyclaim/monitor"
	"github.com/liamcoop/flyclaim/rules"
)

// app holds the wired components and what must be closed on shutdown.
type app struct {
	server  *Server
	sweeper *monitor.Sweeper
	limiter *RateLimiter
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("close failed", "error", err)
		}
	}
}

// newApp opens the configured stores and wires the service.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}

	var (
		claimStore claims.Store
		ruleStore  rules.RuleStore
		db         *sql.DB
	)

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		claimStore = claims.NewPostgresStore(db)
		ruleStore = rules.NewPostgresRuleStore(db)

	case config.DriverSQLite:
		store, sqliteDB, err := claims.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		db = sqliteDB
		a.closers = append(a.closers, db.Close)
		claimStore = store
		// exemption_rules lives in Postgres only; lite mode keeps rules in memory
		ruleStore = rules.NewInMemoryRuleStore()

	default:
		claimStore = claims.NewMemoryStore()
		ruleStore = rules.NewInMemoryRuleStore()
	}

	cache, err := newRulesCache(ctx, cfg, a)
	if err != nil {
		a.Close()
		return nil, err
	}

	engine, err := rules.NewEngineWithCache(ruleStore, cache)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create rules engine: %w", err)
	}

	if cfg.SeedRules {
		added, err := compensation.SeedDefaultRules(engine)
		if err != nil {
			a.Close()
			return nil, err
		}
		logger.Info("exemption rules seeded", "added", added)
	}

	calc := compensation.NewCalculator(engine)
	svc := claims.NewService(claimStore, calc)

	a.sweeper = monitor.NewSweeper(svc, svc,
		monitor.WithInterval(cfg.SweepInterval),
		monitor.WithMeter(otel.Meter("github.com/liamcoop/flyclaim/monitor")),
	)
	a.limiter = NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	a.server = NewServer(ServerDeps{
		Claims:  svc,
		Calc:    calc,
		Engine:  engine,
		Sweeper: a.sweeper,
		Limiter: a.limiter,
		DB:      db,
		Driver:  cfg.StoreDriver,
	})
	return a, nil
}

// newRulesCache shares the active rules through Redis when REDIS_URL is
// set, and keeps them in process otherwise.
func newRulesCache(ctx context.Context, cfg *config.Config, a *app) (rules.RulesCache, error) {
	cacheCfg := rules.DefaultCacheConfig()
	cacheCfg.TTL = cfg.RulesCacheTTL

	if cfg.RedisURL == "" {
		return rules.NewInMemoryRulesCache(cacheCfg), nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	a.closers = append(a.closers, client.Close)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	logger.Info("rules cache backed by redis", "addr", opts.Addr)
	return rules.NewRedisRulesCache(client, cacheCfg), nil
}

func main() {
	configPath := flag.String("config", os.Getenv("FLYCLAIM_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logOpts := logger.OptionsFromEnv()
	logOpts.Level = cfg.LogLevel
	logger.Setup(ctx, logOpts)

	a, err := newApp(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to start", "error", err)
	}
	defer a.Close()

	go a.sweeper.Run(ctx)
	go a.limiter.Cleanup(ctx)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      a.server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 65 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port, "store", cfg.StoreDriver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", "error", err)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("server stopped")
	if err := logger.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "logger shutdown: %v\n", err)
	}
}
