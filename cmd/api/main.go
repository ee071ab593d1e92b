package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"private-ledger/config"
	httpHandler "private-ledger/internal/adapter/http/handler"
	"private-ledger/internal/adapter/metrics"
	"private-ledger/internal/adapter/storage/memory"
	pgStorage "private-ledger/internal/adapter/storage/postgres"
	redisStorage "private-ledger/internal/adapter/storage/redis"
	"private-ledger/internal/core/ports"
	"private-ledger/internal/service"
	"private-ledger/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// storage bundles the repositories of whichever backend is configured.
type storage struct {
	users      ports.UserRepository
	accounts   ports.AccountRepository
	txns       ports.TransactionRepository
	idemp      ports.IdempotencyRepository
	audit      ports.AuditRepository
	transactor ports.DBTransactor
	health     ports.HealthChecker
	close      func()
}

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Str("store", cfg.Store.Backend).
		Int("port", cfg.Server.Port).
		Msg("Starting private ledger")

	ctx := context.Background()

	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer store.close()

	healthCheckers := []ports.HealthChecker{store.health}

	// Redis is the idempotency fast path and backs rate limiting. Without it
	// retries are still deduplicated by the idempotency_keys store.
	var (
		idempotencyCache ports.IdempotencyCache
		rateLimitStore   ports.RateLimitStore
	)
	if cfg.Redis.Enabled {
		rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		log.Info().Msg("Redis connected")

		idempotencyCache = redisStorage.NewIdempotencyCache(rdb)
		rateLimitStore = redisStorage.NewRateLimitStore(rdb)
		healthCheckers = append(healthCheckers, redisStorage.NewHealthCheck(rdb))
	} else {
		log.Warn().Msg("Redis disabled: no idempotency cache, no rate limiting")
	}

	// Key hierarchy
	masterKey, err := cfg.Crypto.MasterKeyBytes()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid master key")
	}
	keySvc, err := service.NewKeyService(masterKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize key service")
	}

	// Metrics
	var (
		ledgerMetrics  ports.LedgerMetrics
		metricsHandler http.Handler
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		collector := metrics.NewPrometheusCollector(cfg.Metrics.Namespace)
		if err := collector.Register(reg); err != nil {
			log.Fatal().Err(err).Msg("Failed to register metrics")
		}
		ledgerMetrics = collector
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	// Services
	hashSvc := service.NewArgon2HashService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	userSvc := service.NewUserService(store.users, hashSvc, keySvc, tokenSvc, logger.Component(log, "users"))
	ledgerSvc := service.NewLedgerService(
		store.users,
		store.accounts,
		store.txns,
		store.idemp,
		keySvc,
		store.transactor,
		idempotencyCache,
		ledgerMetrics,
		logger.Component(log, "ledger"),
	)
	auditSvc := service.NewAuditService(store.audit, logger.Component(log, "audit"))

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		UserSvc:        userSvc,
		LedgerSvc:      ledgerSvc,
		TokenSvc:       tokenSvc,
		RateLimitStore: rateLimitStore,
		HealthCheckers: healthCheckers,
		AuditSvc:       auditSvc,
		Metrics:        metricsHandler,
		Logger:         log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// In-flight requests either commit or roll back before this returns.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	auditSvc.Wait()

	log.Info().Msg("Server exited")
}

func openStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*storage, error) {
	if cfg.Store.Backend == config.StoreMemory {
		log.Warn().Msg("Using in-memory store: data is lost on exit")
		s := memory.New()
		return &storage{
			users:      memory.NewUserRepository(s),
			accounts:   memory.NewAccountRepository(s),
			txns:       memory.NewTransactionRepository(s),
			idemp:      memory.NewIdempotencyRepository(s),
			audit:      memory.NewAuditRepository(s),
			transactor: s,
			health:     s,
			close:      func() {},
		}, nil
	}

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	log.Info().Msg("PostgreSQL connected")

	if cfg.Database.AutoMigrate {
		if err := pgStorage.Migrate(ctx, pool, log); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return &storage{
		users:      pgStorage.NewUserRepo(pool),
		accounts:   pgStorage.NewAccountRepo(pool),
		txns:       pgStorage.NewTransactionRepo(pool),
		idemp:      pgStorage.NewIdempotencyRepo(pool),
		audit:      pgStorage.NewAuditRepo(pool),
		transactor: pgStorage.NewTransactor(pool),
		health:     pgStorage.NewHealthCheck(pool),
		close:      pool.Close,
	}, nil
}
