// Command server runs FluxPay's HTTP command surface: order submission,
// payment approval/confirmation, and refund management, all backed by the
// saga orchestrator and transactional outbox wired in this entrypoint.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fluxpay/engine/internal/handler"
	"github.com/fluxpay/engine/internal/idempotency"
	"github.com/fluxpay/engine/internal/pgclient"
	"github.com/fluxpay/engine/internal/repository"
	"github.com/fluxpay/engine/internal/saga"
	"github.com/fluxpay/engine/internal/service"
	"github.com/fluxpay/engine/pkg/circuitbreaker"
	"github.com/fluxpay/engine/pkg/config"
	"github.com/fluxpay/engine/pkg/db"
	"github.com/fluxpay/engine/pkg/healthcheck"
	"github.com/fluxpay/engine/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{Level: cfg.App.LogLevel, Pretty: cfg.App.LogPretty})
	log := logger.With().Str("service", "fluxpay-server").Logger()
	log.Info().Str("env", cfg.App.Env).Int("port", cfg.App.HTTPPort).Msg("starting fluxpay server")

	gdb, err := db.ConnectPostgres(cfg.Postgres, cfg.IsDevelopment())
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to postgres")
	}
	log.Info().Msg("postgres connection established")

	redisClient := db.ConnectRedis(cfg.Redis)

	uow := repository.NewUnitOfWork(gdb)
	orderRepo := repository.NewGormOrderRepository(gdb)
	paymentRepo := repository.NewGormPaymentRepository(gdb)
	refundRepo := repository.NewGormRefundRepository(gdb)
	sagaRepo := repository.NewGormSagaRepository(gdb)
	idempotencyRepo := repository.NewGormIdempotencyRepository(gdb)

	cacheTier := idempotency.NewRedisCacheTier(redisClient)
	guard := idempotency.NewGuard(idempotencyRepo, cacheTier)

	breaker := circuitbreaker.NewWithSettings("pgclient", circuitbreaker.Settings{
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      cfg.PgClient.BreakerOpenTimeout,
		FailureRatio: cfg.PgClient.BreakerFailureRatio,
		MinRequests:  cfg.PgClient.BreakerMinRequests,
	})
	gateway := pgclient.NewHTTPClient(pgclient.Config{
		BaseURL: cfg.PgClient.BaseURL,
		Timeout: cfg.PgClient.Timeout,
	}, breaker)

	orchestrator := saga.NewOrchestrator(sagaRepo, saga.OrchestratorConfig{
		Timeout:                cfg.Saga.Timeout,
		StepTimeout:            cfg.Saga.StepTimeout,
		CompensationMaxRetries: cfg.Saga.CompensationMaxRetries,
		CompensationRetryDelay: cfg.Saga.CompensationRetryDelay,
	})
	paymentSagaDef := saga.NewPaymentSagaDefinition(uow, orderRepo, paymentRepo)

	paymentService := service.NewPaymentService(uow, paymentRepo, gateway)
	refundService := service.NewRefundService(uow, paymentRepo, refundRepo, gateway, service.RefundConfig{
		PeriodDays:        cfg.Refund.PeriodDays,
		MaxPartialRefunds: cfg.Refund.MaxPartialRefunds,
	})

	healthCheck := healthcheck.Composite(
		func(ctx context.Context) error { return healthcheck.CheckPostgres(ctx, gdb) },
		func(ctx context.Context) error { return healthcheck.CheckRedis(ctx, redisClient) },
	)

	router := handler.NewRouter(handler.RouterConfig{
		Orders:         handler.NewOrderHandler(orchestrator, paymentSagaDef),
		Payments:       handler.NewPaymentHandler(paymentService),
		Refunds:        handler.NewRefundHandler(refundService),
		Health:         handler.NewHealthHandler(healthCheck),
		Guard:          guard,
		IdempotencyTTL: cfg.Idempotency.TTL,
		TenantEnabled:  cfg.Tenant.Enabled,
		Debug:          cfg.IsDevelopment(),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.App.HTTPPort),
		Handler: router,
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("panic in http server")
			}
		}()
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutdown signal received, stopping server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown of http server failed")
	}

	if sqlDB, err := gdb.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Error().Err(err).Msg("closing postgres connection")
		}
	}
	if err := redisClient.Close(); err != nil {
		log.Error().Err(err).Msg("closing redis connection")
	}

	log.Info().Msg("fluxpay server stopped")
}
