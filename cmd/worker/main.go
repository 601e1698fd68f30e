// Command worker runs FluxPay's background processing: outbox publishing,
// webhook delivery retries, saga crash recovery, idempotency-key sweeping,
// and refund settlement — every loop the HTTP server itself never drives.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fluxpay/engine/internal/idempotency"
	"github.com/fluxpay/engine/internal/outbox"
	"github.com/fluxpay/engine/internal/pgclient"
	"github.com/fluxpay/engine/internal/repository"
	"github.com/fluxpay/engine/internal/saga"
	"github.com/fluxpay/engine/internal/service"
	"github.com/fluxpay/engine/internal/webhook"
	"github.com/fluxpay/engine/pkg/circuitbreaker"
	"github.com/fluxpay/engine/pkg/config"
	"github.com/fluxpay/engine/pkg/db"
	"github.com/fluxpay/engine/pkg/kafka"
	"github.com/fluxpay/engine/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{Level: cfg.App.LogLevel, Pretty: cfg.App.LogPretty})
	log := logger.With().Str("service", "fluxpay-worker").Logger()
	log.Info().Str("env", cfg.App.Env).Msg("starting fluxpay worker")

	gdb, err := db.ConnectPostgres(cfg.Postgres, cfg.IsDevelopment())
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to postgres")
	}
	redisClient := db.ConnectRedis(cfg.Redis)

	if err := kafka.EnsureTopics(cfg.Kafka.Brokers, kafka.DefaultTopics(cfg.Kafka.Topic)); err != nil {
		log.Warn().Err(err).Msg("could not ensure kafka topics (broker may be unavailable)")
	}
	producer, err := kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
	if err != nil {
		log.Fatal().Err(err).Msg("creating kafka producer")
	}

	uow := repository.NewUnitOfWork(gdb)
	outboxRepo := repository.NewGormOutboxRepository(gdb)
	sagaRepo := repository.NewGormSagaRepository(gdb)
	paymentRepo := repository.NewGormPaymentRepository(gdb)
	refundRepo := repository.NewGormRefundRepository(gdb)
	idempotencyRepo := repository.NewGormIdempotencyRepository(gdb)
	webhookSubRepo := repository.NewGormWebhookSubscriptionRepository(gdb)
	webhookDeliveryRepo := repository.NewGormWebhookDeliveryRepository(gdb)

	guard := idempotency.NewGuard(idempotencyRepo, idempotency.NewRedisCacheTier(redisClient))

	deliverer := webhook.NewDeliverer(webhookSubRepo, webhookDeliveryRepo, webhook.Config{
		DefaultMaxRetries: cfg.Webhook.DefaultMaxRetries,
		BaseBackoff:       cfg.Webhook.BaseBackoff,
		MaxBackoff:        cfg.Webhook.MaxBackoff,
		DeliveryTimeout:   cfg.Webhook.DeliveryTimeout,
	})
	retryScheduler := webhook.NewRetryScheduler(deliverer, webhookDeliveryRepo, webhook.RetrySchedulerConfig{
		PollInterval: cfg.Webhook.DeliveryTimeout,
		BatchSize:    100,
		Concurrency:  cfg.Webhook.WorkerConcurrency,
	})

	publisher := outbox.NewPublisher(outboxRepo, producer, deliverer, outbox.PublisherConfig{
		Topic:           cfg.Kafka.Topic,
		BatchSize:       cfg.Outbox.BatchSize,
		MaxRetries:      cfg.Outbox.MaxRetries,
		ClaimTimeout:    cfg.Outbox.ClaimTimeout,
		PollInterval:    cfg.Outbox.PollInterval,
		RetentionPeriod: time.Duration(cfg.Outbox.RetentionDays) * 24 * time.Hour,
		CleanupInterval: cfg.Outbox.CleanupInterval,
		BaseBackoff:     time.Second,
		MaxBackoff:      time.Minute,
	})

	breaker := circuitbreaker.NewWithSettings("pgclient", circuitbreaker.Settings{
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      cfg.PgClient.BreakerOpenTimeout,
		FailureRatio: cfg.PgClient.BreakerFailureRatio,
		MinRequests:  cfg.PgClient.BreakerMinRequests,
	})
	gateway := pgclient.NewHTTPClient(pgclient.Config{BaseURL: cfg.PgClient.BaseURL, Timeout: cfg.PgClient.Timeout}, breaker)

	refundProcessor := service.NewRefundProcessor(uow, refundRepo, paymentRepo, gateway, cfg.Outbox.BatchSize)

	orchestrator := saga.NewOrchestrator(sagaRepo, saga.OrchestratorConfig{
		Timeout:                cfg.Saga.Timeout,
		StepTimeout:            cfg.Saga.StepTimeout,
		CompensationMaxRetries: cfg.Saga.CompensationMaxRetries,
		CompensationRetryDelay: cfg.Saga.CompensationRetryDelay,
	})
	orderRepo := repository.NewGormOrderRepository(gdb)
	sagaDefs := map[string]saga.Definition{
		saga.PaymentSagaType: saga.NewPaymentSagaDefinition(uow, orderRepo, paymentRepo),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	runLoop := func(name string, fn func(ctx context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Str("loop", name).Msg("panic in background loop")
				}
			}()
			log.Info().Str("loop", name).Msg("background loop started")
			fn(ctx)
		}()
	}

	runLoop("outbox-publish", publisher.RunLoop)
	runLoop("outbox-sweep", publisher.RunSweep)
	runLoop("webhook-retry", retryScheduler.Run)
	runLoop("refund-processor", func(ctx context.Context) { refundProcessor.Run(ctx, cfg.Outbox.PollInterval) })
	runLoop("saga-recovery", func(ctx context.Context) {
		runSagaRecovery(ctx, orchestrator, sagaDefs, cfg.Saga)
	})
	runLoop("idempotency-sweep", func(ctx context.Context) {
		runIdempotencySweep(ctx, guard, cfg.Idempotency.SweepInterval)
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutdown signal received, stopping background loops")
	cancel()
	wg.Wait()

	if err := producer.Close(); err != nil {
		log.Error().Err(err).Msg("closing kafka producer")
	}
	if sqlDB, err := gdb.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Error().Err(err).Msg("closing postgres connection")
		}
	}
	if err := redisClient.Close(); err != nil {
		log.Error().Err(err).Msg("closing redis connection")
	}

	log.Info().Msg("fluxpay worker stopped")
}

// runSagaRecovery periodically leases and resumes saga instances stuck past
// the configured staleness threshold, the background half of spec §4.3's
// crash-recovery design.
func runSagaRecovery(ctx context.Context, orchestrator *saga.Orchestrator, defs map[string]saga.Definition, cfg config.SagaConfig) {
	hostname, _ := os.Hostname()
	owner := fmt.Sprintf("worker-%s-%d", hostname, os.Getpid())

	ticker := time.NewTicker(cfg.RecoverySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			staleSince := time.Now().Add(-cfg.RecoveryStuckThreshold)
			n, err := orchestrator.RecoverStuck(ctx, defs, owner, staleSince, cfg.RecoveryLeaseDuration, 50)
			if err != nil {
				logger.FromContext(ctx).Error().Err(err).Msg("saga recovery sweep failed")
			} else if n > 0 {
				logger.FromContext(ctx).Warn().Int("count", n).Msg("recovered stuck saga instances")
			}
		}
	}
}

// runIdempotencySweep periodically deletes expired idempotency-key entries.
func runIdempotencySweep(ctx context.Context, guard *idempotency.Guard, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := guard.Sweep(ctx)
			if err != nil {
				logger.FromContext(ctx).Error().Err(err).Msg("idempotency sweep failed")
			} else if n > 0 {
				logger.FromContext(ctx).Info().Int64("count", n).Msg("swept expired idempotency entries")
			}
		}
	}
}
