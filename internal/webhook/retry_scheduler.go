package webhook

import (
	"context"
	"sync"
	"time"

	"github.com/fluxpay/engine/internal/repository"
	"github.com/fluxpay/engine/pkg/logger"
)

// RetrySchedulerConfig controls the polling cadence and fan-out width of the
// background retry dispatcher.
type RetrySchedulerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	Concurrency  int
}

// RetryScheduler periodically selects RETRYING deliveries whose nextRetryAt
// has elapsed and redispatches them through a bounded worker pool (spec
// §6.7), the same shape as the outbox publisher's claim loop but without a
// claim step since delivery retries aren't contended across instances the
// way outbox rows are.
type RetryScheduler struct {
	deliverer *Deliverer
	deliveries repository.WebhookDeliveryRepository
	cfg        RetrySchedulerConfig
}

// NewRetryScheduler builds a RetryScheduler.
func NewRetryScheduler(deliverer *Deliverer, deliveries repository.WebhookDeliveryRepository, cfg RetrySchedulerConfig) *RetryScheduler {
	return &RetryScheduler{deliverer: deliverer, deliveries: deliveries, cfg: cfg}
}

// Run polls until ctx is cancelled, dispatching each due delivery to a
// bounded pool of at most cfg.Concurrency concurrent Deliver calls.
func (s *RetryScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatchDue(ctx)
		}
	}
}

func (s *RetryScheduler) dispatchDue(ctx context.Context) {
	due, err := s.deliveries.ListDueForRetry(ctx, s.cfg.BatchSize)
	if err != nil {
		logger.FromContext(ctx).Error().Err(err).Msg("listing webhook deliveries due for retry failed")
		return
	}
	if len(due) == 0 {
		return
	}

	sem := make(chan struct{}, s.cfg.Concurrency)
	var wg sync.WaitGroup

	for _, delivery := range due {
		wg.Add(1)
		sem <- struct{}{}
		go func(deliveryID string) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := s.deliverer.Deliver(ctx, deliveryID); err != nil {
				logger.FromContext(ctx).Warn().Err(err).Str("delivery_id", deliveryID).Msg("webhook retry dispatch failed")
			}
		}(delivery.ID)
	}

	wg.Wait()
}
