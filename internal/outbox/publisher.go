package outbox

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/fluxpay/engine/pkg/logger"
)

// BrokerProducer is the narrow interface the publisher ships events through;
// pkg/kafka.Producer is the concrete broker-backed implementation.
type BrokerProducer interface {
	Publish(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error
}

// WebhookEnqueuer fans a successfully-published event out to any webhook
// subscriptions matching its tenant and event type. internal/webhook's
// Deliverer satisfies this.
type WebhookEnqueuer interface {
	EnqueueForEvent(ctx context.Context, event *Event) error
}

// PublisherConfig controls batch size, retry policy and topic routing.
type PublisherConfig struct {
	Topic           string
	BatchSize       int
	MaxRetries      int
	ClaimTimeout    time.Duration
	PollInterval    time.Duration
	RetentionPeriod time.Duration
	CleanupInterval time.Duration
	BaseBackoff     time.Duration
	MaxBackoff      time.Duration
}

// Publisher drives the claim → publish → ack loop of spec §4.4.
type Publisher struct {
	repo     Repository
	broker   BrokerProducer
	webhooks WebhookEnqueuer
	cfg      PublisherConfig
}

// NewPublisher builds a Publisher. webhooks may be nil if webhook fan-out is
// not wired (e.g. in tests that only exercise broker delivery).
func NewPublisher(repo Repository, broker BrokerProducer, webhooks WebhookEnqueuer, cfg PublisherConfig) *Publisher {
	return &Publisher{repo: repo, broker: broker, webhooks: webhooks, cfg: cfg}
}

// RunLoop polls for claimable batches until ctx is cancelled.
func (p *Publisher) RunLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.publishBatch(ctx); err != nil {
				logger.FromContext(ctx).Error().Err(err).Msg("outbox publish batch failed")
			}
		}
	}
}

// RunSweep periodically recovers IN_FLIGHT rows orphaned by a crashed
// publisher and deletes old PUBLISHED rows, until ctx is cancelled.
func (p *Publisher) RunSweep(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()

			if n, err := p.repo.SweepStaleInFlight(ctx, now.Add(-p.cfg.ClaimTimeout)); err != nil {
				logger.FromContext(ctx).Error().Err(err).Msg("outbox sweep stale in-flight failed")
			} else if n > 0 {
				logger.FromContext(ctx).Warn().Int64("count", n).Msg("recovered stale in-flight outbox rows")
			}

			if n, err := p.repo.DeletePublishedBefore(ctx, now.Add(-p.cfg.RetentionPeriod), 500); err != nil {
				logger.FromContext(ctx).Error().Err(err).Msg("outbox retention cleanup failed")
			} else if n > 0 {
				logger.FromContext(ctx).Info().Int64("count", n).Msg("deleted published outbox rows past retention")
			}
		}
	}
}

func (p *Publisher) publishBatch(ctx context.Context) error {
	batch, err := p.repo.ClaimBatch(ctx, p.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, event := range batch {
		// A failure of one row must not abort the batch (spec §4.4 step 5).
		p.publishOne(ctx, event)
	}

	return nil
}

func (p *Publisher) publishOne(ctx context.Context, event *Event) {
	log := logger.FromContext(ctx).With().
		Str("event_id", event.EventID).
		Str("event_type", event.EventType).
		Logger()

	headers := map[string]string{
		"event-id":   event.EventID,
		"event-type": event.EventType,
		"tenant-id":  string(event.Tenant),
	}

	err := p.broker.Publish(ctx, p.cfg.Topic, []byte(event.AggregateID), event.Payload, headers)
	if err != nil {
		p.handlePublishFailure(ctx, event, err)
		return
	}

	now := time.Now()
	if markErr := p.repo.MarkPublished(ctx, event.Seq, now); markErr != nil {
		log.Error().Err(markErr).Msg("failed to mark outbox row published after successful send")
		return
	}

	if p.webhooks != nil {
		if err := p.webhooks.EnqueueForEvent(ctx, event); err != nil {
			log.Error().Err(err).Msg("failed to enqueue webhook deliveries for published event")
		}
	}

	log.Debug().Msg("outbox event published")
}

func (p *Publisher) handlePublishFailure(ctx context.Context, event *Event, sendErr error) {
	log := logger.FromContext(ctx).With().Str("event_id", event.EventID).Logger()

	if event.RetryCount+1 >= p.cfg.MaxRetries {
		if err := p.repo.MarkFailed(ctx, event.Seq, sendErr.Error()); err != nil {
			log.Error().Err(err).Msg("failed to mark outbox row failed")
		} else {
			log.Warn().Err(sendErr).Msg("outbox event exhausted retries, moved to FAILED")
		}
		return
	}

	delay := backoffDelay(event.RetryCount, p.cfg.BaseBackoff, p.cfg.MaxBackoff)
	if err := p.repo.ResetToPending(ctx, event.Seq, time.Now().Add(delay), sendErr.Error()); err != nil {
		log.Error().Err(err).Msg("failed to reset outbox row to pending")
	} else {
		log.Warn().Err(sendErr).Dur("retry_in", delay).Msg("outbox publish failed, will retry")
	}
}

// backoffDelay derives the delay before retryCount+1's attempt from a fresh
// ExponentialBackOff seeded with base/max, advancing it retryCount times —
// the same persisted-counter-driven replay internal/webhook/backoff.go uses,
// since the publisher's RetryCount column is the source of truth, not an
// in-memory generator kept alive across attempts.
func backoffDelay(retryCount int, base, max time.Duration) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = max
	b.Multiplier = 2
	b.RandomizationFactor = 0.2

	delay := b.NextBackOff()
	for i := 0; i < retryCount; i++ {
		delay = b.NextBackOff()
	}
	if delay == backoff.Stop {
		delay = max
	}
	return delay
}
