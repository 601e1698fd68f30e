package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fluxpay/engine/internal/apperr"
	"github.com/fluxpay/engine/internal/domain/payment"
	"github.com/fluxpay/engine/internal/domain/refund"
	"github.com/fluxpay/engine/internal/money"
	"github.com/fluxpay/engine/internal/outbox"
	"github.com/fluxpay/engine/internal/pgclient"
	"github.com/fluxpay/engine/internal/repository"
	"github.com/fluxpay/engine/internal/tenant"
	"github.com/fluxpay/engine/pkg/logger"
)

// Event types emitted via the outbox, per spec §6.
const (
	EventRefundRequested = "refund.requested"
	EventRefundCompleted = "refund.completed"
	EventRefundFailed    = "refund.failed"
)

// RefundConfig mirrors pkg/config.RefundConfig.
type RefundConfig struct {
	PeriodDays        int
	MaxPartialRefunds int
}

// RefundService implements createRefund exactly as spec §4.6's five ordered
// checks, plus the background processor that drains REQUESTED/PROCESSING
// refunds and promotes the parent payment to REFUNDED once fully refunded.
type RefundService struct {
	uow      *repository.UnitOfWork
	payments repository.PaymentRepository
	refunds  repository.RefundRepository
	gateway  pgclient.Client
	cfg      RefundConfig
}

// NewRefundService builds a RefundService.
func NewRefundService(uow *repository.UnitOfWork, payments repository.PaymentRepository, refunds repository.RefundRepository, gateway pgclient.Client, cfg RefundConfig) *RefundService {
	return &RefundService{uow: uow, payments: payments, refunds: refunds, gateway: gateway, cfg: cfg}
}

// CreateRefund runs spec §4.6's five checks in order — existence, state,
// window, cap, partial-refund count — before creating a REQUESTED refund and
// emitting refund.requested in the same transaction.
func (s *RefundService) CreateRefund(ctx context.Context, paymentID string, amount money.Money, reason string) (*refund.Refund, error) {
	tn, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}

	// 1. Existence.
	p, err := s.payments.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	// 2. State: must be CONFIRMED.
	if p.Status != payment.StatusConfirmed {
		return nil, apperr.New(apperr.CodeRefundInvalidState, "payment must be CONFIRMED to refund")
	}

	// 3. Refund window: now - confirmedAt <= refund.periodDays.
	if p.ConfirmedAt == nil {
		return nil, apperr.New(apperr.CodeRefundInvalidState, "payment has no confirmedAt")
	}
	windowEnd := p.ConfirmedAt.AddDate(0, 0, s.cfg.PeriodDays)
	if time.Now().After(windowEnd) {
		return nil, apperr.New(apperr.CodeRefundWindowExpired, "refund window has expired")
	}

	// 4. Refundable amount: amount <= payment.amount - sum(non-failed refunds).
	sumStr, err := s.refunds.SumNonFailedByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	alreadyRefunded, err := money.New(sumStr, p.Amount.Currency())
	if err != nil {
		return nil, err
	}
	remaining, err := p.Amount.Sub(alreadyRefunded)
	if err != nil {
		return nil, err
	}
	if exceeds, err := amount.GreaterThan(remaining); err != nil {
		return nil, err
	} else if exceeds {
		return nil, apperr.New(apperr.CodeRefundExceedsAmount, "refund amount exceeds remaining refundable balance")
	}

	// 5. Partial-refund count limit.
	count, err := s.refunds.CountNonFailedByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if count >= s.cfg.MaxPartialRefunds {
		return nil, apperr.New(apperr.CodeRefundLimitExceeded, "maximum number of partial refunds reached")
	}

	r := refund.New(uuid.NewString(), tn, paymentID, amount, reason, time.Now())

	err = s.uow.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		if err := repos.Refunds.Create(ctx, r); err != nil {
			return err
		}
		event, err := outbox.NewEvent(uuid.NewString(), "refund", r.ID, EventRefundRequested, tn, time.Now(), refundEventData(r))
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, "building refund event", err)
		}
		return repos.Outbox.Create(ctx, event)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// GetRefund loads a refund by id.
func (s *RefundService) GetRefund(ctx context.Context, id string) (*refund.Refund, error) {
	return s.refunds.Get(ctx, id)
}

// ListRefundsByPayment lists every refund against a payment.
func (s *RefundService) ListRefundsByPayment(ctx context.Context, paymentID string) ([]*refund.Refund, error) {
	return s.refunds.ListByPaymentID(ctx, paymentID)
}

// RefundProcessor is the background job that advances REQUESTED/PROCESSING
// refunds toward COMPLETED or FAILED, and promotes the parent payment to
// REFUNDED once fully refunded (spec §4.6/§9, Open Question resolved:
// mandated — the cumulative-refund promotion is implemented here).
type RefundProcessor struct {
	uow      *repository.UnitOfWork
	refunds  repository.RefundRepository
	payments repository.PaymentRepository
	gateway  pgclient.Client
	batch    int
}

// NewRefundProcessor builds a RefundProcessor.
func NewRefundProcessor(uow *repository.UnitOfWork, refunds repository.RefundRepository, payments repository.PaymentRepository, gateway pgclient.Client, batchSize int) *RefundProcessor {
	return &RefundProcessor{uow: uow, refunds: refunds, payments: payments, gateway: gateway, batch: batchSize}
}

// Run polls for pending refunds until ctx is cancelled.
func (p *RefundProcessor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.processBatch(ctx); err != nil {
				logger.FromContext(ctx).Error().Err(err).Msg("refund processor batch failed")
			}
		}
	}
}

func (p *RefundProcessor) processBatch(ctx context.Context) error {
	due, err := p.refunds.ListPendingProcessing(ctx, p.batch)
	if err != nil {
		return err
	}

	for _, r := range due {
		p.processOne(ctx, r)
	}
	return nil
}

func (p *RefundProcessor) processOne(ctx context.Context, r *refund.Refund) {
	log := logger.FromContext(ctx).With().Str("refund_id", r.ID).Logger()
	ctx = tenant.WithTenant(ctx, r.Tenant)

	if r.Status == refund.StatusRequested {
		if err := r.StartProcessing(); err != nil {
			log.Error().Err(err).Msg("failed to start processing refund")
			return
		}
		if err := p.refunds.Update(ctx, r); err != nil {
			log.Error().Err(err).Msg("failed to persist refund processing state")
			return
		}
	}

	pay, err := p.payments.Get(ctx, r.PaymentID)
	if err != nil {
		log.Error().Err(err).Msg("failed to load payment for refund")
		return
	}

	gwErr := p.gateway.CancelPayment(ctx, pay.PgPaymentKey, r.Reason)

	var eventType string
	now := time.Now()
	if gwErr != nil {
		_ = r.Fail(gwErr.Error(), now)
		eventType = EventRefundFailed
	} else if err := r.Complete(pay.PgTransactionID, now); err != nil {
		log.Error().Err(err).Msg("failed to complete refund")
		return
	} else {
		eventType = EventRefundCompleted
	}

	if err := p.saveAndEmit(ctx, r, pay, eventType); err != nil {
		log.Error().Err(err).Msg("failed to persist refund outcome")
	}
}

func (p *RefundProcessor) saveAndEmit(ctx context.Context, r *refund.Refund, pay *payment.Payment, eventType string) error {
	tn, err := tenant.Require(ctx)
	if err != nil {
		return err
	}

	return p.uow.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		if err := repos.Refunds.Update(ctx, r); err != nil {
			return err
		}

		event, err := outbox.NewEvent(uuid.NewString(), "refund", r.ID, eventType, tn, time.Now(), refundEventData(r))
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, "building refund event", err)
		}
		if err := repos.Outbox.Create(ctx, event); err != nil {
			return err
		}

		if eventType != EventRefundCompleted {
			return nil
		}

		return promoteIfFullyRefunded(ctx, repos, r.PaymentID, pay)
	})
}

func refundEventData(r *refund.Refund) map[string]any {
	return map[string]any{
		"refundId":     r.ID,
		"paymentId":    r.PaymentID,
		"amount":       r.Amount.String(),
		"currency":     r.Amount.Currency(),
		"reason":       r.Reason,
		"status":       string(r.Status),
		"errorMessage": r.ErrorMessage,
	}
}

// promoteIfFullyRefunded transitions the payment to REFUNDED once the sum of
// its COMPLETED refunds equals its amount (spec §4.6, §9).
func promoteIfFullyRefunded(ctx context.Context, repos repository.Repos, paymentID string, pay *payment.Payment) error {
	sumStr, err := repos.Refunds.SumNonFailedByPaymentID(ctx, paymentID)
	if err != nil {
		return err
	}
	total, err := money.New(sumStr, pay.Amount.Currency())
	if err != nil {
		return err
	}

	remaining, err := pay.Amount.Sub(total)
	if err != nil {
		return err
	}
	if !remaining.IsZero() {
		// Still owed: not yet fully refunded.
		return nil
	}

	if err := pay.MarkRefunded(time.Now()); err != nil {
		return err
	}
	return repos.Payments.Update(ctx, pay)
}
