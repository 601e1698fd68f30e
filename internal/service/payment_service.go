// Package service implements the payment and refund application services —
// the use cases spec §4.5/§4.6 expose above the domain and persistence
// layers, wiring the transactional outbox into every mutating call.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fluxpay/engine/internal/apperr"
	"github.com/fluxpay/engine/internal/domain/order"
	"github.com/fluxpay/engine/internal/domain/payment"
	"github.com/fluxpay/engine/internal/money"
	"github.com/fluxpay/engine/internal/outbox"
	"github.com/fluxpay/engine/internal/pgclient"
	"github.com/fluxpay/engine/internal/repository"
	"github.com/fluxpay/engine/internal/tenant"
)

// Event types emitted via the outbox, per spec §6.
const (
	EventPaymentApproved  = "payment.approved"
	EventPaymentConfirmed = "payment.confirmed"
	EventPaymentFailed    = "payment.failed"
)

// PaymentService implements createPayment/getPayment/getPaymentByOrderId/
// requestApproval/confirmPayment/failPayment exactly as spec §4.5.
type PaymentService struct {
	uow     *repository.UnitOfWork
	payments repository.PaymentRepository
	gateway pgclient.Client
}

// NewPaymentService builds a PaymentService. payments is a read-only handle
// used by Get* queries outside any transaction; mutating paths go through uow
// so the aggregate write and its outbox row commit atomically.
func NewPaymentService(uow *repository.UnitOfWork, payments repository.PaymentRepository, gateway pgclient.Client) *PaymentService {
	return &PaymentService{uow: uow, payments: payments, gateway: gateway}
}

// CreatePayment creates a READY payment for orderID, in the same transaction
// as no outbox event (order creation already emitted order.created; a bare
// payment row needs no event of its own until it starts moving).
func (s *PaymentService) CreatePayment(ctx context.Context, orderID string, amount money.Money) (*payment.Payment, error) {
	tn, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}

	p := payment.New(uuid.NewString(), tn, orderID, amount, time.Now())

	err = s.uow.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		return repos.Payments.Create(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetPayment loads a payment by id.
func (s *PaymentService) GetPayment(ctx context.Context, id string) (*payment.Payment, error) {
	return s.payments.Get(ctx, id)
}

// GetPaymentByOrderID loads the (at most one) payment for an order.
func (s *PaymentService) GetPaymentByOrderID(ctx context.Context, orderID string) (*payment.Payment, error) {
	return s.payments.GetByOrderID(ctx, orderID)
}

// RequestApproval implements spec §4.5's approval flow: load, startProcessing,
// save, call the gateway, approve or fail, save again, emit the matching
// event — all PG errors (transport, timeout, domain) are folded into Fail so
// the payment always reaches a terminal or retryable state.
func (s *PaymentService) RequestApproval(ctx context.Context, paymentID, method string) (*payment.Payment, error) {
	p, err := s.payments.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := p.StartProcessing(method, now); err != nil {
		return nil, err
	}
	if err := s.payments.Update(ctx, p); err != nil {
		return nil, err
	}

	pgTransactionID, pgPaymentKey, gwErr := s.gateway.RequestApproval(ctx, p.ID, p.Amount, method)

	var eventType string
	if gwErr != nil {
		_ = p.Fail(gwErr.Error(), time.Now())
		eventType = EventPaymentFailed
	} else if err := p.Approve(pgTransactionID, pgPaymentKey, time.Now()); err != nil {
		return nil, err
	} else {
		eventType = EventPaymentApproved
	}

	if err := s.emitAndSave(ctx, p, eventType); err != nil {
		return nil, err
	}
	return p, nil
}

// ConfirmPayment validates status is APPROVED, calls the gateway's confirm,
// then confirms or fails, emitting the matching event. A successful confirm
// also promotes the parent order PENDING → PAID in the same transaction:
// spec §3 declares the order transition without naming its trigger, and a
// confirmed payment is the natural point at which "this order has been paid
// for" becomes true.
func (s *PaymentService) ConfirmPayment(ctx context.Context, paymentID string) (*payment.Payment, error) {
	p, err := s.payments.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != payment.StatusApproved {
		return nil, apperr.New(apperr.CodePaymentInvalidState, "payment must be APPROVED to confirm")
	}

	gwErr := s.gateway.ConfirmPayment(ctx, p.PgPaymentKey, p.OrderID, p.Amount)

	var eventType string
	promoteOrder := false
	if gwErr != nil {
		_ = p.Fail(gwErr.Error(), time.Now())
		eventType = EventPaymentFailed
	} else if err := p.Confirm(time.Now()); err != nil {
		return nil, err
	} else {
		eventType = EventPaymentConfirmed
		promoteOrder = true
	}

	if err := s.saveConfirmation(ctx, p, eventType, promoteOrder); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PaymentService) saveConfirmation(ctx context.Context, p *payment.Payment, eventType string, promoteOrder bool) error {
	tn, err := tenant.Require(ctx)
	if err != nil {
		return err
	}

	return s.uow.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		if err := repos.Payments.Update(ctx, p); err != nil {
			return err
		}

		if promoteOrder {
			o, err := repos.Orders.Get(ctx, p.OrderID)
			if err != nil {
				return err
			}
			if err := o.TransitionTo(order.StatusPaid, time.Now()); err != nil {
				return err
			}
			if err := repos.Orders.Update(ctx, o); err != nil {
				return err
			}
		}

		event, err := outbox.NewEvent(uuid.NewString(), "payment", p.ID, eventType, tn, time.Now(), paymentEventData(p))
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, "building payment event", err)
		}
		return repos.Outbox.Create(ctx, event)
	})
}

// FailPayment transitions p directly to FAILED (e.g. from an external
// cancellation signal), emitting payment.failed.
func (s *PaymentService) FailPayment(ctx context.Context, paymentID, reason string) (*payment.Payment, error) {
	p, err := s.payments.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if err := p.Fail(reason, time.Now()); err != nil {
		return nil, err
	}
	if err := s.emitAndSave(ctx, p, EventPaymentFailed); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PaymentService) emitAndSave(ctx context.Context, p *payment.Payment, eventType string) error {
	tn, err := tenant.Require(ctx)
	if err != nil {
		return err
	}

	return s.uow.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		if err := repos.Payments.Update(ctx, p); err != nil {
			return err
		}

		event, err := outbox.NewEvent(uuid.NewString(), "payment", p.ID, eventType, tn, time.Now(), paymentEventData(p))
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, "building payment event", err)
		}
		return repos.Outbox.Create(ctx, event)
	})
}

func paymentEventData(p *payment.Payment) map[string]any {
	return map[string]any{
		"paymentId":     p.ID,
		"orderId":       p.OrderID,
		"amount":        p.Amount.String(),
		"currency":      p.Amount.Currency(),
		"status":        string(p.Status),
		"failureReason": p.FailureReason,
	}
}
