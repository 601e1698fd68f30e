// Package payment implements the Payment aggregate and its status machine.
package payment

import (
	"time"

	"github.com/fluxpay/engine/internal/apperr"
	"github.com/fluxpay/engine/internal/money"
	"github.com/fluxpay/engine/internal/tenant"
)

// Status is one of the payment's closed set of lifecycle states.
type Status string

const (
	StatusReady      Status = "READY"
	StatusProcessing Status = "PROCESSING"
	StatusApproved   Status = "APPROVED"
	StatusConfirmed  Status = "CONFIRMED"
	StatusFailed     Status = "FAILED"
	StatusRefunded   Status = "REFUNDED"
)

var transitions = map[Status][]Status{
	StatusReady:      {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusApproved, StatusFailed},
	StatusApproved:   {StatusConfirmed, StatusFailed},
	StatusConfirmed:  {StatusRefunded},
}

// CanTransitionTo reports whether the move from s to next is declared.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s has no outgoing transitions.
func (s Status) IsTerminal() bool {
	return s == StatusFailed || s == StatusRefunded
}

// Payment is the FluxPay payment aggregate; exactly one exists per order.
type Payment struct {
	ID              string
	Tenant          tenant.ID
	OrderID         string
	Amount          money.Money
	Status          Status
	Method          string
	PgTransactionID string
	PgPaymentKey    string
	FailureReason   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ApprovedAt      *time.Time
	ConfirmedAt     *time.Time
	FailedAt        *time.Time
	Version         int
}

// New creates a READY payment for the given order.
func New(id string, tn tenant.ID, orderID string, amount money.Money, now time.Time) *Payment {
	return &Payment{
		ID:        id,
		Tenant:    tn,
		OrderID:   orderID,
		Amount:    amount,
		Status:    StatusReady,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
}

func (p *Payment) transitionTo(next Status, now time.Time) error {
	if !p.Status.CanTransitionTo(next) {
		return apperr.New(apperr.CodePaymentInvalidState,
			"payment cannot transition from "+string(p.Status)+" to "+string(next))
	}
	p.Status = next
	p.UpdatedAt = now
	return nil
}

// StartProcessing moves READY → PROCESSING, recording the chosen method.
func (p *Payment) StartProcessing(method string, now time.Time) error {
	if err := p.transitionTo(StatusProcessing, now); err != nil {
		return err
	}
	p.Method = method
	return nil
}

// Approve moves PROCESSING → APPROVED, recording the gateway transaction id
// and payment key.
func (p *Payment) Approve(pgTransactionID, pgPaymentKey string, now time.Time) error {
	if err := p.transitionTo(StatusApproved, now); err != nil {
		return err
	}
	p.PgTransactionID = pgTransactionID
	p.PgPaymentKey = pgPaymentKey
	p.ApprovedAt = &now
	return nil
}

// Confirm moves APPROVED → CONFIRMED.
func (p *Payment) Confirm(now time.Time) error {
	if err := p.transitionTo(StatusConfirmed, now); err != nil {
		return err
	}
	p.ConfirmedAt = &now
	return nil
}

// Fail moves any of READY/PROCESSING/APPROVED → FAILED, recording the reason.
// FailedAt, once set, is never cleared.
func (p *Payment) Fail(reason string, now time.Time) error {
	if err := p.transitionTo(StatusFailed, now); err != nil {
		return err
	}
	p.FailureReason = reason
	p.FailedAt = &now
	return nil
}

// MarkRefunded moves CONFIRMED → REFUNDED, once cumulative completed refunds
// equal the payment amount.
func (p *Payment) MarkRefunded(now time.Time) error {
	return p.transitionTo(StatusRefunded, now)
}
