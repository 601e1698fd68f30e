// Package refund implements the Refund aggregate and its status machine.
package refund

import (
	"time"

	"github.com/fluxpay/engine/internal/apperr"
	"github.com/fluxpay/engine/internal/money"
	"github.com/fluxpay/engine/internal/tenant"
)

// Status is one of the refund's closed set of lifecycle states.
type Status string

const (
	StatusRequested Status = "REQUESTED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

var transitions = map[Status][]Status{
	StatusRequested:  {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
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

// IsNonFailed reports whether s counts toward the refund-conservation sum
// (REQUESTED, PROCESSING, COMPLETED all count; only FAILED is excluded).
func (s Status) IsNonFailed() bool { return s != StatusFailed }

// Refund is the FluxPay refund aggregate.
type Refund struct {
	ID           string
	Tenant       tenant.ID
	PaymentID    string
	Amount       money.Money
	Reason       string
	Status       Status
	PgRefundID   string
	ErrorMessage string
	RequestedAt  time.Time
	CompletedAt  *time.Time
	Version      int
}

// New creates a REQUESTED refund.
func New(id string, tn tenant.ID, paymentID string, amount money.Money, reason string, now time.Time) *Refund {
	return &Refund{
		ID:          id,
		Tenant:      tn,
		PaymentID:   paymentID,
		Amount:      amount,
		Reason:      reason,
		Status:      StatusRequested,
		RequestedAt: now,
		Version:     1,
	}
}

func (r *Refund) transitionTo(next Status) error {
	if !r.Status.CanTransitionTo(next) {
		return apperr.New(apperr.CodeRefundInvalidState,
			"refund cannot transition from "+string(r.Status)+" to "+string(next))
	}
	r.Status = next
	return nil
}

// StartProcessing moves REQUESTED → PROCESSING.
func (r *Refund) StartProcessing() error {
	return r.transitionTo(StatusProcessing)
}

// Complete moves PROCESSING → COMPLETED.
func (r *Refund) Complete(pgRefundID string, now time.Time) error {
	if err := r.transitionTo(StatusCompleted); err != nil {
		return err
	}
	r.PgRefundID = pgRefundID
	r.CompletedAt = &now
	return nil
}

// Fail moves PROCESSING → FAILED, recording the error.
func (r *Refund) Fail(errMsg string, now time.Time) error {
	if err := r.transitionTo(StatusFailed); err != nil {
		return err
	}
	r.ErrorMessage = errMsg
	r.CompletedAt = &now
	return nil
}
