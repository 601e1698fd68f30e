// Package order implements the Order aggregate and its status machine.
package order

import (
	"time"

	"github.com/fluxpay/engine/internal/apperr"
	"github.com/fluxpay/engine/internal/money"
	"github.com/fluxpay/engine/internal/tenant"
)

// Status is one of the order's closed set of lifecycle states.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPaid      Status = "PAID"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusFailed    Status = "FAILED"
)

// transitions is the closed edge set of the order status machine.
var transitions = map[Status][]Status{
	StatusPending: {StatusPaid, StatusCancelled, StatusFailed},
	StatusPaid:    {StatusCompleted, StatusCancelled, StatusFailed},
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
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// LineItem is one priced line of an order, frozen at order creation.
type LineItem struct {
	SKU       string
	Quantity  int
	UnitPrice money.Money
}

// Subtotal returns UnitPrice × Quantity.
func (l LineItem) Subtotal() (money.Money, error) {
	return l.UnitPrice.MulInt(l.Quantity)
}

// Order is the FluxPay order aggregate.
type Order struct {
	ID          string
	Tenant      tenant.ID
	UserID      string
	LineItems   []LineItem
	TotalAmount money.Money
	Currency    string
	Status      Status
	Metadata    map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
	PaidAt      *time.Time
	CompletedAt *time.Time
	Version     int
}

// New creates a PENDING order, computing and freezing TotalAmount from
// lineItems.
func New(id string, tn tenant.ID, userID string, lineItems []LineItem, currency string, now time.Time) (*Order, error) {
	total := money.Zero(currency)
	for _, item := range lineItems {
		subtotal, err := item.Subtotal()
		if err != nil {
			return nil, err
		}
		total, err = total.Add(subtotal)
		if err != nil {
			return nil, err
		}
	}

	return &Order{
		ID:          id,
		Tenant:      tn,
		UserID:      userID,
		LineItems:   lineItems,
		TotalAmount: total,
		Currency:    currency,
		Status:      StatusPending,
		Metadata:    map[string]any{},
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}, nil
}

// TransitionTo moves the order to next if declared, updating timestamps.
func (o *Order) TransitionTo(next Status, now time.Time) error {
	if !o.Status.CanTransitionTo(next) {
		return apperr.New(apperr.CodeOrderInvalidState,
			"order cannot transition from "+string(o.Status)+" to "+string(next))
	}

	o.Status = next
	o.UpdatedAt = now

	switch next {
	case StatusPaid:
		o.PaidAt = &now
	case StatusCompleted:
		o.CompletedAt = &now
	}

	return nil
}
