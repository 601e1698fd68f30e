package repository

import (
	"context"

	"github.com/fluxpay/engine/internal/domain/order"
	"github.com/fluxpay/engine/internal/domain/payment"
	"github.com/fluxpay/engine/internal/domain/refund"
	"github.com/fluxpay/engine/internal/domain/webhook"
)

// OrderRepository is the abstract persistence contract for orders.
type OrderRepository interface {
	Create(ctx context.Context, o *order.Order) error
	Get(ctx context.Context, id string) (*order.Order, error)
	Update(ctx context.Context, o *order.Order) error
}

// PaymentRepository is the abstract persistence contract for payments.
type PaymentRepository interface {
	Create(ctx context.Context, p *payment.Payment) error
	Get(ctx context.Context, id string) (*payment.Payment, error)
	GetByOrderID(ctx context.Context, orderID string) (*payment.Payment, error)
	Update(ctx context.Context, p *payment.Payment) error
}

// RefundRepository is the abstract persistence contract for refunds.
type RefundRepository interface {
	Create(ctx context.Context, r *refund.Refund) error
	Get(ctx context.Context, id string) (*refund.Refund, error)
	Update(ctx context.Context, r *refund.Refund) error
	ListByPaymentID(ctx context.Context, paymentID string) ([]*refund.Refund, error)
	// SumNonFailedByPaymentID and CountNonFailedByPaymentID back the refund
	// conservation and partial-refund-count invariants of spec §3/§4.6.
	SumNonFailedByPaymentID(ctx context.Context, paymentID string) (string, error)
	CountNonFailedByPaymentID(ctx context.Context, paymentID string) (int, error)
	ListPendingProcessing(ctx context.Context, limit int) ([]*refund.Refund, error)
}

// WebhookSubscriptionRepository is the abstract persistence contract for
// registered webhook subscribers.
type WebhookSubscriptionRepository interface {
	ListActiveForTenant(ctx context.Context, tenantID string, eventType string) ([]*webhook.Subscription, error)
}

// WebhookDeliveryRepository is the abstract persistence contract for webhook
// delivery rows.
type WebhookDeliveryRepository interface {
	Create(ctx context.Context, d *webhook.Delivery) error
	Get(ctx context.Context, id string) (*webhook.Delivery, error)
	Update(ctx context.Context, d *webhook.Delivery) error
	ListDueForRetry(ctx context.Context, limit int) ([]*webhook.Delivery, error)
}
