// Package pgclient is the outbound adapter to the external payment gateway
// processor FluxPay delegates approval, confirmation and cancellation to.
package pgclient

import (
	"context"

	"github.com/fluxpay/engine/internal/money"
)

// Client is the narrow contract the payment and refund services depend on,
// satisfied by HTTPClient in production and by a fake in tests.
type Client interface {
	// RequestApproval asks the gateway to authorize amount for method,
	// returning its transaction id and an opaque payment key on success.
	RequestApproval(ctx context.Context, paymentID string, amount money.Money, method string) (pgTransactionID, pgPaymentKey string, err error)

	// ConfirmPayment captures a previously approved transaction, per spec
	// §4.5's confirmPayment(paymentKey, orderId, amount) contract.
	ConfirmPayment(ctx context.Context, paymentKey, orderID string, amount money.Money) error

	// CancelPayment voids or refunds a transaction, used by the refund
	// processor, per spec §4.6's
	// cancelPayment(paymentKey, reason) contract.
	CancelPayment(ctx context.Context, paymentKey, reason string) error
}
