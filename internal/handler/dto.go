package handler

import (
	"time"

	"github.com/fluxpay/engine/internal/money"
)

// lineItemDTO is one line of a create-order request body.
type lineItemDTO struct {
	SKU       string `json:"sku" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,gt=0"`
	UnitPrice string `json:"unitPrice" binding:"required"`
}

type createOrderRequest struct {
	UserID    string        `json:"userId" binding:"required"`
	Currency  string        `json:"currency" binding:"required,len=3"`
	LineItems []lineItemDTO `json:"lineItems" binding:"required,min=1,dive"`
}

type createOrderResponse struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
}

type createPaymentRequest struct {
	OrderID  string `json:"orderId" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
	Currency string `json:"currency" binding:"required,len=3"`
}

type requestApprovalRequest struct {
	Method string `json:"method" binding:"required"`
}

type createRefundRequest struct {
	PaymentID string `json:"paymentId" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
	Currency  string `json:"currency" binding:"required,len=3"`
	Reason    string `json:"reason" binding:"required"`
}

// paymentDTO is the wire shape for a Payment, rendered explicitly rather than
// exposing the domain struct so FailureReason/Method stay internal details.
type paymentDTO struct {
	ID              string      `json:"id"`
	OrderID         string      `json:"orderId"`
	Amount          money.Money `json:"amount"`
	Status          string      `json:"status"`
	PgTransactionID string      `json:"pgTransactionId,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

type refundDTO struct {
	ID          string      `json:"id"`
	PaymentID   string      `json:"paymentId"`
	Amount      money.Money `json:"amount"`
	Reason      string      `json:"reason"`
	Status      string      `json:"status"`
	RequestedAt time.Time   `json:"requestedAt"`
}
