package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fluxpay/engine/internal/apperr"
	"github.com/fluxpay/engine/internal/domain/payment"
	"github.com/fluxpay/engine/internal/money"
	"github.com/fluxpay/engine/internal/service"
)

// PaymentHandler exposes the payment lifecycle operations of spec §4.5.
type PaymentHandler struct {
	payments *service.PaymentService
}

// NewPaymentHandler builds a PaymentHandler.
func NewPaymentHandler(payments *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// CreatePayment handles POST /api/v1/payments.
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	var req createPaymentRequest
	if !bindJSON(c, &req) {
		return
	}

	amount, err := money.New(req.Amount, req.Currency)
	if err != nil {
		respondError(c, apperr.Wrap(apperr.CodeValidation, "invalid amount", err))
		return
	}

	p, err := h.payments.CreatePayment(c.Request.Context(), req.OrderID, amount)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, toPaymentDTO(p))
}

// GetPayment handles GET /api/v1/payments/:id.
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	p, err := h.payments.GetPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, toPaymentDTO(p))
}

// RequestApproval handles POST /api/v1/payments/:id/approve.
func (h *PaymentHandler) RequestApproval(c *gin.Context) {
	var req requestApprovalRequest
	if !bindJSON(c, &req) {
		return
	}

	p, err := h.payments.RequestApproval(c.Request.Context(), c.Param("id"), req.Method)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, toPaymentDTO(p))
}

// ConfirmPayment handles POST /api/v1/payments/:id/confirm.
func (h *PaymentHandler) ConfirmPayment(c *gin.Context) {
	p, err := h.payments.ConfirmPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, toPaymentDTO(p))
}

func toPaymentDTO(p *payment.Payment) paymentDTO {
	return paymentDTO{
		ID:              p.ID,
		OrderID:         p.OrderID,
		Amount:          p.Amount,
		Status:          string(p.Status),
		PgTransactionID: p.PgTransactionID,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}
