package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fluxpay/engine/internal/apperr"
	"github.com/fluxpay/engine/internal/domain/refund"
	"github.com/fluxpay/engine/internal/money"
	"github.com/fluxpay/engine/internal/service"
)

// RefundHandler exposes the refund operations of spec §4.6.
type RefundHandler struct {
	refunds *service.RefundService
}

// NewRefundHandler builds a RefundHandler.
func NewRefundHandler(refunds *service.RefundService) *RefundHandler {
	return &RefundHandler{refunds: refunds}
}

// CreateRefund handles POST /api/v1/refunds.
func (h *RefundHandler) CreateRefund(c *gin.Context) {
	var req createRefundRequest
	if !bindJSON(c, &req) {
		return
	}

	amount, err := money.New(req.Amount, req.Currency)
	if err != nil {
		respondError(c, apperr.Wrap(apperr.CodeValidation, "invalid amount", err))
		return
	}

	r, err := h.refunds.CreateRefund(c.Request.Context(), req.PaymentID, amount, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, toRefundDTO(r))
}

// GetRefund handles GET /api/v1/refunds/:id.
func (h *RefundHandler) GetRefund(c *gin.Context) {
	r, err := h.refunds.GetRefund(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, toRefundDTO(r))
}

// ListRefundsByPayment handles GET /api/v1/payments/:id/refunds.
func (h *RefundHandler) ListRefundsByPayment(c *gin.Context) {
	refunds, err := h.refunds.ListRefundsByPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	dtos := make([]refundDTO, 0, len(refunds))
	for _, r := range refunds {
		dtos = append(dtos, toRefundDTO(r))
	}
	respondOK(c, http.StatusOK, dtos)
}

func toRefundDTO(r *refund.Refund) refundDTO {
	return refundDTO{
		ID:          r.ID,
		PaymentID:   r.PaymentID,
		Amount:      r.Amount,
		Reason:      r.Reason,
		Status:      string(r.Status),
		RequestedAt: r.RequestedAt,
	}
}
