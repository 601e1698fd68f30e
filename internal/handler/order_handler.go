package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fluxpay/engine/internal/apperr"
	"github.com/fluxpay/engine/internal/domain/order"
	"github.com/fluxpay/engine/internal/money"
	"github.com/fluxpay/engine/internal/saga"
)

// OrderHandler exposes order submission, which drives the whole
// CREATE_ORDER/PROCESS_PAYMENT saga rather than touching the order
// repository directly.
type OrderHandler struct {
	orchestrator *saga.Orchestrator
	def          saga.Definition
}

// NewOrderHandler builds an OrderHandler bound to one registered saga
// definition, so every request runs the same PaymentSaga.
func NewOrderHandler(orchestrator *saga.Orchestrator, def saga.Definition) *OrderHandler {
	return &OrderHandler{orchestrator: orchestrator, def: def}
}

// CreateOrder handles POST /api/v1/orders.
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if !bindJSON(c, &req) {
		return
	}

	lineItems := make([]order.LineItem, 0, len(req.LineItems))
	for _, li := range req.LineItems {
		unitPrice, err := money.New(li.UnitPrice, req.Currency)
		if err != nil {
			respondError(c, apperr.Wrap(apperr.CodeValidation, "invalid line item unit price", err))
			return
		}
		lineItems = append(lineItems, order.LineItem{SKU: li.SKU, Quantity: li.Quantity, UnitPrice: unitPrice})
	}

	input := saga.PaymentSagaInput{
		UserID:    req.UserID,
		LineItems: lineItems,
		Currency:  req.Currency,
	}

	sagaCtx := saga.NewContext()
	sagaCtx.Set("input", input)

	out, err := h.orchestrator.Run(c.Request.Context(), h.def, uuid.NewString(), sagaCtx)
	if err != nil {
		respondError(c, err)
		return
	}

	result, _ := out.(saga.PaymentSagaResult)
	respondOK(c, http.StatusCreated, createOrderResponse{OrderID: result.OrderID, PaymentID: result.PaymentID})
}
