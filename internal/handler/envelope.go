// Package handler implements the inbound REST command surface of spec §6:
// thin JSON↔domain-call mapping over the saga orchestrator and the payment/
// refund services, wrapped in tenant and idempotency enforcement.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fluxpay/engine/internal/apperr"
	"github.com/fluxpay/engine/pkg/logger"
)

// Envelope is the standard response shape every endpoint returns, per spec §6.
type Envelope struct {
	IsSuccess bool   `json:"isSuccess"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Result    any    `json:"result"`
}

// respondOK writes a 2xx success envelope.
func respondOK(c *gin.Context, status int, result any) {
	c.JSON(status, Envelope{IsSuccess: true, Code: "OK", Message: "", Result: result})
}

// respondError maps err to an HTTP status and writes a failure envelope. Any
// error that isn't an *apperr.Error is treated as an unexpected bug and
// reported as apperr.CodeInternal, with the underlying cause logged but never
// leaked to the caller.
func respondError(c *gin.Context, err error) {
	ae, ok := err.(*apperr.Error)
	if !ok {
		logger.FromContext(c.Request.Context()).Error().Err(err).Msg("unmapped error reached handler")
		c.JSON(http.StatusInternalServerError, Envelope{
			IsSuccess: false,
			Code:      string(apperr.CodeInternal),
			Message:   "internal server error",
		})
		return
	}

	status := statusForCode(ae.Code)
	if status >= 500 {
		logger.FromContext(c.Request.Context()).Error().Err(ae).Str("code", string(ae.Code)).Msg("request failed")
	}

	c.JSON(status, Envelope{
		IsSuccess: false,
		Code:      string(ae.Code),
		Message:   ae.Message,
		Result:    nil,
	})
}

// statusForCode maps a stable apperr.Code to its HTTP status, the same
// single-function mapping style as the teacher's gRPC-code switch.
func statusForCode(code apperr.Code) int {
	switch code {
	case apperr.CodeOrderNotFound, apperr.CodePaymentNotFound, apperr.CodeRefundNotFound:
		return http.StatusNotFound
	case apperr.CodeOrderAlreadyExists,
		apperr.CodeOrderInvalidState, apperr.CodePaymentInvalidState, apperr.CodeRefundInvalidState,
		apperr.CodeIdempotencyProcessing:
		return http.StatusConflict
	case apperr.CodeValidation, apperr.CodeIdempotencyMissing:
		return http.StatusBadRequest
	case apperr.CodeTenantMissing:
		return http.StatusBadRequest
	case apperr.CodeTenantMismatch:
		return http.StatusForbidden
	case apperr.CodeIdempotencyConflict,
		apperr.CodeRefundWindowExpired, apperr.CodeRefundExceedsAmount, apperr.CodeRefundLimitExceeded:
		return http.StatusUnprocessableEntity
	case apperr.CodePaymentDeclined:
		return http.StatusPaymentRequired
	case apperr.CodePaymentGatewayFailure:
		return http.StatusBadGateway
	case apperr.CodeUnavailable:
		return http.StatusServiceUnavailable
	case apperr.CodeSagaTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// bindJSON binds the request body into dest, responding with
// apperr.CodeValidation and returning false on failure so the caller can
// stop handling early.
func bindJSON(c *gin.Context, dest any) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		respondError(c, apperr.Wrap(apperr.CodeValidation, "invalid request body", err))
		return false
	}
	return true
}
