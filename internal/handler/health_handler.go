package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fluxpay/engine/internal/apperr"
)

// HealthHandler exposes GET /api/v1/health, running the composite readiness
// check built from pkg/healthcheck.Composite over the live Postgres/Redis
// connections.
type HealthHandler struct {
	check func(ctx context.Context) error
}

type healthResult struct {
	Status string `json:"status"`
}

// NewHealthHandler builds a HealthHandler from a ready-to-run composite
// check, e.g. healthcheck.Composite(func(ctx) error {...}, ...).
func NewHealthHandler(check func(ctx context.Context) error) *HealthHandler {
	return &HealthHandler{check: check}
}

// Check handles GET /api/v1/health.
func (h *HealthHandler) Check(c *gin.Context) {
	if err := h.check(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, Envelope{
			IsSuccess: false,
			Code:      string(apperr.CodeUnavailable),
			Message:   err.Error(),
			Result:    healthResult{Status: "DOWN"},
		})
		return
	}
	respondOK(c, http.StatusOK, healthResult{Status: "UP"})
}
