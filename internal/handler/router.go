package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fluxpay/engine/internal/idempotency"
	"github.com/fluxpay/engine/pkg/middleware"
)

// RouterConfig bundles everything NewRouter needs to wire spec §6's command
// surface on top of gin.
type RouterConfig struct {
	Orders        *OrderHandler
	Payments      *PaymentHandler
	Refunds       *RefundHandler
	Health        *HealthHandler
	Guard         *idempotency.Guard
	IdempotencyTTL time.Duration
	TenantEnabled bool
	Debug         bool
}

// NewRouter builds the gin.Engine for spec §6's REST command surface,
// grounded on the teacher's route-group-per-resource router layout.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Logging())

	engine.GET("/api/v1/health", cfg.Health.Check)

	v1 := engine.Group("/api/v1")
	v1.Use(middleware.Tenant(cfg.TenantEnabled))

	orders := v1.Group("/orders")
	{
		orders.POST("", idempotent(cfg.Guard, "POST /api/v1/orders", cfg.IdempotencyTTL, cfg.Orders.CreateOrder))
	}

	payments := v1.Group("/payments")
	{
		payments.POST("", idempotent(cfg.Guard, "POST /api/v1/payments", cfg.IdempotencyTTL, cfg.Payments.CreatePayment))
		payments.GET("/:id", cfg.Payments.GetPayment)
		payments.POST("/:id/approve", idempotent(cfg.Guard, "POST /api/v1/payments/:id/approve", cfg.IdempotencyTTL, cfg.Payments.RequestApproval))
		payments.POST("/:id/confirm", idempotent(cfg.Guard, "POST /api/v1/payments/:id/confirm", cfg.IdempotencyTTL, cfg.Payments.ConfirmPayment))
		payments.GET("/:id/refunds", cfg.Refunds.ListRefundsByPayment)
	}

	refunds := v1.Group("/refunds")
	{
		refunds.POST("", idempotent(cfg.Guard, "POST /api/v1/refunds", cfg.IdempotencyTTL, cfg.Refunds.CreateRefund))
		refunds.GET("/:id", cfg.Refunds.GetRefund)
	}

	return engine
}
