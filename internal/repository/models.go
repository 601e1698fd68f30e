// Package repository contains the GORM-backed persistence adapters for every
// aggregate the core depends on through an abstract contract.
package repository

import (
	"encoding/json"
	"time"
)

// OrderModel is the GORM row for orders.
type OrderModel struct {
	ID          string `gorm:"primaryKey;type:uuid"`
	TenantID    string `gorm:"index:idx_orders_tenant;not null"`
	UserID      string `gorm:"not null"`
	LineItems   string `gorm:"type:jsonb;not null"`
	TotalAmount string `gorm:"type:numeric;not null"`
	Currency    string `gorm:"type:varchar(3);not null"`
	Status      string `gorm:"type:varchar(16);not null;index"`
	Metadata    string `gorm:"type:jsonb"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	PaidAt      *time.Time
	CompletedAt *time.Time
	Version     int `gorm:"not null;default:1"`
}

func (OrderModel) TableName() string { return "orders" }

// PaymentModel is the GORM row for payments; order_id is globally unique,
// enforcing "exactly one payment per order".
type PaymentModel struct {
	ID              string `gorm:"primaryKey;type:uuid"`
	TenantID        string `gorm:"index:idx_payments_tenant;not null"`
	OrderID         string `gorm:"uniqueIndex;not null"`
	Amount          string `gorm:"type:numeric;not null"`
	Currency        string `gorm:"type:varchar(3);not null"`
	Status          string `gorm:"type:varchar(16);not null;index"`
	Method          string
	PgTransactionID string
	PgPaymentKey    string
	FailureReason   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ApprovedAt      *time.Time
	ConfirmedAt     *time.Time
	FailedAt        *time.Time
	Version         int `gorm:"not null;default:1"`
}

func (PaymentModel) TableName() string { return "payments" }

// RefundModel is the GORM row for refunds.
type RefundModel struct {
	ID           string `gorm:"primaryKey;type:varchar(64)"`
	TenantID     string `gorm:"index:idx_refunds_tenant;not null"`
	PaymentID    string `gorm:"index:idx_refunds_payment;not null"`
	Amount       string `gorm:"type:numeric;not null"`
	Currency     string `gorm:"type:varchar(3);not null"`
	Reason       string
	Status       string `gorm:"type:varchar(16);not null;index"`
	PgRefundID   string
	ErrorMessage string
	RequestedAt  time.Time
	CompletedAt  *time.Time
	Version      int `gorm:"not null;default:1"`
}

func (RefundModel) TableName() string { return "refunds" }

// OutboxModel is the GORM row for outbox_events.
type OutboxModel struct {
	Seq           int64  `gorm:"primaryKey;autoIncrement"`
	TenantID      string `gorm:"index:idx_outbox_tenant;not null"`
	AggregateType string `gorm:"not null"`
	AggregateID   string `gorm:"not null;index"`
	EventType     string `gorm:"not null"`
	EventID       string `gorm:"uniqueIndex;type:uuid;not null"`
	Payload       string `gorm:"type:jsonb;not null"`
	Status        string `gorm:"type:varchar(16);not null;index:idx_outbox_status_next"`
	RetryCount    int    `gorm:"not null;default:0"`
	CreatedAt     time.Time
	NextAttemptAt time.Time `gorm:"index:idx_outbox_status_next"`
	PublishedAt   *time.Time
	LastError     string
}

func (OutboxModel) TableName() string { return "outbox_events" }

// IdempotencyModel is the GORM row for idempotency_keys.
type IdempotencyModel struct {
	TenantID    string `gorm:"primaryKey;column:tenant_id"`
	Endpoint    string `gorm:"primaryKey"`
	Key         string `gorm:"primaryKey"`
	PayloadHash string `gorm:"not null"`
	Response    string `gorm:"type:jsonb"`
	HTTPStatus  int
	State       string `gorm:"type:varchar(8);not null"`
	CreatedAt   time.Time
	ExpiresAt   time.Time `gorm:"index"`
}

func (IdempotencyModel) TableName() string { return "idempotency_keys" }

// SagaInstanceModel is the GORM row for saga_instances, including the crash
// -recovery lease columns.
type SagaInstanceModel struct {
	SagaID        string `gorm:"primaryKey;type:uuid"`
	SagaType      string `gorm:"not null"`
	CorrelationID string `gorm:"not null;index:idx_saga_tenant_correlation,unique"`
	TenantID      string `gorm:"not null;index:idx_saga_tenant_correlation,unique"`
	Status        string `gorm:"type:varchar(16);not null;index"`
	CurrentStep   int    `gorm:"not null;default:0"`
	ContextData   string `gorm:"type:jsonb"`
	Error         string
	CompensationFailed bool `gorm:"not null;default:false"`
	LeaseOwner    string
	LeasedUntil   *time.Time
	StartedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
	Version       int `gorm:"not null;default:1"`
}

func (SagaInstanceModel) TableName() string { return "saga_instances" }

// SagaStepModel is the GORM row for saga_steps.
type SagaStepModel struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	SagaID        string `gorm:"type:uuid;not null;index:idx_saga_steps_saga"`
	StepOrder     int    `gorm:"not null"`
	Name          string `gorm:"not null"`
	Status        string `gorm:"type:varchar(16);not null"`
	ExecutedAt    *time.Time
	CompensatedAt *time.Time
	Error         string
}

func (SagaStepModel) TableName() string { return "saga_steps" }

// WebhookSubscriptionModel is the GORM row for webhook_subscriptions.
type WebhookSubscriptionModel struct {
	ID         string `gorm:"primaryKey;type:varchar(64)"`
	TenantID   string `gorm:"index;not null"`
	EventTypes string `gorm:"type:jsonb;not null"`
	TargetURL  string `gorm:"not null"`
	Secret     string `gorm:"not null"`
	Active     bool   `gorm:"not null;default:true"`
	CreatedAt  time.Time
}

func (WebhookSubscriptionModel) TableName() string { return "webhook_subscriptions" }

// WebhookDeliveryModel is the GORM row for webhooks.
type WebhookDeliveryModel struct {
	ID             string `gorm:"primaryKey;type:varchar(64)"`
	TenantID       string `gorm:"index;not null"`
	SubscriptionID string `gorm:"not null;index"`
	EventType      string `gorm:"not null"`
	EventID        string `gorm:"not null;index"`
	Payload        string `gorm:"type:jsonb;not null"`
	TargetURL      string `gorm:"not null"`
	Status         string `gorm:"type:varchar(16);not null;index:idx_webhooks_retry"`
	RetryCount     int    `gorm:"not null;default:0"`
	MaxRetries     int    `gorm:"not null"`
	LastAttemptAt  *time.Time
	NextRetryAt    *time.Time `gorm:"index:idx_webhooks_retry"`
	LastError      string
	CreatedAt      time.Time
	DeliveredAt    *time.Time
	Version        int `gorm:"not null;default:1"`
}

func (WebhookDeliveryModel) TableName() string { return "webhooks" }

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalJSON(data string, v any) error {
	if data == "" {
		return nil
	}
	return json.Unmarshal([]byte(data), v)
}
