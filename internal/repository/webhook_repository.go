package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/fluxpay/engine/internal/apperr"
	"github.com/fluxpay/engine/internal/domain/webhook"
	"github.com/fluxpay/engine/internal/tenant"
)

// GormWebhookSubscriptionRepository implements repository.WebhookSubscriptionRepository.
type GormWebhookSubscriptionRepository struct {
	db *gorm.DB
}

// NewGormWebhookSubscriptionRepository builds a GormWebhookSubscriptionRepository.
func NewGormWebhookSubscriptionRepository(db *gorm.DB) *GormWebhookSubscriptionRepository {
	return &GormWebhookSubscriptionRepository{db: db}
}

func modelToSubscription(m *WebhookSubscriptionModel) (*webhook.Subscription, error) {
	var eventTypes []string
	if err := unmarshalJSON(m.EventTypes, &eventTypes); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "decoding webhook subscription event types", err)
	}
	return &webhook.Subscription{
		ID:         m.ID,
		Tenant:     tenant.ID(m.TenantID),
		EventTypes: eventTypes,
		TargetURL:  m.TargetURL,
		Secret:     m.Secret,
		Active:     m.Active,
		CreatedAt:  m.CreatedAt,
	}, nil
}

// ListActiveForTenant returns every active subscription for tenantID whose
// EventTypes include eventType or the wildcard "*". The SQL filter narrows by
// tenant only; the per-event-type match is re-checked in Go via Matches since
// event_types is stored as a JSON array, not a queryable column.
func (r *GormWebhookSubscriptionRepository) ListActiveForTenant(ctx context.Context, tenantID string, eventType string) ([]*webhook.Subscription, error) {
	var models []WebhookSubscriptionModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND active = ?", tenantID, true).
		Find(&models).Error; err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "listing webhook subscriptions", err)
	}

	subs := make([]*webhook.Subscription, 0, len(models))
	for i := range models {
		sub, err := modelToSubscription(&models[i])
		if err != nil {
			return nil, err
		}
		if sub.Matches(eventType) {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

// GormWebhookDeliveryRepository implements repository.WebhookDeliveryRepository.
type GormWebhookDeliveryRepository struct {
	db *gorm.DB
}

// NewGormWebhookDeliveryRepository builds a GormWebhookDeliveryRepository.
func NewGormWebhookDeliveryRepository(db *gorm.DB) *GormWebhookDeliveryRepository {
	return &GormWebhookDeliveryRepository{db: db}
}

func deliveryToModel(d *webhook.Delivery) (*WebhookDeliveryModel, error) {
	return &WebhookDeliveryModel{
		ID:             d.ID,
		TenantID:       string(d.Tenant),
		SubscriptionID: d.SubscriptionID,
		EventType:      d.EventType,
		EventID:        d.EventID,
		Payload:        string(d.Payload),
		TargetURL:      d.TargetURL,
		Status:         string(d.Status),
		RetryCount:     d.RetryCount,
		MaxRetries:     d.MaxRetries,
		LastAttemptAt:  d.LastAttemptAt,
		NextRetryAt:    d.NextRetryAt,
		LastError:      d.LastError,
		CreatedAt:      d.CreatedAt,
		DeliveredAt:    d.DeliveredAt,
		Version:        d.Version,
	}, nil
}

func modelToDelivery(m *WebhookDeliveryModel) *webhook.Delivery {
	return &webhook.Delivery{
		ID:             m.ID,
		Tenant:         tenant.ID(m.TenantID),
		SubscriptionID: m.SubscriptionID,
		EventType:      m.EventType,
		EventID:        m.EventID,
		Payload:        []byte(m.Payload),
		TargetURL:      m.TargetURL,
		Status:         webhook.Status(m.Status),
		RetryCount:     m.RetryCount,
		MaxRetries:     m.MaxRetries,
		LastAttemptAt:  m.LastAttemptAt,
		NextRetryAt:    m.NextRetryAt,
		LastError:      m.LastError,
		CreatedAt:      m.CreatedAt,
		DeliveredAt:    m.DeliveredAt,
		Version:        m.Version,
	}
}

// Create inserts a new delivery row. Deliveries are created by the outbox
// publisher's webhook fan-out, a system-wide process, so this is not
// tenant-scoped — it writes tenant_id as supplied on the aggregate.
func (r *GormWebhookDeliveryRepository) Create(ctx context.Context, d *webhook.Delivery) error {
	model, err := deliveryToModel(d)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return apperr.Wrap(apperr.CodeInternal, "creating webhook delivery", err)
	}
	return nil
}

// Get fetches one delivery by id.
func (r *GormWebhookDeliveryRepository) Get(ctx context.Context, id string) (*webhook.Delivery, error) {
	var model WebhookDeliveryModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.New(apperr.CodeInternal, "webhook delivery not found")
		}
		return nil, apperr.Wrap(apperr.CodeInternal, "fetching webhook delivery", err)
	}
	return modelToDelivery(&model), nil
}

// Update applies an optimistic-locked update of d's mutable fields.
func (r *GormWebhookDeliveryRepository) Update(ctx context.Context, d *webhook.Delivery) error {
	prevVersion := d.Version
	d.Version++

	result := r.db.WithContext(ctx).Table("webhooks").
		Where("id = ? AND version = ?", d.ID, prevVersion).
		Updates(map[string]any{
			"status":          string(d.Status),
			"retry_count":     d.RetryCount,
			"last_attempt_at": d.LastAttemptAt,
			"next_retry_at":   d.NextRetryAt,
			"last_error":      d.LastError,
			"delivered_at":    d.DeliveredAt,
			"version":         d.Version,
		})
	if result.Error != nil {
		return apperr.Wrap(apperr.CodeInternal, "updating webhook delivery", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.New(apperr.CodeInternal, "webhook delivery was concurrently modified")
	}
	return nil
}

// ListDueForRetry returns up to limit deliveries in RETRYING whose
// nextRetryAt has elapsed. The retry scheduler is a system-wide job, so this
// scans across every tenant by design.
func (r *GormWebhookDeliveryRepository) ListDueForRetry(ctx context.Context, limit int) ([]*webhook.Delivery, error) {
	var models []WebhookDeliveryModel
	if err := r.db.WithContext(ctx).Table("webhooks").
		Where("status = ? AND next_retry_at <= ?", string(webhook.StatusRetrying), time.Now()).
		Order("next_retry_at").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "listing webhooks due for retry", err)
	}

	deliveries := make([]*webhook.Delivery, 0, len(models))
	for i := range models {
		deliveries = append(deliveries, modelToDelivery(&models[i]))
	}
	return deliveries, nil
}
