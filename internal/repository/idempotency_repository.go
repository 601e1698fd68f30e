package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fluxpay/engine/internal/idempotency"
	"github.com/fluxpay/engine/internal/tenant"
)

// GormIdempotencyRepository implements idempotency.Repository over
// GORM/Postgres using INSERT ... ON CONFLICT DO NOTHING as the persistent
// tier's atomic insert-or-return primitive (spec §4.2).
type GormIdempotencyRepository struct {
	db *gorm.DB
}

// NewGormIdempotencyRepository builds a GormIdempotencyRepository.
func NewGormIdempotencyRepository(db *gorm.DB) *GormIdempotencyRepository {
	return &GormIdempotencyRepository{db: db}
}

func modelToEntry(m *IdempotencyModel) *idempotency.Entry {
	return &idempotency.Entry{
		Tenant:      tenant.ID(m.TenantID),
		Endpoint:    m.Endpoint,
		Key:         m.Key,
		PayloadHash: m.PayloadHash,
		Response:    []byte(m.Response),
		HTTPStatus:  m.HTTPStatus,
		State:       idempotency.State(m.State),
		CreatedAt:   m.CreatedAt,
		ExpiresAt:   m.ExpiresAt,
	}
}

func (r *GormIdempotencyRepository) TryLock(ctx context.Context, tn tenant.ID, endpoint, key, payloadHash string, ttl time.Duration) (bool, *idempotency.Entry, error) {
	now := time.Now()
	model := &IdempotencyModel{
		TenantID:    string(tn),
		Endpoint:    endpoint,
		Key:         key,
		PayloadHash: payloadHash,
		State:       string(idempotency.StateLocked),
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}

	result := r.db.WithContext(ctx).Table("idempotency_keys").
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(model)
	if result.Error != nil {
		return false, nil, result.Error
	}
	if result.RowsAffected > 0 {
		return true, nil, nil
	}

	var existing IdempotencyModel
	if err := r.db.WithContext(ctx).Table("idempotency_keys").
		Where("tenant_id = ? AND endpoint = ? AND key = ?", string(tn), endpoint, key).
		First(&existing).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Raced with a concurrent delete; caller can safely retry.
			return false, nil, nil
		}
		return false, nil, err
	}

	return false, modelToEntry(&existing), nil
}

func (r *GormIdempotencyRepository) Store(ctx context.Context, tn tenant.ID, endpoint, key string, response []byte, httpStatus int, ttl time.Duration) error {
	return r.db.WithContext(ctx).Table("idempotency_keys").
		Where("tenant_id = ? AND endpoint = ? AND key = ?", string(tn), endpoint, key).
		Updates(map[string]any{
			"state":       string(idempotency.StateStored),
			"response":    string(response),
			"http_status": httpStatus,
			"expires_at":  time.Now().Add(ttl),
		}).Error
}

func (r *GormIdempotencyRepository) ReleaseLock(ctx context.Context, tn tenant.ID, endpoint, key string) error {
	return r.db.WithContext(ctx).Table("idempotency_keys").
		Where("tenant_id = ? AND endpoint = ? AND key = ? AND state = ?", string(tn), endpoint, key, string(idempotency.StateLocked)).
		Delete(&IdempotencyModel{}).Error
}

func (r *GormIdempotencyRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Table("idempotency_keys").Where("expires_at < ?", cutoff).Delete(&IdempotencyModel{})
	return result.RowsAffected, result.Error
}
