package repository

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/fluxpay/engine/internal/apperr"
	"github.com/fluxpay/engine/internal/domain/refund"
	"github.com/fluxpay/engine/internal/money"
	"github.com/fluxpay/engine/internal/tenant"
)

// GormRefundRepository implements RefundRepository over GORM/Postgres.
type GormRefundRepository struct {
	db *gorm.DB
}

// NewGormRefundRepository builds a GormRefundRepository.
func NewGormRefundRepository(db *gorm.DB) *GormRefundRepository {
	return &GormRefundRepository{db: db}
}

func refundToModel(r *refund.Refund) *RefundModel {
	return &RefundModel{
		ID:           r.ID,
		TenantID:     string(r.Tenant),
		PaymentID:    r.PaymentID,
		Amount:       r.Amount.String(),
		Currency:     r.Amount.Currency(),
		Reason:       r.Reason,
		Status:       string(r.Status),
		PgRefundID:   r.PgRefundID,
		ErrorMessage: r.ErrorMessage,
		RequestedAt:  r.RequestedAt,
		CompletedAt:  r.CompletedAt,
		Version:      r.Version,
	}
}

func modelToRefund(m *RefundModel) (*refund.Refund, error) {
	amount, err := money.New(m.Amount, m.Currency)
	if err != nil {
		return nil, err
	}

	return &refund.Refund{
		ID:           m.ID,
		Tenant:       tenant.ID(m.TenantID),
		PaymentID:    m.PaymentID,
		Amount:       amount,
		Reason:       m.Reason,
		Status:       refund.Status(m.Status),
		PgRefundID:   m.PgRefundID,
		ErrorMessage: m.ErrorMessage,
		RequestedAt:  m.RequestedAt,
		CompletedAt:  m.CompletedAt,
		Version:      m.Version,
	}, nil
}

func (r *GormRefundRepository) Create(ctx context.Context, ref *refund.Refund) error {
	scope, _, err := scoped(ctx, r.db, "refunds")
	if err != nil {
		return err
	}

	model := refundToModel(ref)
	if err := scope.Session(&gorm.Session{}).Create(model).Error; err != nil {
		return apperr.Wrap(apperr.CodeInternal, "creating refund", err)
	}
	return nil
}

func (r *GormRefundRepository) Get(ctx context.Context, id string) (*refund.Refund, error) {
	scope, _, err := scoped(ctx, r.db, "refunds")
	if err != nil {
		return nil, err
	}

	var model RefundModel
	if err := scope.Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.CodeRefundNotFound, "refund not found")
		}
		return nil, apperr.Wrap(apperr.CodeInternal, "loading refund", err)
	}

	return modelToRefund(&model)
}

func (r *GormRefundRepository) Update(ctx context.Context, ref *refund.Refund) error {
	scope, _, err := scoped(ctx, r.db, "refunds")
	if err != nil {
		return err
	}

	model := refundToModel(ref)
	expectedVersion := model.Version
	model.Version = expectedVersion + 1

	result := scope.Where("id = ? AND version = ?", ref.ID, expectedVersion).
		Updates(map[string]any{
			"status":        model.Status,
			"pg_refund_id":  model.PgRefundID,
			"error_message": model.ErrorMessage,
			"completed_at":  model.CompletedAt,
			"version":       model.Version,
		})
	if result.Error != nil {
		return apperr.Wrap(apperr.CodeInternal, "updating refund", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.New(apperr.CodeRefundInvalidState, "concurrent update conflict on refund")
	}

	ref.Version = model.Version
	return nil
}

func (r *GormRefundRepository) ListByPaymentID(ctx context.Context, paymentID string) ([]*refund.Refund, error) {
	scope, _, err := scoped(ctx, r.db, "refunds")
	if err != nil {
		return nil, err
	}

	var models []RefundModel
	if err := scope.Where("payment_id = ?", paymentID).Find(&models).Error; err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "listing refunds", err)
	}

	refunds := make([]*refund.Refund, 0, len(models))
	for i := range models {
		ref, err := modelToRefund(&models[i])
		if err != nil {
			return nil, err
		}
		refunds = append(refunds, ref)
	}
	return refunds, nil
}

// SumNonFailedByPaymentID returns the sum of amounts of all non-FAILED
// refunds for a payment, backing the refund-conservation invariant.
func (r *GormRefundRepository) SumNonFailedByPaymentID(ctx context.Context, paymentID string) (string, error) {
	scope, _, err := scoped(ctx, r.db, "refunds")
	if err != nil {
		return "", err
	}

	var total *string
	row := scope.Session(&gorm.Session{}).
		Where("payment_id = ? AND status <> ?", paymentID, string(refund.StatusFailed)).
		Select("SUM(amount)").Row()
	if err := row.Scan(&total); err != nil {
		return "", apperr.Wrap(apperr.CodeInternal, "summing refunds", err)
	}
	if total == nil {
		return decimal.Zero.String(), nil
	}
	return *total, nil
}

// CountNonFailedByPaymentID backs the max-partial-refunds invariant.
func (r *GormRefundRepository) CountNonFailedByPaymentID(ctx context.Context, paymentID string) (int, error) {
	scope, _, err := scoped(ctx, r.db, "refunds")
	if err != nil {
		return 0, err
	}

	var count int64
	if err := scope.Session(&gorm.Session{}).
		Where("payment_id = ? AND status <> ?", paymentID, string(refund.StatusFailed)).
		Count(&count).Error; err != nil {
		return 0, apperr.Wrap(apperr.CodeInternal, "counting refunds", err)
	}
	return int(count), nil
}

// ListPendingProcessing is called by the background refund processor, which
// sweeps every tenant's due refunds — it intentionally bypasses per-request
// tenant scoping since it is a trusted system job, not a tenant-initiated call.
func (r *GormRefundRepository) ListPendingProcessing(ctx context.Context, limit int) ([]*refund.Refund, error) {
	var models []RefundModel
	if err := r.db.WithContext(ctx).Table("refunds").
		Where("status IN ?", []string{string(refund.StatusRequested), string(refund.StatusProcessing)}).
		Limit(limit).Find(&models).Error; err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "listing pending refunds", err)
	}

	refunds := make([]*refund.Refund, 0, len(models))
	for i := range models {
		ref, err := modelToRefund(&models[i])
		if err != nil {
			return nil, err
		}
		refunds = append(refunds, ref)
	}
	return refunds, nil
}
