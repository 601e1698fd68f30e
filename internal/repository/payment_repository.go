package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/fluxpay/engine/internal/apperr"
	"github.com/fluxpay/engine/internal/domain/payment"
	"github.com/fluxpay/engine/internal/money"
	"github.com/fluxpay/engine/internal/tenant"
)

// GormPaymentRepository implements PaymentRepository over GORM/Postgres.
type GormPaymentRepository struct {
	db *gorm.DB
}

// NewGormPaymentRepository builds a GormPaymentRepository.
func NewGormPaymentRepository(db *gorm.DB) *GormPaymentRepository {
	return &GormPaymentRepository{db: db}
}

func paymentToModel(p *payment.Payment) *PaymentModel {
	return &PaymentModel{
		ID:              p.ID,
		TenantID:        string(p.Tenant),
		OrderID:         p.OrderID,
		Amount:          p.Amount.String(),
		Currency:        p.Amount.Currency(),
		Status:          string(p.Status),
		Method:          p.Method,
		PgTransactionID: p.PgTransactionID,
		PgPaymentKey:    p.PgPaymentKey,
		FailureReason:   p.FailureReason,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
		ApprovedAt:      p.ApprovedAt,
		ConfirmedAt:     p.ConfirmedAt,
		FailedAt:        p.FailedAt,
		Version:         p.Version,
	}
}

func modelToPayment(m *PaymentModel) (*payment.Payment, error) {
	amount, err := money.New(m.Amount, m.Currency)
	if err != nil {
		return nil, err
	}

	return &payment.Payment{
		ID:              m.ID,
		Tenant:          tenant.ID(m.TenantID),
		OrderID:         m.OrderID,
		Amount:          amount,
		Status:          payment.Status(m.Status),
		Method:          m.Method,
		PgTransactionID: m.PgTransactionID,
		PgPaymentKey:    m.PgPaymentKey,
		FailureReason:   m.FailureReason,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
		ApprovedAt:      m.ApprovedAt,
		ConfirmedAt:     m.ConfirmedAt,
		FailedAt:        m.FailedAt,
		Version:         m.Version,
	}, nil
}

func (r *GormPaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	scope, _, err := scoped(ctx, r.db, "payments")
	if err != nil {
		return err
	}

	model := paymentToModel(p)
	if err := scope.Session(&gorm.Session{}).Create(model).Error; err != nil {
		// The unique index on order_id enforces "exactly one payment per order".
		return apperr.Wrap(apperr.CodeOrderAlreadyExists, "a payment already exists for this order", err)
	}
	return nil
}

func (r *GormPaymentRepository) Get(ctx context.Context, id string) (*payment.Payment, error) {
	scope, _, err := scoped(ctx, r.db, "payments")
	if err != nil {
		return nil, err
	}

	var model PaymentModel
	if err := scope.Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.CodePaymentNotFound, "payment not found")
		}
		return nil, apperr.Wrap(apperr.CodeInternal, "loading payment", err)
	}

	return modelToPayment(&model)
}

func (r *GormPaymentRepository) GetByOrderID(ctx context.Context, orderID string) (*payment.Payment, error) {
	scope, _, err := scoped(ctx, r.db, "payments")
	if err != nil {
		return nil, err
	}

	var model PaymentModel
	if err := scope.Where("order_id = ?", orderID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.CodePaymentNotFound, "payment not found for order")
		}
		return nil, apperr.Wrap(apperr.CodeInternal, "loading payment by order", err)
	}

	return modelToPayment(&model)
}

func (r *GormPaymentRepository) Update(ctx context.Context, p *payment.Payment) error {
	scope, _, err := scoped(ctx, r.db, "payments")
	if err != nil {
		return err
	}

	model := paymentToModel(p)
	expectedVersion := model.Version
	model.Version = expectedVersion + 1

	result := scope.Where("id = ? AND version = ?", p.ID, expectedVersion).
		Updates(map[string]any{
			"status":            model.Status,
			"method":            model.Method,
			"pg_transaction_id": model.PgTransactionID,
			"pg_payment_key":    model.PgPaymentKey,
			"failure_reason":    model.FailureReason,
			"updated_at":        model.UpdatedAt,
			"approved_at":       model.ApprovedAt,
			"confirmed_at":      model.ConfirmedAt,
			"failed_at":         model.FailedAt,
			"version":           model.Version,
		})
	if result.Error != nil {
		return apperr.Wrap(apperr.CodeInternal, "updating payment", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.New(apperr.CodePaymentInvalidState, "concurrent update conflict on payment")
	}

	p.Version = model.Version
	return nil
}
