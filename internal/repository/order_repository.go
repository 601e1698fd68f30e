package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/fluxpay/engine/internal/apperr"
	"github.com/fluxpay/engine/internal/domain/order"
	"github.com/fluxpay/engine/internal/money"
	"github.com/fluxpay/engine/internal/tenant"
)

// GormOrderRepository implements OrderRepository over GORM/Postgres.
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository builds a GormOrderRepository.
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

func orderToModel(o *order.Order) (*OrderModel, error) {
	lineItems, err := marshalJSON(o.LineItems)
	if err != nil {
		return nil, err
	}
	metadata, err := marshalJSON(o.Metadata)
	if err != nil {
		return nil, err
	}

	return &OrderModel{
		ID:          o.ID,
		TenantID:    string(o.Tenant),
		UserID:      o.UserID,
		LineItems:   lineItems,
		TotalAmount: o.TotalAmount.String(),
		Currency:    o.Currency,
		Status:      string(o.Status),
		Metadata:    metadata,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
		PaidAt:      o.PaidAt,
		CompletedAt: o.CompletedAt,
		Version:     o.Version,
	}, nil
}

func modelToOrder(m *OrderModel) (*order.Order, error) {
	var lineItems []order.LineItem
	if err := unmarshalJSON(m.LineItems, &lineItems); err != nil {
		return nil, err
	}
	metadata := map[string]any{}
	if err := unmarshalJSON(m.Metadata, &metadata); err != nil {
		return nil, err
	}

	total, err := money.New(m.TotalAmount, m.Currency)
	if err != nil {
		return nil, err
	}

	return &order.Order{
		ID:          m.ID,
		Tenant:      tenant.ID(m.TenantID),
		UserID:      m.UserID,
		LineItems:   lineItems,
		TotalAmount: total,
		Currency:    m.Currency,
		Status:      order.Status(m.Status),
		Metadata:    metadata,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		PaidAt:      m.PaidAt,
		CompletedAt: m.CompletedAt,
		Version:     m.Version,
	}, nil
}

func (r *GormOrderRepository) Create(ctx context.Context, o *order.Order) error {
	scope, _, err := scoped(ctx, r.db, "orders")
	if err != nil {
		return err
	}

	model, err := orderToModel(o)
	if err != nil {
		return err
	}

	if err := scope.Session(&gorm.Session{}).Create(model).Error; err != nil {
		return apperr.Wrap(apperr.CodeInternal, "creating order", err)
	}
	return nil
}

func (r *GormOrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	scope, _, err := scoped(ctx, r.db, "orders")
	if err != nil {
		return nil, err
	}

	var model OrderModel
	if err := scope.Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.CodeOrderNotFound, "order not found")
		}
		return nil, apperr.Wrap(apperr.CodeInternal, "loading order", err)
	}

	return modelToOrder(&model)
}

// Update persists o, verifying the optimistic version column. A mismatch
// (concurrent writer) surfaces as CodeOrderInvalidState per spec §5.
func (r *GormOrderRepository) Update(ctx context.Context, o *order.Order) error {
	scope, _, err := scoped(ctx, r.db, "orders")
	if err != nil {
		return err
	}

	model, err := orderToModel(o)
	if err != nil {
		return err
	}

	expectedVersion := model.Version
	model.Version = expectedVersion + 1

	result := scope.Where("id = ? AND version = ?", o.ID, expectedVersion).
		Updates(map[string]any{
			"status":       model.Status,
			"metadata":     model.Metadata,
			"updated_at":   model.UpdatedAt,
			"paid_at":      model.PaidAt,
			"completed_at": model.CompletedAt,
			"version":      model.Version,
		})
	if result.Error != nil {
		return apperr.Wrap(apperr.CodeInternal, "updating order", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.New(apperr.CodeOrderInvalidState, "concurrent update conflict on order")
	}

	o.Version = model.Version
	return nil
}
