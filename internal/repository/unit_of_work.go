package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/fluxpay/engine/internal/apperr"
	"github.com/fluxpay/engine/internal/outbox"
)

// Repos bundles every tenant-scoped repository available inside one
// transaction, all bound to the same *gorm.DB handle.
type Repos struct {
	Orders   OrderRepository
	Payments PaymentRepository
	Refunds  RefundRepository
	Outbox   outbox.Repository
}

// UnitOfWork runs a domain mutation and its outbox write atomically: every
// service method that must emit an event does so by writing the outbox row
// through the same Repos.Outbox handed to it here, inside one transaction,
// satisfying the transactional-outbox invariant of spec §4.4.
type UnitOfWork struct {
	db *gorm.DB
}

// NewUnitOfWork builds a UnitOfWork over the process's root *gorm.DB.
func NewUnitOfWork(db *gorm.DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

// Run executes fn inside a single transaction, passing it a Repos bundle
// whose members all share that transaction's *gorm.DB.
func (u *UnitOfWork) Run(ctx context.Context, fn func(ctx context.Context, repos Repos) error) error {
	err := u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repos := Repos{
			Orders:   NewGormOrderRepository(tx),
			Payments: NewGormPaymentRepository(tx),
			Refunds:  NewGormRefundRepository(tx),
			Outbox:   NewGormOutboxRepository(tx),
		}
		return fn(ctx, repos)
	})
	if err != nil {
		if _, ok := err.(*apperr.Error); ok {
			return err
		}
		return apperr.Wrap(apperr.CodeInternal, "transaction failed", err)
	}
	return nil
}
