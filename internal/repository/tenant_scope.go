package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/fluxpay/engine/internal/tenant"
)

// scoped requires a tenant from ctx and returns a *gorm.DB bound to that
// tenant's row-level-security session variable and pre-filtered to its rows.
// Every repository method must start from this, never from a raw db handle,
// so a missing tenant fails before any query runs (spec §4.1).
func scoped(ctx context.Context, db *gorm.DB, table string) (*gorm.DB, tenant.ID, error) {
	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return nil, "", err
	}

	tx := db.WithContext(ctx).Exec("SET LOCAL app.tenant_id = ?", string(tenantID))
	if tx.Error != nil {
		return nil, "", tx.Error
	}

	return tx.Table(table).Where("tenant_id = ?", string(tenantID)), tenantID, nil
}
