package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fluxpay/engine/internal/apperr"
	"github.com/fluxpay/engine/internal/domain/order"
	"github.com/fluxpay/engine/internal/money"
	"github.com/fluxpay/engine/internal/tenant"
)

func moneyMust(amount, currency string) money.Money {
	m, err := money.New(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// setupMockDB wires a *gorm.DB over a sqlmock connection, the same harness
// the teacher's services/user/internal/repository/user_repository_test.go
// uses, substituting the Postgres dialector for Postgres-only primitives
// (SET LOCAL session variables) that spec.md §4.1 requires.
func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:                 db,
		PreferSimpleProtocol: true,
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	return gormDB, mock, func() { _ = db.Close() }
}

func testOrder(tn tenant.ID) *order.Order {
	o, err := order.New("order-1", tn, "user-1", []order.LineItem{
		{SKU: "sku-1", UnitPrice: moneyMust("10000", "KRW"), Quantity: 2},
	}, "KRW", time.Now())
	if err != nil {
		panic(err)
	}
	return o
}

func TestGormOrderRepositoryCreateRequiresTenant(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewGormOrderRepository(gormDB)
	o := testOrder("tenant-a")

	err := repo.Create(context.Background(), o)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeTenantMissing))
	assert.NoError(t, mock.ExpectationsWereMet(), "no SQL should run before the tenant check")
}

func TestGormOrderRepositoryCreateSetsSessionTenantAndInserts(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewGormOrderRepository(gormDB)
	o := testOrder("tenant-a")
	ctx := tenant.WithTenant(context.Background(), "tenant-a")

	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL app.tenant_id")).
		WithArgs("tenant-a").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "orders"`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.Create(ctx, o)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormOrderRepositoryGetNotFound(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewGormOrderRepository(gormDB)
	ctx := tenant.WithTenant(context.Background(), "tenant-a")

	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL app.tenant_id")).
		WithArgs("tenant-a").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders"`)).
		WillReturnRows(sqlmock.NewRows(nil))

	_, err := repo.Get(ctx, "missing-order")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeOrderNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormOrderRepositoryUpdateDetectsVersionConflict(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewGormOrderRepository(gormDB)
	ctx := tenant.WithTenant(context.Background(), "tenant-a")
	o := testOrder("tenant-a")
	o.Version = 2

	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL app.tenant_id")).
		WithArgs("tenant-a").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "orders"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := repo.Update(ctx, o)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeOrderInvalidState))
	assert.NoError(t, mock.ExpectationsWereMet())
}
