package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fluxpay/engine/internal/apperr"
	"github.com/fluxpay/engine/internal/domain/payment"
	"github.com/fluxpay/engine/internal/money"
	"github.com/fluxpay/engine/internal/pgclient"
	"github.com/fluxpay/engine/internal/repository"
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
// internal/repository's tests use, so UnitOfWork's real gorm repos can be
// exercised without a live Postgres instance.
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

// expectSetLocal records the per-repository-call tenant session variable
// every scoped() call issues before its actual query.
func expectSetLocal(mock sqlmock.Sqlmock, tn string) {
	mock.ExpectExec(`SET LOCAL app\.tenant_id`).WithArgs(tn).WillReturnResult(sqlmock.NewResult(0, 0))
}

// fakePaymentRepository is an in-memory repository.PaymentRepository, used as
// the read-path handle services hold outside any transaction (s.payments).
type fakePaymentRepository struct {
	byID map[string]*payment.Payment
}

func newFakePaymentRepository() *fakePaymentRepository {
	return &fakePaymentRepository{byID: make(map[string]*payment.Payment)}
}

func (r *fakePaymentRepository) seed(p *payment.Payment) {
	cp := *p
	r.byID[p.ID] = &cp
}

func (r *fakePaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	r.seed(p)
	return nil
}

func (r *fakePaymentRepository) Get(ctx context.Context, id string) (*payment.Payment, error) {
	p, ok := r.byID[id]
	if !ok {
		return nil, apperr.New(apperr.CodePaymentNotFound, "payment not found")
	}
	cp := *p
	return &cp, nil
}

func (r *fakePaymentRepository) GetByOrderID(ctx context.Context, orderID string) (*payment.Payment, error) {
	for _, p := range r.byID {
		if p.OrderID == orderID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apperr.New(apperr.CodePaymentNotFound, "payment not found for order")
}

func (r *fakePaymentRepository) Update(ctx context.Context, p *payment.Payment) error {
	r.seed(p)
	return nil
}

var _ repository.PaymentRepository = (*fakePaymentRepository)(nil)

// fakeGateway is a pgclient.Client test double that records every call so
// tests can assert the exact parameters the spec's PG client contract names
// (paymentKey/orderID/amount on confirm, paymentKey/reason on cancel) reach
// the gateway instead of being dropped.
type fakeGateway struct {
	approveTxID, approvePaymentKey string
	approveErr                     error

	confirmErr   error
	confirmCalls []confirmCall

	cancelErr   error
	cancelCalls []cancelCall
}

type confirmCall struct {
	paymentKey, orderID string
	amount              money.Money
}

type cancelCall struct {
	paymentKey, reason string
}

func (g *fakeGateway) RequestApproval(ctx context.Context, paymentID string, amount money.Money, method string) (string, string, error) {
	if g.approveErr != nil {
		return "", "", g.approveErr
	}
	return g.approveTxID, g.approvePaymentKey, nil
}

func (g *fakeGateway) ConfirmPayment(ctx context.Context, paymentKey, orderID string, amount money.Money) error {
	g.confirmCalls = append(g.confirmCalls, confirmCall{paymentKey: paymentKey, orderID: orderID, amount: amount})
	return g.confirmErr
}

func (g *fakeGateway) CancelPayment(ctx context.Context, paymentKey, reason string) error {
	g.cancelCalls = append(g.cancelCalls, cancelCall{paymentKey: paymentKey, reason: reason})
	return g.cancelErr
}

var _ pgclient.Client = (*fakeGateway)(nil)

func TestCreatePaymentInsertsReadyPayment(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	uow := repository.NewUnitOfWork(gormDB)
	svc := NewPaymentService(uow, newFakePaymentRepository(), &fakeGateway{})
	ctx := tenant.WithTenant(context.Background(), "tenant-a")

	mock.ExpectBegin()
	expectSetLocal(mock, "tenant-a")
	mock.ExpectExec(`INSERT INTO "payments"`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	p, err := svc.CreatePayment(ctx, "order-1", moneyMust("20000", "KRW"))
	require.NoError(t, err)
	assert.Equal(t, payment.StatusReady, p.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestApprovalApprovesOnGatewaySuccess(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	payments := newFakePaymentRepository()
	ctx := tenant.WithTenant(context.Background(), "tenant-a")
	p := payment.New("pay-1", "tenant-a", "order-1", moneyMust("20000", "KRW"), time.Now())
	payments.seed(p)

	gw := &fakeGateway{approveTxID: "pg-tx-1", approvePaymentKey: "pg-key-1"}
	svc := NewPaymentService(repository.NewUnitOfWork(gormDB), payments, gw)

	mock.ExpectBegin()
	expectSetLocal(mock, "tenant-a")
	mock.ExpectExec(`UPDATE "payments"`).WillReturnResult(sqlmock.NewResult(0, 1))
	expectSetLocal(mock, "tenant-a")
	mock.ExpectExec(`INSERT INTO "outbox_events"`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	got, err := svc.RequestApproval(ctx, "pay-1", "CARD")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusApproved, got.Status)
	assert.Equal(t, "pg-tx-1", got.PgTransactionID)
	assert.Equal(t, "pg-key-1", got.PgPaymentKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestApprovalFailsPaymentOnGatewayError(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	payments := newFakePaymentRepository()
	ctx := tenant.WithTenant(context.Background(), "tenant-a")
	p := payment.New("pay-1", "tenant-a", "order-1", moneyMust("20000", "KRW"), time.Now())
	payments.seed(p)

	gw := &fakeGateway{approveErr: errors.New("gateway declined")}
	svc := NewPaymentService(repository.NewUnitOfWork(gormDB), payments, gw)

	mock.ExpectBegin()
	expectSetLocal(mock, "tenant-a")
	mock.ExpectExec(`UPDATE "payments"`).WillReturnResult(sqlmock.NewResult(0, 1))
	expectSetLocal(mock, "tenant-a")
	mock.ExpectExec(`INSERT INTO "outbox_events"`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	got, err := svc.RequestApproval(ctx, "pay-1", "CARD")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, got.Status)
	assert.Equal(t, "gateway declined", got.FailureReason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmPaymentRejectsWhenNotApproved(t *testing.T) {
	gormDB, _, cleanup := setupMockDB(t)
	defer cleanup()

	payments := newFakePaymentRepository()
	ctx := tenant.WithTenant(context.Background(), "tenant-a")
	p := payment.New("pay-1", "tenant-a", "order-1", moneyMust("20000", "KRW"), time.Now())
	payments.seed(p)

	svc := NewPaymentService(repository.NewUnitOfWork(gormDB), payments, &fakeGateway{})

	_, err := svc.ConfirmPayment(ctx, "pay-1")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodePaymentInvalidState))
}

func TestConfirmPaymentConfirmsAndPromotesOrderOnGatewaySuccess(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	payments := newFakePaymentRepository()
	ctx := tenant.WithTenant(context.Background(), "tenant-a")
	p := payment.New("pay-1", "tenant-a", "order-1", moneyMust("20000", "KRW"), time.Now())
	require.NoError(t, p.StartProcessing("CARD", time.Now()))
	require.NoError(t, p.Approve("pg-tx-1", "pg-key-1", time.Now()))
	payments.seed(p)

	gw := &fakeGateway{}
	svc := NewPaymentService(repository.NewUnitOfWork(gormDB), payments, gw)

	mock.ExpectBegin()
	expectSetLocal(mock, "tenant-a")
	mock.ExpectExec(`UPDATE "payments"`).WillReturnResult(sqlmock.NewResult(0, 1))

	expectSetLocal(mock, "tenant-a")
	now := time.Now()
	orderRows := sqlmock.NewRows([]string{
		"id", "tenant_id", "user_id", "line_items", "total_amount", "currency",
		"status", "metadata", "created_at", "updated_at", "paid_at", "completed_at", "version",
	}).AddRow("order-1", "tenant-a", "user-1", "[]", "20000", "KRW", "PENDING", "{}", now, now, nil, nil, 1)
	mock.ExpectQuery(`SELECT \* FROM "orders"`).WillReturnRows(orderRows)

	expectSetLocal(mock, "tenant-a")
	mock.ExpectExec(`UPDATE "orders"`).WillReturnResult(sqlmock.NewResult(0, 1))

	expectSetLocal(mock, "tenant-a")
	mock.ExpectExec(`INSERT INTO "outbox_events"`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	got, err := svc.ConfirmPayment(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusConfirmed, got.Status)
	require.Len(t, gw.confirmCalls, 1)
	assert.Equal(t, "pg-key-1", gw.confirmCalls[0].paymentKey)
	assert.Equal(t, "order-1", gw.confirmCalls[0].orderID)
	assert.True(t, gw.confirmCalls[0].amount.Equal(moneyMust("20000", "KRW")))
	assert.NoError(t, mock.ExpectationsWereMet())
}
