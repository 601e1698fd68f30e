package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxpay/engine/internal/money"
)

func mustMoney(t *testing.T, amount, currency string) money.Money {
	t.Helper()
	m, err := money.New(amount, currency)
	require.NoError(t, err)
	return m
}

func TestNewComputesTotalFromLineItems(t *testing.T) {
	items := []LineItem{
		{SKU: "sku-1", Quantity: 2, UnitPrice: mustMoney(t, "10.00", "USD")},
		{SKU: "sku-2", Quantity: 1, UnitPrice: mustMoney(t, "5.50", "USD")},
	}

	o, err := New("order-1", "tenant-a", "user-1", items, "USD", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "25.50", o.TotalAmount.String())
	assert.Equal(t, StatusPending, o.Status)
}

func TestTransitionToFollowsDeclaredEdges(t *testing.T) {
	o, err := New("order-1", "tenant-a", "user-1", nil, "USD", time.Now())
	require.NoError(t, err)

	require.NoError(t, o.TransitionTo(StatusPaid, time.Now()))
	assert.NotNil(t, o.PaidAt)

	require.NoError(t, o.TransitionTo(StatusCompleted, time.Now()))
	assert.NotNil(t, o.CompletedAt)
}

func TestTransitionToRejectsUndeclaredEdge(t *testing.T) {
	o, err := New("order-1", "tenant-a", "user-1", nil, "USD", time.Now())
	require.NoError(t, err)

	err = o.TransitionTo(StatusCompleted, time.Now())
	assert.Error(t, err)
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusPaid.IsTerminal())
}
