package refund

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

func TestNewStartsRequested(t *testing.T) {
	r := New("ref-1", "tenant-a", "pay-1", mustMoney(t, "5.00", "USD"), "duplicate charge", time.Now())
	assert.Equal(t, StatusRequested, r.Status)
	assert.Equal(t, 1, r.Version)
}

func TestCompleteHappyPath(t *testing.T) {
	r := New("ref-1", "tenant-a", "pay-1", mustMoney(t, "5.00", "USD"), "duplicate charge", time.Now())

	require.NoError(t, r.StartProcessing())
	assert.Equal(t, StatusProcessing, r.Status)

	require.NoError(t, r.Complete("pg-ref-1", time.Now()))
	assert.Equal(t, StatusCompleted, r.Status)
	assert.Equal(t, "pg-ref-1", r.PgRefundID)
	assert.NotNil(t, r.CompletedAt)
}

func TestFailRecordsErrorMessage(t *testing.T) {
	r := New("ref-1", "tenant-a", "pay-1", mustMoney(t, "5.00", "USD"), "duplicate charge", time.Now())
	require.NoError(t, r.StartProcessing())

	require.NoError(t, r.Fail("gateway timeout", time.Now()))
	assert.Equal(t, StatusFailed, r.Status)
	assert.Equal(t, "gateway timeout", r.ErrorMessage)
}

func TestCannotCompleteWithoutProcessing(t *testing.T) {
	r := New("ref-1", "tenant-a", "pay-1", mustMoney(t, "5.00", "USD"), "duplicate charge", time.Now())
	err := r.Complete("pg-ref-1", time.Now())
	assert.Error(t, err)
}

func TestCannotTransitionFromTerminalState(t *testing.T) {
	r := New("ref-1", "tenant-a", "pay-1", mustMoney(t, "5.00", "USD"), "duplicate charge", time.Now())
	require.NoError(t, r.StartProcessing())
	require.NoError(t, r.Complete("pg-ref-1", time.Now()))

	err := r.StartProcessing()
	assert.Error(t, err)
}

func TestIsNonFailed(t *testing.T) {
	assert.True(t, StatusRequested.IsNonFailed())
	assert.True(t, StatusProcessing.IsNonFailed())
	assert.True(t, StatusCompleted.IsNonFailed())
	assert.False(t, StatusFailed.IsNonFailed())
}
