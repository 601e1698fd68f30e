package money

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRescalesToCurrencyPrecision(t *testing.T) {
	m, err := New("10.005", "USD")
	require.NoError(t, err)
	assert.Equal(t, "10.01", m.String())

	m, err = New("10", "JPY")
	require.NoError(t, err)
	assert.Equal(t, "10", m.String())
}

func TestNewRejectsNegativeAmount(t *testing.T) {
	_, err := New("-1.00", "USD")
	assert.Error(t, err)
}

func TestNewRejectsInvalidAmount(t *testing.T) {
	_, err := New("not-a-number", "USD")
	assert.Error(t, err)
}

func TestSubRejectsNegativeResult(t *testing.T) {
	a, _ := New("5.00", "USD")
	b, _ := New("10.00", "USD")
	_, err := a.Sub(b)
	assert.Error(t, err)
}

func TestSubAllowsExactZero(t *testing.T) {
	a, _ := New("10.00", "USD")
	b, _ := New("10.00", "USD")
	result, err := a.Sub(b)
	require.NoError(t, err)
	assert.True(t, result.IsZero())
}

func TestAddRejectsCurrencyMismatch(t *testing.T) {
	a, _ := New("10.00", "USD")
	b, _ := New("10.00", "EUR")
	_, err := a.Add(b)
	assert.Error(t, err)
}

func TestMulIntRejectsNegativeMultiplier(t *testing.T) {
	a, _ := New("10.00", "USD")
	_, err := a.MulInt(-1)
	assert.Error(t, err)
}

func TestMulIntComputesSubtotal(t *testing.T) {
	a, _ := New("9.99", "USD")
	result, err := a.MulInt(3)
	require.NoError(t, err)
	assert.Equal(t, "29.97", result.String())
}

func TestMulRejectsNegativeFactor(t *testing.T) {
	a, _ := New("10.00", "USD")
	_, err := a.Mul(decimal.NewFromInt(-2))
	assert.Error(t, err)
}

func TestGreaterThan(t *testing.T) {
	a, _ := New("10.00", "USD")
	b, _ := New("5.00", "USD")
	gt, err := a.GreaterThan(b)
	require.NoError(t, err)
	assert.True(t, gt)

	gt, err = b.GreaterThan(a)
	require.NoError(t, err)
	assert.False(t, gt)
}

func TestJSONRoundTrip(t *testing.T) {
	original, _ := New("42.50", "USD")

	raw, err := json.Marshal(original)
	require.NoError(t, err)

	var restored Money
	require.NoError(t, json.Unmarshal(raw, &restored))

	assert.True(t, original.Equal(restored))
}

func TestFromMinorUnits(t *testing.T) {
	m := FromMinorUnits(1050, "USD")
	assert.Equal(t, "10.50", m.String())

	m = FromMinorUnits(500, "JPY")
	assert.Equal(t, "500", m.String())
}
