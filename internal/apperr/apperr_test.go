package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewHasNoCause(t *testing.T) {
	err := New(CodeValidation, "bad input")
	assert.Nil(t, err.Unwrap())
	assert.Equal(t, "VAL_001: bad input", err.Error())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(CodeUnavailable, "connecting to postgres", cause)
	assert.Equal(t, cause, err.Unwrap())
	assert.Contains(t, err.Error(), "connection refused")
}

func TestIsMatchesCode(t *testing.T) {
	err := New(CodeOrderNotFound, "no such order")
	assert.True(t, Is(err, CodeOrderNotFound))
	assert.False(t, Is(err, CodePaymentNotFound))
}

func TestIsUnwrapsThroughFmtErrorf(t *testing.T) {
	err := fmt.Errorf("handler: %w", New(CodeTenantMissing, "missing tenant"))
	assert.True(t, Is(err, CodeTenantMissing))
}

func TestIsReturnsFalseForPlainError(t *testing.T) {
	assert.False(t, Is(errors.New("plain"), CodeInternal))
}

func TestErrorsAsWorksThroughStandardLibraryChain(t *testing.T) {
	original := New(CodeRefundExceedsAmount, "refund exceeds remaining amount")
	wrapped := fmt.Errorf("processing refund: %w", original)

	var target *Error
	require := errors.As(wrapped, &target)
	assert.True(t, require)
	assert.Equal(t, CodeRefundExceedsAmount, target.Code)
}
