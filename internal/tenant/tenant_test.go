package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxpay/engine/internal/apperr"
)

func TestWithTenantRoundTrip(t *testing.T) {
	ctx := WithTenant(context.Background(), "tenant-a")
	assert.Equal(t, ID("tenant-a"), FromContext(ctx))
}

func TestFromContextDefaultsToEmpty(t *testing.T) {
	assert.Equal(t, ID(""), FromContext(context.Background()))
}

func TestRequireReturnsTenantMissing(t *testing.T) {
	_, err := Require(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeTenantMissing))
}

func TestRequireReturnsBoundTenant(t *testing.T) {
	ctx := WithTenant(context.Background(), "tenant-a")
	id, err := Require(ctx)
	require.NoError(t, err)
	assert.Equal(t, ID("tenant-a"), id)
}

func TestCheckMatchesBoundTenant(t *testing.T) {
	ctx := WithTenant(context.Background(), "tenant-a")
	assert.NoError(t, Check(ctx, "tenant-a"))
}

func TestCheckReturnsMismatch(t *testing.T) {
	ctx := WithTenant(context.Background(), "tenant-a")
	err := Check(ctx, "tenant-b")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeTenantMismatch))
}

func TestCheckReturnsMissingWhenUnbound(t *testing.T) {
	err := Check(context.Background(), "tenant-a")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeTenantMissing))
}
