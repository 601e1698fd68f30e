// Package tenant carries the owning tenant id explicitly through every core
// call, as a context value set once at the HTTP boundary and read by every
// repository and service method before any side effect.
package tenant

import (
	"context"

	"github.com/fluxpay/engine/internal/apperr"
)

// ID identifies the tenant that owns a piece of data.
type ID string

type ctxKey struct{}

// WithTenant attaches a tenant id to ctx.
func WithTenant(ctx context.Context, id ID) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the tenant id bound to ctx, or "" if none is bound.
func FromContext(ctx context.Context) ID {
	if v, ok := ctx.Value(ctxKey{}).(ID); ok {
		return v
	}
	return ""
}

// Require returns the tenant id bound to ctx, or a CodeTenantMissing error if
// absent. Every mutating repository and service call must invoke this before
// touching storage.
func Require(ctx context.Context) (ID, error) {
	id := FromContext(ctx)
	if id == "" {
		return "", apperr.New(apperr.CodeTenantMissing, "request is missing a tenant context")
	}
	return id, nil
}

// Check returns a CodeTenantMismatch error if owner does not match the
// tenant bound to ctx. Used by repositories after loading a row to assert the
// caller may see it, on top of row-level security.
func Check(ctx context.Context, owner ID) error {
	current, err := Require(ctx)
	if err != nil {
		return err
	}
	if current != owner {
		return apperr.New(apperr.CodeTenantMismatch, "resource belongs to a different tenant")
	}
	return nil
}
