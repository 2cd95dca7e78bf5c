package tools

import (
	"context"
	"strings"
)

type tenantKey struct{}

// WithTenant returns a context carrying the calling tenant's id.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, strings.TrimSpace(tenantID))
}

// TenantFromContext returns the tenant id set by WithTenant, or "".
func TenantFromContext(ctx context.Context) string {
	id, _ := ctx.Value(tenantKey{}).(string)
	return id
}
