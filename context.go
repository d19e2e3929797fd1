package timeli

import "context"

// Context is the execution context for job handlers.
type Context = context.Context

type tenantKey struct{}

// WithTenant returns a copy of ctx that carries the tenant identifier.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	if tenantID == "" {
		return ctx
	}
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// TenantFrom returns the tenant carried by ctx, if any.
func TenantFrom(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(tenantKey{}).(string)
	return t, ok && t != ""
}
