package shared

import "context"

// Scope carries the tenant, company and actor resolved by the multi-tenant
// context layer. Every engine write is scoped to one company.
type Scope struct {
	TenantID  int64
	CompanyID int64
	ActorID   int64
}

type scopeContextKey struct{}

// ContextWithScope stores the tenant scope in context.
func ContextWithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, scope)
}

// ScopeFromContext extracts the tenant scope from context.
func ScopeFromContext(ctx context.Context) (Scope, bool) {
	scope, ok := ctx.Value(scopeContextKey{}).(Scope)
	return scope, ok
}
