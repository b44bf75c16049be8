package tenantctx

import (
	"context"

	"github.com/google/uuid"
)

// BypassSentinel is the reserved session value that matches the
// administrative bypass policy. It can never collide with a tenant id
// because it does not match the UUID pattern the isolation policy checks.
const BypassSentinel = "admin_bypass"

// Kind identifies what a context Value holds.
type Kind int

const (
	// KindUnset means no tenant has been resolved. Protected queries
	// executed under an unset context return zero rows.
	KindUnset Kind = iota
	// KindTenant scopes the unit of work to a single tenant.
	KindTenant
	// KindBypass grants cross-tenant visibility for administrative
	// operations.
	KindBypass
)

// Value is the tenant context carried by a unit of work. The zero value
// is Unset.
type Value struct {
	kind     Kind
	tenantID uuid.UUID
}

// Unset returns the empty tenant context.
func Unset() Value {
	return Value{}
}

// Tenant returns a context value scoped to the given tenant.
func Tenant(id uuid.UUID) Value {
	return Value{kind: KindTenant, tenantID: id}
}

// Bypass returns the administrative bypass context value.
func Bypass() Value {
	return Value{kind: KindBypass}
}

// Kind reports what the value holds.
func (v Value) Kind() Kind {
	return v.kind
}

// TenantID returns the tenant id and whether the value holds one.
func (v Value) TenantID() (uuid.UUID, bool) {
	return v.tenantID, v.kind == KindTenant
}

// Setting returns the string pushed into the session-local
// app.current_tenant parameter: the canonical UUID text for a tenant,
// the bypass sentinel for admin scope, and the empty string when unset.
// The empty string never matches the isolation policy's UUID pattern,
// so an unset context denies by default.
func (v Value) Setting() string {
	switch v.kind {
	case KindTenant:
		return v.tenantID.String()
	case KindBypass:
		return BypassSentinel
	default:
		return ""
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindTenant:
		return "tenant(" + v.tenantID.String() + ")"
	case KindBypass:
		return "admin_bypass"
	default:
		return "unset"
	}
}

type contextKey struct{}

// With derives a context carrying the given tenant value. The scope is
// bounded by the derived context: callers that hold only the parent
// context keep seeing the prior value, so nested scopes compose and the
// value is restored on every exit path, including panics.
func With(ctx context.Context, v Value) context.Context {
	return context.WithValue(ctx, contextKey{}, v)
}

// From returns the tenant value carried by ctx, or Unset.
func From(ctx context.Context) Value {
	if v, ok := ctx.Value(contextKey{}).(Value); ok {
		return v
	}
	return Unset()
}
