package strata

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Role is a permission tag carried by a request context.
type Role string

const (
	// RoleSystem marks internal maintenance operations. It bypasses
	// ownership restriction on reads and writes.
	RoleSystem Role = "system"
	// RoleAdmin marks elevated human operators. Same restriction bypass
	// as RoleSystem.
	RoleAdmin Role = "admin"
)

// RequestContext carries the authenticated identity and request-scoped
// audit metadata through every store operation. It is immutable after
// construction and is never persisted.
type RequestContext struct {
	userID    uuid.UUID
	hasUser   bool
	roles     []Role
	createdAt time.Time
}

// NewRequestContext builds a context for an authenticated request.
func NewRequestContext(userID uuid.UUID, roles ...Role) RequestContext {
	rc := RequestContext{
		userID:    userID,
		hasUser:   true,
		createdAt: time.Now().UTC(),
	}
	if len(roles) > 0 {
		rc.roles = append([]Role(nil), roles...)
	}
	return rc
}

// SystemContext builds the explicit context variant for unauthenticated or
// internal operations. There is no "absent" context: system work is tagged
// as such so it stays auditable.
func SystemContext() RequestContext {
	return RequestContext{
		roles:     []Role{RoleSystem},
		createdAt: time.Now().UTC(),
	}
}

// UserID returns the authenticated user identifier and whether one exists.
func (rc RequestContext) UserID() (uuid.UUID, bool) {
	return rc.userID, rc.hasUser
}

// HasRole reports whether the context carries the given permission tag.
func (rc RequestContext) HasRole(role Role) bool {
	for _, r := range rc.roles {
		if r == role {
			return true
		}
	}
	return false
}

// Elevated reports whether ownership restriction should be bypassed.
func (rc RequestContext) Elevated() bool {
	return rc.HasRole(RoleSystem) || rc.HasRole(RoleAdmin)
}

// CreatedAt returns the context creation time.
func (rc RequestContext) CreatedAt() time.Time {
	return rc.createdAt
}

// requestContextKey is the context key for the request identity.
type requestContextKey struct{}

// WithRequestContext stores a request context in ctx.
func WithRequestContext(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// RequestContextFrom returns the request context stored in ctx. The system
// variant is never assumed: when ctx carries no identity, ok is false and
// callers must fail rather than proceed silently.
func RequestContextFrom(ctx context.Context) (RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey{}).(RequestContext)
	return rc, ok
}
