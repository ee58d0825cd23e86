// Package context carries request-scoped values through context.Context.
package context

import (
	"context"
	"slices"
)

// RoleAdmin may seed counters and inspect every sequence.
const RoleAdmin = "admin"

// UserContext describes the authenticated caller.
type UserContext struct {
	UserID   string
	Username string
	Email    string
	Roles    []string
	// Guest sessions are signed-in anonymously. They may list and read
	// counters but not allocate or seed.
	Guest     bool
	SessionID string
}

type userContextKey struct{}

// WithUser adds UserContext to context.
func WithUser(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// GetUser returns UserContext from context.
func GetUser(ctx context.Context) *UserContext {
	if v, ok := ctx.Value(userContextKey{}).(*UserContext); ok {
		return v
	}
	return nil
}

// GetUserID returns user ID from context or empty string.
func GetUserID(ctx context.Context) string {
	if u := GetUser(ctx); u != nil {
		return u.UserID
	}
	return ""
}

// HasRole checks if user has specific role.
func HasRole(ctx context.Context, role string) bool {
	u := GetUser(ctx)
	if u == nil {
		return false
	}
	return slices.Contains(u.Roles, role)
}

// IsGuest reports whether the caller is an anonymous guest.
// A missing user is not a guest; auth middleware rejects it earlier.
func IsGuest(ctx context.Context) bool {
	u := GetUser(ctx)
	return u != nil && u.Guest
}
