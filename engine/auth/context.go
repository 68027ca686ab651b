// Package auth binds requests to the organization and user they act for.
package auth

import (
	"context"

	"github.com/gin-gonic/gin"
)

// Identity is the authenticated caller of a request.
type Identity struct {
	OrganizationID string
	UserID         string
}

type identityKey struct{}

// WithIdentity adds the identity to the context
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext retrieves the identity from the context
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// GetIdentity retrieves the authenticated identity from the request
func GetIdentity(c *gin.Context) (Identity, bool) {
	return IdentityFromContext(c.Request.Context())
}
