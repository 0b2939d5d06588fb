// Package auth carries the authenticated caller through a request.
package auth

import "context"

// Identity is the authenticated caller as issued by the user service.
type Identity struct {
	ID      int64 `json:"id"`
	IsAdmin bool  `json:"is_admin"`
}

type contextKey string

const identityKey contextKey = "identity"

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext returns the identity stored by the auth middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}
