package user

import "context"

// Identity is the signed-in (or guest) user as seen by the rest of the
// service. Guests never reach the durable store.
type Identity struct {
	UserID  string `json:"userId"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	Guest   bool   `json:"guest,omitempty"`
}

type ctxKey struct{}

// WithIdentity stores the resolved identity in the request context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity previously stored by the auth middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
