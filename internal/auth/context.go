package auth

import "context"

type contextKey struct{}

// AuthContext identifies the caller of a request. Family membership is not
// part of it; that is decided per family by the membership oracle.
type AuthContext struct {
	UserID    string
	TokenID   string
	ExpiresAt int64
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

// UserID returns the authenticated user id, or "" when unauthenticated.
func UserID(ctx context.Context) string {
	ac, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return ac.UserID
}
