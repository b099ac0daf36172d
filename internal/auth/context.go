package auth

import "context"

type contextKey struct{}

// AuthContext is the authenticated principal of a request. CoupleID is 0
// while the account is unpaired.
type AuthContext struct {
	AccountID int64
	CoupleID  int64
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

func CoupleID(ctx context.Context) int64 {
	ac, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return ac.CoupleID
}

func AccountID(ctx context.Context) int64 {
	ac, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return ac.AccountID
}

// Paired reports whether the request's account belongs to a couple.
func Paired(ctx context.Context) bool {
	return CoupleID(ctx) != 0
}
