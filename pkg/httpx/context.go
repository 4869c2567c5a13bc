package httpx

import (
	"context"

	"github.com/aussiebroadwan/watchlist/pkg/authsdk"
)

type ctxKey string

const (
	ctxKeyPrincipal ctxKey = "principal"
	ctxKeyToken     ctxKey = "token"
)

// WithPrincipal stores the authenticated principal and the bearer token it
// came from.
func WithPrincipal(ctx context.Context, p authsdk.Principal, token string) context.Context {
	ctx = context.WithValue(ctx, ctxKeyPrincipal, p)
	return context.WithValue(ctx, ctxKeyToken, token)
}

// PrincipalFromContext returns the principal set by AuthnMiddleware.
func PrincipalFromContext(ctx context.Context) (authsdk.Principal, bool) {
	p, ok := ctx.Value(ctxKeyPrincipal).(authsdk.Principal)
	return p, ok
}

// TokenFromContext returns the raw bearer token of the current request.
func TokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(ctxKeyToken).(string)
	return t
}
