package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/watchlist/pkg/authsdk"
	"github.com/aussiebroadwan/watchlist/pkg/slogx"
)

// ErrAuthUnavailable is wrapped by an Authenticator that could not reach
// whatever decides if a token is valid. It maps to 503 rather than 401.
var ErrAuthUnavailable = errors.New("authenticator unavailable")

// Authenticator resolves a bearer token to a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (authsdk.Principal, error)
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	authz := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(authz, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func AuthnMiddleware(a Authenticator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			raw, ok := BearerToken(r)
			if !ok {
				writeBearerError(w, "missing bearer token")
				return
			}

			principal, err := a.Authenticate(ctx, raw)
			switch {
			case err == nil:
			case ctx.Err() != nil:
				// The client is gone; nobody reads a response.
				log.Debug("request cancelled during token validation", "err", ctx.Err())
				return
			case errors.Is(err, ErrAuthUnavailable):
				log.Warn("token validation unavailable", slogx.Token(raw), "err", err)
				authsdk.ErrProviderUnavailable.WriteError(w)
				return
			default:
				log.Info("token rejected", slogx.Token(raw), "err", err)
				writeBearerError(w, "token verification failed")
				return
			}

			ctx = slogx.WithSubject(ctx, principal.Subject)
			next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, principal, raw)))
		})
	}
}

// RequireAdmin rejects principals without the admin flag. It must run after
// AuthnMiddleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			writeBearerError(w, "missing bearer token")
			return
		}
		if !p.IsAdmin {
			w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope"`)
			authsdk.ErrInsufficientScope.WriteError(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RFC 6750-compliant error response for bearer auth.
func writeBearerError(w http.ResponseWriter, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+desc+`"`)
	authsdk.ErrInvalidToken.WithDescription(desc).WriteError(w)
}
