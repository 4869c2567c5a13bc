// Package provider adapts external identity providers to the watchlist's
// login flow. A Provider verifies bearer tokens, builds authorization URLs
// and exchanges authorization codes; refresh and logout are optional.
//
// Every adapter reports failures with the domain sentinels:
// ErrInvalidOrExpiredToken, ErrAuthFailed, ErrPKCEValidationFailed and
// ErrProviderUnavailable. Only the last one is worth retrying.
package provider

import (
	"context"
	"time"

	"github.com/aussiebroadwan/watchlist/internal/auth/domain"
)

// PKCEParams is the challenge half of a PKCE pair, forwarded to the provider
// on the authorization request.
type PKCEParams struct {
	CodeChallenge       string
	CodeChallengeMethod string
}

// Verification is the result of verifying a bearer token.
type Verification struct {
	Principal domain.Principal

	// ExpiresAt is the token's own expiry. Zero when the token does not say.
	ExpiresAt time.Time
}

// TokenSet is what a code exchange or refresh yields.
type TokenSet struct {
	// Token is the bearer token clients present on later requests.
	Token        string
	RefreshToken string

	// ExpiresIn is the token lifetime in seconds; zero when unknown.
	ExpiresIn int64

	Principal domain.Principal
}

// ExpiresAt converts ExpiresIn to an absolute instant. Zero when unknown.
func (t *TokenSet) ExpiresAt(now time.Time) time.Time {
	if t.ExpiresIn <= 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// Provider is the capability every identity provider adapter offers.
type Provider interface {
	// Name identifies the adapter in logs and metrics.
	Name() string

	// VerifyToken checks a bearer token with the provider.
	VerifyToken(ctx context.Context, token string) (*Verification, error)

	// AuthorizationURL builds the URL the browser is sent to. pkce may be nil.
	AuthorizationURL(redirectURI, state string, pkce *PKCEParams) (string, error)

	// ExchangeCode trades an authorization code for a token. verifier is
	// empty when the login did not use PKCE.
	ExchangeCode(ctx context.Context, code, redirectURI, verifier string) (*TokenSet, error)
}

// Refresher is implemented by providers that can renew a session.
type Refresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*TokenSet, error)
}

// LogoutURLer is implemented by providers that host a logout page.
type LogoutURLer interface {
	LogoutURL(redirectURI string) (string, error)
}

// AdminScope grants the admin flag on BarTab and mock tokens.
const AdminScope = "admin:write"
