package http

import (
	"context"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/watchlist/internal/auth/domain"
	"github.com/aussiebroadwan/watchlist/internal/auth/service"
	"github.com/aussiebroadwan/watchlist/pkg/authsdk"
	"github.com/aussiebroadwan/watchlist/pkg/httpx"
)

// sessionAuthenticator adapts the session service to httpx.AuthnMiddleware.
type sessionAuthenticator struct {
	sessions *service.SessionService
}

func (a sessionAuthenticator) Authenticate(ctx context.Context, token string) (authsdk.Principal, error) {
	p, err := a.sessions.Authenticate(ctx, token)
	if errors.Is(err, domain.ErrProviderUnavailable) {
		return authsdk.Principal{}, fmt.Errorf("%w: %w", httpx.ErrAuthUnavailable, err)
	}
	if err != nil {
		return authsdk.Principal{}, err
	}
	return toPrincipal(p), nil
}

func toPrincipal(p domain.Principal) authsdk.Principal {
	return authsdk.Principal{
		Subject:    p.Subject,
		Email:      p.Email,
		GivenName:  p.GivenName,
		FamilyName: p.FamilyName,
		IsAdmin:    p.IsAdmin,
	}
}

func fromPrincipal(p authsdk.Principal) domain.Principal {
	return domain.Principal{
		Subject:    p.Subject,
		Email:      p.Email,
		GivenName:  p.GivenName,
		FamilyName: p.FamilyName,
		IsAdmin:    p.IsAdmin,
	}
}
