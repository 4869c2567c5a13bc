package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/aussiebroadwan/watchlist/internal/auth/domain"
)

// OIDCConfig configures a generic OpenID Connect provider.
type OIDCConfig struct {
	// Issuer is discovered at {Issuer}/.well-known/openid-configuration.
	Issuer       string
	ClientID     string
	ClientSecret string

	// Scopes default to openid, profile and email.
	Scopes []string

	// AdminGroup, when set, grants the admin flag to members of that group.
	AdminGroup string

	// GroupsClaim names the ID token claim listing groups. Defaults to "groups".
	GroupsClaim string

	HTTPClient *http.Client
}

// OIDC verifies ID tokens issued by a discovered OpenID Connect provider.
// The session token handed to clients is the ID token, because it is the
// one token every OIDC provider lets a relying party verify offline.
type OIDC struct {
	oauthCfg    *oauth2.Config
	verifier    *oidc.IDTokenVerifier
	httpClient  *http.Client
	endSession  string
	adminGroup  string
	groupsClaim string
}

var (
	_ Provider    = (*OIDC)(nil)
	_ Refresher   = (*OIDC)(nil)
	_ LogoutURLer = (*OIDC)(nil)
)

// NewOIDC runs discovery against cfg.Issuer.
func NewOIDC(ctx context.Context, cfg OIDCConfig) (*OIDC, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("oidc provider: issuer is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("oidc provider: client id is required")
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	if !slices.Contains(cfg.Scopes, oidc.ScopeOpenID) {
		return nil, errors.New("oidc provider: openid scope is required")
	}
	if cfg.GroupsClaim == "" {
		cfg.GroupsClaim = "groups"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}

	ctx = oidc.ClientContext(ctx, cfg.HTTPClient)
	discovered, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("%w: oidc discovery: %v", domain.ErrProviderUnavailable, err)
	}

	var meta struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := discovered.Claims(&meta); err != nil {
		return nil, fmt.Errorf("oidc provider: read discovery document: %w", err)
	}

	endpoint := discovered.Endpoint()
	p := &OIDC{
		oauthCfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  endpoint.AuthURL,
				TokenURL: endpoint.TokenURL,
				// Credentials in the body behave the same across IdPs.
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		verifier:    discovered.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		httpClient:  cfg.HTTPClient,
		endSession:  meta.EndSessionEndpoint,
		adminGroup:  cfg.AdminGroup,
		groupsClaim: cfg.GroupsClaim,
	}

	slog.Debug("oidc provider discovered",
		"issuer", cfg.Issuer,
		"client_id", cfg.ClientID,
		"has_end_session", p.endSession != "",
	)
	return p, nil
}

func (p *OIDC) Name() string { return "oidc" }

// VerifyToken verifies an ID token's signature, issuer, audience and expiry.
func (p *OIDC) VerifyToken(ctx context.Context, token string) (*Verification, error) {
	idt, err := p.verifier.Verify(oidc.ClientContext(ctx, p.httpClient), token)
	if err != nil {
		return nil, verifyError(err)
	}

	principal, err := p.principal(idt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidOrExpiredToken, err)
	}
	return &Verification{Principal: principal, ExpiresAt: idt.Expiry}, nil
}

func (p *OIDC) AuthorizationURL(redirectURI, state string, pkce *PKCEParams) (string, error) {
	if state == "" {
		return "", errors.New("oidc provider: state is required")
	}
	cfg := p.configFor(redirectURI)
	return cfg.AuthCodeURL(state, authCodeOptions(pkce)...), nil
}

func (p *OIDC) ExchangeCode(ctx context.Context, code, redirectURI, verifier string) (*TokenSet, error) {
	cfg := p.configFor(redirectURI)
	tok, err := cfg.Exchange(withHTTPClient(ctx, p.httpClient), code, exchangeOptions(verifier)...)
	if err != nil {
		return nil, exchangeError(err)
	}
	return p.tokenSet(ctx, tok)
}

func (p *OIDC) RefreshToken(ctx context.Context, refreshToken string) (*TokenSet, error) {
	src := p.oauthCfg.TokenSource(withHTTPClient(ctx, p.httpClient), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, exchangeError(err)
	}

	set, err := p.tokenSet(ctx, tok)
	if err != nil {
		return nil, err
	}
	// Providers that do not rotate refresh tokens omit them from the response.
	if set.RefreshToken == "" {
		set.RefreshToken = refreshToken
	}
	return set, nil
}

// LogoutURL points at the provider's end_session_endpoint (RP-initiated logout).
func (p *OIDC) LogoutURL(redirectURI string) (string, error) {
	if p.endSession == "" {
		return "", domain.ErrLogoutNotSupported
	}
	u, err := url.Parse(p.endSession)
	if err != nil {
		return "", fmt.Errorf("oidc provider: end_session_endpoint: %w", err)
	}
	q := u.Query()
	q.Set("client_id", p.oauthCfg.ClientID)
	if redirectURI != "" {
		q.Set("post_logout_redirect_uri", redirectURI)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (p *OIDC) configFor(redirectURI string) oauth2.Config {
	cfg := *p.oauthCfg
	cfg.RedirectURL = redirectURI
	return cfg
}

// tokenSet verifies the id_token in a token response and builds the result.
// A response the provider signed badly is a failed login, not a bad bearer
// token.
func (p *OIDC) tokenSet(ctx context.Context, tok *oauth2.Token) (*TokenSet, error) {
	rawID, _ := tok.Extra("id_token").(string)
	if rawID == "" {
		return nil, fmt.Errorf("%w: token response carried no id_token", domain.ErrAuthFailed)
	}

	v, err := p.VerifyToken(ctx, rawID)
	if err != nil {
		if errors.Is(err, domain.ErrProviderUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrAuthFailed, err)
	}

	var lifetime int64
	if !v.ExpiresAt.IsZero() {
		lifetime = max(int64(time.Until(v.ExpiresAt).Seconds()), 0)
	}

	return &TokenSet{
		Token:        rawID,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    lifetime,
		Principal:    v.Principal,
	}, nil
}

func (p *OIDC) principal(idt *oidc.IDToken) (domain.Principal, error) {
	var profile struct {
		Email      string `json:"email"`
		GivenName  string `json:"given_name"`
		FamilyName string `json:"family_name"`
	}
	if err := idt.Claims(&profile); err != nil {
		return domain.Principal{}, err
	}

	principal := domain.Principal{
		Subject:    idt.Subject,
		Email:      profile.Email,
		GivenName:  profile.GivenName,
		FamilyName: profile.FamilyName,
	}

	if p.adminGroup != "" {
		var raw map[string]any
		if err := idt.Claims(&raw); err != nil {
			return domain.Principal{}, err
		}
		principal.IsAdmin = slices.Contains(stringList(raw[p.groupsClaim]), p.adminGroup)
	}
	return principal, nil
}

// stringList accepts a JSON array of strings or a single string.
func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
