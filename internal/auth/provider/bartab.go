package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/aussiebroadwan/watchlist/internal/auth/domain"
	"github.com/aussiebroadwan/watchlist/pkg/jwtx"
)

// BarTabConfig configures the BarTab auth server adapter.
type BarTabConfig struct {
	// BaseURL of the auth server, e.g. https://auth.bartab.example.
	BaseURL string

	// ClientID of the watchlist's public client registration.
	ClientID string

	// Scopes requested at login.
	Scopes []string

	// Issuer and Audience expected in access tokens; empty means "don't care".
	Issuer   string
	Audience []string

	// KeyRefreshInterval rate-limits JWKS refetches triggered by an unknown
	// kid. Defaults to one minute.
	KeyRefreshInterval time.Duration

	HTTPClient *http.Client
}

// BarTab verifies BarTab access tokens locally against the server's JWKS and
// runs the authorization code and refresh grants against /v1/oauth2/token.
type BarTab struct {
	oauthCfg   *oauth2.Config
	jwksURL    string
	keys       *jwtx.KeySet
	verifier   *jwtx.Verifier
	httpClient *http.Client

	refreshMu       sync.Mutex
	lastKeyFetch    time.Time
	refreshInterval time.Duration
}

var (
	_ Provider  = (*BarTab)(nil)
	_ Refresher = (*BarTab)(nil)
)

// NewBarTab loads the server's signing keys. A server that cannot be reached
// is reported as domain.ErrProviderUnavailable.
func NewBarTab(ctx context.Context, cfg BarTabConfig) (*BarTab, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("bartab provider: base url is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("bartab provider: client id is required")
	}
	if cfg.KeyRefreshInterval <= 0 {
		cfg.KeyRefreshInterval = time.Minute
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	base := strings.TrimSuffix(cfg.BaseURL, "/")

	keys := jwtx.NewKeySet()
	verifier := jwtx.NewVerifier(keys, jwtx.VerifyOptions{
		Algorithms: jwtx.AsymmetricAlgorithms,
		Issuer:     cfg.Issuer,
		Audience:   cfg.Audience,
		Leeway:     5 * time.Second,
		RequireKID: true,
	})

	p := &BarTab{
		oauthCfg: &oauth2.Config{
			ClientID: cfg.ClientID,
			Scopes:   cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + "/v1/oauth2/authorize",
				TokenURL:  base + "/v1/oauth2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		jwksURL:         base + "/.well-known/jwks.json",
		keys:            keys,
		verifier:        verifier,
		httpClient:      cfg.HTTPClient,
		refreshInterval: cfg.KeyRefreshInterval,
	}

	if err := p.loadKeys(ctx); err != nil {
		return nil, err
	}
	p.lastKeyFetch = time.Now()
	return p, nil
}

func (p *BarTab) Name() string { return "bartab" }

// VerifyToken checks an access token against the cached key set. An unknown
// kid triggers one JWKS refetch, so key rotation on the server is picked up
// without a restart.
func (p *BarTab) VerifyToken(ctx context.Context, token string) (*Verification, error) {
	claims, err := p.verifier.Verify(token)
	if errors.Is(err, jwtx.ErrUnknownKID) {
		refreshed, rerr := p.refreshKeys(ctx)
		if errors.Is(rerr, domain.ErrProviderUnavailable) {
			return nil, rerr
		}
		if refreshed && rerr == nil {
			claims, err = p.verifier.Verify(token)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidOrExpiredToken, err)
	}

	return &Verification{
		Principal: principalFromClaims(claims),
		ExpiresAt: claims.Expiry(),
	}, nil
}

func (p *BarTab) AuthorizationURL(redirectURI, state string, pkce *PKCEParams) (string, error) {
	if state == "" {
		return "", errors.New("bartab provider: state is required")
	}
	cfg := *p.oauthCfg
	cfg.RedirectURL = redirectURI
	return cfg.AuthCodeURL(state, authCodeOptions(pkce)...), nil
}

func (p *BarTab) ExchangeCode(ctx context.Context, code, redirectURI, verifier string) (*TokenSet, error) {
	cfg := *p.oauthCfg
	cfg.RedirectURL = redirectURI

	tok, err := cfg.Exchange(withHTTPClient(ctx, p.httpClient), code, exchangeOptions(verifier)...)
	if err != nil {
		return nil, exchangeError(err)
	}
	return p.tokenSet(ctx, tok)
}

func (p *BarTab) RefreshToken(ctx context.Context, refreshToken string) (*TokenSet, error) {
	src := p.oauthCfg.TokenSource(withHTTPClient(ctx, p.httpClient), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, exchangeError(err)
	}
	return p.tokenSet(ctx, tok)
}

func (p *BarTab) tokenSet(ctx context.Context, tok *oauth2.Token) (*TokenSet, error) {
	v, err := p.VerifyToken(ctx, tok.AccessToken)
	if err != nil {
		if errors.Is(err, domain.ErrProviderUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: issued token failed verification: %v", domain.ErrAuthFailed, err)
	}

	return &TokenSet{
		Token:        tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    expiresIn(tok),
		Principal:    v.Principal,
	}, nil
}

func (p *BarTab) loadKeys(ctx context.Context) error {
	jwks, err := jwtx.FetchJWKS(ctx, p.httpClient, p.jwksURL)
	if err != nil {
		if errors.Is(err, jwtx.ErrJWKSUnavailable) || isTransportError(err) {
			return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
		}
		return fmt.Errorf("bartab provider: %w", err)
	}
	if err := p.keys.ResetFromJWKS(jwks); err != nil {
		return fmt.Errorf("bartab provider: %w", err)
	}

	slog.Debug("bartab signing keys loaded", "keys", p.keys.Len())
	return nil
}

// refreshKeys refetches the JWKS unless that happened within the refresh
// interval. It reports whether a fetch took place.
func (p *BarTab) refreshKeys(ctx context.Context) (bool, error) {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	if time.Since(p.lastKeyFetch) < p.refreshInterval {
		return false, nil
	}
	// A failed fetch also counts, so a broken server is not hammered.
	p.lastKeyFetch = time.Now()
	if err := p.loadKeys(ctx); err != nil {
		return false, err
	}
	return true, nil
}
