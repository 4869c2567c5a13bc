package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gocache "github.com/patrickmn/go-cache"

	"github.com/aussiebroadwan/watchlist/internal/auth/domain"
	"github.com/aussiebroadwan/watchlist/pkg/cryptox"
	"github.com/aussiebroadwan/watchlist/pkg/jwtx"
)

const (
	mockIssuer   = "watchlist-mock"
	mockAudience = "watchlist"

	mockCodeTTL    = 5 * time.Minute
	mockRefreshTTL = 24 * time.Hour
)

// MockConfig describes the single identity the mock provider logs in as.
type MockConfig struct {
	// Secret seeds the HS256 signing key. Required.
	Secret string

	Subject    string
	Email      string
	GivenName  string
	FamilyName string
	Admin      bool

	// TokenTTL defaults to one hour.
	TokenTTL time.Duration

	Now func() time.Time
}

type mockCode struct {
	redirectURI string
	challenge   string
}

// Mock is a self-contained provider for local development and tests. Its
// authorization URL sends the browser straight back to the callback with a
// fresh code, so no external identity provider is involved.
type Mock struct {
	cfg      MockConfig
	key      []byte
	verifier *jwtx.Verifier

	// mu makes read-then-delete of single-use codes atomic.
	mu        sync.Mutex
	codes     *gocache.Cache
	refreshes *gocache.Cache
}

var (
	_ Provider    = (*Mock)(nil)
	_ Refresher   = (*Mock)(nil)
	_ LogoutURLer = (*Mock)(nil)
)

// NewMock derives the signing key from cfg.Secret and returns a ready provider.
func NewMock(cfg MockConfig) (*Mock, error) {
	if cfg.Secret == "" {
		return nil, errors.New("mock provider: secret is required")
	}
	if cfg.Subject == "" {
		cfg.Subject = "mock-user"
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	key, err := cryptox.DeriveKey([]byte(cfg.Secret), "watchlist mock provider hs256", 32)
	if err != nil {
		return nil, fmt.Errorf("mock provider: %w", err)
	}

	verifier := jwtx.NewVerifier(jwtx.StaticKey{Secret: key}, jwtx.VerifyOptions{
		Algorithms: []string{jwt.SigningMethodHS256.Alg()},
		Issuer:     mockIssuer,
		Audience:   []string{mockAudience},
		Now:        cfg.Now,
	})

	return &Mock{
		cfg:       cfg,
		key:       key,
		verifier:  verifier,
		codes:     gocache.New(mockCodeTTL, 2*mockCodeTTL),
		refreshes: gocache.New(mockRefreshTTL, time.Hour),
	}, nil
}

func (m *Mock) Name() string { return "mock" }

// VerifyToken checks the HS256 signature and the standard claims.
func (m *Mock) VerifyToken(_ context.Context, token string) (*Verification, error) {
	claims, err := m.verifier.Verify(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidOrExpiredToken, err)
	}
	return &Verification{
		Principal: principalFromClaims(claims),
		ExpiresAt: claims.Expiry(),
	}, nil
}

// AuthorizationURL mints a code bound to redirectURI and the PKCE challenge
// and returns the callback URL carrying it.
func (m *Mock) AuthorizationURL(redirectURI, state string, pkce *PKCEParams) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil || redirectURI == "" {
		return "", fmt.Errorf("mock provider: invalid redirect uri %q", redirectURI)
	}

	code, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", err
	}

	entry := mockCode{redirectURI: redirectURI}
	if pkce != nil {
		entry.challenge = pkce.CodeChallenge
	}
	m.codes.SetDefault(code, entry)

	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ExchangeCode redeems a code minted by AuthorizationURL. Codes are single use.
func (m *Mock) ExchangeCode(_ context.Context, code, redirectURI, verifier string) (*TokenSet, error) {
	m.mu.Lock()
	item, ok := m.codes.Get(code)
	m.codes.Delete(code)
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: unknown or expired code", domain.ErrAuthFailed)
	}
	entry := item.(mockCode)

	if entry.redirectURI != redirectURI {
		return nil, fmt.Errorf("%w: redirect uri mismatch", domain.ErrAuthFailed)
	}
	if entry.challenge != "" {
		if verifier == "" {
			return nil, fmt.Errorf("%w: code_verifier required", domain.ErrPKCEValidationFailed)
		}
		if !cryptox.VerifyChallenge(verifier, entry.challenge) {
			return nil, fmt.Errorf("%w: code_verifier does not match challenge", domain.ErrPKCEValidationFailed)
		}
	}

	return m.issue(m.principal())
}

// RefreshToken rotates a refresh token issued by this provider.
func (m *Mock) RefreshToken(_ context.Context, refreshToken string) (*TokenSet, error) {
	m.mu.Lock()
	item, ok := m.refreshes.Get(refreshToken)
	m.refreshes.Delete(refreshToken)
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: unknown refresh token", domain.ErrAuthFailed)
	}
	return m.issue(item.(domain.Principal))
}

// LogoutURL has nothing to log out of; it sends the browser back.
func (m *Mock) LogoutURL(redirectURI string) (string, error) {
	if redirectURI == "" {
		return "/", nil
	}
	return redirectURI, nil
}

func (m *Mock) principal() domain.Principal {
	return domain.Principal{
		Subject:    m.cfg.Subject,
		Email:      m.cfg.Email,
		GivenName:  m.cfg.GivenName,
		FamilyName: m.cfg.FamilyName,
		IsAdmin:    m.cfg.Admin,
	}
}

func (m *Mock) issue(p domain.Principal) (*TokenSet, error) {
	scopes := []string{"watchlist:read"}
	if p.IsAdmin {
		scopes = append(scopes, AdminScope)
	}

	claims := jwtx.NewClaims(p.Subject, mockIssuer, []string{mockAudience}, scopes, m.cfg.TokenTTL, m.cfg.Now())
	claims.Email = p.Email
	claims.GivenName = p.GivenName
	claims.FamilyName = p.FamilyName

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return nil, fmt.Errorf("mock provider: sign token: %w", err)
	}

	refresh, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, err
	}
	m.refreshes.SetDefault(refresh, p)

	return &TokenSet{
		Token:        token,
		RefreshToken: refresh,
		ExpiresIn:    int64(m.cfg.TokenTTL / time.Second),
		Principal:    p,
	}, nil
}

// principalFromClaims is shared by the mock and BarTab adapters, which both
// issue jwtx claims.
func principalFromClaims(c *jwtx.Claims) domain.Principal {
	given := c.GivenName
	if given == "" {
		given = c.PreferredName
	}
	if given == "" {
		given = c.Username
	}
	return domain.Principal{
		Subject:    c.Subject,
		Email:      c.Email,
		GivenName:  given,
		FamilyName: c.FamilyName,
		IsAdmin:    c.HasScope(AdminScope),
	}
}
