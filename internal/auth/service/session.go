package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aussiebroadwan/watchlist/internal/auth/cache"
	"github.com/aussiebroadwan/watchlist/internal/auth/domain"
	"github.com/aussiebroadwan/watchlist/internal/auth/provider"
	"github.com/aussiebroadwan/watchlist/internal/auth/state"
	"github.com/aussiebroadwan/watchlist/internal/auth/store"
	"github.com/aussiebroadwan/watchlist/pkg/cryptox"
	"github.com/aussiebroadwan/watchlist/pkg/idx"
	"github.com/aussiebroadwan/watchlist/pkg/slogx"
)

const (
	DefaultUpstreamTimeout = 5 * time.Second
	DefaultUpstreamRetries = 1
	defaultRetryInterval   = 100 * time.Millisecond
)

type SessionConfig struct {
	Provider provider.Provider
	Cache    *cache.Cache
	States   *state.Store
	Store    store.Store

	// RedirectURI is our callback, registered with the provider.
	RedirectURI string

	// ServerPKCE makes Login generate and keep the PKCE pair itself when the
	// client did not send a challenge.
	ServerPKCE bool

	UpstreamTimeout time.Duration
	// UpstreamRetries is the number of retries after a network-level failure.
	UpstreamRetries *uint
	// RetryInterval is the first backoff step between attempts.
	RetryInterval time.Duration

	Observer UpstreamObserver
	Now      func() time.Time
}

// SessionService drives the login, callback, authenticated request, refresh
// and logout flows against the configured identity provider.
type SessionService struct {
	provider    provider.Provider
	cache       *cache.Cache
	states      *state.Store
	store       store.Store
	redirectURI string
	serverPKCE  bool
	policy      retryPolicy
	now         func() time.Time
}

func NewSessionService(cfg SessionConfig) (*SessionService, error) {
	switch {
	case cfg.Provider == nil:
		return nil, errors.New("session: provider is required")
	case cfg.Cache == nil:
		return nil, errors.New("session: cache is required")
	case cfg.States == nil:
		return nil, errors.New("session: state store is required")
	case cfg.Store == nil:
		return nil, errors.New("session: store is required")
	case strings.TrimSpace(cfg.RedirectURI) == "":
		return nil, errors.New("session: redirect uri is required")
	}

	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = DefaultUpstreamTimeout
	}
	retries := uint(DefaultUpstreamRetries)
	if cfg.UpstreamRetries != nil {
		retries = *cfg.UpstreamRetries
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &SessionService{
		provider:    cfg.Provider,
		cache:       cfg.Cache,
		states:      cfg.States,
		store:       cfg.Store,
		redirectURI: cfg.RedirectURI,
		serverPKCE:  cfg.ServerPKCE,
		policy: retryPolicy{
			timeout:  cfg.UpstreamTimeout,
			retries:  retries,
			interval: cfg.RetryInterval,
			observer: cfg.Observer,
		},
		now: cfg.Now,
	}, nil
}

// ProviderName reports which identity provider variant is wired in.
func (s *SessionService) ProviderName() string { return s.provider.Name() }

type LoginRequest struct {
	ReturnURL string
	// State lets the caller pick the CSRF state; empty generates one.
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

type LoginResponse struct {
	AuthorizationURL string
	State            string
}

// Login registers a CSRF state (and a PKCE challenge when one applies) and
// returns the provider URL the user agent should be sent to.
func (s *SessionService) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	returnURL := strings.TrimSpace(req.ReturnURL)
	if returnURL == "" {
		returnURL = "/"
	}

	var (
		opts []state.CreateOption
		pkce *provider.PKCEParams
	)
	if req.State != "" {
		opts = append(opts, state.WithState(req.State))
	}

	switch {
	case req.CodeChallenge != "":
		method, err := normalizeChallengeMethod(req.CodeChallengeMethod)
		if err != nil {
			return nil, err
		}
		opts = append(opts, state.WithCodeChallenge(req.CodeChallenge))
		pkce = &provider.PKCEParams{CodeChallenge: req.CodeChallenge, CodeChallengeMethod: method}

	case s.serverPKCE:
		pair, err := cryptox.NewPKCE()
		if err != nil {
			return nil, fmt.Errorf("login: generate pkce: %w", err)
		}
		opts = append(opts, state.WithCodeChallenge(pair.Challenge), state.WithCodeVerifier(pair.Verifier))
		pkce = &provider.PKCEParams{CodeChallenge: pair.Challenge, CodeChallengeMethod: pair.Method}
	}

	entry, err := s.states.Create(returnURL, opts...)
	if err != nil {
		return nil, err
	}

	authURL, err := s.provider.AuthorizationURL(s.redirectURI, entry.State, pkce)
	if err != nil {
		s.states.Delete(entry.State)
		return nil, fmt.Errorf("login: build authorization url: %w", err)
	}

	slogx.FromContext(ctx).Debug("login started",
		slog.String("provider", s.provider.Name()),
		slog.Bool("pkce", pkce != nil),
	)
	return &LoginResponse{AuthorizationURL: authURL, State: entry.State}, nil
}

type CallbackRequest struct {
	Code         string
	State        string
	CodeVerifier string
}

type CallbackResult struct {
	Token        string
	RefreshToken string
	ExpiresAt    time.Time
	Principal    domain.Principal
	// ReturnURL is only set by Callback.
	ReturnURL string
}

// ExpiresIn is the remaining lifetime in whole seconds at now, or zero when
// the provider gave no expiry.
func (r *CallbackResult) ExpiresIn(now time.Time) int64 {
	if r.ExpiresAt.IsZero() {
		return 0
	}
	return max(int64(r.ExpiresAt.Sub(now)/time.Second), 0)
}

// Callback completes a login. The CSRF state is consumed before anything
// else, so a replayed callback fails even when the exchange would not.
func (s *SessionService) Callback(ctx context.Context, req CallbackRequest) (*CallbackResult, error) {
	entry, err := s.states.Consume(req.State)
	if err != nil {
		return nil, err
	}

	code := strings.TrimSpace(req.Code)
	if code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", domain.ErrAuthFailed)
	}

	verifier, err := pkceVerifier(entry, strings.TrimSpace(req.CodeVerifier))
	if err != nil {
		return nil, err
	}

	set, err := callUpstream(ctx, s.policy, "exchange", func(ctx context.Context) (*provider.TokenSet, error) {
		return s.provider.ExchangeCode(ctx, code, s.redirectURI, verifier)
	})
	if err != nil {
		return nil, err
	}

	principal := s.recordLogin(ctx, set.Principal)
	result := s.seed(set, principal)
	result.ReturnURL = entry.ReturnURL

	slogx.FromContext(ctx).Info("login completed",
		slog.String("subject", principal.Subject),
		slog.Bool("admin", principal.IsAdmin),
		slogx.Token(set.Token),
	)
	return result, nil
}

// Authenticate resolves a bearer token to its principal, going to the
// provider only when the token is not cached.
func (s *SessionService) Authenticate(ctx context.Context, token string) (domain.Principal, error) {
	if token == "" {
		return domain.Principal{}, fmt.Errorf("%w: missing token", domain.ErrInvalidOrExpiredToken)
	}
	return s.cache.GetOrValidate(ctx, token, s.validate)
}

func (s *SessionService) validate(ctx context.Context, token string) (domain.Principal, time.Time, error) {
	v, err := callUpstream(ctx, s.policy, "verify", func(ctx context.Context) (*provider.Verification, error) {
		return s.provider.VerifyToken(ctx, token)
	})
	if err != nil {
		return domain.Principal{}, time.Time{}, err
	}
	return s.applyApproval(ctx, v.Principal), v.ExpiresAt, nil
}

// Refresh trades a refresh token for a new session token and caches it.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*CallbackResult, error) {
	r, ok := s.provider.(provider.Refresher)
	if !ok {
		return nil, domain.ErrRefreshNotSupported
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: missing refresh token", domain.ErrAuthFailed)
	}

	set, err := callUpstream(ctx, s.policy, "refresh", func(ctx context.Context) (*provider.TokenSet, error) {
		return r.RefreshToken(ctx, refreshToken)
	})
	if err != nil {
		return nil, err
	}

	return s.seed(set, s.applyApproval(ctx, set.Principal)), nil
}

// Logout forgets token locally and returns the provider's logout URL when it
// has one. The redirect goes through the same open-redirect guard as login.
func (s *SessionService) Logout(ctx context.Context, token, redirectURI string) (string, error) {
	if token != "" {
		s.cache.Delete(token)
		slogx.FromContext(ctx).Info("logout", slogx.Token(token))
	}

	if redirectURI != "" {
		if err := s.states.CheckReturnURL(redirectURI); err != nil {
			return "", err
		}
	}

	lo, ok := s.provider.(provider.LogoutURLer)
	if !ok {
		return "", nil
	}
	logoutURL, err := lo.LogoutURL(redirectURI)
	if errors.Is(err, domain.ErrLogoutNotSupported) {
		return "", nil
	}
	return logoutURL, err
}

func (s *SessionService) seed(set *provider.TokenSet, principal domain.Principal) *CallbackResult {
	expiresAt := set.ExpiresAt(s.now())
	s.cache.Set(set.Token, principal, expiresAt)
	return &CallbackResult{
		Token:        set.Token,
		RefreshToken: set.RefreshToken,
		ExpiresAt:    expiresAt,
		Principal:    principal,
	}
}

// recordLogin upserts the user profile and returns the principal with the
// stored admin approval folded in. The directory is not on the critical path:
// a store failure is logged and the provider's view is used as is.
func (s *SessionService) recordLogin(ctx context.Context, p domain.Principal) domain.Principal {
	now := s.now().UTC()
	// The provider flag is recorded for visibility only. Approvals are
	// granted through UserService.SetAdmin and never by a login.
	u, err := s.store.Users().UpsertLogin(ctx, domain.User{
		ID:            idx.NewAt(now).String(),
		Subject:       p.Subject,
		Email:         p.Email,
		GivenName:     p.GivenName,
		FamilyName:    p.FamilyName,
		ProviderAdmin: p.IsAdmin,
		FirstSeenAt:   now,
		LastLoginAt:   now,
	})
	if err != nil {
		slogx.FromContext(ctx).Error("failed to record login", slog.String("subject", p.Subject), slog.Any("error", err))
		return p
	}
	p.IsAdmin = p.IsAdmin || u.IsAdmin
	return p
}

// applyApproval grants admin to principals an existing admin has approved.
func (s *SessionService) applyApproval(ctx context.Context, p domain.Principal) domain.Principal {
	if p.IsAdmin {
		return p
	}
	u, err := s.store.Users().GetUserBySubject(ctx, p.Subject)
	switch {
	case err == nil:
		p.IsAdmin = u.IsAdmin
	case !errors.Is(err, store.ErrNotFound):
		slogx.FromContext(ctx).Warn("failed to load user approval", slog.String("subject", p.Subject), slog.Any("error", err))
	}
	return p
}

// pkceVerifier picks the verifier to send with the exchange. A server-held
// verifier wins; a client challenge must be answered by a matching verifier.
func pkceVerifier(entry state.Entry, clientVerifier string) (string, error) {
	switch {
	case entry.CodeVerifier != "":
		return entry.CodeVerifier, nil
	case entry.CodeChallenge == "":
		// No challenge was sent to the provider, so a verifier would only
		// make it reject the exchange.
		return "", nil
	case clientVerifier == "":
		return "", fmt.Errorf("%w: missing code verifier", domain.ErrPKCEValidationFailed)
	}

	if err := cryptox.ValidateVerifier(clientVerifier); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrPKCEValidationFailed, err)
	}
	if !cryptox.VerifyChallenge(clientVerifier, entry.CodeChallenge) {
		return "", fmt.Errorf("%w: code verifier does not match challenge", domain.ErrPKCEValidationFailed)
	}
	return clientVerifier, nil
}

// normalizeChallengeMethod accepts S256 in any case and defaults to it. The
// plain method is refused.
func normalizeChallengeMethod(method string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(method)) {
	case "", cryptox.PKCEMethodS256:
		return cryptox.PKCEMethodS256, nil
	default:
		return "", fmt.Errorf("%w: unsupported code challenge method %q", domain.ErrPKCEValidationFailed, method)
	}
}
