package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/watchlist/internal/auth/cache"
	"github.com/aussiebroadwan/watchlist/internal/auth/domain"
	"github.com/aussiebroadwan/watchlist/internal/auth/metrics"
	"github.com/aussiebroadwan/watchlist/internal/auth/provider"
	"github.com/aussiebroadwan/watchlist/internal/auth/service"
	"github.com/aussiebroadwan/watchlist/internal/auth/state"
	"github.com/aussiebroadwan/watchlist/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/watchlist/pkg/authsdk"
	"github.com/aussiebroadwan/watchlist/pkg/cryptox"
	"github.com/aussiebroadwan/watchlist/pkg/idx"
)

const testRedirectURI = "http://localhost:8080/v1/auth/callback"

type testServer struct {
	router *Router
	cache  *cache.Cache
	states *state.Store
	db     *sqlite.Store
}

func newTestServer(t *testing.T, admin bool) *testServer {
	t.Helper()

	db, err := sqlite.NewStore(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.ApplyMigrations())

	mock, err := provider.NewMock(provider.MockConfig{
		Secret:  "router test",
		Subject: "root",
		Email:   "root@example.com",
		Admin:   admin,
	})
	require.NoError(t, err)

	c, err := cache.New(cache.Config{})
	require.NoError(t, err)
	states, err := state.New(state.Config{AllowedHosts: []string{"watchlist.example.com"}})
	require.NoError(t, err)
	m, err := metrics.New(metrics.Config{Cache: c, States: states})
	require.NoError(t, err)

	sessions, err := service.NewSessionService(service.SessionConfig{
		Provider:    mock,
		Cache:       c,
		States:      states,
		Store:       db,
		RedirectURI: testRedirectURI,
		Observer:    m,
	})
	require.NoError(t, err)

	r := NewRouter("test", db, m, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.SessionService = sessions
	r.UserService = &service.UserService{Store: db, Cache: c}
	r.Cache = c
	r.States = states
	r.ApplyRoutes()

	return &testServer{router: r, cache: c, states: states, db: db}
}

func (s *testServer) do(t *testing.T, method, target, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) get(t *testing.T, target, token string) *httptest.ResponseRecorder {
	return s.do(t, http.MethodGet, target, token, nil, "")
}

func (s *testServer) postForm(t *testing.T, target, token string, form url.Values) *httptest.ResponseRecorder {
	return s.do(t, http.MethodPost, target, token, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
}

// login runs login and callback against the mock provider.
func (s *testServer) login(t *testing.T, returnURL string) authsdk.SessionResponse {
	t.Helper()

	rec := s.get(t, "/v1/auth/login?return_url="+url.QueryEscape(returnURL), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var login authsdk.LoginResponse
	decode(t, rec, &login)

	u, err := url.Parse(login.AuthorizationURL)
	require.NoError(t, err)

	rec = s.get(t, "/v1/auth/callback?"+u.RawQuery, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sess authsdk.SessionResponse
	decode(t, rec, &sess)
	return sess
}

func (s *testServer) addUser(t *testing.T, subject string, admin bool) {
	t.Helper()
	now := time.Now()
	_, err := s.db.Users().UpsertLogin(t.Context(), domain.User{
		ID: idx.NewAt(now).String(), Subject: subject, IsAdmin: admin, FirstSeenAt: now, LastLoginAt: now,
	})
	require.NoError(t, err)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func requireAPIError(t *testing.T, rec *httptest.ResponseRecorder, want *authsdk.APIError) {
	t.Helper()
	require.Equal(t, want.StatusCode, rec.Code, rec.Body.String())
	var got authsdk.APIError
	decode(t, rec, &got)
	require.Equal(t, want.Code, got.Code)
}

func TestLoginFlow(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, true)
	sess := s.login(t, "/lists/42")

	require.NotEmpty(t, sess.Token)
	require.NotEmpty(t, sess.RefreshToken)
	require.Positive(t, sess.ExpiresIn)
	require.Equal(t, "/lists/42", sess.ReturnURL)
	require.Equal(t, "root", sess.Principal.Subject)
	require.True(t, sess.Principal.IsAdmin)
	require.Zero(t, s.states.Len(), "callback consumes the state")

	rec := s.get(t, "/v1/auth/me", sess.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	var me authsdk.Principal
	decode(t, rec, &me)
	require.Equal(t, sess.Principal, me)

	_, cached := s.cache.Get(sess.Token)
	require.True(t, cached, "callback seeds the cache")

	rec = s.postForm(t, "/v1/auth/logout", sess.Token, url.Values{"redirect_uri": {"https://watchlist.example.com/bye"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out authsdk.LogoutResponse
	decode(t, rec, &out)
	require.Equal(t, "https://watchlist.example.com/bye", out.LogoutURL)

	_, cached = s.cache.Get(sess.Token)
	require.False(t, cached)
}

func TestLogin(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, false)

	t.Run("redirect", func(t *testing.T) {
		rec := s.get(t, "/v1/auth/login?redirect=1", "")
		require.Equal(t, http.StatusFound, rec.Code)
		loc, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		require.NotEmpty(t, loc.Query().Get("code"))
		require.NotEmpty(t, loc.Query().Get("state"))
	})

	t.Run("caller state", func(t *testing.T) {
		rec := s.get(t, "/v1/auth/login?state=my-state", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var login authsdk.LoginResponse
		decode(t, rec, &login)
		require.Equal(t, "my-state", login.State)
	})

	tests := []struct {
		name  string
		query string
		want  *authsdk.APIError
	}{
		{name: "protocol relative", query: "return_url=" + url.QueryEscape("//evil.example.com"), want: authsdk.ErrUnsafeReturnURL},
		{name: "javascript", query: "return_url=" + url.QueryEscape("javascript:alert(1)"), want: authsdk.ErrUnsafeReturnURL},
		{name: "host not allowed", query: "return_url=" + url.QueryEscape("https://evil.example.com/"), want: authsdk.ErrUnsafeReturnURL},
		{name: "plain challenge", query: "code_challenge=abc&code_challenge_method=plain", want: authsdk.ErrPKCEValidationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireAPIError(t, s.get(t, "/v1/auth/login?"+tt.query, ""), tt.want)
		})
	}
}

func TestCallback(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, false)

	startLogin := func(t *testing.T, query string) url.Values {
		t.Helper()
		rec := s.get(t, "/v1/auth/login?"+query, "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var login authsdk.LoginResponse
		decode(t, rec, &login)
		u, err := url.Parse(login.AuthorizationURL)
		require.NoError(t, err)
		return u.Query()
	}

	t.Run("replay", func(t *testing.T) {
		q := startLogin(t, "")
		require.Equal(t, http.StatusOK, s.get(t, "/v1/auth/callback?"+q.Encode(), "").Code)
		requireAPIError(t, s.get(t, "/v1/auth/callback?"+q.Encode(), ""), authsdk.ErrInvalidState)
	})

	t.Run("unknown state", func(t *testing.T) {
		requireAPIError(t, s.get(t, "/v1/auth/callback?code=x&state=nope", ""), authsdk.ErrInvalidState)
		requireAPIError(t, s.get(t, "/v1/auth/callback?code=x", ""), authsdk.ErrInvalidState)
	})

	t.Run("provider error", func(t *testing.T) {
		requireAPIError(t, s.get(t, "/v1/auth/callback?error=access_denied&state=x", ""), authsdk.ErrAuthFailed)
	})

	t.Run("client pkce", func(t *testing.T) {
		pair, err := cryptox.NewPKCE()
		require.NoError(t, err)

		q := startLogin(t, "code_challenge="+pair.Challenge+"&code_challenge_method=S256")
		requireAPIError(t, s.get(t, "/v1/auth/callback?"+q.Encode(), ""), authsdk.ErrPKCEValidationFailed)

		q = startLogin(t, "code_challenge="+pair.Challenge+"&code_challenge_method=S256")
		q.Set("code_verifier", pair.Verifier)
		require.Equal(t, http.StatusOK, s.get(t, "/v1/auth/callback?"+q.Encode(), "").Code)
	})
}

func TestRefresh(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, false)
	sess := s.login(t, "/")

	rec := s.postForm(t, "/v1/auth/refresh", "", url.Values{"refresh_token": {sess.RefreshToken}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var next authsdk.SessionResponse
	decode(t, rec, &next)
	require.NotEmpty(t, next.Token)
	require.Empty(t, next.ReturnURL)
	require.Equal(t, "root", next.Principal.Subject)

	requireAPIError(t, s.postForm(t, "/v1/auth/refresh", "", url.Values{"refresh_token": {sess.RefreshToken}}), authsdk.ErrAuthFailed)
	requireAPIError(t, s.postForm(t, "/v1/auth/refresh", "", url.Values{}), authsdk.ErrInvalidRequest)
}

func TestBearerRequired(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, false)
	for _, target := range []string{"/v1/auth/me", "/v1/auth/cache/stats", "/v1/users"} {
		rec := s.get(t, target, "")
		require.Equal(t, http.StatusUnauthorized, rec.Code, target)
		require.Contains(t, rec.Header().Get("WWW-Authenticate"), "invalid_token")
	}
	requireAPIError(t, s.get(t, "/v1/auth/me", "not-a-jwt"), authsdk.ErrInvalidToken)
}

func TestAdminEndpoints(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, true)
	root := s.login(t, "/").Token
	s.addUser(t, "alice", false)

	aliceToken := "alice-session"
	s.cache.Set(aliceToken, domain.Principal{Subject: "alice"}, time.Now().Add(time.Hour))

	t.Run("non admin is refused", func(t *testing.T) {
		requireAPIError(t, s.get(t, "/v1/users", aliceToken), authsdk.ErrInsufficientScope)
		requireAPIError(t, s.get(t, "/v1/auth/cache/stats", aliceToken), authsdk.ErrInsufficientScope)
	})

	t.Run("list", func(t *testing.T) {
		rec := s.get(t, "/v1/users", root)
		require.Equal(t, http.StatusOK, rec.Code)
		var users authsdk.UsersResponse
		decode(t, rec, &users)
		subjects := make([]string, 0, len(users.Users))
		for _, u := range users.Users {
			subjects = append(subjects, u.Subject)
		}
		require.ElementsMatch(t, []string{"root", "alice"}, subjects)
	})

	t.Run("stats", func(t *testing.T) {
		rec := s.get(t, "/v1/auth/cache/stats", root)
		require.Equal(t, http.StatusOK, rec.Code)
		var stats authsdk.CacheStatsResponse
		decode(t, rec, &stats)
		require.Equal(t, "mock", stats.Provider)
		require.GreaterOrEqual(t, stats.Cache.Size, 2)
		require.Equal(t, state.DefaultMaxSize, stats.States.MaxSize)
	})

	setAdmin := func(token, subject string, admin bool) *httptest.ResponseRecorder {
		body := fmt.Sprintf(`{"admin":%t}`, admin)
		return s.do(t, http.MethodPost, "/v1/users/"+url.PathEscape(subject)+"/admin", token, strings.NewReader(body), "application/json")
	}

	t.Run("set admin", func(t *testing.T) {
		rec := setAdmin(root, "alice", true)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var u authsdk.UserResponse
		decode(t, rec, &u)
		require.True(t, u.IsAdmin)

		_, cached := s.cache.Get(aliceToken)
		require.False(t, cached, "alice revalidates on her next request")

		requireAPIError(t, setAdmin(root, "ghost", true), authsdk.ErrUserNotFound)

		rec = s.do(t, http.MethodPost, "/v1/users/alice/admin", root, strings.NewReader("{"), "application/json")
		requireAPIError(t, rec, authsdk.ErrInvalidRequest)
	})

	t.Run("demote", func(t *testing.T) {
		require.Equal(t, http.StatusOK, setAdmin(root, "alice", false).Code)

		// root is an admin by provider flag only, so dropping its approval
		// leaves it an admin.
		rec := setAdmin(root, "root", false)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var u authsdk.UserResponse
		decode(t, rec, &u)
		require.False(t, u.IsAdmin)
		require.True(t, u.ProviderAdmin)
		require.Equal(t, http.StatusOK, s.get(t, "/v1/users", root).Code)
	})
}

func TestAdminEndpoints_LastAdmin(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, false)
	s.addUser(t, "alice", true)

	boss := "boss-session"
	s.cache.Set(boss, domain.Principal{Subject: "boss", IsAdmin: true}, time.Now().Add(time.Hour))

	body := strings.NewReader(`{"admin":false}`)
	rec := s.do(t, http.MethodPost, "/v1/users/alice/admin", boss, body, "application/json")
	requireAPIError(t, rec, authsdk.ErrLastAdmin)
}

func TestSystemEndpoints(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, false)

	rec := s.get(t, "/livez", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var live authsdk.HealthResponse
	decode(t, rec, &live)
	require.Equal(t, "ok", live.Status)
	require.Equal(t, "test", live.Version)

	rec = s.get(t, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ready authsdk.HealthResponse
	decode(t, rec, &ready)
	require.Equal(t, &authsdk.HealthChecks{Database: "ok", Provider: "mock"}, ready.Checks)

	rec = s.get(t, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "watchlist_auth_http_requests_total")

	rec = s.get(t, "/swagger/doc.json", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "/v1/auth/callback")

	require.NoError(t, s.db.Close())
	rec = s.get(t, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPIErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want *authsdk.APIError
	}{
		{fmt.Errorf("%w: expired", domain.ErrInvalidOrExpiredToken), authsdk.ErrInvalidToken},
		{domain.ErrAuthFailed, authsdk.ErrAuthFailed},
		{errors.Join(domain.ErrAuthFailed, domain.ErrPKCEValidationFailed), authsdk.ErrPKCEValidationFailed},
		{domain.ErrStateNotFoundOrExpired, authsdk.ErrInvalidState},
		{domain.ErrUnsafeReturnURL, authsdk.ErrUnsafeReturnURL},
		{fmt.Errorf("exchange: %w", domain.ErrProviderUnavailable), authsdk.ErrProviderUnavailable},
		{domain.ErrRefreshNotSupported, authsdk.ErrUnsupported},
		{service.ErrUserNotFound, authsdk.ErrUserNotFound},
		{service.ErrLastAdmin, authsdk.ErrLastAdmin},
		{errors.New("disk on fire"), authsdk.ErrServerError},
	}
	for _, tt := range tests {
		require.Same(t, tt.want, apiError(tt.err), tt.err.Error())
	}

	require.Equal(t, http.StatusServiceUnavailable, authsdk.ErrProviderUnavailable.StatusCode)
	require.Equal(t, http.StatusBadRequest, authsdk.ErrPKCEValidationFailed.StatusCode)
	require.Equal(t, "pkce_validation_failed", authsdk.ErrPKCEValidationFailed.Code)
}
