package authsdk

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to the watchlist auth service.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// LoginParams are the optional query parameters of a login.
type LoginParams struct {
	ReturnURL string
	// State overrides the server-generated CSRF state.
	State string
	// CodeChallenge enables client-side PKCE. Only S256 is accepted.
	CodeChallenge       string
	CodeChallengeMethod string
}

// Login starts a login and returns the provider authorization URL.
func (c *Client) Login(ctx context.Context, p LoginParams) (*LoginResponse, error) {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("return_url", p.ReturnURL)
	set("state", p.State)
	set("code_challenge", p.CodeChallenge)
	set("code_challenge_method", p.CodeChallengeMethod)

	var out LoginResponse
	if err := c.getJSON(ctx, "/v1/auth/login", q, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Callback completes a login. verifier is only needed with client-side PKCE.
func (c *Client) Callback(ctx context.Context, code, state, verifier string) (*SessionResponse, error) {
	q := url.Values{"code": {code}, "state": {state}}
	if verifier != "" {
		q.Set("code_verifier", verifier)
	}

	var out SessionResponse
	if err := c.getJSON(ctx, "/v1/auth/callback", q, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh trades a refresh token for a new session.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*SessionResponse, error) {
	var out SessionResponse
	if err := c.postForm(ctx, "/v1/auth/refresh", url.Values{"refresh_token": {refreshToken}}, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Me returns the principal behind token.
func (c *Client) Me(ctx context.Context, token string) (*Principal, error) {
	var out Principal
	if err := c.getJSON(ctx, "/v1/auth/me", nil, token, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout ends the session. redirectURI is where the provider should send the
// user agent afterwards and may be empty.
func (c *Client) Logout(ctx context.Context, token, redirectURI string) (*LogoutResponse, error) {
	form := url.Values{}
	if redirectURI != "" {
		form.Set("redirect_uri", redirectURI)
	}

	var out LogoutResponse
	if err := c.postForm(ctx, "/v1/auth/logout", form, token, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CacheStats requires an admin token.
func (c *Client) CacheStats(ctx context.Context, token string) (*CacheStatsResponse, error) {
	var out CacheStatsResponse
	if err := c.getJSON(ctx, "/v1/auth/cache/stats", nil, token, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListUsers requires an admin token.
func (c *Client) ListUsers(ctx context.Context, token string) ([]UserResponse, error) {
	var out UsersResponse
	if err := c.getJSON(ctx, "/v1/users", nil, token, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

// SetAdmin grants or revokes admin rights. Requires an admin token.
func (c *Client) SetAdmin(ctx context.Context, token, subject string, admin bool) (*UserResponse, error) {
	var out UserResponse
	path := "/v1/users/" + url.PathEscape(subject) + "/admin"
	if err := c.postJSON(ctx, path, SetAdminRequest{Admin: admin}, token, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Liveness calls /livez.
func (c *Client) Liveness(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.getJSON(ctx, "/livez", nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Readiness calls /readyz. A degraded service comes back as an *APIError
// with status 503.
func (c *Client) Readiness(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.getJSON(ctx, "/readyz", nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}
