package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/aussiebroadwan/watchlist/internal/auth/service"
	"github.com/aussiebroadwan/watchlist/pkg/authsdk"
	"github.com/aussiebroadwan/watchlist/pkg/httpx"
)

// AuthHandler serves the /v1/auth login flow.
type AuthHandler struct {
	SessionService *service.SessionService
	Now            func() time.Time
}

func (h *AuthHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// HandleLogin godoc
//
//	@Summary		Start a login
//	@Description	Registers a CSRF state and returns the identity provider authorization URL.
//	@Description	With redirect=1 the user agent is sent there directly with a 302.
//	@Tags			Auth
//	@Produce		json
//	@Param			return_url				query		string					false	"Local path or allowed http(s) URL to return to (default /)"
//	@Param			state					query		string					false	"Caller-chosen CSRF state"
//	@Param			code_challenge			query		string					false	"PKCE challenge"
//	@Param			code_challenge_method	query		string					false	"PKCE method"	Enums(S256)
//	@Param			redirect				query		string					false	"Respond with a 302 instead of JSON"	Enums(1)
//	@Success		200						{object}	authsdk.LoginResponse	"authorization_url, state"
//	@Success		302
//	@Failure		400						{object}	authsdk.APIError		"error, error_description"
//	@Failure		500						{object}	authsdk.APIError		"error, error_description"
//	@Router			/v1/auth/login [get].
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	resp, err := h.SessionService.Login(r.Context(), service.LoginRequest{
		ReturnURL:           q.Get("return_url"),
		State:               strings.TrimSpace(q.Get("state")),
		CodeChallenge:       strings.TrimSpace(q.Get("code_challenge")),
		CodeChallengeMethod: strings.TrimSpace(q.Get("code_challenge_method")),
	})
	if err != nil {
		writeServiceError(w, r, "login", err)
		return
	}

	if q.Get("redirect") == "1" {
		httpx.NoCache(w)
		http.Redirect(w, r, resp.AuthorizationURL, http.StatusFound)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.LoginResponse{
		AuthorizationURL: resp.AuthorizationURL,
		State:            resp.State,
	})
}

// HandleCallback godoc
//
//	@Summary		Complete a login
//	@Description	Consumes the CSRF state, exchanges the authorization code with the identity provider and returns a session token.
//	@Tags			Auth
//	@Produce		json
//	@Param			code			query		string					true	"Authorization code"
//	@Param			state			query		string					true	"CSRF state from the login"
//	@Param			code_verifier	query		string					false	"PKCE verifier (client-side PKCE only)"
//	@Success		200				{object}	authsdk.SessionResponse	"token, refresh_token, expires_in, principal, return_url"
//	@Failure		400				{object}	authsdk.APIError		"invalid_state, pkce_validation_failed"
//	@Failure		401				{object}	authsdk.APIError		"auth_failed"
//	@Failure		503				{object}	authsdk.APIError		"temporarily_unavailable"
//	@Header			200				{string}	Cache-Control			"no-store"
//	@Router			/v1/auth/callback [get].
func (h *AuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// Providers report a user-denied consent as error=access_denied.
	if providerErr := q.Get("error"); providerErr != "" {
		authsdk.ErrAuthFailed.WithDescription("identity provider returned " + providerErr).WriteError(w)
		return
	}

	state := strings.TrimSpace(q.Get("state"))
	if state == "" {
		authsdk.ErrInvalidState.WriteError(w)
		return
	}

	res, err := h.SessionService.Callback(r.Context(), service.CallbackRequest{
		Code:         q.Get("code"),
		State:        state,
		CodeVerifier: q.Get("code_verifier"),
	})
	if err != nil {
		writeServiceError(w, r, "callback", err)
		return
	}

	out := sessionResponse(res, h.now())
	out.ReturnURL = res.ReturnURL
	httpx.WriteJSON(w, http.StatusOK, out)
}

// HandleRefresh godoc
//
//	@Summary		Refresh a session
//	@Description	Trades a refresh token for a new session token. Not every identity provider supports this.
//	@Tags			Auth
//	@Accept			application/x-www-form-urlencoded
//	@Produce		json
//	@Param			refresh_token	formData	string					true	"Refresh token from the callback"
//	@Success		200				{object}	authsdk.SessionResponse	"token, refresh_token, expires_in, principal"
//	@Failure		400				{object}	authsdk.APIError		"invalid_request"
//	@Failure		401				{object}	authsdk.APIError		"auth_failed"
//	@Failure		501				{object}	authsdk.APIError		"unsupported_operation"
//	@Failure		503				{object}	authsdk.APIError		"temporarily_unavailable"
//	@Router			/v1/auth/refresh [post].
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		authsdk.ErrInvalidRequest.WithDescription("invalid form body").WriteError(w)
		return
	}
	refreshToken := strings.TrimSpace(r.PostForm.Get("refresh_token"))
	if refreshToken == "" {
		authsdk.ErrInvalidRequest.WithDescription("refresh_token is required").WriteError(w)
		return
	}

	res, err := h.SessionService.Refresh(r.Context(), refreshToken)
	if err != nil {
		writeServiceError(w, r, "refresh", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sessionResponse(res, h.now()))
}

// HandleMe godoc
//
//	@Summary		Current principal
//	@Tags			Auth
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.Principal	"subject, email, names, is_admin"
//	@Failure		401	{object}	authsdk.APIError	"invalid_token"
//	@Failure		503	{object}	authsdk.APIError	"temporarily_unavailable"
//	@Router			/v1/auth/me [get].
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.PrincipalFromContext(r.Context())
	if !ok {
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

// HandleLogout godoc
//
//	@Summary		End a session
//	@Description	Forgets the session token and returns the identity provider logout URL when there is one.
//	@Tags			Auth
//	@Security		BearerAuth
//	@Accept			application/x-www-form-urlencoded
//	@Produce		json
//	@Param			redirect_uri	formData	string					false	"Where the provider should send the user agent afterwards"
//	@Success		200				{object}	authsdk.LogoutResponse	"logout_url"
//	@Failure		400				{object}	authsdk.APIError		"unsafe_return_url"
//	@Failure		401				{object}	authsdk.APIError		"invalid_token"
//	@Router			/v1/auth/logout [post].
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		authsdk.ErrInvalidRequest.WithDescription("invalid form body").WriteError(w)
		return
	}

	logoutURL, err := h.SessionService.Logout(r.Context(),
		httpx.TokenFromContext(r.Context()),
		strings.TrimSpace(r.PostForm.Get("redirect_uri")),
	)
	if err != nil {
		writeServiceError(w, r, "logout", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.LogoutResponse{LogoutURL: logoutURL})
}

func sessionResponse(res *service.CallbackResult, now time.Time) authsdk.SessionResponse {
	return authsdk.SessionResponse{
		Token:        res.Token,
		RefreshToken: res.RefreshToken,
		ExpiresIn:    res.ExpiresIn(now),
		Principal:    toPrincipal(res.Principal),
	}
}
