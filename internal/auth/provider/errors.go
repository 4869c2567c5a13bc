package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/aussiebroadwan/watchlist/internal/auth/domain"
)

// exchangeError maps a failed token endpoint call onto the domain errors.
func exchangeError(err error) error {
	if err == nil {
		return nil
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil && re.Response.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: token endpoint returned %d", domain.ErrProviderUnavailable, re.Response.StatusCode)
		}

		detail := strings.ToLower(re.ErrorCode + " " + re.ErrorDescription)
		if strings.Contains(detail, "code_verifier") || strings.Contains(detail, "pkce") {
			return fmt.Errorf("%w: %s", domain.ErrPKCEValidationFailed, describe(re))
		}
		return fmt.Errorf("%w: %s", domain.ErrAuthFailed, describe(re))
	}

	if isTransportError(err) {
		return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrAuthFailed, err)
}

// verifyError maps a token verification failure. Anything that is not a
// transport problem is the token's fault.
func verifyError(err error) error {
	if err == nil {
		return nil
	}
	if isTransportError(err) {
		return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrInvalidOrExpiredToken, err)
}

func isTransportError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func describe(re *oauth2.RetrieveError) string {
	switch {
	case re.ErrorCode != "" && re.ErrorDescription != "":
		return re.ErrorCode + ": " + re.ErrorDescription
	case re.ErrorCode != "":
		return re.ErrorCode
	case re.Response != nil:
		return fmt.Sprintf("status %d", re.Response.StatusCode)
	default:
		return "token request rejected"
	}
}

// withHTTPClient makes x/oauth2 use client for token requests.
func withHTTPClient(ctx context.Context, client *http.Client) context.Context {
	if client == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

// authCodeOptions builds the PKCE parameters for an authorization URL.
func authCodeOptions(pkce *PKCEParams) []oauth2.AuthCodeOption {
	if pkce == nil || pkce.CodeChallenge == "" {
		return nil
	}
	method := pkce.CodeChallengeMethod
	if method == "" {
		method = "S256"
	}
	return []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", pkce.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", method),
	}
}

// exchangeOptions attaches the verifier to a code exchange when there is one.
func exchangeOptions(verifier string) []oauth2.AuthCodeOption {
	if verifier == "" {
		return nil
	}
	return []oauth2.AuthCodeOption{oauth2.VerifierOption(verifier)}
}

// expiresIn converts an oauth2 token's expiry into seconds from now.
func expiresIn(tok *oauth2.Token) int64 {
	if tok.ExpiresIn > 0 {
		return tok.ExpiresIn
	}
	if tok.Expiry.IsZero() {
		return 0
	}
	secs := int64(time.Until(tok.Expiry).Seconds())
	if secs < 0 {
		return 0
	}
	return secs
}
