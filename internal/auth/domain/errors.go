package domain

import "errors"

// Authentication errors. Each one maps to a distinct caller-visible status, so
// wrap them with %w rather than replacing them.
var (
	// ErrInvalidOrExpiredToken means the token is not cached and the provider rejected it.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")

	// ErrAuthFailed means the provider rejected an authorization code exchange.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrPKCEValidationFailed covers a missing verifier and a verifier whose
	// challenge does not match the one registered at login.
	ErrPKCEValidationFailed = errors.New("pkce validation failed")

	// ErrStateNotFoundOrExpired is returned for unknown, consumed or expired CSRF states.
	ErrStateNotFoundOrExpired = errors.New("state not found or expired")

	// ErrUnsafeReturnURL is the open-redirect guard.
	ErrUnsafeReturnURL = errors.New("unsafe return url")

	// ErrProviderUnavailable means the identity provider timed out or could not be reached.
	ErrProviderUnavailable = errors.New("identity provider unavailable")
)

// Capability errors.
var (
	ErrRefreshNotSupported = errors.New("provider does not support token refresh")
	ErrLogoutNotSupported  = errors.New("provider does not support logout")
)
