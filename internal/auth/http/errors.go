package http

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/watchlist/internal/auth/domain"
	"github.com/aussiebroadwan/watchlist/internal/auth/service"
	"github.com/aussiebroadwan/watchlist/pkg/authsdk"
	"github.com/aussiebroadwan/watchlist/pkg/slogx"
)

// apiError maps a service error onto its wire error. Unknown errors become
// server_error.
func apiError(err error) *authsdk.APIError {
	switch {
	case errors.Is(err, domain.ErrInvalidOrExpiredToken):
		return authsdk.ErrInvalidToken
	case errors.Is(err, domain.ErrPKCEValidationFailed):
		return authsdk.ErrPKCEValidationFailed
	case errors.Is(err, domain.ErrAuthFailed):
		return authsdk.ErrAuthFailed
	case errors.Is(err, domain.ErrStateNotFoundOrExpired):
		return authsdk.ErrInvalidState
	case errors.Is(err, domain.ErrUnsafeReturnURL):
		return authsdk.ErrUnsafeReturnURL
	case errors.Is(err, domain.ErrProviderUnavailable):
		return authsdk.ErrProviderUnavailable
	case errors.Is(err, domain.ErrRefreshNotSupported), errors.Is(err, domain.ErrLogoutNotSupported):
		return authsdk.ErrUnsupported
	case errors.Is(err, service.ErrUserNotFound):
		return authsdk.ErrUserNotFound
	case errors.Is(err, service.ErrLastAdmin):
		return authsdk.ErrLastAdmin
	default:
		return authsdk.ErrServerError
	}
}

// writeServiceError writes the mapped error and logs it at a level that
// matches who is at fault.
func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	log := slogx.FromContext(r.Context())
	e := apiError(err)
	switch {
	case e == authsdk.ErrServerError:
		log.Error(op+" failed", "err", err)
	case e.StatusCode >= http.StatusInternalServerError:
		log.Warn(op+" failed", "err", err)
	default:
		log.Info(op+" rejected", "code", e.Code, "err", err)
	}
	if e == authsdk.ErrInvalidToken {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	}
	e.WriteError(w)
}
