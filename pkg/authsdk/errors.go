package authsdk

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error codes returned in the "error" field.
const (
	ErrorCodeInvalidRequest         = "invalid_request"
	ErrorCodeInvalidToken           = "invalid_token"
	ErrorCodeInsufficientScope      = "insufficient_scope"
	ErrorCodeAuthFailed             = "auth_failed"
	ErrorCodePKCEValidationFailed   = "pkce_validation_failed"
	ErrorCodeInvalidState           = "invalid_state"
	ErrorCodeUnsafeReturnURL        = "unsafe_return_url"
	ErrorCodeTemporarilyUnavailable = "temporarily_unavailable"
	ErrorCodeUnsupported            = "unsupported_operation"
	ErrorCodeNotFound               = "not_found"
	ErrorCodeLastAdmin              = "last_admin"
	ErrorCodeRateLimitExceeded      = "rate_limit_exceeded"
	ErrorCodeServerError            = "server_error"
)

// APIError is the {"error","error_description"} body of every failed request.
type APIError struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Is matches any APIError with the same code, so callers can compare a
// decoded response against the predefined values.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	return ok && t.Code == e.Code
}

// WriteError writes e as the HTTP response.
func (e *APIError) WriteError(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	_ = json.NewEncoder(w).Encode(e)
}

// WithDescription returns a copy of e carrying a more specific description.
func (e *APIError) WithDescription(desc string) *APIError {
	c := *e
	c.Description = desc
	return &c
}

var (
	ErrInvalidRequest = &APIError{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidRequest,
		Description: "the request is malformed or missing required parameters",
	}

	// ErrInvalidToken means the bearer token is missing, invalid or expired.
	ErrInvalidToken = &APIError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeInvalidToken,
		Description: "the access token is missing, invalid or expired",
	}

	ErrInsufficientScope = &APIError{
		StatusCode:  http.StatusForbidden,
		Code:        ErrorCodeInsufficientScope,
		Description: "admin rights required",
	}

	// ErrAuthFailed means the provider rejected the authorization code or
	// refresh token.
	ErrAuthFailed = &APIError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeAuthFailed,
		Description: "authentication failed",
	}

	ErrPKCEValidationFailed = &APIError{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodePKCEValidationFailed,
		Description: "code_verifier is missing or does not match the challenge",
	}

	// ErrInvalidState covers unknown, expired and already used states.
	ErrInvalidState = &APIError{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidState,
		Description: "state not found or expired",
	}

	ErrUnsafeReturnURL = &APIError{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeUnsafeReturnURL,
		Description: "return url must be a local path or an allowed http(s) url",
	}

	ErrProviderUnavailable = &APIError{
		StatusCode:  http.StatusServiceUnavailable,
		Code:        ErrorCodeTemporarilyUnavailable,
		Description: "identity provider unavailable",
	}

	ErrUnsupported = &APIError{
		StatusCode:  http.StatusNotImplemented,
		Code:        ErrorCodeUnsupported,
		Description: "the identity provider does not support this operation",
	}

	ErrUserNotFound = &APIError{
		StatusCode:  http.StatusNotFound,
		Code:        ErrorCodeNotFound,
		Description: "user not found",
	}

	// ErrLastAdmin is returned when demoting the only remaining admin.
	ErrLastAdmin = &APIError{
		StatusCode:  http.StatusConflict,
		Code:        ErrorCodeLastAdmin,
		Description: "cannot remove the last admin",
	}

	ErrServerError = &APIError{
		StatusCode:  http.StatusInternalServerError,
		Code:        ErrorCodeServerError,
		Description: "internal server error",
	}
)

// parseErrorResponse turns a non-2xx response into an *APIError, falling
// back to the status text when the body is not an error document.
func parseErrorResponse(resp *http.Response, body []byte) error {
	var e APIError
	if err := json.Unmarshal(body, &e); err == nil && e.Code != "" {
		e.StatusCode = resp.StatusCode
		return &e
	}
	return &APIError{
		StatusCode:  resp.StatusCode,
		Code:        ErrorCodeServerError,
		Description: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
	}
}
