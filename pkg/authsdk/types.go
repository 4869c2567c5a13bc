package authsdk

import "time"

// LoginResponse is returned by GET /v1/auth/login.
type LoginResponse struct {
	// AuthorizationURL is where the user agent goes next.
	AuthorizationURL string `json:"authorization_url"`
	// State must come back unchanged on the callback.
	State string `json:"state"`
}

// Principal is an authenticated identity.
type Principal struct {
	Subject    string `json:"subject"`
	Email      string `json:"email,omitempty"`
	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
	IsAdmin    bool   `json:"is_admin"`
}

// SessionResponse is returned by the callback and refresh endpoints.
type SessionResponse struct {
	// Token is the bearer token for subsequent requests.
	Token string `json:"token"`
	// RefreshToken is empty when the provider does not issue one.
	RefreshToken string `json:"refresh_token,omitempty"`
	// ExpiresIn is the token lifetime in seconds; zero when unknown.
	ExpiresIn int64     `json:"expires_in"`
	Principal Principal `json:"principal"`
	// ReturnURL is the URL given at login. Only set by the callback.
	ReturnURL string `json:"return_url,omitempty"`
}

type LogoutResponse struct {
	// LogoutURL ends the provider session; empty when the provider has none.
	LogoutURL string `json:"logout_url,omitempty"`
}

// UserResponse is a stored user profile. IsAdmin is the explicit approval and
// ProviderAdmin is what the identity provider said at the last login; either
// one makes the user an admin.
type UserResponse struct {
	ID            string    `json:"id"`
	Subject       string    `json:"subject"`
	Email         string    `json:"email,omitempty"`
	GivenName     string    `json:"given_name,omitempty"`
	FamilyName    string    `json:"family_name,omitempty"`
	IsAdmin       bool      `json:"is_admin"`
	ProviderAdmin bool      `json:"provider_admin"`
	FirstSeenAt   time.Time `json:"first_seen_at"`
	LastLoginAt   time.Time `json:"last_login_at"`
}

type UsersResponse struct {
	Users []UserResponse `json:"users"`
}

// SetAdminRequest is the body of POST /v1/users/{subject}/admin.
type SetAdminRequest struct {
	Admin bool `json:"admin"`
}

// CacheStatsResponse reports the validation cache and CSRF state store.
type CacheStatsResponse struct {
	Provider string     `json:"provider"`
	Cache    CacheStats `json:"cache"`
	States   StateStats `json:"states"`
}

type CacheStats struct {
	Size        int     `json:"size"`
	MaxSize     int     `json:"max_size"`
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	Evictions   uint64  `json:"evictions"`
	Validations uint64  `json:"validations"`
}

type StateStats struct {
	Pending int `json:"pending"`
	MaxSize int `json:"max_size"`
}

// HealthResponse is returned by /livez and /readyz.
type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime,omitempty"`
	Version string        `json:"version,omitempty"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks is the per-dependency status reported by /readyz.
type HealthChecks struct {
	Database string `json:"database"`
	Provider string `json:"provider"`
}
