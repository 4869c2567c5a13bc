package provider

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/watchlist/pkg/jwtx"
)

const (
	testClientID     = "watchlist-web"
	testClientSecret = "watchlist-secret"
	testRedirectURI  = "http://localhost:8080/v1/auth/callback"
	testCode         = "good-code"
	testVerifier     = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
)

// idpServer plays both an OIDC issuer and a BarTab auth server.
type idpServer struct {
	*httptest.Server
	t *testing.T

	key *rsa.PrivateKey
	kid string

	mu sync.Mutex
	// tokenClaims builds the token issued by /token; nil uses defaults.
	tokenClaims func() jwt.Claims
	// tokenStatus, when non-zero, makes /token fail with that status.
	tokenStatus int
	lastForm    map[string]string

	jwksHits   atomic.Int32
	jwksStatus atomic.Int32
}

func newIDPServer(t *testing.T) *idpServer {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	s := &idpServer{t: t, key: key, kid: "k1"}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", s.handleDiscovery)
	mux.HandleFunc("/.well-known/jwks.json", s.handleJWKS)
	mux.HandleFunc("/v1/oauth2/token", s.handleToken)
	mux.HandleFunc("/token", s.handleToken)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *idpServer) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                s.URL,
		"authorization_endpoint":                s.URL + "/authorize",
		"token_endpoint":                        s.URL + "/token",
		"jwks_uri":                              s.URL + "/.well-known/jwks.json",
		"end_session_endpoint":                  s.URL + "/logout",
		"code_challenge_methods_supported":      []string{"S256"},
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (s *idpServer) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	s.jwksHits.Add(1)
	if status := s.jwksStatus.Load(); status != 0 {
		w.WriteHeader(int(status))
		return
	}
	s.mu.Lock()
	jwks := jwtx.JWKS{Keys: []jwtx.JWK{jwtx.NewRSAJWK(s.kid, "sig", "RS256", &s.key.PublicKey)}}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, jwks)
}

func (s *idpServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.lastForm = map[string]string{}
	for k := range r.PostForm {
		s.lastForm[k] = r.PostForm.Get(k)
	}
	status := s.tokenStatus
	claims := s.tokenClaims
	s.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		if r.PostForm.Get("code") != testCode {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid_grant", "error_description": "authorization code is invalid",
			})
			return
		}
		if v := r.PostForm.Get("code_verifier"); v != "" && v != testVerifier {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid_grant", "error_description": "code_verifier does not match",
			})
			return
		}
	case "refresh_token":
		if r.PostForm.Get("refresh_token") != "refresh-1" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
	}

	if claims == nil {
		claims = s.defaultClaims
	}
	signed := s.sign(claims())
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  signed,
		"id_token":      signed,
		"token_type":    "Bearer",
		"refresh_token": "refresh-2",
		"expires_in":    900,
	})
}

func (s *idpServer) defaultClaims() jwt.Claims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":         s.URL,
		"sub":         "user-123",
		"aud":         testClientID,
		"iat":         now.Unix(),
		"exp":         now.Add(15 * time.Minute).Unix(),
		"email":       "ada@example.com",
		"given_name":  "Ada",
		"family_name": "Lovelace",
		"groups":      []string{"staff", "watchlist-admins"},
		"scopes":      []string{"watchlist:read", AdminScope},
	}
}

func (s *idpServer) sign(claims jwt.Claims) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = s.kid
	signed, err := tok.SignedString(s.key)
	if err != nil {
		s.t.Errorf("sign token: %v", err)
	}
	return signed
}

// rotate swaps in a fresh signing key under a new kid.
func (s *idpServer) rotate(kid string) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(s.t, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.key = key
	s.kid = kid
}

func (s *idpServer) setTokenClaims(fn func() jwt.Claims) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenClaims = fn
}

func (s *idpServer) setTokenStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenStatus = status
}

func (s *idpServer) form() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastForm
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
