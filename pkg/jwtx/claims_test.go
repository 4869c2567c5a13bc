package jwtx_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/watchlist/pkg/jwtx"
)

func TestValidateIssuer(t *testing.T) {
	c := &jwtx.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "bartab",
		},
	}

	t.Run("matching issuer", func(t *testing.T) {
		require.NoError(t, c.ValidateIssuer("bartab"))
	})

	t.Run("empty expected issuer", func(t *testing.T) {
		require.NoError(t, c.ValidateIssuer(""))
	})

	t.Run("mismatched issuer", func(t *testing.T) {
		require.ErrorIs(t, c.ValidateIssuer("someone-else"), jwtx.ErrIssuer)
	})
}

func TestValidateAudience(t *testing.T) {
	c := &jwtx.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Audience: []string{"watchlist", "media"},
		},
	}

	require.NoError(t, c.ValidateAudience([]string{"watchlist"}))
	require.NoError(t, c.ValidateAudience([]string{"foo", "media"}))
	require.NoError(t, c.ValidateAudience(nil))
	require.ErrorIs(t, c.ValidateAudience([]string{"admin"}), jwtx.ErrAudience)
}

func TestValidateExpiryAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		exp    time.Time
		nbf    time.Time
		leeway time.Duration
		want   error
	}{
		{"valid", now.Add(time.Minute), now.Add(-time.Minute), 0, nil},
		{"expired exactly now", now, time.Time{}, 0, jwtx.ErrExpired},
		{"expired within leeway", now.Add(-5 * time.Second), time.Time{}, 10 * time.Second, nil},
		{"not yet valid", now.Add(time.Hour), now.Add(time.Minute), 0, jwtx.ErrNotYetValid},
		{"nbf within leeway", now.Add(time.Hour), now.Add(5 * time.Second), 10 * time.Second, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &jwtx.Claims{RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(tt.exp),
			}}
			if !tt.nbf.IsZero() {
				c.NotBefore = jwt.NewNumericDate(tt.nbf)
			}

			err := c.ValidateExpiryAt(now, tt.leeway)
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHasScope(t *testing.T) {
	c := &jwtx.Claims{Scopes: []string{"watchlist:read"}, Scope: "profile admin:write"}

	require.True(t, c.HasScope("watchlist:read"))
	require.True(t, c.HasScope("admin:write"))
	require.False(t, c.HasScope("admin"))
}

func TestNewClaims(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := jwtx.NewClaims("user-1", "mock", []string{"watchlist"}, []string{"admin:write"}, time.Hour, now)

	require.Equal(t, "user-1", c.Subject)
	require.Equal(t, now.Add(time.Hour), c.Expiry())
	require.NotEmpty(t, c.ID)
	require.NotEqual(t, c.ID, jwtx.NewJTI())
	require.True(t, c.HasScope("admin:write"))

	require.True(t, (&jwtx.Claims{}).Expiry().IsZero())
}
