package http

import (
	"net/http"

	"github.com/aussiebroadwan/watchlist/internal/auth/cache"
	"github.com/aussiebroadwan/watchlist/internal/auth/state"
	"github.com/aussiebroadwan/watchlist/pkg/authsdk"
	"github.com/aussiebroadwan/watchlist/pkg/httpx"
)

// CacheStatsHandler godoc
//
//	@Summary		Cache statistics
//	@Description	Validation cache and CSRF state store counters. Requires admin.
//	@Tags			Auth
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.CacheStatsResponse	"provider, cache, states"
//	@Failure		401	{object}	authsdk.APIError			"invalid_token"
//	@Failure		403	{object}	authsdk.APIError			"insufficient_scope"
//	@Router			/v1/auth/cache/stats [get].
func CacheStatsHandler(providerName string, c *cache.Cache, states *state.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := c.Stats()
		httpx.WriteJSON(w, http.StatusOK, authsdk.CacheStatsResponse{
			Provider: providerName,
			Cache: authsdk.CacheStats{
				Size:        s.Size,
				MaxSize:     s.MaxSize,
				Hits:        s.Hits,
				Misses:      s.Misses,
				HitRate:     s.HitRate,
				Evictions:   s.Evictions,
				Validations: s.Validations,
			},
			States: authsdk.StateStats{
				Pending: states.Len(),
				MaxSize: states.MaxSize(),
			},
		})
	}
}
