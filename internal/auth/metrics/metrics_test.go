package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/watchlist/internal/auth/cache"
)

type fakeCache struct{ stats cache.Stats }

func (f fakeCache) Stats() cache.Stats { return f.stats }

type fakeStates struct{ n, max int }

func (f fakeStates) Len() int     { return f.n }
func (f fakeStates) MaxSize() int { return f.max }

func TestStoreCollector(t *testing.T) {
	t.Parallel()

	m, err := New(Config{
		Cache:  fakeCache{stats: cache.Stats{Size: 3, MaxSize: 10, Hits: 7, Misses: 2, Evictions: 1, Validations: 2}},
		States: fakeStates{n: 4, max: 1000},
	})
	require.NoError(t, err)

	expected := `
# HELP watchlist_auth_cache_hits_total Validation cache hits.
# TYPE watchlist_auth_cache_hits_total counter
watchlist_auth_cache_hits_total 7
# HELP watchlist_auth_csrf_states Pending CSRF states.
# TYPE watchlist_auth_csrf_states gauge
watchlist_auth_csrf_states 4
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"watchlist_auth_cache_hits_total", "watchlist_auth_csrf_states"))

	n, err := testutil.GatherAndCount(m.Registry(), "watchlist_auth_cache_entries", "watchlist_auth_csrf_states_max")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestObserveUpstream(t *testing.T) {
	t.Parallel()

	m, err := New(Config{})
	require.NoError(t, err)

	m.ObserveUpstream("verify", "ok", 10*time.Millisecond)
	m.ObserveUpstream("verify", "ok", 20*time.Millisecond)
	m.ObserveUpstream("exchange", "unavailable", time.Second)

	require.Equal(t, 2.0, testutil.ToFloat64(m.upstreamCalls.WithLabelValues("verify", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.upstreamCalls.WithLabelValues("exchange", "unavailable")))
}

func TestMiddlewareAndHandler(t *testing.T) {
	t.Parallel()

	m, err := New(Config{GoCollectors: true})
	require.NoError(t, err)

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/users/google-oauth2|1234/admin", nil))

	require.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/v1/auth/me", "200")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/missing", "404")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("POST", "/v1/users/:param/admin", "200")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "watchlist_auth_http_requests_total")
	require.Contains(t, string(body), "go_goroutines")
}

func TestNormalizePath(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"":                                       "/",
		"/":                                      "/",
		"/v1/auth/login":                         "/v1/auth/login",
		"/v1/users/alice/admin":                  "/v1/users/:param/admin",
		"/v1/items/01HQ7T3Z1MZ0JQ3M6MZQ1FQ3ZV":   "/v1/items/:param",
		"/v1/items/42":                           "/v1/items/:param",
		"/swagger/index.html":                    "/swagger/index.html",
		"/x/eyJhbGciOiJIUzI1NiJ9eyJzdWIiOiIxMjM": "/x/:param",
	}
	for in, want := range tests {
		require.Equal(t, want, normalizePath(in), in)
	}
}
