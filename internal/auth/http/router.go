package http

import (
	"log/slog"
	"net/http"
	"time"

	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/aussiebroadwan/watchlist/api/watchlist" // Swagger docs
	"github.com/aussiebroadwan/watchlist/internal/auth/cache"
	"github.com/aussiebroadwan/watchlist/internal/auth/metrics"
	"github.com/aussiebroadwan/watchlist/internal/auth/service"
	"github.com/aussiebroadwan/watchlist/internal/auth/state"
	"github.com/aussiebroadwan/watchlist/internal/auth/store"
	"github.com/aussiebroadwan/watchlist/pkg/httpx"
	"github.com/aussiebroadwan/watchlist/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
	store        store.Store
	metrics      *metrics.Metrics

	SessionService *service.SessionService
	UserService    *service.UserService
	Cache          *cache.Cache
	States         *state.Store
}

// NewRouter builds a router with the logging middleware, plus request
// metrics when m is non-nil. Set the exported services before ApplyRoutes.
func NewRouter(buildVersion string, st store.Store, m *metrics.Metrics, logger *slog.Logger) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
		store:        st,
		metrics:      m,
	}

	r.middlewares = []httpx.Middleware{slogx.HTTPMiddleware(r.logger)}
	if m != nil {
		r.middlewares = append(r.middlewares, m.Middleware)
	}
	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerUsers()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title						Watchlist Auth API
//	@version					0.1.0
//	@description				Delegated login for watchlist. Identity is verified by an external OpenID Connect or BarTab provider;
//	@description				this service keeps CSRF states for outstanding logins and caches validated session tokens.
//
//	@contact.name				AussieBroadWAN Team
//	@contact.url				https://github.com/aussiebroadwan/watchlist
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@schemes					http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Session token from the callback. Format: "Bearer {token}".
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerAuth() {
	h := &AuthHandler{SessionService: r.SessionService}
	authn := httpx.AuthnMiddleware(sessionAuthenticator{r.SessionService})

	// Login flow - strict rate limit by IP, every call creates state or hits the provider
	r.Mux.Handle("GET /v1/auth/login",
		httpx.Chain(http.HandlerFunc(h.HandleLogin), httpx.RateLimitByIP(httpx.StrictLimit)))
	r.Mux.Handle("GET /v1/auth/callback",
		httpx.Chain(http.HandlerFunc(h.HandleCallback), httpx.RateLimitByIP(httpx.StrictLimit)))
	r.Mux.Handle("POST /v1/auth/refresh",
		httpx.Chain(http.HandlerFunc(h.HandleRefresh), httpx.RateLimitByIP(httpx.StrictLimit)))

	// Authenticated - lenient, /me is called on every page load
	r.Mux.Handle("GET /v1/auth/me",
		httpx.Chain(http.HandlerFunc(h.HandleMe), authn, httpx.RateLimitBySubject(httpx.LenientLimit)))
	r.Mux.Handle("POST /v1/auth/logout",
		httpx.Chain(http.HandlerFunc(h.HandleLogout), authn, httpx.RateLimitBySubject(httpx.LenientLimit)))

	r.Mux.Handle("GET /v1/auth/cache/stats",
		httpx.Chain(CacheStatsHandler(r.SessionService.ProviderName(), r.Cache, r.States),
			authn,
			httpx.RequireAdmin,
			httpx.RateLimitBySubject(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerUsers() {
	h := &UsersHandler{UserService: r.UserService}
	admin := []httpx.Middleware{
		httpx.AuthnMiddleware(sessionAuthenticator{r.SessionService}),
		httpx.RequireAdmin,
		httpx.RateLimitBySubject(httpx.ModerateLimit),
	}

	r.Mux.Handle("GET /v1/users", httpx.Chain(http.HandlerFunc(h.HandleList), admin...))
	r.Mux.Handle("POST /v1/users/{subject}/admin", httpx.Chain(http.HandlerFunc(h.HandleSetAdmin), admin...))
}

func (r *Router) registerSystem() {
	// Probes and scrapes are not rate limited; monitoring polls them constantly.
	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.Mux.Handle("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.SessionService.ProviderName(), r.store))
	if r.metrics != nil {
		r.Mux.Handle("GET /metrics", r.metrics.Handler())
	}
}
