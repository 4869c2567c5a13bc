package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/aussiebroadwan/watchlist/internal/auth/cache"
	"github.com/aussiebroadwan/watchlist/internal/auth/service"
	"github.com/aussiebroadwan/watchlist/internal/auth/state"
)

// Provider variants selectable with AUTH_PROVIDER.
const (
	ProviderMock   = "mock"
	ProviderOIDC   = "oidc"
	ProviderBarTab = "bartab"
)

type Config struct {
	Env                 string        // Environment (dev, staging, prod) (default: dev)
	LogLevel            string        // Log level (debug, info, warn, error) (default: info)
	LogFormat           string        // Log format (json, text) (default: json)
	Port                int           // HTTP server port (default: 8080)
	ShutdownGracePeriod time.Duration // Graceful shutdown timeout (default: 10s)
	DatabaseFile        string        // SQLite file holding the user directory (default: ./auth.db)
	LogOutput           io.Writer     // Log destination (default: stdout)

	Provider        string        // mock, oidc or bartab (default: mock)
	RedirectURI     string        // Required: callback URL registered with the provider
	ServerPKCE      bool          // Generate PKCE server-side when the client sends no challenge
	CacheMaxSize    int           // Validation cache capacity (default: 10000)
	CacheTTL        time.Duration // Fallback lifetime of cached validations (default: 1h)
	StateMaxSize    int           // Pending CSRF states (default: 1000)
	StateTTL        time.Duration // Lifetime of a CSRF state (default: 10m)
	CleanupInterval time.Duration // Housekeeping sweep interval (default: 60s)
	UpstreamTimeout time.Duration // Per-attempt provider timeout (default: 5s)
	UpstreamRetries uint          // Retries after a network-level failure (default: 1)
	AllowedHosts    []string      // Optional allow-list for absolute return URLs

	OIDCIssuer       string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCAdminGroup   string

	BarTabURL      string
	BarTabClientID string

	MockSecret  string
	MockSubject string
	MockEmail   string
	MockAdmin   bool
}

// LoadConfig reads the environment, after loading ENV_FILE (default .env)
// when it exists. Variables already set win over the file.
func LoadConfig() (Config, error) {
	envFile := getEnvOrDefault("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := Config{
		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		DatabaseFile:        getEnvOrDefault("AUTH_DATABASE_FILE", "auth.db"),

		Provider:        strings.ToLower(getEnvOrDefault("AUTH_PROVIDER", ProviderMock)),
		RedirectURI:     os.Getenv("AUTH_REDIRECT_URI"),
		ServerPKCE:      getEnvBoolOrDefault("AUTH_SERVER_PKCE", false),
		CacheMaxSize:    getEnvIntOrDefault("AUTH_CACHE_MAX_SIZE", cache.DefaultMaxSize),
		CacheTTL:        getEnvDurationOrDefault("AUTH_CACHE_TTL", cache.DefaultTTL),
		StateMaxSize:    getEnvIntOrDefault("AUTH_STATE_MAX_SIZE", state.DefaultMaxSize),
		StateTTL:        getEnvDurationOrDefault("AUTH_STATE_TTL", state.DefaultTTL),
		CleanupInterval: getEnvDurationOrDefault("AUTH_CLEANUP_INTERVAL", service.DefaultCleanupInterval),
		UpstreamTimeout: getEnvDurationOrDefault("AUTH_UPSTREAM_TIMEOUT", service.DefaultUpstreamTimeout),
		UpstreamRetries: uint(max(getEnvIntOrDefault("AUTH_UPSTREAM_RETRIES", service.DefaultUpstreamRetries), 0)),
		AllowedHosts:    splitList(os.Getenv("AUTH_ALLOWED_RETURN_HOSTS")),

		OIDCIssuer:       os.Getenv("AUTH_OIDC_ISSUER"),
		OIDCClientID:     os.Getenv("AUTH_OIDC_CLIENT_ID"),
		OIDCClientSecret: os.Getenv("AUTH_OIDC_CLIENT_SECRET"),
		OIDCAdminGroup:   os.Getenv("AUTH_OIDC_ADMIN_GROUP"),

		BarTabURL:      os.Getenv("AUTH_BARTAB_URL"),
		BarTabClientID: os.Getenv("AUTH_BARTAB_CLIENT_ID"),

		MockSecret:  os.Getenv("AUTH_MOCK_SECRET"),
		MockSubject: getEnvOrDefault("AUTH_MOCK_SUBJECT", "mock-user"),
		MockEmail:   getEnvOrDefault("AUTH_MOCK_EMAIL", "mock-user@example.com"),
		MockAdmin:   getEnvBoolOrDefault("AUTH_MOCK_ADMIN", true),
	}

	if cfg.RedirectURI == "" {
		cfg.RedirectURI = fmt.Sprintf("http://localhost:%d/v1/auth/callback", cfg.Port)
	}

	return cfg, cfg.Validate()
}

// Validate checks the provider-specific settings.
func (c Config) Validate() error {
	switch c.Provider {
	case ProviderMock:
		if c.MockSecret == "" {
			return errors.New("AUTH_MOCK_SECRET is required for the mock provider")
		}
		if c.Env == "prod" {
			return errors.New("the mock provider cannot run with ENV=prod")
		}
	case ProviderOIDC:
		if c.OIDCIssuer == "" || c.OIDCClientID == "" {
			return errors.New("AUTH_OIDC_ISSUER and AUTH_OIDC_CLIENT_ID are required for the oidc provider")
		}
	case ProviderBarTab:
		if c.BarTabURL == "" || c.BarTabClientID == "" {
			return errors.New("AUTH_BARTAB_URL and AUTH_BARTAB_CLIENT_ID are required for the bartab provider")
		}
	default:
		return fmt.Errorf("unknown AUTH_PROVIDER %q (want mock, oidc or bartab)", c.Provider)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if intValue, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return intValue
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are seconds.
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}

// splitList parses a comma separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
