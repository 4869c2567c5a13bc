package slogx

import (
	"log/slog"

	"github.com/aussiebroadwan/watchlist/pkg/cryptox"
)

// fingerprintLen keeps enough of the token fingerprint to correlate log lines
// without making it a usable lookup key.
const fingerprintLen = 12

// Fingerprint returns a short, log-safe handle for a bearer token. Raw tokens
// must never reach a log line; log this instead.
func Fingerprint(rawToken string) string {
	return cryptox.FingerprintToken(rawToken)[:fingerprintLen]
}

// Token is the slog attribute form of Fingerprint.
func Token(rawToken string) slog.Attr {
	return slog.String("token_fp", Fingerprint(rawToken))
}
