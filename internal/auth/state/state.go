// Package state keeps the CSRF states of outstanding login attempts.
//
// A state binds an authorization redirect to the callback that follows it.
// States are single use, expire after a fixed TTL and, when the store is
// full, the oldest-created one is evicted to make room.
package state

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/aussiebroadwan/watchlist/internal/auth/domain"
	"github.com/aussiebroadwan/watchlist/pkg/cryptox"
)

const (
	// DefaultMaxSize bounds the number of outstanding login attempts.
	DefaultMaxSize = 1000

	// DefaultTTL is how long a login attempt may take before its state lapses.
	DefaultTTL = 10 * time.Minute
)

// Entry is one outstanding login attempt.
type Entry struct {
	State     string
	ReturnURL string

	// CodeChallenge is the client's PKCE challenge, if it sent one.
	CodeChallenge string

	// CodeVerifier is set when the server generated the PKCE pair itself.
	CodeVerifier string

	CreatedAt time.Time
	ExpiresAt time.Time
}

// Config tunes a Store. Zero values take the package defaults.
type Config struct {
	MaxSize int
	TTL     time.Duration

	// AllowedHosts, when non-empty, restricts absolute return URLs to these
	// hosts. Empty keeps the scheme-only check.
	AllowedHosts []string

	Now func() time.Time
}

// Store is safe for concurrent use.
//
// Entries live in an LRU that is only ever read with Peek, so its order is
// creation order and the "least recently used" victim is the oldest state.
type Store struct {
	mu      sync.Mutex
	entries *simplelru.LRU[string, *Entry]

	maxSize      int
	ttl          time.Duration
	allowedHosts map[string]struct{}
	now          func() time.Time
}

// New builds an empty store.
func New(cfg Config) (*Store, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	entries, err := simplelru.NewLRU[string, *Entry](cfg.MaxSize, nil)
	if err != nil {
		return nil, fmt.Errorf("state: %w", err)
	}

	var hosts map[string]struct{}
	if len(cfg.AllowedHosts) > 0 {
		hosts = make(map[string]struct{}, len(cfg.AllowedHosts))
		for _, h := range cfg.AllowedHosts {
			if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
				hosts[h] = struct{}{}
			}
		}
	}

	return &Store{
		entries:      entries,
		maxSize:      cfg.MaxSize,
		ttl:          cfg.TTL,
		allowedHosts: hosts,
		now:          cfg.Now,
	}, nil
}

// CreateOption customises a single Create call.
type CreateOption func(*Entry)

// WithState uses a caller-supplied state instead of generating one. Clients
// that pre-generate state for their own PKCE bookkeeping rely on this.
func WithState(state string) CreateOption {
	return func(e *Entry) { e.State = state }
}

// WithCodeChallenge attaches the client's S256 challenge to the attempt.
func WithCodeChallenge(challenge string) CreateOption {
	return func(e *Entry) { e.CodeChallenge = challenge }
}

// WithCodeVerifier keeps a server-generated verifier until the callback.
func WithCodeVerifier(verifier string) CreateOption {
	return func(e *Entry) { e.CodeVerifier = verifier }
}

// Create registers a login attempt that will return the user to returnURL.
func (s *Store) Create(returnURL string, opts ...CreateOption) (Entry, error) {
	if err := s.CheckReturnURL(returnURL); err != nil {
		return Entry{}, err
	}

	entry := &Entry{ReturnURL: returnURL}
	for _, opt := range opts {
		opt(entry)
	}

	if entry.State == "" {
		generated, err := cryptox.GenerateToken(cryptox.TokenSize256)
		if err != nil {
			return Entry{}, err
		}
		entry.State = generated
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry.CreatedAt = s.now()
	entry.ExpiresAt = entry.CreatedAt.Add(s.ttl)

	// Re-using a caller-supplied state replaces the earlier attempt; make it
	// the newest rather than keeping its old slot.
	s.entries.Remove(entry.State)
	s.entries.Add(entry.State, entry)

	return *entry, nil
}

// Validate returns the attempt for state if it exists and has not expired.
// It does not consume it: call Delete before acting on the result.
func (s *Store) Validate(state string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries.Peek(state)
	if !ok {
		return Entry{}, false
	}
	if !s.now().Before(entry.ExpiresAt) {
		s.entries.Remove(state)
		return Entry{}, false
	}
	return *entry, true
}

// Delete removes state.
func (s *Store) Delete(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries.Remove(state)
}

// Consume validates and deletes state in one step, so two concurrent
// callbacks carrying the same state cannot both succeed.
func (s *Store) Consume(state string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries.Peek(state)
	if !ok {
		return Entry{}, domain.ErrStateNotFoundOrExpired
	}
	s.entries.Remove(state)

	if !s.now().Before(entry.ExpiresAt) {
		return Entry{}, domain.ErrStateNotFoundOrExpired
	}
	return *entry, nil
}

// Cleanup removes every expired state and returns how many were dropped.
func (s *Store) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for _, key := range s.entries.Keys() {
		entry, ok := s.entries.Peek(key)
		if ok && !now.Before(entry.ExpiresAt) {
			s.entries.Remove(key)
			removed++
		}
	}
	return removed
}

// Len reports the number of outstanding states.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Len()
}

// MaxSize reports the configured capacity.
func (s *Store) MaxSize() int { return s.maxSize }

// CheckReturnURL applies the open-redirect guard: a reference relative to
// this origin ("/settings", "settings", "?tab=1"), or an absolute http(s) URL
// restricted to AllowedHosts when set.
func (s *Store) CheckReturnURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: empty", domain.ErrUnsafeReturnURL)
	}
	// User agents strip leading blanks, which would turn " //host" into a
	// protocol-relative URL.
	if strings.ContainsAny(raw, "\\ \r\n\t") {
		return fmt.Errorf("%w: illegal characters", domain.ErrUnsafeReturnURL)
	}
	// "//host/path" is protocol-relative and leaves the origin.
	if strings.HasPrefix(raw, "//") {
		return fmt.Errorf("%w: protocol-relative", domain.ErrUnsafeReturnURL)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUnsafeReturnURL, err)
	}
	if u.Scheme == "" && u.Host == "" {
		return nil
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("%w: scheme %q", domain.ErrUnsafeReturnURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", domain.ErrUnsafeReturnURL)
	}

	if s.allowedHosts != nil {
		if _, ok := s.allowedHosts[strings.ToLower(u.Hostname())]; !ok {
			return fmt.Errorf("%w: host %q not allowed", domain.ErrUnsafeReturnURL, u.Hostname())
		}
	}
	return nil
}
