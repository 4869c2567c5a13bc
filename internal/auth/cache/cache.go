// Package cache holds validated bearer tokens in memory so repeated requests
// do not go back to the identity provider.
//
// Entries are keyed by the token fingerprint, bounded by an LRU capacity and
// expire on their own deadline. Concurrent misses for the same token share a
// single upstream validation.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/sync/singleflight"

	"github.com/aussiebroadwan/watchlist/internal/auth/domain"
	"github.com/aussiebroadwan/watchlist/pkg/cryptox"
)

const (
	// DefaultMaxSize is the entry capacity used when Config.MaxSize is unset.
	DefaultMaxSize = 10000

	// DefaultTTL applies when a validator or seeder does not supply an expiry.
	DefaultTTL = time.Hour
)

// Entry is one validated token.
type Entry struct {
	Fingerprint string
	Principal   domain.Principal
	ExpiresAt   time.Time
	ValidatedAt time.Time
	AccessCount uint64
}

func (e *Entry) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// ValidateFunc checks a raw token upstream. A zero expiry means "use the
// cache default".
type ValidateFunc func(ctx context.Context, rawToken string) (domain.Principal, time.Time, error)

// Stats is a point-in-time view of the cache counters.
type Stats struct {
	Size        int     `json:"size"`
	MaxSize     int     `json:"max_size"`
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	Evictions   uint64  `json:"eviction_count"`
	Validations uint64  `json:"validations"`
}

// Config tunes a Cache. Zero values take the package defaults.
type Config struct {
	MaxSize    int
	DefaultTTL time.Duration
	Logger     *slog.Logger

	// Now is the clock; tests swap it to step over expiry deadlines.
	Now func() time.Time
}

// Cache is safe for concurrent use. One mutex covers lookups, inserts,
// removals and eviction; the upstream validation runs outside of it.
type Cache struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, *Entry]

	maxSize    int
	defaultTTL time.Duration
	now        func() time.Time
	logger     *slog.Logger

	hits        uint64
	misses      uint64
	evictions   uint64
	validations uint64

	// epoch advances on every DeleteSubject that races a validation;
	// revokedAt holds the epoch each such subject was last dropped at and is
	// cleared once no validation is running.
	epoch      uint64
	revokedAt  map[string]uint64
	validating int

	inflight singleflight.Group
}

// New builds an empty cache.
func New(cfg Config) (*Cache, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	lru, err := simplelru.NewLRU[string, *Entry](cfg.MaxSize, nil)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}

	return &Cache{
		lru:        lru,
		maxSize:    cfg.MaxSize,
		defaultTTL: cfg.DefaultTTL,
		now:        cfg.Now,
		logger:     cfg.Logger,
		revokedAt:  make(map[string]uint64),
	}, nil
}

// Get returns the cached principal for rawToken. It never calls upstream.
// A hit bumps the entry's access count and recency; an expired entry is
// dropped and reported as a miss.
func (c *Cache) Get(rawToken string) (domain.Principal, bool) {
	fp := cryptox.FingerprintToken(rawToken)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.touchLocked(fp)
	if !ok {
		c.misses++
		return domain.Principal{}, false
	}
	c.hits++
	return entry.Principal, true
}

// Set inserts or replaces the entry for rawToken. A zero expiresAt means
// now plus the default TTL. Inserting a new token into a full cache evicts
// the least recently used entry first.
func (c *Cache) Set(rawToken string, principal domain.Principal, expiresAt time.Time) {
	c.set(cryptox.FingerprintToken(rawToken), principal, expiresAt)
}

// Delete removes rawToken unconditionally.
func (c *Cache) Delete(rawToken string) {
	fp := cryptox.FingerprintToken(rawToken)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(fp)
}

// DeleteSubject drops every entry whose principal has the given subject.
// Validations for that subject still in flight return their result to their
// callers but do not cache it. It walks the whole cache, so keep it to rare
// admin operations.
func (c *Cache) DeleteSubject(subject string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A validation already in flight for subject must not put the old
	// principal back.
	if c.validating > 0 {
		c.epoch++
		c.revokedAt[subject] = c.epoch
	}

	removed := 0
	for _, fp := range c.lru.Keys() {
		entry, ok := c.lru.Peek(fp)
		if ok && entry.Principal.Subject == subject {
			c.lru.Remove(fp)
			removed++
		}
	}
	return removed
}

// Cleanup removes every expired entry and returns how many were dropped.
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, fp := range c.lru.Keys() {
		entry, ok := c.lru.Peek(fp)
		if ok && entry.expired(now) {
			c.lru.Remove(fp)
			removed++
		}
	}
	return removed
}

// GetOrValidate returns the cached principal for rawToken or validates it.
//
// Concurrent callers for the same uncached token share one call to validate
// and all observe its result. Failures are not cached. The validation runs
// with a context detached from any single caller, so a caller that gives up
// (ctx done) returns ctx.Err() without failing the others.
func (c *Cache) GetOrValidate(ctx context.Context, rawToken string, validate ValidateFunc) (domain.Principal, error) {
	if principal, ok := c.Get(rawToken); ok {
		return principal, nil
	}

	fp := cryptox.FingerprintToken(rawToken)
	upstreamCtx := context.WithoutCancel(ctx)

	ch := c.inflight.DoChan(fp, func() (any, error) {
		// A validation that finished between our miss and this call has
		// already populated the entry.
		if principal, ok := c.peek(fp); ok {
			return principal, nil
		}
		return c.validate(upstreamCtx, fp, rawToken, validate)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return domain.Principal{}, res.Err
		}
		return res.Val.(domain.Principal), nil
	case <-ctx.Done():
		return domain.Principal{}, ctx.Err()
	}
}

func (c *Cache) validate(ctx context.Context, fp, rawToken string, validate ValidateFunc) (principal domain.Principal, err error) {
	c.mu.Lock()
	c.validations++
	c.validating++
	start := c.epoch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.validating--; c.validating == 0 {
			clear(c.revokedAt)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cache: validator panicked: %v", r)
		}
	}()

	principal, expiresAt, err := validate(ctx, rawToken)
	if err != nil {
		c.logger.Debug("token validation failed", "fingerprint", fp[:12], "error", err)
		return domain.Principal{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.revokedAt[principal.Subject] > start {
		c.logger.Debug("subject revoked during validation, not caching", "fingerprint", fp[:12])
		return principal, nil
	}
	c.setLocked(fp, principal, expiresAt)
	return principal, nil
}

// Entry returns a copy of the cached entry without touching recency or counters.
func (c *Cache) Entry(rawToken string) (Entry, bool) {
	fp := cryptox.FingerprintToken(rawToken)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Peek(fp)
	if !ok || entry.expired(c.now()) {
		return Entry{}, false
	}
	return *entry, true
}

// Len reports the number of stored entries, including expired ones not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Size:        c.lru.Len(),
		MaxSize:     c.maxSize,
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Validations: c.validations,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

func (c *Cache) set(fp string, principal domain.Principal, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(fp, principal, expiresAt)
}

// setLocked inserts an entry. c.mu must be held.
func (c *Cache) setLocked(fp string, principal domain.Principal, expiresAt time.Time) {
	now := c.now()
	if expiresAt.IsZero() {
		expiresAt = now.Add(c.defaultTTL)
	}

	evicted := c.lru.Add(fp, &Entry{
		Fingerprint: fp,
		Principal:   principal,
		ExpiresAt:   expiresAt,
		ValidatedAt: now,
	})
	if evicted {
		c.evictions++
		c.logger.Debug("token cache full, evicted least recently used entry", "max_size", c.maxSize)
	}
}

// peek is Get without the hit/miss accounting.
func (c *Cache) peek(fp string) (domain.Principal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.touchLocked(fp)
	if !ok {
		return domain.Principal{}, false
	}
	return entry.Principal, true
}

// touchLocked looks fp up, refreshing recency and the access count on a
// live hit and dropping the entry when it has expired. c.mu must be held.
func (c *Cache) touchLocked(fp string) (*Entry, bool) {
	entry, ok := c.lru.Get(fp)
	if !ok {
		return nil, false
	}
	if entry.expired(c.now()) {
		c.lru.Remove(fp)
		return nil, false
	}
	entry.AccessCount++
	return entry, true
}
