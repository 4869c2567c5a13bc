package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/watchlist/internal/auth/domain"
)

// fakeClock is a manually advanced clock shared by a cache under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(t *testing.T, maxSize int, clock *fakeClock) *Cache {
	t.Helper()
	c, err := New(Config{MaxSize: maxSize, DefaultTTL: time.Hour, Now: clock.Now})
	require.NoError(t, err)
	return c
}

func principal(sub string) domain.Principal {
	return domain.Principal{Subject: sub, Email: sub + "@example.com"}
}

func TestGetReturnsPrincipalUntilExpiry(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := newTestCache(t, 10, clock)

	c.Set("token-a", principal("alice"), clock.Now().Add(10*time.Minute))

	got, ok := c.Get("token-a")
	require.True(t, ok)
	require.Equal(t, principal("alice"), got)

	clock.Advance(10*time.Minute - time.Second)
	_, ok = c.Get("token-a")
	require.True(t, ok)

	// now == expiresAt counts as expired
	clock.Advance(time.Second)
	_, ok = c.Get("token-a")
	require.False(t, ok)
	require.Equal(t, 0, c.Len(), "expired entry is removed on read")
}

func TestSetDefaultsExpiry(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := newTestCache(t, 10, clock)

	c.Set("token-a", principal("alice"), time.Time{})

	entry, ok := c.Entry("token-a")
	require.True(t, ok)
	require.Equal(t, clock.Now().Add(time.Hour), entry.ExpiresAt)
	require.Equal(t, clock.Now(), entry.ValidatedAt)
	require.NotEqual(t, "token-a", entry.Fingerprint)
	require.Len(t, entry.Fingerprint, 43)
}

func TestAccessCountIncrementsOnHit(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := newTestCache(t, 10, clock)
	c.Set("token-a", principal("alice"), time.Time{})

	for range 3 {
		_, ok := c.Get("token-a")
		require.True(t, ok)
	}

	entry, ok := c.Entry("token-a")
	require.True(t, ok)
	require.EqualValues(t, 3, entry.AccessCount)
}

func TestLRUEviction(t *testing.T) {
	t.Parallel()

	t.Run("inserting capacity+1 evicts exactly one", func(t *testing.T) {
		clock := newFakeClock()
		c := newTestCache(t, 3, clock)

		for _, tok := range []string{"a", "b", "c", "d"} {
			c.Set(tok, principal(tok), time.Time{})
		}

		stats := c.Stats()
		require.Equal(t, 3, stats.Size)
		require.EqualValues(t, 1, stats.Evictions)

		_, ok := c.Entry("a")
		require.False(t, ok, "oldest untouched entry is evicted")
		for _, tok := range []string{"b", "c", "d"} {
			_, ok := c.Entry(tok)
			require.True(t, ok, tok)
		}
	})

	t.Run("get refreshes recency", func(t *testing.T) {
		clock := newFakeClock()
		c := newTestCache(t, 2, clock)

		c.Set("A", principal("A"), time.Time{})
		c.Set("B", principal("B"), time.Time{})
		_, ok := c.Get("A")
		require.True(t, ok)
		c.Set("C", principal("C"), time.Time{})

		_, ok = c.Get("B")
		require.False(t, ok, "B was least recently used")
		_, ok = c.Get("A")
		require.True(t, ok)
		_, ok = c.Get("C")
		require.True(t, ok)
	})

	t.Run("replacing an existing token does not evict", func(t *testing.T) {
		clock := newFakeClock()
		c := newTestCache(t, 2, clock)

		c.Set("A", principal("A"), time.Time{})
		c.Set("B", principal("B"), time.Time{})
		c.Set("A", principal("A2"), time.Time{})

		require.EqualValues(t, 0, c.Stats().Evictions)
		got, ok := c.Get("A")
		require.True(t, ok)
		require.Equal(t, "A2", got.Subject)

		// A was re-set after B, so B goes first.
		c.Set("C", principal("C"), time.Time{})
		_, ok = c.Entry("B")
		require.False(t, ok)
	})

	t.Run("unexpired entries are still evicted for capacity", func(t *testing.T) {
		clock := newFakeClock()
		c := newTestCache(t, 1, clock)

		c.Set("A", principal("A"), clock.Now().Add(24*time.Hour))
		c.Set("B", principal("B"), clock.Now().Add(time.Minute))

		_, ok := c.Get("A")
		require.False(t, ok)
	})
}

func TestDelete(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := newTestCache(t, 10, clock)

	c.Set("token-a", principal("alice"), time.Time{})
	c.Delete("token-a")
	c.Delete("never-set")

	_, ok := c.Get("token-a")
	require.False(t, ok)
}

func TestDeleteSubject(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := newTestCache(t, 10, clock)

	c.Set("alice-laptop", principal("alice"), time.Time{})
	c.Set("alice-phone", principal("alice"), time.Time{})
	c.Set("bob-laptop", principal("bob"), time.Time{})

	require.Equal(t, 2, c.DeleteSubject("alice"))
	require.Equal(t, 0, c.DeleteSubject("carol"))
	require.Equal(t, 1, c.Len())

	_, ok := c.Get("bob-laptop")
	require.True(t, ok)
}

func TestDeleteSubject_InFlightValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		deleted    string
		wantCached bool
	}{
		{name: "same subject is not cached", deleted: "alice", wantCached: false},
		{name: "other subject is cached", deleted: "bob", wantCached: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := newTestCache(t, 10, newFakeClock())

			started := make(chan struct{})
			release := make(chan struct{})
			validate := func(context.Context, string) (domain.Principal, time.Time, error) {
				close(started)
				<-release
				return domain.Principal{Subject: "alice", IsAdmin: true}, time.Time{}, nil
			}

			type result struct {
				p   domain.Principal
				err error
			}
			done := make(chan result, 1)
			go func() {
				p, err := c.GetOrValidate(context.Background(), "alice-token", validate)
				done <- result{p, err}
			}()

			<-started
			c.DeleteSubject(tt.deleted)
			close(release)

			// The waiting caller still gets the answer it asked for.
			res := <-done
			require.NoError(t, res.err)
			require.Equal(t, "alice", res.p.Subject)

			_, ok := c.Get("alice-token")
			require.Equal(t, tt.wantCached, ok)

			// A validation that starts after the revocation caches as usual.
			_, err := c.GetOrValidate(context.Background(), "alice-token", func(context.Context, string) (domain.Principal, time.Time, error) {
				return principal("alice"), time.Time{}, nil
			})
			require.NoError(t, err)
			_, ok = c.Get("alice-token")
			require.True(t, ok)
		})
	}
}

func TestCleanup(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := newTestCache(t, 10, clock)

	c.Set("short", principal("s"), clock.Now().Add(time.Minute))
	c.Set("exact", principal("e"), clock.Now().Add(2*time.Minute))
	c.Set("long", principal("l"), clock.Now().Add(time.Hour))

	clock.Advance(2 * time.Minute)
	require.Equal(t, 2, c.Cleanup())
	require.Equal(t, 1, c.Len())
	require.Equal(t, 0, c.Cleanup(), "cleanup is idempotent")

	_, ok := c.Get("long")
	require.True(t, ok)
}

func TestGetOrValidate(t *testing.T) {
	t.Parallel()

	t.Run("hit does not call validate", func(t *testing.T) {
		clock := newFakeClock()
		c := newTestCache(t, 10, clock)
		c.Set("token-a", principal("alice"), time.Time{})

		got, err := c.GetOrValidate(context.Background(), "token-a",
			func(context.Context, string) (domain.Principal, time.Time, error) {
				t.Fatal("validate must not be called on a hit")
				return domain.Principal{}, time.Time{}, nil
			})
		require.NoError(t, err)
		require.Equal(t, "alice", got.Subject)
	})

	t.Run("miss validates and caches with provider expiry", func(t *testing.T) {
		clock := newFakeClock()
		c := newTestCache(t, 10, clock)
		exp := clock.Now().Add(5 * time.Minute)

		var seen string
		got, err := c.GetOrValidate(context.Background(), "token-a",
			func(_ context.Context, raw string) (domain.Principal, time.Time, error) {
				seen = raw
				return principal("alice"), exp, nil
			})
		require.NoError(t, err)
		require.Equal(t, "alice", got.Subject)
		require.Equal(t, "token-a", seen)

		entry, ok := c.Entry("token-a")
		require.True(t, ok)
		require.Equal(t, exp, entry.ExpiresAt)
	})

	t.Run("miss without expiry uses default ttl", func(t *testing.T) {
		clock := newFakeClock()
		c := newTestCache(t, 10, clock)

		_, err := c.GetOrValidate(context.Background(), "token-a",
			func(context.Context, string) (domain.Principal, time.Time, error) {
				return principal("alice"), time.Time{}, nil
			})
		require.NoError(t, err)

		entry, ok := c.Entry("token-a")
		require.True(t, ok)
		require.Equal(t, clock.Now().Add(time.Hour), entry.ExpiresAt)
	})

	t.Run("failures are not cached", func(t *testing.T) {
		clock := newFakeClock()
		c := newTestCache(t, 10, clock)

		var calls atomic.Int32
		reject := func(context.Context, string) (domain.Principal, time.Time, error) {
			calls.Add(1)
			return domain.Principal{}, time.Time{}, domain.ErrInvalidOrExpiredToken
		}

		_, err := c.GetOrValidate(context.Background(), "bad", reject)
		require.ErrorIs(t, err, domain.ErrInvalidOrExpiredToken)
		require.Equal(t, 0, c.Len())

		_, err = c.GetOrValidate(context.Background(), "bad", reject)
		require.ErrorIs(t, err, domain.ErrInvalidOrExpiredToken)
		require.EqualValues(t, 2, calls.Load(), "second call goes upstream again")
	})

	t.Run("panicking validator becomes an error", func(t *testing.T) {
		clock := newFakeClock()
		c := newTestCache(t, 10, clock)

		_, err := c.GetOrValidate(context.Background(), "boom",
			func(context.Context, string) (domain.Principal, time.Time, error) {
				panic("provider bug")
			})
		require.ErrorContains(t, err, "provider bug")

		// The in-flight slot was released.
		got, err := c.GetOrValidate(context.Background(), "boom",
			func(context.Context, string) (domain.Principal, time.Time, error) {
				return principal("ok"), time.Time{}, nil
			})
		require.NoError(t, err)
		require.Equal(t, "ok", got.Subject)
	})
}

func TestGetOrValidate_Concurrent(t *testing.T) {
	t.Parallel()

	const callers = 16

	run := func(t *testing.T, validate ValidateFunc) ([]domain.Principal, []error) {
		t.Helper()
		c, err := New(Config{MaxSize: 10})
		require.NoError(t, err)

		var (
			wg      sync.WaitGroup
			start   = make(chan struct{})
			results = make([]domain.Principal, callers)
			errs    = make([]error, callers)
		)
		for i := range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				results[i], errs[i] = c.GetOrValidate(context.Background(), "shared-token", validate)
			}()
		}
		close(start)
		wg.Wait()
		return results, errs
	}

	t.Run("success is shared", func(t *testing.T) {
		var calls atomic.Int32
		results, errs := run(t, func(context.Context, string) (domain.Principal, time.Time, error) {
			calls.Add(1)
			time.Sleep(100 * time.Millisecond)
			return principal("alice"), time.Time{}, nil
		})

		require.EqualValues(t, 1, calls.Load())
		for i := range callers {
			require.NoError(t, errs[i])
			require.Equal(t, principal("alice"), results[i])
		}
	})

	t.Run("failure is shared", func(t *testing.T) {
		var calls atomic.Int32
		upstream := errors.New("upstream exploded")
		_, errs := run(t, func(context.Context, string) (domain.Principal, time.Time, error) {
			calls.Add(1)
			time.Sleep(100 * time.Millisecond)
			return domain.Principal{}, time.Time{}, upstream
		})

		require.EqualValues(t, 1, calls.Load())
		for i := range callers {
			require.ErrorIs(t, errs[i], upstream)
		}
	})
}

func TestGetOrValidate_CallerCancellation(t *testing.T) {
	t.Parallel()

	c, err := New(Config{MaxSize: 10})
	require.NoError(t, err)

	release := make(chan struct{})
	var upstreamErr atomic.Value
	validate := func(ctx context.Context, _ string) (domain.Principal, time.Time, error) {
		<-release
		upstreamErr.Store(fmt.Sprint(ctx.Err()))
		return principal("alice"), time.Time{}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.GetOrValidate(ctx, "token", validate)
		done <- err
	}()

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(release)
	require.Eventually(t, func() bool {
		_, ok := c.Entry("token")
		return ok
	}, time.Second, 10*time.Millisecond, "abandoned validation still populates the cache")

	// The shared call does not inherit the first caller's cancellation.
	require.Equal(t, "<nil>", upstreamErr.Load())
}

func TestStats(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := newTestCache(t, 5, clock)

	c.Set("a", principal("a"), time.Time{})
	c.Get("a")
	c.Get("a")
	c.Get("a")
	c.Get("missing")

	stats := c.Stats()
	require.Equal(t, 1, stats.Size)
	require.Equal(t, 5, stats.MaxSize)
	require.EqualValues(t, 3, stats.Hits)
	require.EqualValues(t, 1, stats.Misses)
	require.InDelta(t, 0.75, stats.HitRate, 1e-9)

	empty := newTestCache(t, 5, clock)
	require.Zero(t, empty.Stats().HitRate)
}
