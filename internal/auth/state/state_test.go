package state

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/watchlist/internal/auth/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, cfg Config) (*Store, *fakeClock) {
	t.Helper()

	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	if cfg.Now == nil {
		cfg.Now = clock.Now
	}
	s, err := New(cfg)
	require.NoError(t, err)
	return s, clock
}

func TestCreateValidateDelete(t *testing.T) {
	t.Parallel()

	s, clock := newTestStore(t, Config{})

	entry, err := s.Create("/settings")
	require.NoError(t, err)
	require.Len(t, entry.State, 43)
	require.Equal(t, "/settings", entry.ReturnURL)
	require.Equal(t, clock.Now(), entry.CreatedAt)
	require.Equal(t, clock.Now().Add(DefaultTTL), entry.ExpiresAt)

	got, ok := s.Validate(entry.State)
	require.True(t, ok)
	require.Equal(t, entry, got)

	// Validate does not consume.
	_, ok = s.Validate(entry.State)
	require.True(t, ok)

	s.Delete(entry.State)
	_, ok = s.Validate(entry.State)
	require.False(t, ok)
	require.Zero(t, s.Len())
}

func TestCreate_GeneratesDistinctStates(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t, Config{})

	a, err := s.Create("/")
	require.NoError(t, err)
	b, err := s.Create("/")
	require.NoError(t, err)
	require.NotEqual(t, a.State, b.State)
	require.Equal(t, 2, s.Len())
}

func TestCreate_Options(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t, Config{})

	entry, err := s.Create("/watch",
		WithState("client-state"),
		WithCodeChallenge("challenge"),
		WithCodeVerifier("verifier"),
	)
	require.NoError(t, err)
	require.Equal(t, "client-state", entry.State)
	require.Equal(t, "challenge", entry.CodeChallenge)
	require.Equal(t, "verifier", entry.CodeVerifier)

	got, ok := s.Validate("client-state")
	require.True(t, ok)
	require.Equal(t, "challenge", got.CodeChallenge)
}

func TestValidate_Expired(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t, Config{TTL: time.Millisecond, Now: time.Now})

	entry, err := s.Create("/settings")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, ok := s.Validate(entry.State)
	require.False(t, ok)
	require.Zero(t, s.Len(), "expired state is dropped on read")
}

func TestValidate_Unknown(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t, Config{})
	_, ok := s.Validate("never-issued")
	require.False(t, ok)
}

func TestCreate_ReturnURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"relative path", "/settings", false},
		{"relative path with query", "/watch?id=42#top", false},
		{"https", "https://app.example/settings", false},
		{"http", "http://localhost:3000/", false},
		{"javascript", "javascript:alert(1)", true},
		{"ftp", "ftp://evil.example", true},
		{"data", "data:text/html,hi", true},
		{"protocol relative", "//evil.example/path", true},
		{"backslash trick", "/\\evil.example", true},
		{"relative reference", "settings", false},
		{"query only", "?tab=1", false},
		{"parent path", "../x", false},
		{"fragment only", "#top", false},
		{"empty", "", true},
		{"leading blank", " //evil.example", true},
		{"host with port", "evil.example:443", true},
		{"scheme without host", "https:///path", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, _ := newTestStore(t, Config{})
			_, err := s.Create(tt.url)
			if tt.wantErr {
				require.ErrorIs(t, err, domain.ErrUnsafeReturnURL)
				require.Zero(t, s.Len(), "rejected URL must not create state")
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCreate_AllowedHosts(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t, Config{AllowedHosts: []string{"App.Example", " "}})

	_, err := s.Create("https://app.example/settings")
	require.NoError(t, err)

	_, err = s.Create("https://app.example:8443/settings")
	require.NoError(t, err)

	_, err = s.Create("https://evil.example/settings")
	require.ErrorIs(t, err, domain.ErrUnsafeReturnURL)

	// Relative paths never leave the origin.
	_, err = s.Create("/settings")
	require.NoError(t, err)
}

func TestCreate_EvictsOldest(t *testing.T) {
	t.Parallel()

	s, clock := newTestStore(t, Config{MaxSize: 2})

	a, err := s.Create("/a")
	require.NoError(t, err)
	clock.Advance(time.Second)
	b, err := s.Create("/b")
	require.NoError(t, err)

	// Reading a does not protect it: eviction is by creation order.
	_, ok := s.Validate(a.State)
	require.True(t, ok)

	clock.Advance(time.Second)
	c, err := s.Create("/c")
	require.NoError(t, err)

	require.Equal(t, 2, s.Len())
	_, ok = s.Validate(a.State)
	require.False(t, ok)
	_, ok = s.Validate(b.State)
	require.True(t, ok)
	_, ok = s.Validate(c.State)
	require.True(t, ok)
	require.Equal(t, 2, s.MaxSize())
}

func TestConsume(t *testing.T) {
	t.Parallel()

	s, clock := newTestStore(t, Config{TTL: time.Minute})

	entry, err := s.Create("/settings")
	require.NoError(t, err)

	got, err := s.Consume(entry.State)
	require.NoError(t, err)
	require.Equal(t, entry, got)

	_, err = s.Consume(entry.State)
	require.ErrorIs(t, err, domain.ErrStateNotFoundOrExpired)

	expired, err := s.Create("/later")
	require.NoError(t, err)
	clock.Advance(time.Minute)

	_, err = s.Consume(expired.State)
	require.ErrorIs(t, err, domain.ErrStateNotFoundOrExpired)
	require.Zero(t, s.Len())
}

func TestConsume_ConcurrentSingleWinner(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t, Config{})
	entry, err := s.Create("/settings")
	require.NoError(t, err)

	const callers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Consume(entry.State); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, wins)
}

func TestCleanup(t *testing.T) {
	t.Parallel()

	s, clock := newTestStore(t, Config{TTL: time.Minute})

	_, err := s.Create("/old")
	require.NoError(t, err)
	clock.Advance(30 * time.Second)
	fresh, err := s.Create("/fresh")
	require.NoError(t, err)
	clock.Advance(45 * time.Second)

	require.Equal(t, 1, s.Cleanup())
	require.Equal(t, 1, s.Len())

	_, ok := s.Validate(fresh.State)
	require.True(t, ok)

	require.Zero(t, s.Cleanup())
}
