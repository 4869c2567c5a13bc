package service

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCleanupInterval is how often expired cache entries and CSRF states
// are swept when no interval is configured.
const DefaultCleanupInterval = 60 * time.Second

// Sweeper drops expired entries and reports how many it removed. Both the
// validation cache and the CSRF state store implement it.
type Sweeper interface {
	Cleanup() int
}

// HousekeepingService periodically sweeps the in-memory stores so expired
// entries do not linger until their next lookup.
type HousekeepingService struct {
	Sweepers map[string]Sweeper
	Logger   *slog.Logger
	Interval time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewHousekeepingService creates a housekeeping service. If interval is 0 or
// negative, it defaults to DefaultCleanupInterval.
func NewHousekeepingService(sweepers map[string]Sweeper, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &HousekeepingService{
		Sweepers: sweepers,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background worker. It is non-blocking; call Stop to shut
// the worker down.
func (s *HousekeepingService) Start() {
	s.startOnce.Do(func() {
		s.started.Store(true)
		go s.run()
		s.Logger.Info("housekeeping service started", "interval", s.Interval)
	})
}

// Stop shuts the worker down and waits for an in-progress sweep to finish.
// It is safe to call more than once, and before Start.
func (s *HousekeepingService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if !s.started.Load() {
			return
		}
		<-s.doneCh
		s.Logger.Info("housekeeping service stopped")
	})
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stopCh:
			return
		}
	}
}

// Sweep runs every sweeper once and returns the removals per sweeper.
func (s *HousekeepingService) Sweep() map[string]int {
	removed := make(map[string]int, len(s.Sweepers))
	total := 0
	for name, sw := range s.Sweepers {
		n := sw.Cleanup()
		removed[name] = n
		total += n
	}

	if total > 0 {
		s.Logger.Debug("housekeeping sweep completed", "removed", removed)
	}
	return removed
}
