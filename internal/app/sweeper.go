package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dixxi1208/GryazBot/internal/adapter/metrics"
	"github.com/dixxi1208/GryazBot/internal/domain"
	"github.com/dixxi1208/GryazBot/internal/platform/correlation"
	"github.com/jonboulle/clockwork"
)

const (
	minSweepInterval = 15 * time.Second
	maxSweepInterval = 300 * time.Second
	sweepTimeout     = 30 * time.Second
)

// SweepInterval derives the sweep period from the vote timeout: half the
// timeout, clamped to [15s, 300s]. A positive override wins. Zero means the
// sweeper is disabled.
func SweepInterval(voteTimeout, override time.Duration) time.Duration {
	if voteTimeout <= 0 {
		return 0
	}
	if override > 0 {
		return override
	}
	return min(max(voteTimeout/2, minSweepInterval), maxSweepInterval)
}

type staleExpirer interface {
	ExpireStale(ctx context.Context) ([]domain.Poll, error)
}

// SweepLock makes sure only one instance sweeps at a time.
type SweepLock interface {
	// Hold acquires the lock or extends it when this instance already owns it.
	Hold(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// SweepStatus is a snapshot of the sweeper for health reporting.
type SweepStatus struct {
	Enabled  bool
	Interval time.Duration
	// Leader is true when this instance did the last sweep. Without a lock
	// every instance sweeps and is its own leader.
	Leader      bool
	LastRun     time.Time
	LastResult  string
	LastExpired int
}

// Sweeper expires stale polls without waiting for someone to vote on them.
type Sweeper struct {
	expirer  staleExpirer
	notifier domain.PollNotifier
	lock     SweepLock
	clock    clockwork.Clock
	interval time.Duration
	metrics  *metrics.SweepMetrics

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup

	statusMu sync.Mutex
	last     SweepStatus
}

// NewSweeper builds a sweeper. notifier, lock and m may be nil.
func NewSweeper(expirer staleExpirer, notifier domain.PollNotifier, lock SweepLock, clock clockwork.Clock, interval time.Duration, m *metrics.SweepMetrics) *Sweeper {
	return &Sweeper{
		expirer:  expirer,
		notifier: notifier,
		lock:     lock,
		clock:    clock,
		interval: interval,
		metrics:  m,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop. It does nothing when the interval is zero.
func (s *Sweeper) Start() {
	if s.interval <= 0 {
		slog.Info("Poll sweeper disabled")
		return
	}
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.run()
		slog.Info("Poll sweeper started", "interval", s.interval)
	})
}

// Stop ends the loop and waits for it. Safe to call more than once.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()

	if s.lock != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.lock.Release(ctx); err != nil {
			slog.Warn("Failed to release sweep lock", "error", err)
		}
		s.metrics.SetLeader(false)
	}
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.Chan():
			ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
			_, _ = s.SweepOnce(correlation.WithID(ctx, correlation.NewID()))
			cancel()
		}
	}
}

// Status returns what the last sweep did.
func (s *Sweeper) Status() SweepStatus {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	st := s.last
	st.Enabled = s.interval > 0
	st.Interval = s.interval
	return st
}

func (s *Sweeper) record(start time.Time, leader bool, result string, expired int) {
	s.metrics.Run(result, expired, s.clock.Since(start))

	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.last = SweepStatus{Leader: leader, LastRun: start, LastResult: result, LastExpired: expired}
}

// SweepOnce runs one sweep and returns the number of polls it expired.
// It returns 0 without sweeping when another instance holds the lock.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	start := s.clock.Now()

	if s.lock != nil {
		leader, err := s.lock.Hold(ctx)
		if err != nil {
			slog.WarnContext(ctx, "Sweep lock check failed", "error", err)
			s.record(start, false, "error", 0)
			return 0, err
		}
		s.metrics.SetLeader(leader)
		if !leader {
			s.record(start, false, "skipped", 0)
			return 0, nil
		}
	}

	expired, err := s.expirer.ExpireStale(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Sweep failed", "error", err)
		s.record(start, true, "error", 0)
		return 0, err
	}

	for _, poll := range expired {
		s.notifyExpired(ctx, poll)
	}

	s.record(start, true, "ok", len(expired))
	if len(expired) > 0 {
		slog.InfoContext(ctx, "Sweep expired polls", "count", len(expired))
	} else {
		slog.DebugContext(ctx, "Sweep found nothing to expire")
	}
	return len(expired), nil
}

func (s *Sweeper) notifyExpired(ctx context.Context, poll domain.Poll) {
	if s.notifier == nil {
		return
	}
	at := s.clock.Now()
	if poll.ResolvedAt != nil {
		at = *poll.ResolvedAt
	}
	if err := s.notifier.PublishPollEvent(ctx, domain.NewPollEvent(domain.PollEventResolved, poll, 0, at)); err != nil {
		slog.WarnContext(ctx, "Failed to publish expiry", "poll_id", poll.ID, "error", err)
	}
}
