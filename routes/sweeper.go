package routes

import (
	"context"
	"log/slog"
	"time"

	"student-polling-backend/cache"
)

const sweeperLockName = "lock:poll-expiry-sweeper"

// ExpiryCloser closes polls whose end date has passed.
type ExpiryCloser interface {
	CloseExpired(ctx context.Context) ([]string, error)
}

// FilterWarmer rebuilds the poll existence filter.
type FilterWarmer interface {
	FilterReady(ctx context.Context) bool
	WarmFilter(ctx context.Context) error
}

// SweepRecorder counts closed polls.
type SweepRecorder interface {
	PollsClosed(n int)
}

// Sweeper periodically closes expired polls. With a lock service only one
// replica sweeps per tick.
type Sweeper struct {
	Interval time.Duration
	Polls    ExpiryCloser
	Filter   FilterWarmer
	Locks    *cache.DistributedLockService
	Metrics  SweepRecorder
	Log      *slog.Logger
}

// Run sweeps once immediately and then every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	sweep := func() error {
		s.warmFilter(ctx)
		return s.closeExpired(ctx)
	}

	if s.Locks == nil {
		if err := sweep(); err != nil {
			s.Log.Error("poll sweep failed", "error", err)
		}
		return
	}
	ran, err := s.Locks.TryWithLock(ctx, sweeperLockName, s.Interval, sweep)
	if err != nil {
		s.Log.Error("poll sweep failed", "error", err)
		return
	}
	if !ran {
		s.Log.Debug("poll sweep skipped, another instance holds the lock")
	}
}

func (s *Sweeper) warmFilter(ctx context.Context) {
	if s.Filter == nil || s.Filter.FilterReady(ctx) {
		return
	}
	if err := s.Filter.WarmFilter(ctx); err != nil {
		s.Log.Warn("poll filter warm-up failed", "error", err)
	}
}

func (s *Sweeper) closeExpired(ctx context.Context) error {
	ids, err := s.Polls.CloseExpired(ctx)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		s.Log.Info("closed expired polls", "count", len(ids), "poll_ids", ids)
		if s.Metrics != nil {
			s.Metrics.PollsClosed(len(ids))
		}
	}
	return nil
}
