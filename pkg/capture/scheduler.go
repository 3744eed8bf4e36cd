package capture

import (
	"context"
	"time"
)

// Scheduler paces the tick loop of a capture run.
type Scheduler interface {
	Start()
	// Next blocks until the next tick or until ctx is done.
	Next(ctx context.Context) error
	Stop()
}

// IntervalScheduler ticks at a fixed interval. Ticks that arrive while the
// loop is still busy are dropped, so a slow detection never queues frames.
type IntervalScheduler struct {
	interval time.Duration
	ticker   *time.Ticker
}

// NewIntervalScheduler creates a scheduler ticking every interval.
func NewIntervalScheduler(interval time.Duration) *IntervalScheduler {
	return &IntervalScheduler{interval: interval}
}

// FPSScheduler creates a scheduler ticking at the camera frame rate.
func FPSScheduler(fps int) *IntervalScheduler {
	if fps <= 0 {
		fps = 15
	}
	return NewIntervalScheduler(time.Second / time.Duration(fps))
}

func (s *IntervalScheduler) Start() {
	s.ticker = time.NewTicker(s.interval)
}

func (s *IntervalScheduler) Next(ctx context.Context) error {
	select {
	case <-s.ticker.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *IntervalScheduler) Stop() {
	if s.ticker != nil {
		s.ticker.Stop()
	}
}

// ImmediateScheduler ticks as fast as the loop runs. Used for replay and tests.
type ImmediateScheduler struct{}

func (ImmediateScheduler) Start() {}

func (ImmediateScheduler) Next(ctx context.Context) error {
	return ctx.Err()
}

func (ImmediateScheduler) Stop() {}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
