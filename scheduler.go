package watchtracker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Scheduler runs fn every interval until the returned stop func is called
// or ctx is done. stop blocks until an in-flight run has returned.
type Scheduler interface {
	Schedule(ctx context.Context, interval time.Duration, fn func(context.Context)) (stop func())
}

// TickerScheduler drives callbacks from a time.Ticker in one goroutine.
// The first run happens one interval after Schedule. Runs never overlap,
// and a tick left pending by a run longer than interval is discarded, so
// the next run waits for the following tick.
type TickerScheduler struct{}

func (TickerScheduler) Schedule(ctx context.Context, interval time.Duration, fn func(context.Context)) func() {
	if fn == nil || interval <= 0 {
		log.Warn().Dur("interval", interval).Msg("scheduler: invalid schedule ignored")
		return func() {}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		runOnTicks(ctx, ticker.C, fn)
	}()
	return func() {
		cancel()
		<-done
	}
}

func runOnTicks(ctx context.Context, ticks <-chan time.Time, fn func(context.Context)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			fn(ctx)
			select {
			case <-ticks:
			default:
			}
		}
	}
}

// ManualScheduler records the scheduled callback and only runs it on Fire.
type ManualScheduler struct {
	mu       sync.Mutex
	ctx      context.Context
	fn       func(context.Context)
	interval time.Duration
	stopped  bool
}

func (m *ManualScheduler) Schedule(ctx context.Context, interval time.Duration, fn func(context.Context)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	m.ctx, m.fn, m.interval, m.stopped = ctx, fn, interval, false
	return func() {
		m.mu.Lock()
		m.stopped = true
		m.mu.Unlock()
	}
}

// Fire runs the callback once. It returns false when nothing is scheduled.
func (m *ManualScheduler) Fire() bool {
	m.mu.Lock()
	fn, ctx, stopped := m.fn, m.ctx, m.stopped
	m.mu.Unlock()
	if fn == nil || stopped {
		return false
	}
	fn(ctx)
	return true
}

// Interval returns the interval passed to the last Schedule call.
func (m *ManualScheduler) Interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}
