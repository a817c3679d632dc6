package monitor

import (
	"context"
	"sync"
	"time"
)

// Scheduler runs one cycle at a time on a self re-arming one-shot timer.
// The next delay is read from interval after every cycle, so interval
// changes apply without a restart.
type Scheduler struct {
	run      func(ctx context.Context)
	interval func() time.Duration

	mu      sync.Mutex
	gen     uint64
	running bool
	busy    bool
	reseed  *time.Duration
	timer   *time.Timer
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewScheduler(run func(ctx context.Context), interval func() time.Duration) *Scheduler {
	return &Scheduler{run: run, interval: interval}
}

// Start arms the first cycle after delay. Calling Start on a running
// scheduler is a no-op.
func (s *Scheduler) Start(parent context.Context, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.gen++
	s.running = true
	s.ctx, s.cancel = context.WithCancel(parent)
	s.armLocked(delay)
}

// Reset re-seeds the timer with delay. When a cycle is in flight, the delay
// replaces the interval for the re-arm that follows it.
func (s *Scheduler) Reset(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	if s.busy {
		s.reseed = &delay
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	// A timer that already fired and waits for mu must not start a second chain.
	s.gen++
	s.armLocked(delay)
}

// Stop cancels the pending timer and any running cycle, then waits for it.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) armLocked(d time.Duration) {
	gen := s.gen
	s.timer = time.AfterFunc(max(d, 0), func() { s.fire(gen) })
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if !s.running || gen != s.gen || s.busy {
		s.mu.Unlock()
		return
	}
	s.busy = true
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	s.run(ctx)

	next := s.interval()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	if s.reseed != nil {
		next, s.reseed = *s.reseed, nil
	}
	if s.running && gen == s.gen {
		s.armLocked(next)
	}
}
