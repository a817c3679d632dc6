package monitor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"dynpush/internal/eventbus"
	"dynpush/internal/feed"
	logx "dynpush/pkg/logx"
)

// CycleResult aggregates one cycle or manual check.
type CycleResult struct {
	ID              string        `json:"id"`
	Manual          bool          `json:"manual"`
	Checked         int           `json:"checked"`
	Failed          int           `json:"failed"`
	AccountsWithNew int           `json:"accounts_with_new"`
	NewPosts        int           `json:"new_posts"`
	Started         time.Time     `json:"started"`
	Took            time.Duration `json:"took"`
}

// RunCycle drains up to Concurrency accounts from the queue (all of them
// when unlimited), checks them concurrently and returns them to the tail.
func (s *Service) RunCycle(ctx context.Context) CycleResult {
	snap := s.snapshot()
	accs := s.queue.Pop(snap.settings.Concurrency)
	res := s.checkAccounts(ctx, snap, accs, snap.settings.Concurrency)
	s.queue.PushBack(accs...)
	s.finish(res)
	return res
}

// CheckAll checks every account now, bypassing the queue and the
// concurrency limit.
func (s *Service) CheckAll(ctx context.Context) CycleResult {
	snap := s.snapshot()
	s.mu.RLock()
	accs := append([]*Account(nil), s.order...)
	s.mu.RUnlock()
	res := s.checkAccounts(ctx, snap, accs, 0)
	res.Manual = true
	s.finish(res)
	return res
}

func (s *Service) checkAccounts(ctx context.Context, snap snapshot, accs []*Account, limit int) CycleResult {
	res := CycleResult{ID: uuid.NewString(), Started: time.Now()}
	log := s.log.With(logx.String("cycle", res.ID))

	// Fetch slots shared by every check of this cycle.
	var sem chan struct{}
	if limit > 0 {
		sem = make(chan struct{}, limit)
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, a := range accs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := s.checkOne(ctx, snap, a, sem, log)
			mu.Lock()
			defer mu.Unlock()
			res.Checked++
			switch {
			case err != nil:
				res.Failed++
			case n > 0:
				res.AccountsWithNew++
				res.NewPosts += n
			}
		}()
	}
	wg.Wait()
	res.Took = time.Since(res.Started)
	return res
}

func (s *Service) checkOne(ctx context.Context, snap snapshot, a *Account, sem chan struct{}, log logx.Logger) (n int, err error) {
	log = log.With(logx.Int64("uid", a.UID))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			log.Error("account check panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	// Held through delivery so a second check of this account cannot send
	// newer posts before these.
	a.checkMu.Lock()
	defer a.checkMu.Unlock()

	posts, err := s.fetch(ctx, snap, a, sem)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return 0, err
		}
		log.Warn("check failed", logx.String("name", a.Name()), logx.Err(err))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TopicFetchFailed, Time: time.Now(),
				Data: eventbus.FetchFailed{UID: a.UID, Error: err.Error()}})
		}
		return 0, err
	}
	if len(posts) == 0 {
		return 0, nil
	}

	log.Info("new posts", logx.String("name", a.Name()), logx.Int("count", len(posts)))
	targets := a.Targets()
	if len(targets) == 0 {
		log.Warn("account has no targets, posts dropped")
		return len(posts), nil
	}
	snap.disp.Dispatch(ctx, a.UID, a.Name(), targets, posts)
	return len(posts), nil
}

func (s *Service) fetch(ctx context.Context, snap snapshot, a *Account, sem chan struct{}) ([]feed.Post, error) {
	if snap.src == nil {
		return nil, ErrNotRunning
	}
	if sem != nil {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d := snap.settings.CheckTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return s.tr.check(ctx, a, snap.src, snap.settings.MaxPages)
}

func (s *Service) finish(res CycleResult) {
	s.lastMu.Lock()
	s.last, s.hasLast = res, true
	s.lastMu.Unlock()

	fields := []logx.Field{
		logx.String("cycle", res.ID), logx.Bool("manual", res.Manual), logx.Int("checked", res.Checked),
		logx.Int("failed", res.Failed), logx.Int("accounts_with_new", res.AccountsWithNew),
		logx.Int("new_posts", res.NewPosts), logx.Duration("took", res.Took),
	}
	if res.NewPosts > 0 || res.Failed > 0 || res.Manual {
		s.log.Info("cycle done", fields...)
	} else {
		s.log.Debug("cycle done", fields...)
	}

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TopicCycle, Time: time.Now(), Data: eventbus.CycleDone{
			ID: res.ID, Manual: res.Manual, Checked: res.Checked, Failed: res.Failed,
			AccountsWithNew: res.AccountsWithNew, NewPosts: res.NewPosts, Took: res.Took,
		}})
	}
}
