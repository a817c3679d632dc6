package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"dynpush/internal/delivery"
	"dynpush/internal/eventbus"
	"dynpush/internal/feed"
	"dynpush/internal/format"
	"dynpush/internal/storage"
	kit "dynpush/internal/transport"
	logx "dynpush/pkg/logx"
)

// reconfigureDelay seeds the timer after start (when immediate) and after
// the account list or interval changes.
const reconfigureDelay = time.Second

var ErrNotRunning = errors.New("monitor not running")

type Options struct {
	Source    feed.Adapter
	Formatter format.Formatter
	Sender    kit.Sender
	Store     storage.Store // nil disables persistence
	Bus       eventbus.Bus  // optional
	Log       logx.Logger
}

// Service owns the account list, the queue and the scheduler.
type Service struct {
	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store
	tr    tracker
	queue *Queue

	mu        sync.RWMutex
	src       feed.Adapter
	formatter format.Formatter
	sender    kit.Sender
	settings  Settings
	accounts  map[int64]*Account
	order     []*Account

	runMu  sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	sched  *Scheduler
	sweep  *sweeper

	lastMu  sync.Mutex
	last    CycleResult
	hasLast bool
}

// snapshot is what one cycle works with; reloads apply to the next cycle.
type snapshot struct {
	settings Settings
	src      feed.Adapter
	disp     *Dispatcher
}

func New(opt Options) *Service {
	log := opt.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:       log,
		bus:       opt.Bus,
		store:     opt.Store,
		tr:        tracker{store: opt.Store, log: log, now: time.Now},
		queue:     NewQueue(),
		src:       opt.Source,
		formatter: opt.Formatter,
		sender:    opt.Sender,
		accounts:  map[int64]*Account{},
	}
}

// SetSource swaps the fetch adapter (use_rpc toggled on reload).
func (s *Service) SetSource(src feed.Adapter) {
	s.mu.Lock()
	s.src = src
	s.mu.Unlock()
}

// SetFormatter swaps the formatter (ignore rules changed on reload).
func (s *Service) SetFormatter(f format.Formatter) {
	s.mu.Lock()
	s.formatter = f
	s.mu.Unlock()
}

// Apply installs new settings. Known accounts keep their state; new ones
// are restored from the store. When running, a changed account list or
// interval re-seeds the scheduler.
func (s *Service) Apply(ctx context.Context, st Settings) error {
	s.mu.RLock()
	prev := s.settings
	known := make(map[int64]*Account, len(s.accounts))
	for uid, a := range s.accounts {
		known[uid] = a
	}
	s.mu.RUnlock()

	order := make([]*Account, 0, len(st.Accounts))
	byUID := make(map[int64]*Account, len(st.Accounts))
	for _, spec := range st.Accounts {
		if _, dup := byUID[spec.UID]; dup {
			continue
		}
		a, ok := known[spec.UID]
		if ok {
			a.setTargets(spec.Targets)
		} else {
			saved, err := s.loadState(ctx, spec.UID)
			if err != nil {
				return err
			}
			a = newAccount(spec.UID, spec.Targets, saved)
		}
		byUID[spec.UID] = a
		order = append(order, a)
	}

	s.mu.Lock()
	s.settings = st
	s.accounts = byUID
	s.order = order
	s.mu.Unlock()
	s.queue.Rebuild(order)

	s.log.Info("monitor configured", logx.Int("accounts", len(order)), logx.Duration("interval", st.Interval),
		logx.Int("concurrency", st.Concurrency))

	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.sched == nil {
		return nil
	}
	if !sameAccountSet(prev.Accounts, st.Accounts) || prev.Interval != st.Interval {
		s.sched.Reset(reconfigureDelay)
	}
	if prev.SweepSchedule != st.SweepSchedule {
		s.sweep.stop()
		s.sweep = nil
		return s.startSweepLocked(st.SweepSchedule)
	}
	return nil
}

func (s *Service) loadState(ctx context.Context, uid int64) (storage.AccountState, error) {
	if s.store == nil {
		return storage.AccountState{UID: uid}, nil
	}
	st, ok, err := s.store.GetState(ctx, uid)
	if err != nil {
		return storage.AccountState{}, err
	}
	if !ok {
		return storage.AccountState{UID: uid}, nil
	}
	return st, nil
}

// Start arms the scheduler and the optional sweep.
func (s *Service) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.sched != nil {
		return nil
	}
	st := s.snapshot().settings

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.sched = NewScheduler(func(c context.Context) { s.RunCycle(c) }, s.interval)
	delay := st.Interval
	if st.Immediate {
		delay = reconfigureDelay
	}
	s.sched.Start(s.ctx, delay)
	s.log.Info("monitor started", logx.Duration("first_check_in", delay))
	return s.startSweepLocked(st.SweepSchedule)
}

func (s *Service) startSweepLocked(spec string) error {
	if spec == "" {
		return nil
	}
	ctx := s.ctx
	w, err := startSweep(spec, func() { s.CheckAll(ctx) }, s.log.With(logx.String("comp", "sweep")))
	if err != nil {
		return err
	}
	s.sweep = w
	return nil
}

// Stop cancels the pending timer and waits for an in-flight cycle.
func (s *Service) Stop() {
	s.runMu.Lock()
	sched, sweep, cancel := s.sched, s.sweep, s.cancel
	s.sched, s.sweep, s.cancel = nil, nil, nil
	s.runMu.Unlock()
	if sched == nil {
		return
	}
	cancel()
	sched.Stop()
	sweep.stop()
	s.log.Info("monitor stopped")
}

func (s *Service) interval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.Interval
}

func (s *Service) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot{
		settings: s.settings,
		src:      s.src,
		disp:     &Dispatcher{Formatter: s.formatter, Sender: s.sender, Bus: s.bus, Log: s.log},
	}
}

// ForcePush fetches one post by id and delivers it to targets, ignoring
// cursors. With no targets the post goes to its account's configured
// targets. Ignore rules still apply and return format.ErrSuppressed.
func (s *Service) ForcePush(ctx context.Context, postID string, targets []kit.ChatTarget) ([]delivery.Result, error) {
	snap := s.snapshot()
	if snap.src == nil {
		return nil, ErrNotRunning
	}
	p, err := snap.src.Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	name := p.Author
	s.mu.RLock()
	a, known := s.accounts[p.UID]
	s.mu.RUnlock()
	if known {
		if n := a.Name(); n != "" {
			name = n
		}
		if len(targets) == 0 {
			targets = a.Targets()
		}
	}
	if len(targets) == 0 {
		return nil, delivery.ErrNoTargets
	}
	return snap.disp.dispatchOne(ctx, p.UID, name, targets, p)
}

// AccountStatus is the observable state of one account.
type AccountStatus struct {
	UID       int64     `json:"uid"`
	Name      string    `json:"name,omitempty"`
	Cursor    string    `json:"cursor"`
	LastCheck time.Time `json:"last_check,omitzero"`
	Targets   []string  `json:"targets"`
	// QueuePos is the 0-based position in the round-robin queue, -1 while
	// the account is being checked.
	QueuePos int `json:"queue_pos"`
}

// Accounts lists accounts in config order.
func (s *Service) Accounts() []AccountStatus {
	s.mu.RLock()
	order := append([]*Account(nil), s.order...)
	s.mu.RUnlock()

	pos := map[int64]int{}
	for i, a := range s.queue.Snapshot() {
		pos[a.UID] = i
	}
	out := make([]AccountStatus, 0, len(order))
	for _, a := range order {
		st := a.State()
		as := AccountStatus{UID: a.UID, Name: st.DisplayName, Cursor: st.Cursor, LastCheck: st.LastCheck, QueuePos: -1}
		if p, ok := pos[a.UID]; ok {
			as.QueuePos = p
		}
		for _, t := range a.Targets() {
			as.Targets = append(as.Targets, t.String())
		}
		out = append(out, as)
	}
	return out
}

// LastCycle returns the most recent cycle or manual check result.
func (s *Service) LastCycle() (CycleResult, bool) {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return s.last, s.hasLast
}
