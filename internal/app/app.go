package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"dynpush/internal/admin"
	"dynpush/internal/config"
	"dynpush/internal/delivery"
	"dynpush/internal/eventbus"
	"dynpush/internal/monitor"
	rtsup "dynpush/internal/runtime/supervisor"
	"dynpush/internal/storage"
	kit "dynpush/internal/transport"
	telegram "dynpush/internal/transport/telegram/adapter"
	logx "dynpush/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager

	sup    *rtsup.Supervisor
	cancel context.CancelFunc

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	deliv   *delivery.Service
	mon     *monitor.Service
	admin   *admin.Service

	feedMu     sync.Mutex
	feedCloser io.Closer

	owners atomic.Pointer[[]int64]
}

// New loads the config and wires every component without starting any
// background work.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap with the Telegram sink off, set its target, then enable it;
	// otherwise Apply warns about a sink without a chat.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	logSvc.SetTelegramTarget(logTarget(cfg), cfg.Logging.Telegram.ThreadID)
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	fail := func(err error) (*App, error) {
		if store != nil {
			_ = store.Close()
		}
		_ = logSvc.Close()
		return nil, err
	}

	dcfg, err := config.ParseDelivery(cfg.Delivery)
	if err != nil {
		return fail(err)
	}
	deliv := delivery.New(ad, dcfg, log.With(logx.String("comp", "delivery")))

	fm, err := buildFormatter(cfg)
	if err != nil {
		return fail(err)
	}
	src, closer, err := buildFeed(cfg.Monitor)
	if err != nil {
		return fail(err)
	}

	bus := eventbus.New()
	mon := monitor.New(monitor.Options{
		Source:    src,
		Formatter: fm,
		Sender:    deliv,
		Store:     store,
		Bus:       bus,
		Log:       log.With(logx.String("comp", "monitor")),
	})
	if err := mon.Apply(context.Background(), monitor.SettingsFromConfig(cfg.Monitor)); err != nil {
		_ = closer.Close()
		return fail(fmt.Errorf("monitor: %w", err))
	}

	a := &App{
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		bus:        bus,
		store:      store,
		adapter:    ad,
		deliv:      deliv,
		mon:        mon,
		admin:      admin.New(mon, log.With(logx.String("comp", "admin"))),
		feedCloser: closer,
	}
	a.setOwners(cfg.Telegram.OwnerUserIDs)
	a.registerCommands()
	return a, nil
}

func (a *App) Monitor() *monitor.Service { return a.mon }

func (a *App) setOwners(ids []int64) {
	cp := append([]int64(nil), ids...)
	a.owners.Store(&cp)
}

func (a *App) ownerIDs() []int64 {
	if p := a.owners.Load(); p != nil {
		return *p
	}
	return nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.sup = rtsup.New(runCtx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	c := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return ValidateConfig(cfg)
	})

	if err := a.adapter.Start(c); err != nil {
		return err
	}
	if err := a.mon.Start(c); err != nil {
		return err
	}
	a.admin.Reconfigure(c, mapAdminConfig(a.cfgm.Get()))

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.startNotify()
	a.log.Info("app started", logx.Int("accounts", len(a.cfgm.Get().Monitor.Accounts)))
	return nil
}

// Stop shuts components down in dependency order, each step bounded.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifyStopping()
	a.cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, time.Until(dl))
		}
		stepCtx, cancel := context.WithTimeout(stepCtx, max(limit, 0))
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("monitor", 5*time.Second, func(context.Context) error { a.mon.Stop(); return nil })
	step("admin", time.Second, func(c context.Context) error { a.admin.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("resources", time.Second, func(context.Context) error { return a.closeResources() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// Close releases resources of an app that was never started.
func (a *App) Close() error {
	err := a.closeResources()
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

func (a *App) closeResources() error {
	a.feedMu.Lock()
	closer := a.feedCloser
	a.feedCloser = nil
	a.feedMu.Unlock()

	var errs []string
	if closer != nil {
		if err := closer.Close(); err != nil {
			errs = append(errs, "feed: "+err.Error())
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, "storage: "+err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close: %s", strings.Join(errs, "; "))
	}
	return nil
}

// CheckOnce runs one manual check of every account.
func (a *App) CheckOnce(ctx context.Context) monitor.CycleResult {
	return a.mon.CheckAll(ctx)
}

// PushOnce force-pushes one post; nil targets use the account's targets.
func (a *App) PushOnce(ctx context.Context, postID string, targets []kit.ChatTarget) ([]delivery.Result, error) {
	return a.mon.ForcePush(ctx, postID, targets)
}
