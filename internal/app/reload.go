package app

import (
	"context"
	"io"
	"reflect"
	"time"

	"dynpush/internal/config"
	"dynpush/internal/monitor"
	logx "dynpush/pkg/logx"
)

// applyConfig pushes a validated config into the running components. A
// component that rejects its part keeps running with the previous one.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	if newCfg == nil {
		return
	}
	log := a.log.With(logx.String("comp", "reload"))

	a.logs.SetTelegramTarget(logTarget(newCfg), newCfg.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(newCfg))
	a.setOwners(newCfg.Telegram.OwnerUserIDs)

	if dcfg, err := config.ParseDelivery(newCfg.Delivery); err != nil {
		log.Warn("delivery config rejected", logx.Err(err))
	} else {
		a.deliv.Apply(dcfg)
	}

	if oldCfg == nil || feedOptions(oldCfg.Monitor) != feedOptions(newCfg.Monitor) {
		a.swapFeed(newCfg.Monitor, log)
	}

	if fm, err := buildFormatter(newCfg); err != nil {
		log.Warn("format config rejected", logx.Err(err))
	} else {
		a.mon.SetFormatter(fm)
	}

	if err := a.mon.Apply(ctx, monitor.SettingsFromConfig(newCfg.Monitor)); err != nil {
		log.Warn("monitor config rejected", logx.Err(err))
	}

	a.admin.Reconfigure(ctx, mapAdminConfig(newCfg))

	if oldCfg != nil {
		if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
			log.Warn("storage change requires restart")
		}
		if oldCfg.Telegram.Token != newCfg.Telegram.Token || oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout {
			log.Warn("telegram connection change requires restart")
		}
	}

	changed, fields := config.SummarizeConfigChange(oldCfg, newCfg)
	fields = append(fields, logx.Strings("changed", changed))
	log.Info("config reloaded", fields...)
}

func (a *App) swapFeed(m config.MonitorConfig, log logx.Logger) {
	src, closer, err := buildFeed(m)
	if err != nil {
		log.Warn("feed config rejected", logx.Err(err))
		return
	}
	a.mon.SetSource(src)

	a.feedMu.Lock()
	old := a.feedCloser
	a.feedCloser = closer
	a.feedMu.Unlock()
	if old != nil {
		// A cycle that started before the swap may still be fetching with
		// the old client; it is bounded by the check timeout.
		grace := m.EffectiveCheckTimeout()
		if a.sup != nil {
			a.sup.Go0("feed.close_old", func(c context.Context) { closeAfter(c, old, grace, log) })
		} else {
			closeAfter(context.Background(), old, 0, log)
		}
	}
	log.Info("feed rebuilt", logx.Bool("rpc", m.UseRPC))
}

// closeAfter closes c once d has passed, or at once when ctx ends first.
func closeAfter(ctx context.Context, c io.Closer, d time.Duration, log logx.Logger) {
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		}
	}
	if err := c.Close(); err != nil {
		log.Warn("close old feed", logx.Err(err))
	}
}
