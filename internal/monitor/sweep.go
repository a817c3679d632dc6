package monitor

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"dynpush/internal/config"
	logx "dynpush/pkg/logx"
)

// sweeper runs a full check on a cron schedule.
type sweeper struct {
	spec string
	c    *cron.Cron
}

func startSweep(spec string, run func(), log logx.Logger) (*sweeper, error) {
	cl := cronLogger{log: log}
	c := cron.New(
		cron.WithParser(config.SweepParser),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		cron.WithLogger(cl),
	)
	if _, err := c.AddFunc(spec, run); err != nil {
		return nil, fmt.Errorf("sweep schedule %q: %w", spec, err)
	}
	c.Start()
	return &sweeper{spec: spec, c: c}, nil
}

func (w *sweeper) stop() {
	if w == nil {
		return
	}
	<-w.c.Stop().Done()
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
