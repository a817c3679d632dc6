package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dynpush/internal/delivery"
	"dynpush/internal/monitor"
	kit "dynpush/internal/transport"
	"dynpush/internal/transport/telegram/router"
	logx "dynpush/pkg/logx"
)

const commandTimeout = 90 * time.Second

var errUsage = errors.New("usage: /push <post id>")

func (a *App) registerCommands() {
	log := a.log.With(logx.String("comp", "commands"))
	mw := []router.Middleware{
		router.MWPanicRecover(log),
		router.MWRequestLog(log),
		router.MWOwnerOnly(a.ownerIDs),
		router.MWTimeout(commandTimeout),
	}
	a.adapter.Handle("check", router.Chain(a.cmdCheck, mw...))
	a.adapter.Handle("push", router.Chain(a.cmdPush, mw...))
	a.adapter.Handle("status", router.Chain(a.cmdStatus, mw...))
}

func (a *App) cmdCheck(ctx context.Context, _ kit.Command) (string, error) {
	return cycleReply(a.mon.CheckAll(ctx)), nil
}

// cmdPush sends one post to the chat the command came from.
func (a *App) cmdPush(ctx context.Context, cmd kit.Command) (string, error) {
	if len(cmd.Args) != 1 || strings.TrimSpace(cmd.Args[0]) == "" {
		return "", errUsage
	}
	res, err := a.mon.ForcePush(ctx, strings.TrimSpace(cmd.Args[0]), []kit.ChatTarget{cmd.Chat})
	if err != nil {
		return "", err
	}
	// Delivered here already; a reply would only duplicate it.
	if err := failedResult(res); err != nil {
		return "", err
	}
	return "", nil
}

func (a *App) cmdStatus(context.Context, kit.Command) (string, error) {
	var b strings.Builder
	if last, ok := a.mon.LastCycle(); ok {
		b.WriteString(cycleReply(last))
		b.WriteString("\n")
	}
	b.WriteString(statusReply(a.mon.Accounts()))
	return b.String(), nil
}

func cycleReply(r monitor.CycleResult) string {
	kind := "cycle"
	if r.Manual {
		kind = "check"
	}
	s := fmt.Sprintf("%s %s: %d checked, %d new posts from %d accounts",
		kind, r.ID, r.Checked, r.NewPosts, r.AccountsWithNew)
	if r.Failed > 0 {
		s += fmt.Sprintf(", %d failed", r.Failed)
	}
	return s + fmt.Sprintf(" (%s)", r.Took.Round(time.Millisecond))
}

func statusReply(accs []monitor.AccountStatus) string {
	if len(accs) == 0 {
		return "no accounts"
	}
	var b strings.Builder
	for _, st := range accs {
		name := st.Name
		if name == "" {
			name = "?"
		}
		cursor := st.Cursor
		if cursor == "" {
			cursor = "-"
		}
		fmt.Fprintf(&b, "%d %s cursor=%s", st.UID, name, cursor)
		if st.QueuePos < 0 {
			b.WriteString(" checking")
		} else {
			fmt.Fprintf(&b, " queue=%d", st.QueuePos)
		}
		if !st.LastCheck.IsZero() {
			fmt.Fprintf(&b, " last=%s", st.LastCheck.Format(time.TimeOnly))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func failedResult(res []delivery.Result) error {
	for _, r := range res {
		if !r.Delivered() {
			if r.Err != nil {
				return r.Err
			}
			return errors.New("delivery failed")
		}
	}
	return nil
}
