package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"dynpush/internal/transport"
	logx "dynpush/pkg/logx"
)

// ErrForbidden is returned to non-owners of owner-only commands.
var ErrForbidden = errors.New("not allowed")

type Middleware func(next transport.CommandHandler) transport.CommandHandler

func Chain(h transport.CommandHandler, m ...Middleware) transport.CommandHandler {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next transport.CommandHandler) transport.CommandHandler {
		return func(ctx context.Context, cmd transport.Command) (string, error) {
			if d <= 0 {
				return next(ctx, cmd)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, cmd)
		}
	}
}

// MWOwnerOnly rejects commands from users not in owners. An empty owner
// list rejects everyone.
func MWOwnerOnly(owners func() []int64) Middleware {
	return func(next transport.CommandHandler) transport.CommandHandler {
		return func(ctx context.Context, cmd transport.Command) (string, error) {
			for _, id := range owners() {
				if id == cmd.FromID {
					return next(ctx, cmd)
				}
			}
			return "", ErrForbidden
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next transport.CommandHandler) transport.CommandHandler {
		return func(ctx context.Context, cmd transport.Command) (reply string, err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic recovered",
						logx.String("cmd", cmd.Name),
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, cmd)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next transport.CommandHandler) transport.CommandHandler {
		return func(ctx context.Context, cmd transport.Command) (string, error) {
			start := time.Now()
			reply, err := next(ctx, cmd)
			d := time.Since(start)

			fields := []logx.Field{
				logx.String("cmd", cmd.Name),
				logx.String("chat", cmd.Chat.String()),
				logx.Int64("from_id", cmd.FromID),
				logx.Duration("dur", d),
			}
			switch {
			case errors.Is(err, ErrForbidden):
				log.Debug("command rejected", fields...)
			case err != nil:
				log.Warn("command failed", append(fields, logx.Err(err))...)
			case d >= 750*time.Millisecond:
				log.Info("command ok", fields...)
			default:
				log.Debug("command ok", fields...)
			}
			return reply, err
		}
	}
}
