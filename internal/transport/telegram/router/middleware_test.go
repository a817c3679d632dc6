package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"dynpush/internal/transport"
	logx "dynpush/pkg/logx"
)

func TestChainOrderAndOwnerOnly(t *testing.T) {
	t.Parallel()
	var order []string
	mark := func(name string) Middleware {
		return func(next transport.CommandHandler) transport.CommandHandler {
			return func(ctx context.Context, cmd transport.Command) (string, error) {
				order = append(order, name)
				return next(ctx, cmd)
			}
		}
	}
	h := Chain(func(context.Context, transport.Command) (string, error) { return "ok", nil },
		mark("a"), mark("b"), MWOwnerOnly(func() []int64 { return []int64{1} }))

	if reply, err := h(context.Background(), transport.Command{FromID: 1}); err != nil || reply != "ok" {
		t.Fatalf("owner: reply=%q err=%v", reply, err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("order = %v", order)
	}
	if _, err := h(context.Background(), transport.Command{FromID: 2}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-owner: err = %v", err)
	}
}

func TestPanicRecoverAndTimeout(t *testing.T) {
	t.Parallel()
	h := Chain(func(ctx context.Context, _ transport.Command) (string, error) {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("expected deadline from MWTimeout")
		}
		panic("boom")
	}, MWPanicRecover(logx.Nop()), MWRequestLog(logx.Nop()), MWTimeout(time.Second))

	if _, err := h(context.Background(), transport.Command{Name: "x"}); err == nil {
		t.Fatal("expected panic to be converted to an error")
	}
}
