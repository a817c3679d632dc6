package delivery

import (
	"context"
	"sync"

	kit "dynpush/internal/transport"
)

// Result is the outcome of delivering one message to one target.
type Result struct {
	Target kit.ChatTarget
	Ref    kit.MessageRef
	// Err is the error of the rich message. When Fallback is true the plain
	// fallback text was delivered instead and FallbackErr holds its outcome.
	Err         error
	Fallback    bool
	FallbackErr error
}

// Delivered reports whether anything reached the target.
func (r Result) Delivered() bool {
	return r.Err == nil || (r.Fallback && r.FallbackErr == nil)
}

// Broadcast sends msg to every target concurrently. A failed target gets
// one attempt with fallback (skipped when fallback is ""). Results are in
// target order.
func Broadcast(ctx context.Context, s kit.Sender, targets []kit.ChatTarget, msg kit.Message, fallback string) ([]Result, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	out := make([]Result, len(targets))
	var wg sync.WaitGroup
	for i, to := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := Result{Target: to}
			r.Ref, r.Err = s.SendMessage(ctx, to, msg)
			if r.Err != nil && fallback != "" && ctx.Err() == nil {
				r.Fallback = true
				r.Ref, r.FallbackErr = s.SendText(ctx, to, fallback, &kit.SendOptions{})
			}
			out[i] = r
		}()
	}
	wg.Wait()
	return out, nil
}
