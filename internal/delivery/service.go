// Package delivery sends chat messages with process-wide throttling and
// per-message retries.
//
// Service wraps a transport.Sender and is itself a transport.Sender, so the
// monitor and the admin operations share one rate limit. Broadcast fans one
// message out to many targets with per-target failure isolation.
package delivery

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"dynpush/internal/config"
	kit "dynpush/internal/transport"
	logx "dynpush/pkg/logx"
)

var ErrNoTargets = errors.New("no delivery targets")

type Service struct {
	mu      sync.Mutex
	sender  kit.Sender
	cfg     config.Delivery
	limiter *rate.Limiter
	log     logx.Logger
}

func New(sender kit.Sender, cfg config.Delivery, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{sender: sender, log: log}
	s.Apply(cfg)
	return s
}

// Apply swaps the delivery settings. In-flight sends keep the old snapshot.
func (s *Service) Apply(cfg config.Delivery) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limiter == nil || s.cfg.RatePerSec != cfg.RatePerSec {
		// Burst = rate per sec so short spikes don't block too hard.
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	s.cfg = cfg
}

func (s *Service) snapshot() (config.Delivery, *rate.Limiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.limiter
}

func (s *Service) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return s.withRetry(ctx, to, func(c context.Context) (kit.MessageRef, error) {
		return s.sender.SendText(c, to, text, opt)
	})
}

func (s *Service) SendMessage(ctx context.Context, to kit.ChatTarget, msg kit.Message) (kit.MessageRef, error) {
	return s.withRetry(ctx, to, func(c context.Context) (kit.MessageRef, error) {
		return s.sender.SendMessage(c, to, msg)
	})
}

func (s *Service) withRetry(ctx context.Context, to kit.ChatTarget, send func(context.Context) (kit.MessageRef, error)) (kit.MessageRef, error) {
	cfg, lim := s.snapshot()
	maxAttempts := 1 + max(cfg.RetryMax, 0)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return kit.MessageRef{}, err
		}

		callCtx := ctx
		cancel := func() {}
		if cfg.SendTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, cfg.SendTimeout)
		}
		ref, err := send(callCtx)
		cancel()
		if err == nil {
			return ref, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return kit.MessageRef{}, ctx.Err()
		}
		s.log.Debug("send failed", logx.String("target", to.String()), logx.Err(err),
			logx.Int("attempt", attempt), logx.Int("max", maxAttempts))
		if attempt == maxAttempts {
			break
		}

		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return kit.MessageRef{}, ctx.Err()
		}
	}
	return kit.MessageRef{}, lastErr
}

// retryDelay is the wait before attempt+1: exponential from RetryBase,
// capped at RetryMaxDelay, with 0.7..1.3 jitter.
func retryDelay(cfg config.Delivery, attempt int) time.Duration {
	base := cfg.RetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxD := cfg.RetryMaxDelay
	if maxD <= 0 {
		maxD = 10 * time.Second
	}
	d := base
	for i := 1; i < attempt && d < maxD; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(max(d, 0), maxD)
}
