// Package admin serves the optional HTTP admin API.
//
// Routes:
//
//	GET  /healthz      liveness, no auth
//	GET  /accounts     account cursors and queue positions
//	GET  /cycle        last cycle result
//	POST /check        check every account now
//	POST /push/:id     force push one post
//	GET  /debug/pprof/ profiles, when enabled
//
// Every route except /healthz requires the bearer token when one is set.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"dynpush/internal/delivery"
	"dynpush/internal/monitor"
	rtsup "dynpush/internal/runtime/supervisor"
	kit "dynpush/internal/transport"
	logx "dynpush/pkg/logx"
)

var ginMode sync.Once

// Monitor is the part of the monitor the admin API drives.
type Monitor interface {
	Accounts() []monitor.AccountStatus
	LastCycle() (monitor.CycleResult, bool)
	CheckAll(ctx context.Context) monitor.CycleResult
	ForcePush(ctx context.Context, postID string, targets []kit.ChatTarget) ([]delivery.Result, error)
}

type Config struct {
	Enabled bool
	Addr    string
	Token   string
	// Pprof mounts net/http/pprof under /debug/pprof behind the same auth.
	Pprof bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Service struct {
	mon Monitor
	log logx.Logger

	mu  sync.Mutex
	cfg Config
	srv *http.Server
	sup *rtsup.Supervisor
}

func New(mon Monitor, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	ginMode.Do(func() { gin.SetMode(gin.ReleaseMode) })
	return &Service{mon: mon, log: log}
}

// Reconfigure starts, stops or restarts the server to match cfg.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
	case !running:
		s.Start(ctx)
	case prev.Addr != cfg.Addr || prev.Token != cfg.Token ||
		prev.Pprof != cfg.Pprof || prev.ReadTimeout != cfg.ReadTimeout || prev.WriteTimeout != cfg.WriteTimeout:
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// Start is idempotent. The listener runs under a restart loop so a failed
// bind heals once the port frees up.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return
	}
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// The admin API is optional; never take the app down with it.
		rtsup.WithCancelOnError(false),
	)
	s.sup.GoRestart("http.serve", s.serveOnce, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup, srv := s.sup, s.srv
	s.sup, s.srv = nil, nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if srv != nil {
		_ = srv.Shutdown(ctx)
	}
	if err := sup.Stop(ctx); err != nil {
		s.log.Warn("admin stop timed out", logx.Err(err))
	}
	s.log.Info("admin stopped")
}

func (s *Service) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	addr := strings.TrimSpace(cfg.Addr)
	if cfg.Token == "" && !isLoopbackAddr(addr) {
		s.log.Error("admin refused to start: non-loopback addr requires a token", logx.String("addr", addr))
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	srv := &http.Server{
		Handler:      s.Handler(cfg),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("admin started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", cfg.Token != ""))
	err = srv.Serve(ln)
	if ctx.Err() != nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
