package admin

import (
	"context"
	"errors"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"dynpush/internal/config"
	"dynpush/internal/delivery"
	"dynpush/internal/feed"
	"dynpush/internal/format"
	"dynpush/internal/monitor"
	logx "dynpush/pkg/logx"
)

const pushTimeout = 2 * time.Minute

// Handler builds the gin engine. An empty cfg.Token disables auth.
func (s *Service) Handler(cfg Config) http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), s.requestLog())
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	g.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	api := g.Group("/", bearerAuth(cfg.Token))
	api.GET("/accounts", s.handleAccounts)
	api.GET("/cycle", s.handleCycle)
	api.POST("/check", s.handleCheck)
	api.POST("/push/:id", s.handlePush)
	if cfg.Pprof {
		mountPprof(api.Group("/debug/pprof"))
	}
	return g
}

func mountPprof(r *gin.RouterGroup) {
	r.GET("/", gin.WrapF(hpprof.Index))
	r.GET("/cmdline", gin.WrapF(hpprof.Cmdline))
	r.GET("/profile", gin.WrapF(hpprof.Profile))
	r.POST("/symbol", gin.WrapF(hpprof.Symbol))
	r.GET("/symbol", gin.WrapF(hpprof.Symbol))
	r.GET("/trace", gin.WrapF(hpprof.Trace))
	r.GET("/:profile", func(c *gin.Context) {
		hpprof.Handler(c.Param("profile")).ServeHTTP(c.Writer, c.Request)
	})
}

func (s *Service) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("admin request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(start)),
		)
	}
}

// bearerAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func bearerAuth(token string) gin.HandlerFunc {
	tok := strings.TrimSpace(token)
	return func(c *gin.Context) {
		if tok == "" {
			c.Next()
			return
		}
		got := c.Query("token")
		if got == "" {
			if ah, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
				got = strings.TrimSpace(ah)
			}
		}
		if got != tok {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Service) handleAccounts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"accounts": s.mon.Accounts()})
}

func (s *Service) handleCycle(c *gin.Context) {
	res, ok := s.mon.LastCycle()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"cycle": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cycle": res})
}

func (s *Service) handleCheck(c *gin.Context) {
	res := s.mon.CheckAll(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"cycle": res})
}

type pushRequest struct {
	Targets []config.TargetConfig `json:"targets"`
}

type pushResult struct {
	Target   string `json:"target"`
	OK       bool   `json:"ok"`
	Fallback bool   `json:"fallback,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (s *Service) handlePush(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	var req pushRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), pushTimeout)
	defer cancel()
	res, err := s.mon.ForcePush(ctx, id, monitor.TargetsFromConfig(req.Targets))
	if err != nil {
		c.JSON(pushStatus(err), gin.H{"error": err.Error()})
		return
	}

	out := make([]pushResult, 0, len(res))
	for _, r := range res {
		pr := pushResult{Target: r.Target.String(), OK: r.Delivered(), Fallback: r.Fallback}
		switch {
		case r.Fallback && r.FallbackErr != nil:
			pr.Error = r.FallbackErr.Error()
		case r.Err != nil:
			pr.Error = r.Err.Error()
		}
		out = append(out, pr)
	}
	c.JSON(http.StatusOK, gin.H{"post": id, "results": out})
}

func pushStatus(err error) int {
	switch {
	case errors.Is(err, feed.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, delivery.ErrNoTargets), errors.Is(err, format.ErrSuppressed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, monitor.ErrNotRunning):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
