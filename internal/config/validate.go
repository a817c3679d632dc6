package config

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// SweepParser accepts 5 or 6 field cron expressions and @descriptors.
var SweepParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

const (
	DefaultIntervalRPC  = 10 * time.Second
	DefaultIntervalREST = 60 * time.Second
	DefaultMaxPages     = 10
	DefaultCheckTimeout = 30 * time.Second
	DefaultEllipsis     = 50
	DefaultAdminAddr    = "127.0.0.1:8089"
)

// Validate rejects configs that would fail at runtime. It is used both at
// startup and for every hot reload.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if cfg.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	if err := validateMonitor(&cfg.Monitor); err != nil {
		return err
	}
	if _, err := ParseDelivery(cfg.Delivery); err != nil {
		return err
	}
	if cfg.Format.Ellipsis < 0 {
		return fmt.Errorf("format.ellipsis must be >= 0")
	}
	return validateAdmin(cfg.Admin)
}

func validateMonitor(m *MonitorConfig) error {
	if _, err := parseDurationAtLeast("monitor.interval", m.Interval, MinInterval); err != nil {
		return err
	}
	if _, err := ParseDurationField("monitor.check_timeout", m.CheckTimeout); err != nil {
		return err
	}
	if m.Concurrency < 0 {
		return fmt.Errorf("monitor.concurrency must be >= 0")
	}
	if m.MaxPages < 0 {
		return fmt.Errorf("monitor.max_pages must be >= 0")
	}
	if m.RequestsPerSec < 0 {
		return fmt.Errorf("monitor.requests_per_sec must be >= 0")
	}
	if s := strings.TrimSpace(m.SweepSchedule); s != "" {
		if _, err := SweepParser.Parse(s); err != nil {
			return fmt.Errorf("monitor.sweep_schedule: %w", err)
		}
	}
	seen := make(map[int64]struct{}, len(m.Accounts))
	for i, a := range m.Accounts {
		if a.UID <= 0 {
			return fmt.Errorf("monitor.accounts[%d].uid must be > 0", i)
		}
		if _, dup := seen[a.UID]; dup {
			return fmt.Errorf("monitor.accounts[%d]: duplicate uid %d", i, a.UID)
		}
		seen[a.UID] = struct{}{}
		for j, t := range a.Targets {
			if (t.Group == 0) == (t.User == 0) {
				return fmt.Errorf("monitor.accounts[%d].targets[%d]: exactly one of group/user is required", i, j)
			}
			if t.User != 0 && t.ThreadID != 0 {
				return fmt.Errorf("monitor.accounts[%d].targets[%d]: thread_id is only valid for groups", i, j)
			}
		}
	}
	if _, err := CompileRegexes("monitor.ignore_regexes", m.IgnoreRegexes); err != nil {
		return err
	}
	if _, err := CompileRegexes("monitor.ignore_forward_regexes", m.IgnoreForwardRegexes); err != nil {
		return err
	}
	return nil
}

func validateAdmin(a AdminConfig) error {
	if !a.Enabled {
		return nil
	}
	host, _, err := net.SplitHostPort(a.EffectiveAddr())
	if err != nil {
		return fmt.Errorf("admin.addr: %w", err)
	}
	if strings.TrimSpace(a.Token) != "" {
		return nil
	}
	ip := net.ParseIP(host)
	if host == "localhost" || (ip != nil && ip.IsLoopback()) {
		return nil
	}
	return fmt.Errorf("admin.token is required when admin.addr is not loopback")
}

// CompileRegexes compiles every pattern, naming the offending entry on error.
func CompileRegexes(path string, patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", path, i, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// EffectiveInterval returns the poll interval, defaulting by protocol.
func (m MonitorConfig) EffectiveInterval() time.Duration {
	d, err := ParseDurationField("monitor.interval", m.Interval)
	if err == nil && d > 0 {
		return d
	}
	if m.UseRPC {
		return DefaultIntervalRPC
	}
	return DefaultIntervalREST
}

func (m MonitorConfig) EffectiveImmediate() bool {
	return m.Immediate == nil || *m.Immediate
}

func (m MonitorConfig) EffectiveMaxPages() int {
	if m.MaxPages <= 0 {
		return DefaultMaxPages
	}
	return m.MaxPages
}

func (m MonitorConfig) EffectiveCheckTimeout() time.Duration {
	d, err := ParseDurationOrDefault("monitor.check_timeout", m.CheckTimeout, DefaultCheckTimeout)
	if err != nil {
		return DefaultCheckTimeout
	}
	return d
}

func (f FormatConfig) EffectiveEllipsis() int {
	if f.Ellipsis <= 0 {
		return DefaultEllipsis
	}
	return f.Ellipsis
}

func (a AdminConfig) EffectiveAddr() string {
	if s := strings.TrimSpace(a.Addr); s != "" {
		return s
	}
	return DefaultAdminAddr
}

// Delivery is DeliveryConfig with durations parsed and defaults applied.
type Delivery struct {
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
}

func ParseDelivery(d DeliveryConfig) (Delivery, error) {
	if d.RatePerSec < 0 {
		return Delivery{}, fmt.Errorf("delivery.rate_per_sec must be >= 0")
	}
	if d.RetryMax < 0 {
		return Delivery{}, fmt.Errorf("delivery.retry_max must be >= 0")
	}
	base, err := ParseDurationOrDefault("delivery.retry_base", d.RetryBase, 500*time.Millisecond)
	if err != nil {
		return Delivery{}, err
	}
	maxDelay, err := ParseDurationOrDefault("delivery.retry_max_delay", d.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return Delivery{}, err
	}
	timeout, err := ParseDurationOrDefault("delivery.send_timeout", d.SendTimeout, 15*time.Second)
	if err != nil {
		return Delivery{}, err
	}
	rps := d.RatePerSec
	if rps == 0 {
		rps = 3
	}
	return Delivery{
		RatePerSec:    rps,
		RetryMax:      d.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		SendTimeout:   timeout,
	}, nil
}
