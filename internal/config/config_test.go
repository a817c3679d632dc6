package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
monitor:
  use_rpc: true
  concurrency: 3
  accounts:
    - uid: 1001
      targets:
        - group: -100123
          thread_id: 7
        - user: 42
    - uid: 1002
      targets: []
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if got := len(cfg.Monitor.Accounts); got != 2 {
		t.Fatalf("accounts = %d, want 2", got)
	}
	tg := cfg.Monitor.Accounts[0].Targets
	if tg[0].Group != -100123 || tg[0].ThreadID != 7 || tg[1].User != 42 {
		t.Fatalf("unexpected targets: %+v", tg)
	}
	if got := cfg.Monitor.EffectiveInterval(); got != DefaultIntervalRPC {
		t.Fatalf("interval = %v, want %v", got, DefaultIntervalRPC)
	}
	if !cfg.Monitor.EffectiveImmediate() {
		t.Fatal("immediate should default to true")
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		doc  string
	}{
		{name: "top level", doc: `{"monitor":{},"bogus":1}`},
		{name: "target typo", doc: `{"monitor":{"accounts":[{"uid":1,"targets":[{"grop":5}]}]}}`},
		{name: "trailing data", doc: `{"monitor":{}} {}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode("config.json", []byte(tt.doc)); err == nil {
				t.Fatalf("expected decode error for %s", tt.doc)
			}
		})
	}
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		mut  func(*Config)
		want string
	}{
		{name: "uid", mut: func(c *Config) { c.Monitor.Accounts = []AccountConfig{{UID: 0}} }, want: "uid"},
		{name: "duplicate uid", mut: func(c *Config) {
			c.Monitor.Accounts = []AccountConfig{{UID: 1}, {UID: 1}}
		}, want: "duplicate"},
		{name: "both target kinds", mut: func(c *Config) {
			c.Monitor.Accounts = []AccountConfig{{UID: 1, Targets: []TargetConfig{{Group: 1, User: 2}}}}
		}, want: "exactly one"},
		{name: "thread on user", mut: func(c *Config) {
			c.Monitor.Accounts = []AccountConfig{{UID: 1, Targets: []TargetConfig{{User: 2, ThreadID: 3}}}}
		}, want: "thread_id"},
		{name: "interval", mut: func(c *Config) { c.Monitor.Interval = "soon" }, want: "monitor.interval"},
		{name: "interval floor", mut: func(c *Config) { c.Monitor.Interval = "200ms" }, want: "at least"},
		{name: "regex", mut: func(c *Config) { c.Monitor.IgnoreRegexes = []string{"("} }, want: "ignore_regexes[0]"},
		{name: "sweep", mut: func(c *Config) { c.Monitor.SweepSchedule = "every tuesday" }, want: "sweep_schedule"},
		{name: "storage driver", mut: func(c *Config) { c.Storage = &StorageConfig{Driver: "mongo"} }, want: "storage.driver"},
		{name: "admin token", mut: func(c *Config) {
			c.Admin = AdminConfig{Enabled: true, Addr: "0.0.0.0:8089"}
		}, want: "admin.token"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			tt.mut(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestEffectiveDefaults(t *testing.T) {
	t.Parallel()
	var m MonitorConfig
	if got := m.EffectiveInterval(); got != DefaultIntervalREST {
		t.Fatalf("REST interval = %v", got)
	}
	if got := m.EffectiveMaxPages(); got != DefaultMaxPages {
		t.Fatalf("max pages = %d", got)
	}
	if got := m.EffectiveCheckTimeout(); got != DefaultCheckTimeout {
		t.Fatalf("check timeout = %v", got)
	}
	off := false
	m.Immediate = &off
	m.Interval = "5s"
	if m.EffectiveImmediate() {
		t.Fatal("immediate should be false")
	}
	if got := m.EffectiveInterval(); got != 5*time.Second {
		t.Fatalf("interval = %v", got)
	}
	d, err := ParseDelivery(DeliveryConfig{})
	if err != nil {
		t.Fatalf("ParseDelivery error: %v", err)
	}
	if d.RatePerSec != 3 || d.SendTimeout != 15*time.Second {
		t.Fatalf("unexpected delivery defaults: %+v", d)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{}
	newCfg := &Config{
		Monitor: MonitorConfig{Accounts: []AccountConfig{{UID: 1}}},
		Admin:   AdminConfig{Enabled: true, Token: "secret"},
	}
	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "monitor,admin" {
		t.Fatalf("changed = %v", changed)
	}
}

func TestManagerLoadAndReload(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"monitor":{"accounts":[{"uid":1,"targets":[]}]}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get should return the committed config")
	}

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	// Same content: no publish.
	m.reload(t.Context())
	select {
	case <-sub:
		t.Fatal("unchanged config should not be published")
	default:
	}

	if err := os.WriteFile(path, []byte(`{"monitor":{"accounts":[{"uid":2,"targets":[]}]}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	m.reload(t.Context())
	select {
	case got := <-sub:
		if got.Monitor.Accounts[0].UID != 2 {
			t.Fatalf("published uid = %d", got.Monitor.Accounts[0].UID)
		}
	default:
		t.Fatal("changed config was not published")
	}

	// Invalid content is rejected and the previous config stays.
	if err := os.WriteFile(path, []byte(`{"monitor":{"accounts":[{"uid":-1}]}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	m.reload(t.Context())
	if m.Get().Monitor.Accounts[0].UID != 2 {
		t.Fatal("rejected config replaced the committed one")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	for raw, want := range map[string]time.Duration{
		"":      0,
		" 30 ":  30 * time.Second,
		"1m30s": 90 * time.Second,
		"0":     0,
	} {
		got, err := ParseDurationField("x", raw)
		if err != nil || got != want {
			t.Errorf("ParseDurationField(%q) = %v, %v; want %v", raw, got, err, want)
		}
	}
	for _, raw := range []string{"-1s", "-5", "soon"} {
		if _, err := ParseDurationField("x", raw); err == nil {
			t.Errorf("ParseDurationField(%q) succeeded", raw)
		}
	}
}

func TestDecodeSniffsFormat(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("dynpush.conf", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("yaml without extension: %v", err)
	}
	if len(cfg.Monitor.Accounts) != 2 {
		t.Fatalf("accounts = %d", len(cfg.Monitor.Accounts))
	}
	if _, err := Decode("dynpush.conf", []byte(`{"telegram":{"token":"x"}}`)); err != nil {
		t.Fatalf("json without extension: %v", err)
	}
}
