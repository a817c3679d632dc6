package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  *StorageConfig `json:"storage,omitempty"`
	Monitor  MonitorConfig  `json:"monitor"`
	Delivery DeliveryConfig `json:"delivery,omitempty"`
	Format   FormatConfig   `json:"format,omitempty"`
	Admin    AdminConfig    `json:"admin,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls where account cursors are persisted.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/dynpush.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// MonitorConfig controls the activity monitor. Every field is hot-reloadable.
//
// Defaults (when fields are omitted/zero):
//   - interval: "10s" with use_rpc, "60s" otherwise
//   - concurrency: 0 (unlimited)
//   - immediate: true
//   - max_pages: 10
//   - check_timeout: "30s"
type MonitorConfig struct {
	UseRPC      bool            `json:"use_rpc"`
	Interval    string          `json:"interval,omitempty"`
	Concurrency int             `json:"concurrency"`
	Immediate   *bool           `json:"immediate,omitempty"`
	MaxPages    int             `json:"max_pages,omitempty"`
	Accounts    []AccountConfig `json:"accounts"`

	// CheckTimeout bounds one account check (all pages).
	CheckTimeout string `json:"check_timeout,omitempty"`

	// SweepSchedule optionally runs a full check of every account on a cron
	// schedule, bypassing the queue (e.g. "@daily", "0 */6 * * *").
	SweepSchedule string `json:"sweep_schedule,omitempty"`

	IgnoreRegexes        []string `json:"ignore_regexes,omitempty"`
	IgnoreForwardRegexes []string `json:"ignore_forward_regexes,omitempty"`

	UserAgent   string `json:"user_agent,omitempty"`
	RPCEndpoint string `json:"rpc_endpoint,omitempty"`
	// RequestsPerSec throttles upstream fetches process-wide (0 = unlimited).
	RequestsPerSec float64 `json:"requests_per_sec,omitempty"`
}

type AccountConfig struct {
	UID     int64          `json:"uid"`
	Targets []TargetConfig `json:"targets"`
}

// TargetConfig is either {"group": <chat id>} (optionally with thread_id)
// or {"user": <user id>}.
type TargetConfig struct {
	Group    int64 `json:"group,omitempty"`
	User     int64 `json:"user,omitempty"`
	ThreadID int   `json:"thread_id,omitempty"`
}

// UnmarshalJSON disallows unknown fields so typos such as "grop" fail the
// reload instead of silently dropping a target.
func (t *TargetConfig) UnmarshalJSON(b []byte) error {
	type tmp TargetConfig
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var v tmp
	if err := dec.Decode(&v); err != nil {
		return err
	}
	*t = TargetConfig(v)
	return nil
}

// DeliveryConfig controls outgoing chat messages.
type DeliveryConfig struct {
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	SendTimeout   string `json:"send_timeout,omitempty"`
}

type FormatConfig struct {
	// Ellipsis is the maximum summary length in runes (default 50).
	Ellipsis int `json:"ellipsis,omitempty"`
}

// AdminConfig controls the optional admin HTTP API.
//
// Security note: prefer binding to localhost. A token is required for
// non-loopback addresses.
type AdminConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default: "127.0.0.1:8089"
	Token   string `json:"token,omitempty"` // bearer token (never logged)
	// Pprof exposes runtime profiles under /debug/pprof.
	Pprof bool `json:"pprof,omitempty"`
}
