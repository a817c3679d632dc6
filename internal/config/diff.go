package config

import (
	"reflect"
	"strings"

	logx "dynpush/pkg/logx"
)

// SummarizeConfigChange returns the changed section names and safe attrs for
// the reload log line. Secrets (bot token, admin token) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) ||
		strings.TrimSpace(oldCfg.Telegram.GroupLog) != strings.TrimSpace(newCfg.Telegram.GroupLog) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(newCfg.Telegram.GroupLog) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}

	if !reflect.DeepEqual(oldCfg.Monitor, newCfg.Monitor) {
		changed = append(changed, "monitor")
		attrs = append(attrs,
			logx.Int("monitor.accounts", len(newCfg.Monitor.Accounts)),
			logx.Duration("monitor.interval", newCfg.Monitor.EffectiveInterval()),
			logx.Int("monitor.concurrency", newCfg.Monitor.Concurrency),
			logx.Bool("monitor.use_rpc", newCfg.Monitor.UseRPC),
		)
	}

	if !reflect.DeepEqual(oldCfg.Delivery, newCfg.Delivery) {
		changed = append(changed, "delivery")
	}
	if !reflect.DeepEqual(oldCfg.Format, newCfg.Format) {
		changed = append(changed, "format")
	}

	if oldCfg.Admin.Enabled != newCfg.Admin.Enabled ||
		oldCfg.Admin.EffectiveAddr() != newCfg.Admin.EffectiveAddr() ||
		oldCfg.Admin.Token != newCfg.Admin.Token ||
		oldCfg.Admin.Pprof != newCfg.Admin.Pprof {
		changed = append(changed, "admin")
		attrs = append(attrs,
			logx.Bool("admin.enabled", newCfg.Admin.Enabled),
			logx.String("admin.addr", newCfg.Admin.EffectiveAddr()),
			logx.Bool("admin.token_set", strings.TrimSpace(newCfg.Admin.Token) != ""),
			logx.Bool("admin.pprof", newCfg.Admin.Pprof),
		)
	}

	return changed, attrs
}
