package monitor

import (
	"time"

	"dynpush/internal/config"
	kit "dynpush/internal/transport"
)

// Settings is the resolved monitor configuration.
type Settings struct {
	Accounts      []AccountSpec
	Interval      time.Duration
	Concurrency   int // 0 = unlimited
	Immediate     bool
	MaxPages      int
	CheckTimeout  time.Duration
	SweepSchedule string
}

type AccountSpec struct {
	UID     int64
	Targets []kit.ChatTarget
}

// SettingsFromConfig applies defaults. cfg is expected to be validated.
func SettingsFromConfig(cfg config.MonitorConfig) Settings {
	st := Settings{
		Interval:      cfg.EffectiveInterval(),
		Concurrency:   max(cfg.Concurrency, 0),
		Immediate:     cfg.EffectiveImmediate(),
		MaxPages:      cfg.EffectiveMaxPages(),
		CheckTimeout:  cfg.EffectiveCheckTimeout(),
		SweepSchedule: cfg.SweepSchedule,
	}
	for _, a := range cfg.Accounts {
		st.Accounts = append(st.Accounts, AccountSpec{UID: a.UID, Targets: TargetsFromConfig(a.Targets)})
	}
	return st
}

func TargetsFromConfig(in []config.TargetConfig) []kit.ChatTarget {
	out := make([]kit.ChatTarget, 0, len(in))
	for _, t := range in {
		if t.User != 0 {
			out = append(out, kit.ChatTarget{Kind: kit.TargetDirect, ChatID: t.User})
			continue
		}
		out = append(out, kit.ChatTarget{Kind: kit.TargetGroup, ChatID: t.Group, ThreadID: t.ThreadID})
	}
	return out
}

func sameAccountSet(a, b []AccountSpec) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].UID != b[i].UID {
			return false
		}
	}
	return true
}
