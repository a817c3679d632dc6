package app

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"dynpush/internal/admin"
	"dynpush/internal/config"
	"dynpush/internal/feed"
	"dynpush/internal/format"
	"dynpush/internal/storage"
	logx "dynpush/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		if path == "" {
			path = "./data/dynpush"
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// logTarget parses telegram.group_log; 0 disables the Telegram log sink.
func logTarget(cfg *config.Config) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(cfg.Telegram.GroupLog), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func mapAdminConfig(cfg *config.Config) admin.Config {
	return admin.Config{
		Enabled:      cfg.Admin.Enabled,
		Addr:         cfg.Admin.EffectiveAddr(),
		Token:        strings.TrimSpace(cfg.Admin.Token),
		Pprof:        cfg.Admin.Pprof,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 3 * time.Minute,
	}
}

func feedOptions(m config.MonitorConfig) feed.Options {
	return feed.Options{
		UseRPC:         m.UseRPC,
		UserAgent:      m.UserAgent,
		RPCEndpoint:    m.RPCEndpoint,
		RequestsPerSec: m.RequestsPerSec,
	}
}

func buildFeed(m config.MonitorConfig) (feed.Adapter, io.Closer, error) {
	src, closer, err := feed.New(feedOptions(m))
	if err != nil {
		return nil, nil, fmt.Errorf("feed: %w", err)
	}
	return src, closer, nil
}

func buildFormatter(cfg *config.Config) (*format.HTML, error) {
	ignore, err := config.CompileRegexes("monitor.ignore_regexes", cfg.Monitor.IgnoreRegexes)
	if err != nil {
		return nil, err
	}
	ignoreFwd, err := config.CompileRegexes("monitor.ignore_forward_regexes", cfg.Monitor.IgnoreForwardRegexes)
	if err != nil {
		return nil, err
	}
	return format.NewHTML(format.Options{
		IgnoreRegexes:        ignore,
		IgnoreForwardRegexes: ignoreFwd,
		Ellipsis:             cfg.Format.EffectiveEllipsis(),
	}), nil
}

// OpenStore opens the store configured in cfg; ok is false when storage is
// disabled.
func OpenStore(cfg *config.Config, log logx.Logger) (st storage.Store, ok bool, err error) {
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil || !enabled {
		return nil, false, err
	}
	st, err = storage.Open(sc, log)
	if err != nil {
		return nil, false, err
	}
	return st, true, nil
}

// ValidateConfig runs config.Validate plus the checks that only surface
// while mapping the config onto components.
func ValidateConfig(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	_, err := buildFormatter(cfg)
	return err
}
