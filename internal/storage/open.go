package storage

import (
	"fmt"
	"strings"

	logx "dynpush/pkg/logx"
)

// Open initializes the configured store and loads its account states.
// It returns (nil, nil) if storage is disabled; the monitor then keeps
// cursors in memory only.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	var (
		st  Store
		err error
	)
	switch driver {
	case "", "none":
		return nil, nil
	case "file":
		st, err = openFile(cfg, log)
	case "sqlite", "sqlite3":
		st, err = openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store at %s: %w", driver, cfg.Path, err)
	}
	return st, nil
}
