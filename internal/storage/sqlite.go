package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "dynpush/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) GetState(ctx context.Context, uid int64) (AccountState, bool, error) {
	if s == nil || s.db == nil {
		return AccountState{}, false, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT uid, cursor, display_name, last_check FROM account_state WHERE uid = ?`, uid)
	st, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return AccountState{}, false, nil
	}
	if err != nil {
		return AccountState{}, false, err
	}
	return st, true, nil
}

func (s *sqliteStore) ListStates(ctx context.Context) ([]AccountState, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT uid, cursor, display_name, last_check FROM account_state ORDER BY uid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AccountState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutState(ctx context.Context, st AccountState) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if st.UID == 0 {
		return errors.New("state uid is required")
	}
	var last int64
	if !st.LastCheck.IsZero() {
		last = st.LastCheck.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO account_state(uid, cursor, display_name, last_check, updated_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(uid) DO UPDATE SET
		   cursor=excluded.cursor,
		   display_name=excluded.display_name,
		   last_check=excluded.last_check,
		   updated_at=excluded.updated_at`,
		st.UID, st.Cursor, nullStr(st.DisplayName), last, time.Now().UnixMilli(),
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(r rowScanner) (AccountState, error) {
	var (
		st   AccountState
		name sql.NullString
		last int64
	)
	if err := r.Scan(&st.UID, &st.Cursor, &name, &last); err != nil {
		return AccountState{}, err
	}
	st.DisplayName = name.String
	if last > 0 {
		st.LastCheck = time.UnixMilli(last)
	}
	return st, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
