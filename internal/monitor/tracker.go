package monitor

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"time"

	"dynpush/internal/feed"
	"dynpush/internal/storage"
	logx "dynpush/pkg/logx"
)

// cursorEmpty is the baseline of an account whose feed was empty at
// bootstrap: every later post is new.
const cursorEmpty = "0"

const timeCursorPrefix = "t:"

type tracker struct {
	store storage.Store
	log   logx.Logger
	now   func() time.Time
}

// check returns the posts published since the account's cursor, oldest
// first, and advances the cursor. A failed fetch leaves the account as is.
// The caller holds a.checkMu.
func (t *tracker) check(ctx context.Context, a *Account, src feed.Adapter, maxPages int) ([]feed.Post, error) {
	st := a.State()
	if st.Cursor == "" || st.Cursor == legacyUnset {
		return nil, t.bootstrap(ctx, a, src, st)
	}
	maxPages = max(maxPages, 1)

	var (
		fresh []feed.Post
		seen  = map[string]bool{}
		name  string
		next  string
	)
	for page := 1; ; page++ {
		pg, err := src.FetchPage(ctx, a.UID, next)
		if err != nil {
			return nil, err
		}
		if name == "" {
			name = authorOf(pg.Posts)
		}

		stop := false
		for _, p := range pg.Posts {
			if isNewer(recencyKey(p), st.Cursor) {
				if !seen[p.ID] {
					seen[p.ID] = true
					fresh = append(fresh, p)
				}
				continue
			}
			if p.Pinned {
				continue
			}
			stop = true
			break
		}
		if stop || !pg.HasMore || pg.Next == "" {
			break
		}
		if page >= maxPages {
			t.log.Warn("page cap reached", logx.Int64("uid", a.UID), logx.Int("max_pages", maxPages))
			break
		}
		next = pg.Next
	}

	slices.Reverse(fresh)
	cursor := st.Cursor
	for _, p := range fresh {
		if k := recencyKey(p); isNewer(k, cursor) {
			cursor = k
		}
	}
	st.Cursor = cursor
	st.LastCheck = t.now()
	if name != "" {
		st.DisplayName = name
	}
	t.commit(ctx, a, st)
	return fresh, nil
}

// bootstrap records the newest key of the first page as the baseline and
// emits nothing.
func (t *tracker) bootstrap(ctx context.Context, a *Account, src feed.Adapter, st storage.AccountState) error {
	pg, err := src.FetchPage(ctx, a.UID, "")
	if err != nil {
		return err
	}
	cursor := cursorEmpty
	for _, p := range pg.Posts {
		if k := recencyKey(p); isNewer(k, cursor) {
			cursor = k
		}
	}
	st.Cursor = cursor
	st.LastCheck = t.now()
	if name := authorOf(pg.Posts); name != "" {
		st.DisplayName = name
	}
	t.commit(ctx, a, st)
	t.log.Info("account initialised", logx.Int64("uid", a.UID), logx.String("cursor", cursor),
		logx.Int("posts_seen", len(pg.Posts)))
	return nil
}

func (t *tracker) commit(ctx context.Context, a *Account, st storage.AccountState) {
	a.commit(st)
	if t.store == nil {
		return
	}
	// Persist even when the cycle is being cancelled; the state is already
	// committed in memory.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := t.store.PutState(pctx, st); err != nil {
		t.log.Warn("persist state failed", logx.Int64("uid", a.UID), logx.Err(err))
	}
}

func authorOf(posts []feed.Post) string {
	for _, p := range posts {
		if p.Author != "" {
			return p.Author
		}
	}
	return ""
}

// recencyKey is the post's numeric id, or "t:<unix>" when the id is not
// numeric, or "" when neither is usable.
func recencyKey(p feed.Post) string {
	if v, ok := numericKey(p.ID); ok {
		return strconv.FormatUint(v, 10)
	}
	if !p.Time.IsZero() {
		return timeCursorPrefix + strconv.FormatInt(p.Time.Unix(), 10)
	}
	return ""
}

// isNewer reports whether key is strictly more recent than cursor. Keys of
// different kinds are not comparable, except that everything is newer than
// the empty-feed baseline.
func isNewer(key, cursor string) bool {
	if key == "" {
		return false
	}
	if cursor == cursorEmpty || cursor == "" {
		return true
	}
	if k, ok := numericKey(key); ok {
		c, ok := numericKey(cursor)
		return ok && k > c
	}
	if k, ok := timeKey(key); ok {
		c, ok := timeKey(cursor)
		return ok && k > c
	}
	return false
}

func numericKey(s string) (uint64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 10, 64)
	return v, err == nil
}

func timeKey(s string) (int64, bool) {
	rest, ok := strings.CutPrefix(s, timeCursorPrefix)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(rest, 10, 64)
	return v, err == nil
}
