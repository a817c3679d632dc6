package monitor

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"dynpush/internal/feed"
	"dynpush/internal/format"
	kit "dynpush/internal/transport"
)

func post(id string) feed.Post {
	return feed.Post{ID: id, Author: "alice", Kind: feed.KindText, Content: feed.Text{Text: "post " + id}}
}

func pinned(id string) feed.Post {
	p := post(id)
	p.Pinned = true
	return p
}

func page(next string, posts ...feed.Post) feed.Page {
	return feed.Page{Posts: posts, Next: next, HasMore: next != ""}
}

// fakeFeed serves fixed pages per uid. Cursor "pN" selects page N.
type fakeFeed struct {
	mu      sync.Mutex
	pages   map[int64][]feed.Page
	errs    map[int64]error
	panics  map[int64]bool
	calls   map[int64]int
	order   []int64
	byID    map[string]feed.Post
	delay   time.Duration
	current atomic.Int32
	peak    atomic.Int32
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		pages:  map[int64][]feed.Page{},
		errs:   map[int64]error{},
		panics: map[int64]bool{},
		calls:  map[int64]int{},
		byID:   map[string]feed.Post{},
	}
}

func (f *fakeFeed) set(uid int64, pages ...feed.Page) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[uid] = pages
}

func (f *fakeFeed) FetchPage(ctx context.Context, uid int64, cursor string) (feed.Page, error) {
	n := f.current.Add(1)
	defer f.current.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return feed.Page{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[uid]++
	f.order = append(f.order, uid)
	if f.panics[uid] {
		panic("boom")
	}
	if err := f.errs[uid]; err != nil {
		return feed.Page{}, err
	}
	idx := 0
	if cursor != "" {
		idx, _ = strconv.Atoi(strings.TrimPrefix(cursor, "p"))
	}
	pages := f.pages[uid]
	if idx >= len(pages) {
		return feed.Page{}, nil
	}
	return pages[idx], nil
}

func (f *fakeFeed) Get(_ context.Context, id string) (feed.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return feed.Post{}, feed.ErrNotFound
	}
	return p, nil
}

func (f *fakeFeed) callCount(uid int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[uid]
}

type fakeFormatter struct {
	suppress map[string]bool
	fail     map[string]bool
}

func (f fakeFormatter) Format(_ context.Context, p feed.Post) (kit.Message, error) {
	if f.suppress[p.ID] {
		return kit.Message{}, format.ErrSuppressed
	}
	if f.fail[p.ID] {
		return kit.Message{}, errors.New("cannot render")
	}
	return kit.Message{Text: "rich " + p.ID}, nil
}

type sent struct {
	chat int64
	text string
	rich bool
}

type fakeSender struct {
	mu   sync.Mutex
	fail map[int64]bool
	out  []sent
}

func newFakeSender() *fakeSender { return &fakeSender{fail: map[int64]bool{}} }

func (s *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	return s.record(to, text, false)
}

func (s *fakeSender) SendMessage(_ context.Context, to kit.ChatTarget, m kit.Message) (kit.MessageRef, error) {
	return s.record(to, m.Text, true)
}

func (s *fakeSender) record(to kit.ChatTarget, text string, rich bool) (kit.MessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[to.ChatID] {
		return kit.MessageRef{}, errors.New("chat unavailable")
	}
	s.out = append(s.out, sent{chat: to.ChatID, text: text, rich: rich})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(s.out)}, nil
}

func (s *fakeSender) texts(chat int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.out {
		if m.chat == chat {
			out = append(out, m.text)
		}
	}
	return out
}

func group(id int64) kit.ChatTarget { return kit.ChatTarget{Kind: kit.TargetGroup, ChatID: id} }

func ids(posts []feed.Post) []string {
	out := make([]string, len(posts))
	for i, p := range posts {
		out[i] = p.ID
	}
	return out
}
