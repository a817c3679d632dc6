package monitor

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"dynpush/internal/eventbus"
	"dynpush/internal/feed"
	"dynpush/internal/format"
	"dynpush/internal/storage"
	kit "dynpush/internal/transport"
	logx "dynpush/pkg/logx"
)

type fixture struct {
	svc    *Service
	feed   *fakeFeed
	sender *fakeSender
}

func newFixture(t *testing.T, store storage.Store, fm fakeFormatter) *fixture {
	t.Helper()
	f := &fixture{feed: newFakeFeed(), sender: newFakeSender()}
	f.svc = New(Options{Source: f.feed, Formatter: fm, Sender: f.sender, Store: store, Log: logx.Nop()})
	return f
}

// seed sets every account past bootstrap so checks go straight to paging.
func (f *fixture) seed(cursor string) {
	for _, a := range f.svc.order {
		a.commit(storage.AccountState{UID: a.UID, Cursor: cursor})
	}
}

func specs(uids ...int64) []AccountSpec {
	out := make([]AccountSpec, len(uids))
	for i, uid := range uids {
		out[i] = AccountSpec{UID: uid, Targets: []kit.ChatTarget{group(uid * 100)}}
	}
	return out
}

func TestRoundRobinFairness(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, fakeFormatter{})
	if err := f.svc.Apply(t.Context(), Settings{Accounts: specs(1, 2, 3, 4, 5), Concurrency: 2, MaxPages: 1}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	f.seed("1")

	var cycles [][]int64
	for range 3 {
		before := len(f.feed.order)
		res := f.svc.RunCycle(t.Context())
		if res.Checked != 2 {
			t.Fatalf("cycle checked %d accounts, want 2", res.Checked)
		}
		got := slices.Clone(f.feed.order[before:])
		slices.Sort(got)
		cycles = append(cycles, got)
	}

	want := [][]int64{{1, 2}, {3, 4}, {1, 5}}
	for i := range want {
		if !slices.Equal(cycles[i], want[i]) {
			t.Fatalf("cycle %d checked %v, want %v", i+1, cycles[i], want[i])
		}
	}

	// The first round (cycles 1, 2 and the head of 3) covers everyone
	// exactly once.
	seen := map[int64]int{}
	for _, c := range cycles[:2] {
		for _, uid := range c {
			seen[uid]++
		}
	}
	seen[5]++
	for uid := int64(1); uid <= 5; uid++ {
		if seen[uid] != 1 {
			t.Fatalf("uid %d checked %d times in the first round: %v", uid, seen[uid], f.feed.order)
		}
	}
}

func TestCycleIsolatesFailures(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, fakeFormatter{})
	settings := Settings{
		Accounts: []AccountSpec{
			{UID: 1, Targets: []kit.ChatTarget{group(11), group(12)}},
			{UID: 2, Targets: []kit.ChatTarget{group(21)}},
			{UID: 3, Targets: []kit.ChatTarget{group(31)}},
		},
		MaxPages: 10,
	}
	if err := f.svc.Apply(t.Context(), settings); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	f.seed("1")
	f.feed.set(1, page("", post("3"), post("2")))
	f.feed.set(3, page("", post("5")))
	f.feed.errs[2] = errors.New("rate limited")
	f.sender.fail[11] = true

	res := f.svc.RunCycle(t.Context())
	if res.Checked != 3 || res.Failed != 1 || res.AccountsWithNew != 2 || res.NewPosts != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := f.sender.texts(12); !slices.Equal(got, []string{"rich 2", "rich 3"}) {
		t.Fatalf("target 12 got %v", got)
	}
	if got := f.sender.texts(31); !slices.Equal(got, []string{"rich 5"}) {
		t.Fatalf("target 31 got %v", got)
	}
	if got := f.sender.texts(11); len(got) != 0 {
		t.Fatalf("failing target recorded %v", got)
	}
	// The failed account keeps its cursor for the next cycle.
	for _, st := range f.svc.Accounts() {
		if st.UID == 2 && st.Cursor != "1" {
			t.Fatalf("failed account cursor moved to %q", st.Cursor)
		}
	}
}

func TestCycleRecoversPanics(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, fakeFormatter{})
	if err := f.svc.Apply(t.Context(), Settings{Accounts: specs(1, 2), MaxPages: 1}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	f.seed("1")
	f.feed.panics[1] = true
	f.feed.set(2, page("", post("9")))

	res := f.svc.RunCycle(t.Context())
	if res.Failed != 1 || res.NewPosts != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if f.svc.queue.Len() != 2 {
		t.Fatalf("accounts not returned to the queue: %d", f.svc.queue.Len())
	}
}

func TestConcurrencyBound(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, fakeFormatter{})
	f.feed.delay = 20 * time.Millisecond
	if err := f.svc.Apply(t.Context(), Settings{Accounts: specs(1, 2, 3, 4, 5, 6), Concurrency: 2, MaxPages: 1}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	f.seed("1")

	for range 3 {
		f.svc.RunCycle(t.Context())
	}
	if p := f.feed.peak.Load(); p > 2 {
		t.Fatalf("peak in-flight fetches = %d, want <= 2", p)
	}
}

func TestCheckAllBypassesQueue(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsubscribe := bus.Subscribe(4)
	defer unsubscribe()

	f := &fixture{feed: newFakeFeed(), sender: newFakeSender()}
	f.svc = New(Options{Source: f.feed, Formatter: fakeFormatter{}, Sender: f.sender, Bus: bus, Log: logx.Nop()})
	if err := f.svc.Apply(t.Context(), Settings{Accounts: specs(1, 2, 3), Concurrency: 1, MaxPages: 1}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	f.seed("1")
	before := uids(f.svc.queue.Snapshot())

	res := f.svc.CheckAll(t.Context())
	if !res.Manual || res.Checked != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := uids(f.svc.queue.Snapshot()); !slices.Equal(got, before) {
		t.Fatalf("queue order changed: %v -> %v", before, got)
	}
	last, ok := f.svc.LastCycle()
	if !ok || last.ID != res.ID {
		t.Fatalf("LastCycle = %+v, %v", last, ok)
	}

	select {
	case ev := <-events:
		done, ok := ev.Data.(eventbus.CycleDone)
		if ev.Type != eventbus.TopicCycle || !ok || done.ID != res.ID {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no cycle event")
	}
}

func TestDispatchSuppressedAndFallback(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, fakeFormatter{
		suppress: map[string]bool{"3": true},
		fail:     map[string]bool{"4": true},
	})
	if err := f.svc.Apply(t.Context(), Settings{Accounts: specs(1), MaxPages: 1}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	f.seed("1")
	f.feed.set(1, page("", post("4"), post("3"), post("2")))

	res := f.svc.RunCycle(t.Context())
	if res.NewPosts != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
	want := []string{"rich 2", format.Fallback("alice", "https://t.bilibili.com/4")}
	if got := f.sender.texts(100); !slices.Equal(got, want) {
		t.Fatalf("target got %q, want %q", got, want)
	}
}

func TestApplyKeepsStateAndRestores(t *testing.T) {
	t.Parallel()
	store, err := storage.Open(storage.Config{Driver: "file", Path: t.TempDir() + "/state"}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	if err := store.PutState(t.Context(), storage.AccountState{UID: 3, Cursor: "30", DisplayName: "carol"}); err != nil {
		t.Fatalf("PutState: %v", err)
	}
	if err := store.PutState(t.Context(), storage.AccountState{UID: 4, Cursor: legacyUnset}); err != nil {
		t.Fatalf("PutState: %v", err)
	}

	f := newFixture(t, store, fakeFormatter{})
	if err := f.svc.Apply(t.Context(), Settings{Accounts: specs(1, 2)}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	f.feed.set(1, page("", post("15")))
	f.svc.CheckAll(t.Context())

	if err := f.svc.Apply(t.Context(), Settings{Accounts: specs(1, 3, 4)}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got := map[int64]AccountStatus{}
	for _, st := range f.svc.Accounts() {
		got[st.UID] = st
	}
	if len(got) != 3 {
		t.Fatalf("accounts = %+v", got)
	}
	if got[1].Cursor != "15" {
		t.Fatalf("uid 1 cursor = %q, want 15", got[1].Cursor)
	}
	if got[3].Cursor != "30" || got[3].Name != "carol" {
		t.Fatalf("uid 3 not restored: %+v", got[3])
	}
	if got[4].Cursor != "" {
		t.Fatalf("legacy cursor not reset: %q", got[4].Cursor)
	}
}

func TestForcePush(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, fakeFormatter{suppress: map[string]bool{"8": true}})
	f.feed.byID["7"] = post("7")
	f.feed.byID["8"] = post("8")
	to := []kit.ChatTarget{group(5)}

	res, err := f.svc.ForcePush(t.Context(), "7", to)
	if err != nil || len(res) != 1 || !res[0].Delivered() {
		t.Fatalf("ForcePush: %+v, %v", res, err)
	}
	if got := f.sender.texts(5); !slices.Equal(got, []string{"rich 7"}) {
		t.Fatalf("target got %v", got)
	}
	if _, err := f.svc.ForcePush(t.Context(), "8", to); !errors.Is(err, format.ErrSuppressed) {
		t.Fatalf("suppressed push err = %v", err)
	}
	if _, err := f.svc.ForcePush(t.Context(), "404", to); !errors.Is(err, feed.ErrNotFound) {
		t.Fatalf("missing post err = %v", err)
	}
}

func TestServiceStartStop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, fakeFormatter{})
	if err := f.svc.Apply(t.Context(), Settings{Accounts: specs(1), Interval: time.Hour, Immediate: true, MaxPages: 1}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	if err := f.svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { _, ok := f.svc.LastCycle(); return ok })
	f.svc.Stop()

	if f.feed.callCount(1) != 1 {
		t.Fatalf("calls = %d, want 1", f.feed.callCount(1))
	}
	if st := f.svc.Accounts()[0]; st.Cursor != cursorEmpty {
		t.Fatalf("bootstrap did not run: %+v", st)
	}
}

// gateSender blocks delivery of one message text until released.
type gateSender struct {
	*fakeSender
	hold    string
	started chan struct{}
	release chan struct{}
}

func (g *gateSender) SendMessage(ctx context.Context, to kit.ChatTarget, m kit.Message) (kit.MessageRef, error) {
	if m.Text == g.hold {
		close(g.started)
		select {
		case <-g.release:
		case <-ctx.Done():
			return kit.MessageRef{}, ctx.Err()
		}
	}
	return g.fakeSender.SendMessage(ctx, to, m)
}

func TestManualCheckWaitsForInFlightDelivery(t *testing.T) {
	t.Parallel()
	ff := newFakeFeed()
	gate := &gateSender{fakeSender: newFakeSender(), hold: "rich 3", started: make(chan struct{}), release: make(chan struct{})}
	svc := New(Options{Source: ff, Formatter: fakeFormatter{}, Sender: gate, Log: logx.Nop()})
	if err := svc.Apply(t.Context(), Settings{Accounts: specs(1), MaxPages: 1}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	svc.order[0].commit(storage.AccountState{UID: 1, Cursor: "2"})
	ff.set(1, page("", post("3")))

	cycleDone := make(chan struct{})
	go func() {
		defer close(cycleDone)
		svc.RunCycle(t.Context())
	}()
	<-gate.started

	// Post 4 appears while post 3 is still being delivered.
	ff.set(1, page("", post("4"), post("3")))
	checkDone := make(chan struct{})
	go func() {
		defer close(checkDone)
		svc.CheckAll(t.Context())
	}()

	select {
	case <-checkDone:
		t.Fatal("manual check finished while an older post was still in flight")
	case <-time.After(50 * time.Millisecond):
	}
	if n := ff.callCount(1); n != 1 {
		t.Fatalf("feed fetched %d times during delivery, want 1", n)
	}

	close(gate.release)
	<-cycleDone
	<-checkDone

	if got, want := gate.texts(100), []string{"rich 3", "rich 4"}; !slices.Equal(got, want) {
		t.Fatalf("delivery order %v, want %v", got, want)
	}
}
