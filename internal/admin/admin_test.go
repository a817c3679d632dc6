package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"dynpush/internal/delivery"
	"dynpush/internal/feed"
	"dynpush/internal/monitor"
	kit "dynpush/internal/transport"
	logx "dynpush/pkg/logx"
)

type fakeMonitor struct {
	checks  int
	pushed  []kit.ChatTarget
	pushErr error
}

func (f *fakeMonitor) Accounts() []monitor.AccountStatus {
	return []monitor.AccountStatus{{UID: 1, Name: "alice", Cursor: "42", Targets: []string{"group:-100"}}}
}

func (f *fakeMonitor) LastCycle() (monitor.CycleResult, bool) {
	return monitor.CycleResult{ID: "c1", Checked: 1}, f.checks > 0
}

func (f *fakeMonitor) CheckAll(context.Context) monitor.CycleResult {
	f.checks++
	return monitor.CycleResult{ID: "c1", Manual: true, Checked: 1, NewPosts: 2}
}

func (f *fakeMonitor) ForcePush(_ context.Context, _ string, targets []kit.ChatTarget) ([]delivery.Result, error) {
	if f.pushErr != nil {
		return nil, f.pushErr
	}
	f.pushed = targets
	out := make([]delivery.Result, len(targets))
	for i, t := range targets {
		out[i] = delivery.Result{Target: t}
	}
	return out, nil
}

func do(t *testing.T, h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuth(t *testing.T) {
	t.Parallel()
	h := New(&fakeMonitor{}, logx.Nop()).Handler(Config{Token: "secret"})

	if rec := do(t, h, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/accounts", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/accounts", "", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/accounts?token=secret", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("query token status = %d", rec.Code)
	}
}

func TestAccountsAndCheck(t *testing.T) {
	t.Parallel()
	mon := &fakeMonitor{}
	h := New(mon, logx.Nop()).Handler(Config{Token: "secret"})

	rec := do(t, h, http.MethodGet, "/accounts", "", "secret")
	var accounts struct {
		Accounts []monitor.AccountStatus `json:"accounts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &accounts); err != nil {
		t.Fatalf("decode accounts: %v", err)
	}
	if len(accounts.Accounts) != 1 || accounts.Accounts[0].Cursor != "42" {
		t.Fatalf("accounts = %+v", accounts)
	}

	rec = do(t, h, http.MethodPost, "/check", "", "secret")
	var check struct {
		Cycle monitor.CycleResult `json:"cycle"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &check); err != nil {
		t.Fatalf("decode check: %v", err)
	}
	if mon.checks != 1 || !check.Cycle.Manual || check.Cycle.NewPosts != 2 {
		t.Fatalf("check = %+v (checks=%d)", check, mon.checks)
	}

	rec = do(t, h, http.MethodGet, "/cycle", "", "secret")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"c1"`) {
		t.Fatalf("cycle = %d %s", rec.Code, rec.Body.String())
	}
}

func TestPush(t *testing.T) {
	t.Parallel()
	mon := &fakeMonitor{}
	h := New(mon, logx.Nop()).Handler(Config{})

	rec := do(t, h, http.MethodPost, "/push/123", `{"targets":[{"group":-100,"thread_id":7},{"user":5}]}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("push status = %d: %s", rec.Code, rec.Body.String())
	}
	want := []kit.ChatTarget{
		{Kind: kit.TargetGroup, ChatID: -100, ThreadID: 7},
		{Kind: kit.TargetDirect, ChatID: 5},
	}
	if len(mon.pushed) != 2 || mon.pushed[0] != want[0] || mon.pushed[1] != want[1] {
		t.Fatalf("pushed to %+v", mon.pushed)
	}

	if rec := do(t, h, http.MethodPost, "/push/123", `{"targets":[{"grop":1}]}`, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("typo target status = %d", rec.Code)
	}

	cases := []struct {
		err  error
		want int
	}{
		{feed.ErrNotFound, http.StatusNotFound},
		{delivery.ErrNoTargets, http.StatusUnprocessableEntity},
		{errors.New("upstream"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		mon.pushErr = tc.err
		if rec := do(t, h, http.MethodPost, "/push/1", "", ""); rec.Code != tc.want {
			t.Errorf("err %v: status = %d, want %d", tc.err, rec.Code, tc.want)
		}
	}
}

func TestPprofMount(t *testing.T) {
	t.Parallel()
	off := New(&fakeMonitor{}, logx.Nop()).Handler(Config{Token: "secret"})
	if rec := do(t, off, http.MethodGet, "/debug/pprof/", "", "secret"); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof disabled status = %d", rec.Code)
	}
	on := New(&fakeMonitor{}, logx.Nop()).Handler(Config{Token: "secret", Pprof: true})
	if rec := do(t, on, http.MethodGet, "/debug/pprof/goroutine?debug=1", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("pprof without token status = %d", rec.Code)
	}
	if rec := do(t, on, http.MethodGet, "/debug/pprof/goroutine?debug=1", "", "secret"); rec.Code != http.StatusOK {
		t.Fatalf("pprof goroutine status = %d", rec.Code)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	for addr, want := range map[string]bool{
		"127.0.0.1:8089": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":8089":          false,
		"0.0.0.0:8089":   false,
		"bogus":          false,
	} {
		if got := isLoopbackAddr(addr); got != want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}
