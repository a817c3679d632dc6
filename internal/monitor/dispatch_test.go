package monitor

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"dynpush/internal/feed"
	logx "dynpush/pkg/logx"
)

func TestDispatchLogsUndeliveredOnCancel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	sender := newFakeSender()
	d := &Dispatcher{Formatter: fakeFormatter{}, Sender: sender, Log: logx.NewWriter(&buf, "debug")}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	d.Dispatch(ctx, 1, "alice", specs(1)[0].Targets, []feed.Post{post("3"), post("4")})

	if got := sender.texts(100); len(got) != 0 {
		t.Fatalf("sent %v after cancel, want nothing", got)
	}
	out := buf.String()
	if !strings.Contains(out, "delivery interrupted") || !strings.Contains(out, `"undelivered":2`) {
		t.Fatalf("log = %q, want interrupted warning with undelivered count", out)
	}
	if !strings.Contains(out, `"level":"warn"`) {
		t.Fatalf("log = %q, want warn level", out)
	}
}
