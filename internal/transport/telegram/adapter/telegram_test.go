package adapter

import (
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "dynpush/internal/transport"
)

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()
	if got := splitTelegramText("short", 10, ""); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short text split: %q", got)
	}

	long := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	got := splitTelegramText(long, 10, "")
	if len(got) != 2 || got[0] != strings.Repeat("a", 8) || got[1] != strings.Repeat("b", 8) {
		t.Fatalf("newline split: %q", got)
	}

	html := "abcdef<b>bold</b>"
	got = splitTelegramText(html, 10, "HTML")
	if got[0] != "abcdef" {
		t.Fatalf("html split cut inside a tag: %q", got)
	}
	if strings.Join(got, "") != html {
		t.Fatalf("html split lost text: %q", got)
	}
}

func TestSplitTelegramTextKeepsElementsWhole(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		in    string
		limit int
		want  []string
	}{
		{
			name:  "newline outside element",
			in:    "<b>title</b>\n<i>one two three</i>",
			limit: 24,
			want:  []string{"<b>title</b>", "<i>one two three</i>"},
		},
		{
			name:  "newline inside element is skipped",
			in:    "intro <b>a\nb</b> tail text",
			limit: 12,
			want:  []string{"intro ", "<b>a\nb</b> t", "ail text"},
		},
		{
			name:  "entity stays whole",
			in:    "abcdefg&amp;xyz",
			limit: 10,
			want:  []string{"abcdefg", "&amp;xyz"},
		},
		{
			name:  "nested elements",
			in:    "ab<a href=\"x\"><b>cd</b></a>ef",
			limit: 27,
			want:  []string{"ab<a href=\"x\"><b>cd</b></a>", "ef"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := splitTelegramText(tc.in, tc.limit, "HTML")
			if len(got) != len(tc.want) {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("chunk %d = %q, want %q (all %q)", i, got[i], tc.want[i], got)
				}
			}
		})
	}
}

func TestCommandFromMessage(t *testing.T) {
	t.Parallel()
	group := &tele.Message{
		Chat:     &tele.Chat{ID: -100, Type: tele.ChatSuperGroup},
		ThreadID: 5,
		Sender:   &tele.User{ID: 42, Username: "owner"},
	}
	cmd := commandFromMessage("push", group, []string{"123"})
	want := kit.ChatTarget{Kind: kit.TargetGroup, ChatID: -100, ThreadID: 5}
	if cmd.Chat != want || cmd.FromID != 42 || cmd.Args[0] != "123" {
		t.Fatalf("unexpected command: %+v", cmd)
	}

	private := &tele.Message{Chat: &tele.Chat{ID: 42, Type: tele.ChatPrivate}, ThreadID: 9}
	cmd = commandFromMessage("status", private, nil)
	if cmd.Chat.Kind != kit.TargetDirect || cmd.Chat.ThreadID != 0 {
		t.Fatalf("unexpected private target: %+v", cmd.Chat)
	}
}

func TestCaptionFits(t *testing.T) {
	t.Parallel()
	if !captionFits(strings.Repeat("字", telegramCaptionLimit)) {
		t.Fatal("caption at the limit should fit")
	}
	if captionFits(strings.Repeat("a", telegramCaptionLimit+1)) {
		t.Fatal("caption over the limit should not fit")
	}
}
