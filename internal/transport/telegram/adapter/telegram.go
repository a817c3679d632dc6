package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "dynpush/internal/runtime/supervisor"
	kit "dynpush/internal/transport"
	"dynpush/internal/transport/telegram/router"
	logx "dynpush/pkg/logx"
)

const (
	telegramTextLimit    = 4000
	telegramCaptionLimit = 1024
	commandTimeout       = 2 * time.Minute
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// Offline skips the getMe call; used by tests.
	Offline bool
}

// Adapter connects to the Telegram Bot API with long polling.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
	// ctx is the running adapter context handed to command handlers.
	ctx context.Context
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, ctx: context.Background()}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: timeout},
		Offline: cfg.Offline,
		OnError: func(err error, _ tele.Context) {
			a.log.Warn("telegram handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	a.bot = b
	return a, nil
}

// Handle registers a command handler ("check" handles "/check"). It must be
// called before Start.
func (a *Adapter) Handle(name string, h kit.CommandHandler) {
	name = strings.TrimPrefix(strings.TrimSpace(name), "/")
	a.bot.Handle("/"+name, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil {
			return nil
		}
		cmd := commandFromMessage(name, m, c.Args())

		a.runMu.Lock()
		base := a.ctx
		a.runMu.Unlock()
		ctx, cancel := context.WithTimeout(base, commandTimeout)
		defer cancel()

		reply, err := h(ctx, cmd)
		if errors.Is(err, router.ErrForbidden) {
			return nil
		}
		if err != nil {
			reply = "Error: " + err.Error()
		}
		if strings.TrimSpace(reply) == "" {
			return nil
		}
		_, serr := a.SendText(ctx, cmd.Chat, reply, &kit.SendOptions{DisablePreview: true})
		return serr
	})
}

func commandFromMessage(name string, m *tele.Message, args []string) kit.Command {
	cmd := kit.Command{
		Name: name,
		Args: args,
		Chat: kit.ChatTarget{Kind: kit.TargetGroup, ChatID: m.Chat.ID, ThreadID: m.ThreadID},
	}
	if m.Chat.Type == tele.ChatPrivate {
		cmd.Chat.Kind = kit.TargetDirect
		cmd.Chat.ThreadID = 0
	}
	if m.Sender != nil {
		cmd.FromID = m.Sender.ID
		cmd.FromName = m.Sender.Username
	}
	return cmd
}

func (a *Adapter) Start(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}
	a.running = true
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))
	a.ctx = a.sup.Context()
	sup := a.sup

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// bot.Start blocks until Stop; it is restarted if it returns early.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		if c.Err() != nil {
			return nil
		}
		return errors.New("poller exited")
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Keep shutdown snappy even if getUpdates is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		grace = min(grace, time.Until(dl))
	}
	wctx, cancel := context.WithTimeout(context.Background(), max(grace, 0))
	defer cancel()
	if err := sup.Stop(wctx); err != nil {
		a.log.Warn("telegram stop timed out", logx.Err(err))
	}
	return nil
}

func sendOptions(to kit.ChatTarget, opt *kit.SendOptions) *tele.SendOptions {
	so := &tele.SendOptions{ThreadID: to.ThreadID}
	if opt != nil {
		so.ParseMode = opt.ParseMode
		so.DisableWebPagePreview = opt.DisablePreview
	}
	return so
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	parseMode := ""
	if opt != nil {
		parseMode = opt.ParseMode
	}
	chunks := splitTelegramText(text, telegramTextLimit, parseMode)
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, sendOptions(to, opt))
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// SendMessage sends photos with the text as caption when it fits, otherwise
// the photos first and the text as a separate message.
func (a *Adapter) SendMessage(ctx context.Context, to kit.ChatTarget, m kit.Message) (kit.MessageRef, error) {
	if len(m.Photos) == 0 {
		return a.SendText(ctx, to, m.Text, m.Options)
	}
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}

	caption := ""
	if captionFits(m.Text) {
		caption = m.Text
	}
	chat := &tele.Chat{ID: to.ChatID}
	opt := sendOptions(to, m.Options)

	var first kit.MessageRef
	if len(m.Photos) == 1 {
		msg, err := a.bot.Send(chat, &tele.Photo{File: tele.FromURL(m.Photos[0].URL), Caption: caption}, opt)
		if err != nil {
			return kit.MessageRef{}, err
		}
		first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
	} else {
		album := make(tele.Album, 0, len(m.Photos))
		for i, p := range m.Photos {
			ph := &tele.Photo{File: tele.FromURL(p.URL)}
			if i == 0 {
				ph.Caption = caption
			}
			album = append(album, ph)
		}
		msgs, err := a.bot.SendAlbum(chat, album, opt)
		if err != nil {
			return kit.MessageRef{}, err
		}
		if len(msgs) > 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msgs[0].ID}
		}
	}

	if caption == "" && strings.TrimSpace(m.Text) != "" {
		if _, err := a.SendText(ctx, to, m.Text, m.Options); err != nil {
			return first, err
		}
	}
	return first, nil
}

func captionFits(s string) bool {
	return len([]rune(s)) <= telegramCaptionLimit
}

// splitTelegramText splits long messages into chunks that are safe to send to Telegram.
// It prefers newline boundaries. With HTML parse mode a chunk never ends
// inside a tag, an entity or an unclosed element unless one element alone
// exceeds the limit.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	html := strings.EqualFold(parseMode, "HTML")

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			if html {
				end = htmlCut(rs, start, end, limit)
			} else {
				end = newlineCut(rs, start, end, limit, nil)
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// newlineCut moves end back to just after a newline, skipping tiny chunks.
// safe, when set, restricts the choice to balanced positions.
func newlineCut(rs []rune, start, end, limit int, safe []bool) int {
	for i := end - 1; i > start; i-- {
		if i-start < limit/3 {
			break
		}
		if rs[i] == '\n' && (safe == nil || safe[i+1-start]) {
			return i + 1
		}
	}
	return end
}

// htmlCut picks the best cut in rs[start:end] where no tag, entity or
// element is open.
func htmlCut(rs []rune, start, end, limit int) int {
	safe := make([]bool, end-start+1)
	depth, inTag, inEntity, tagStart, lastOutside := 0, false, false, 0, start
	for i := start; i <= end; i++ {
		if !inTag && !inEntity {
			lastOutside = i
			safe[i-start] = depth == 0
		}
		if i == end {
			break
		}
		switch r := rs[i]; {
		case inTag:
			if r == '>' {
				inTag = false
				tag := string(rs[tagStart+1 : i])
				switch {
				case strings.HasPrefix(tag, "/"):
					depth = max(depth-1, 0)
				case !strings.HasSuffix(tag, "/"):
					depth++
				}
			}
		case inEntity:
			if r == ';' || r == ' ' || r == '\n' {
				inEntity = false
			}
		case r == '<':
			inTag, tagStart = true, i
		case r == '&':
			inEntity = true
		}
	}

	if cut := newlineCut(rs, start, end, limit, safe); cut != end || safe[end-start] {
		return cut
	}
	for i := end - 1; i > start; i-- {
		if safe[i-start] {
			return i
		}
	}
	// One element is longer than the limit; at least stay outside tags.
	if lastOutside > start {
		return lastOutside
	}
	return end
}
