// Package format renders feed posts as chat messages.
package format

import (
	"context"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"

	"dynpush/internal/feed"
	"dynpush/internal/transport"
)

var (
	// ErrSuppressed means an ignore rule matched; the post must not be sent.
	ErrSuppressed = errors.New("post suppressed by ignore rule")
	// ErrUnsupported means the post kind has no rich rendering.
	ErrUnsupported = errors.New("unsupported post kind")
)

const maxPhotos = 10

// Formatter turns a post into a message.
type Formatter interface {
	Format(ctx context.Context, p feed.Post) (transport.Message, error)
}

type Options struct {
	IgnoreRegexes        []*regexp.Regexp
	IgnoreForwardRegexes []*regexp.Regexp
	// Ellipsis is the maximum summary length in runes.
	Ellipsis int
}

// HTML renders Telegram HTML messages.
type HTML struct {
	opt Options
}

func NewHTML(opt Options) *HTML {
	if opt.Ellipsis <= 0 {
		opt.Ellipsis = 50
	}
	return &HTML{opt: opt}
}

// Fallback is the plain text sent when a post cannot be formatted.
func Fallback(name, link string) string {
	if strings.TrimSpace(name) == "" {
		name = "Someone"
	}
	return name + " posted an update\n" + link
}

func (f *HTML) Format(ctx context.Context, p feed.Post) (transport.Message, error) {
	if err := ctx.Err(); err != nil {
		return transport.Message{}, err
	}
	if err := f.checkIgnore(p); err != nil {
		return transport.Message{}, err
	}

	var b strings.Builder
	photos := []transport.Photo(nil)
	author := html.EscapeString(p.Author)

	switch c := p.Content.(type) {
	case feed.Text:
		fmt.Fprintf(&b, "<b>%s</b> posted\n", author)
		f.writeSummary(&b, c.Text)
	case feed.Image:
		fmt.Fprintf(&b, "<b>%s</b> posted %d image%s\n", author, len(c.Images), plural(len(c.Images)))
		f.writeSummary(&b, c.Text)
		for i, img := range c.Images {
			if i == maxPhotos {
				break
			}
			photos = append(photos, transport.Photo{URL: img.URL})
		}
	case feed.Video:
		fmt.Fprintf(&b, "<b>%s</b> uploaded a video\n", author)
		fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(c.Title))
		f.writeSummary(&b, firstNonEmpty(c.Text, c.Desc))
		if c.Duration > 0 {
			fmt.Fprintf(&b, "Duration: %s\n", c.Duration)
		}
		photos = appendPhoto(photos, c.Cover)
	case feed.Article:
		fmt.Fprintf(&b, "<b>%s</b> published an article\n", author)
		fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(c.Title))
		f.writeSummary(&b, c.Desc)
		if len(c.Covers) > 0 {
			photos = appendPhoto(photos, c.Covers[0])
		}
	case feed.Audio:
		fmt.Fprintf(&b, "<b>%s</b> published audio\n", author)
		fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(c.Title))
		f.writeSummary(&b, c.Desc)
		photos = appendPhoto(photos, c.Cover)
	case feed.PGC:
		fmt.Fprintf(&b, "<b>%s</b> updated\n", html.EscapeString(firstNonEmpty(c.Season, p.Author)))
		fmt.Fprintf(&b, "%s\n", html.EscapeString(c.Episode))
		photos = appendPhoto(photos, c.Cover)
	case feed.Live:
		fmt.Fprintf(&b, "<b>%s</b> is live\n", author)
		f.writeSummary(&b, c.Title)
		photos = appendPhoto(photos, c.Cover)
	case feed.Forward:
		fmt.Fprintf(&b, "<b>%s</b> reposted\n", author)
		f.writeSummary(&b, c.Text)
		if c.Original == nil {
			b.WriteString("<i>(original post deleted)</i>\n")
		} else {
			o := c.Original
			fmt.Fprintf(&b, "<blockquote><b>%s</b>: %s</blockquote>\n",
				html.EscapeString(o.Author), html.EscapeString(Ellipsize(summaryOf(*o), f.opt.Ellipsis)))
		}
	default:
		return transport.Message{}, fmt.Errorf("%w: %s", ErrUnsupported, p.Kind)
	}

	b.WriteString(html.EscapeString(p.Link()))
	return transport.Message{
		Text:    b.String(),
		Photos:  photos,
		Options: &transport.SendOptions{ParseMode: "HTML", DisablePreview: len(photos) > 0},
	}, nil
}

// checkIgnore applies ignore rules to the post's own text and forward rules
// to the text of a reposted original.
func (f *HTML) checkIgnore(p feed.Post) error {
	if re := firstMatch(f.opt.IgnoreRegexes, p.Text()); re != nil {
		return fmt.Errorf("%w: %s", ErrSuppressed, re)
	}
	if fw, ok := p.Content.(feed.Forward); ok && fw.Original != nil {
		if re := firstMatch(f.opt.IgnoreForwardRegexes, fw.Original.Text()); re != nil {
			return fmt.Errorf("%w: %s", ErrSuppressed, re)
		}
	}
	return nil
}

func firstMatch(res []*regexp.Regexp, s string) *regexp.Regexp {
	if s == "" {
		return nil
	}
	for _, re := range res {
		if re.MatchString(s) {
			return re
		}
	}
	return nil
}

func (f *HTML) writeSummary(b *strings.Builder, s string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return
	}
	b.WriteString(html.EscapeString(Ellipsize(s, f.opt.Ellipsis)))
	b.WriteByte('\n')
}

// summaryOf returns a one-line description of a reposted original.
func summaryOf(p feed.Post) string {
	switch c := p.Content.(type) {
	case feed.Video:
		return firstNonEmpty(c.Title, c.Text)
	case feed.Article:
		return c.Title
	case feed.Audio:
		return c.Title
	case feed.PGC:
		return strings.TrimSpace(c.Season + " " + c.Episode)
	case feed.Live:
		return c.Title
	}
	if t := p.Text(); t != "" {
		return t
	}
	return p.Link()
}

// Ellipsize shortens s to at most n runes, ending with "..." when cut.
func Ellipsize(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

func appendPhoto(ps []transport.Photo, url string) []transport.Photo {
	if strings.TrimSpace(url) == "" {
		return ps
	}
	return append(ps, transport.Photo{URL: url})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
