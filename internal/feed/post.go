// Package feed fetches activity posts ("dynamics") of platform accounts.
//
// Two adapters implement the same page-cursor contract: RESTClient talks to
// the public web JSON API, RPCClient to the app gRPC API. Both return posts
// newest first.
package feed

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

var ErrNotFound = errors.New("post not found")

// Adapter is the fetch contract used by the monitor.
//
// FetchPage with cursor "" returns the newest page. Page.Next is the cursor
// for the following (older) page and is only meaningful when HasMore is true.
type Adapter interface {
	FetchPage(ctx context.Context, uid int64, cursor string) (Page, error)
	Get(ctx context.Context, id string) (Post, error)
}

type Page struct {
	Posts   []Post
	Next    string
	HasMore bool
}

type Kind string

const (
	KindText    Kind = "word"
	KindImage   Kind = "draw"
	KindVideo   Kind = "av"
	KindArticle Kind = "article"
	KindAudio   Kind = "music"
	KindPGC     Kind = "pgc"
	KindForward Kind = "forward"
	KindLive    Kind = "live_rcmd"
	KindUnknown Kind = "unknown"
)

// Post is one activity item. Time may be zero when the source omits it.
type Post struct {
	ID      string
	UID     int64
	Author  string
	Avatar  string
	Time    time.Time
	Pinned  bool
	Kind    Kind
	Content Content
	Stats   Stats
}

type Stats struct {
	Like   int64
	Repost int64
	Reply  int64
}

// Content is one of Text, Image, Video, Article, Audio, PGC, Forward, Live
// or Unknown.
type Content interface {
	kind() Kind
}

type Text struct {
	Text string
}

type ImageRef struct {
	URL    string
	Width  int
	Height int
}

type Image struct {
	Text   string
	Images []ImageRef
}

type Video struct {
	Text     string
	AID      int64
	BVID     string
	Title    string
	Desc     string
	Cover    string
	Duration time.Duration // 0 when unknown
	Views    string
	Danmaku  string
}

type Article struct {
	ID     int64
	Title  string
	Desc   string
	Covers []string
	Label  string
}

type Audio struct {
	ID    int64
	Title string
	Desc  string
	Cover string
	Label string
}

type PGC struct {
	SeasonID  int64
	EpisodeID int64
	Season    string
	Episode   string
	Cover     string
}

// Forward is a repost. Original is nil when the source post was deleted.
type Forward struct {
	Text     string
	Original *Post
}

type Live struct {
	RoomID int64
	Title  string
	Cover  string
}

type Unknown struct{}

func (Text) kind() Kind    { return KindText }
func (Image) kind() Kind   { return KindImage }
func (Video) kind() Kind   { return KindVideo }
func (Article) kind() Kind { return KindArticle }
func (Audio) kind() Kind   { return KindAudio }
func (PGC) kind() Kind     { return KindPGC }
func (Forward) kind() Kind { return KindForward }
func (Live) kind() Kind    { return KindLive }
func (Unknown) kind() Kind { return KindUnknown }

// Link returns the canonical URL of the post.
func (p Post) Link() string {
	switch c := p.Content.(type) {
	case Video:
		if c.BVID != "" {
			return "https://www.bilibili.com/video/" + c.BVID
		}
		if c.AID > 0 {
			return "https://www.bilibili.com/video/av" + strconv.FormatInt(c.AID, 10)
		}
	case Article:
		if c.ID > 0 {
			return "https://www.bilibili.com/read/cv" + strconv.FormatInt(c.ID, 10)
		}
	case Audio:
		if c.ID > 0 {
			return "https://www.bilibili.com/audio/au" + strconv.FormatInt(c.ID, 10)
		}
	case PGC:
		if c.EpisodeID > 0 {
			return "https://www.bilibili.com/bangumi/play/ep" + strconv.FormatInt(c.EpisodeID, 10)
		}
	case Live:
		if c.RoomID > 0 {
			return "https://live.bilibili.com/" + strconv.FormatInt(c.RoomID, 10)
		}
	}
	return "https://t.bilibili.com/" + p.ID
}

// Text returns the author-written text of the post (not of a forwarded
// original).
func (p Post) Text() string {
	switch c := p.Content.(type) {
	case Text:
		return c.Text
	case Image:
		return c.Text
	case Video:
		return c.Text
	case Forward:
		return c.Text
	case Article:
		return strings.TrimSpace(c.Title + "\n" + c.Desc)
	case Audio:
		return c.Desc
	}
	return ""
}

// kindFromType maps "DYNAMIC_TYPE_DRAW" or "draw" to a Kind.
func kindFromType(t string) Kind {
	k := Kind(strings.ToLower(strings.TrimPrefix(t, "DYNAMIC_TYPE_")))
	switch k {
	case KindText, KindImage, KindVideo, KindArticle, KindAudio, KindPGC, KindForward, KindLive:
		return k
	}
	return KindUnknown
}
