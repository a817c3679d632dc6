package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultRESTBase  = "https://api.bilibili.com"
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"

	spacePath  = "/x/polymer/web-dynamic/v1/feed/space"
	detailPath = "/x/polymer/web-dynamic/v1/detail"

	pinnedTag = "置顶"

	// API codes meaning the post does not exist or is hidden.
	codeDeleted  = 4101131
	codeNotFound = -404
)

// RESTClient fetches posts from the web JSON API.
type RESTClient struct {
	base    string
	ua      string
	http    *http.Client
	limiter *rate.Limiter
}

type RESTOptions struct {
	BaseURL        string
	UserAgent      string
	HTTPClient     *http.Client
	RequestsPerSec float64 // 0 = unlimited
}

func NewRESTClient(opt RESTOptions) *RESTClient {
	c := &RESTClient{
		base: strings.TrimRight(opt.BaseURL, "/"),
		ua:   opt.UserAgent,
		http: opt.HTTPClient,
	}
	if c.base == "" {
		c.base = DefaultRESTBase
	}
	if c.ua == "" {
		c.ua = DefaultUserAgent
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 20 * time.Second}
	}
	c.limiter = newLimiter(opt.RequestsPerSec)
	return c
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
}

type apiEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type spaceData struct {
	Items   []restItem `json:"items"`
	Offset  string     `json:"offset"`
	HasMore bool       `json:"has_more"`
}

type detailData struct {
	Item *restItem `json:"item"`
}

func (c *RESTClient) FetchPage(ctx context.Context, uid int64, cursor string) (Page, error) {
	q := url.Values{}
	q.Set("host_mid", strconv.FormatInt(uid, 10))
	q.Set("offset", cursor)

	var d spaceData
	if err := c.get(ctx, spacePath, q, &d); err != nil {
		return Page{}, fmt.Errorf("fetch space %d: %w", uid, err)
	}
	page := Page{Posts: make([]Post, 0, len(d.Items)), HasMore: d.HasMore}
	if d.HasMore {
		page.Next = d.Offset
	}
	for i := range d.Items {
		page.Posts = append(page.Posts, d.Items[i].post())
	}
	return page, nil
}

func (c *RESTClient) Get(ctx context.Context, id string) (Post, error) {
	q := url.Values{}
	q.Set("id", id)
	var d detailData
	if err := c.get(ctx, detailPath, q, &d); err != nil {
		return Post{}, fmt.Errorf("fetch post %s: %w", id, err)
	}
	if d.Item == nil {
		return Post{}, fmt.Errorf("fetch post %s: %w", id, ErrNotFound)
	}
	return d.Item.post(), nil
}

func (c *RESTClient) get(ctx context.Context, path string, q url.Values, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.ua)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Referer", "https://t.bilibili.com/")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return fmt.Errorf("http status %d", resp.StatusCode)
	}

	var env apiEnvelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	switch env.Code {
	case 0:
	case codeDeleted, codeNotFound:
		return ErrNotFound
	default:
		return fmt.Errorf("api code %d: %s", env.Code, env.Message)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("api response has no data")
	}
	return json.Unmarshal(env.Data, out)
}
