package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const spaceFixture = `{
  "code": 0,
  "message": "0",
  "data": {
    "has_more": true,
    "offset": "900",
    "items": [
      {
        "id_str": "1000",
        "type": "DYNAMIC_TYPE_DRAW",
        "modules": {
          "module_author": {"mid": 7, "name": "alice", "face": "f.png", "pub_ts": 1700000000},
          "module_tag": {"text": "置顶"},
          "module_stat": {"forward": {"count": 1}, "like": {"count": 2}, "comment": {"count": 3}},
          "module_dynamic": {
            "desc": {"text": "two pics"},
            "major": {"type": "MAJOR_TYPE_DRAW", "draw": {"items": [
              {"src": "a.jpg", "width": 10, "height": 20, "size": 1.5},
              {"src": "b.jpg", "width": 30, "height": 40, "size": 2}
            ]}}
          }
        }
      },
      {
        "id_str": "990",
        "type": "DYNAMIC_TYPE_AV",
        "modules": {
          "module_author": {"mid": 7, "name": "alice", "face": "f.png", "pub_ts": "1699999000"},
          "module_dynamic": {
            "desc": null,
            "major": {"archive": {"aid": "42", "bvid": "BV1xx", "title": "clip", "desc": "d",
              "cover": "c.jpg", "duration_text": "1:02:03", "stat": {"play": "1万", "danmaku": "5"}}}
          }
        }
      },
      {
        "id_str": "980",
        "type": "DYNAMIC_TYPE_FORWARD",
        "orig": {"id_str": "", "type": "DYNAMIC_TYPE_NONE", "modules": {"module_author": {}}},
        "modules": {
          "module_author": {"mid": 7, "name": "alice"},
          "module_dynamic": {"desc": {"text": "rip"}}
        }
      },
      {
        "id_str": "970",
        "type": "DYNAMIC_TYPE_LIVE_RCMD",
        "modules": {
          "module_author": {"mid": 7, "name": "alice"},
          "module_dynamic": {"major": {"live_rcmd": {"content": "{\"live_play_info\":{\"room_id\":55,\"title\":\"live!\"}}"}}}
        }
      },
      {
        "id_str": "960",
        "type": "DYNAMIC_TYPE_COMMON_SQUARE",
        "modules": {"module_author": {"mid": 7, "name": "alice"}, "module_dynamic": {}}
      }
    ]
  }
}`

func TestRESTFetchPage(t *testing.T) {
	t.Parallel()
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != spacePath {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.RawQuery
		if r.Header.Get("User-Agent") != "test-agent" {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		_, _ = w.Write([]byte(spaceFixture))
	}))
	defer srv.Close()

	c := NewRESTClient(RESTOptions{BaseURL: srv.URL, UserAgent: "test-agent", HTTPClient: srv.Client()})
	page, err := c.FetchPage(context.Background(), 7, "1234")
	if err != nil {
		t.Fatalf("FetchPage error: %v", err)
	}
	if gotQuery != "host_mid=7&offset=1234" {
		t.Fatalf("query = %q", gotQuery)
	}
	if !page.HasMore || page.Next != "900" || len(page.Posts) != 5 {
		t.Fatalf("unexpected page: more=%v next=%q posts=%d", page.HasMore, page.Next, len(page.Posts))
	}

	draw := page.Posts[0]
	if !draw.Pinned || draw.Kind != KindImage || draw.UID != 7 || draw.Author != "alice" {
		t.Fatalf("unexpected draw post: %+v", draw)
	}
	if !draw.Time.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("time = %v", draw.Time)
	}
	img, ok := draw.Content.(Image)
	if !ok || img.Text != "two pics" || len(img.Images) != 2 || img.Images[1].URL != "b.jpg" {
		t.Fatalf("unexpected image content: %#v", draw.Content)
	}
	if draw.Stats != (Stats{Like: 2, Repost: 1, Reply: 3}) {
		t.Fatalf("stats = %+v", draw.Stats)
	}
	if draw.Link() != "https://t.bilibili.com/1000" {
		t.Fatalf("link = %s", draw.Link())
	}

	av := page.Posts[1]
	v, ok := av.Content.(Video)
	if av.Pinned || !ok || v.AID != 42 || v.Duration != time.Hour+2*time.Minute+3*time.Second {
		t.Fatalf("unexpected video post: %+v", av)
	}
	if av.Link() != "https://www.bilibili.com/video/BV1xx" {
		t.Fatalf("link = %s", av.Link())
	}

	fw, ok := page.Posts[2].Content.(Forward)
	if !ok || fw.Original != nil || fw.Text != "rip" {
		t.Fatalf("unexpected forward: %#v", page.Posts[2].Content)
	}

	live, ok := page.Posts[3].Content.(Live)
	if !ok || live.RoomID != 55 || page.Posts[3].Link() != "https://live.bilibili.com/55" {
		t.Fatalf("unexpected live: %#v", page.Posts[3].Content)
	}

	if page.Posts[4].Kind != KindUnknown {
		t.Fatalf("kind = %s, want unknown", page.Posts[4].Kind)
	}
}

func TestRESTErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		status   int
		body     string
		notFound bool
	}{
		{name: "deleted", status: 200, body: `{"code":4101131,"message":"gone"}`, notFound: true},
		{name: "api error", status: 200, body: `{"code":-352,"message":"risk control"}`},
		{name: "http error", status: 502, body: `bad gateway`},
		{name: "http 404", status: 404, body: ``, notFound: true},
		{name: "bad json", status: 200, body: `{`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()
			c := NewRESTClient(RESTOptions{BaseURL: srv.URL, HTTPClient: srv.Client()})
			_, err := c.Get(context.Background(), "1")
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, ErrNotFound); got != tt.notFound {
				t.Fatalf("errors.Is(ErrNotFound) = %v for %v", got, err)
			}
		})
	}
}

func TestRESTGet(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != detailPath || r.URL.Query().Get("id") != "555" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"code":0,"data":{"item":{"id_str":"555","type":"DYNAMIC_TYPE_WORD",
			"modules":{"module_author":{"mid":1,"name":"bob"},"module_dynamic":{"desc":{"text":"hi"}}}}}}`))
	}))
	defer srv.Close()

	c := NewRESTClient(RESTOptions{BaseURL: srv.URL, HTTPClient: srv.Client()})
	p, err := c.Get(context.Background(), "555")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if p.ID != "555" || p.Text() != "hi" || p.Kind != KindText {
		t.Fatalf("unexpected post: %+v", p)
	}
}

func TestParseClock(t *testing.T) {
	t.Parallel()
	cases := map[string]time.Duration{
		"03:07":   3*time.Minute + 7*time.Second,
		"1:00:00": time.Hour,
		"abc":     0,
		"1:x":     0,
		"":        0,
	}
	for in, want := range cases {
		if got := parseClock(in); got != want {
			t.Errorf("parseClock(%q) = %v, want %v", in, got, want)
		}
	}
}
