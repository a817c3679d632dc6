package feed

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// flexInt accepts both 123 and "123".
type flexInt int64

func (n *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return err
	}
	*n = flexInt(v)
	return nil
}

// restCount accepts {"count": 1} as well as a bare number.
type restCount struct {
	Count flexInt `json:"count"`
}

func (c *restCount) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] != '{' {
		return c.Count.UnmarshalJSON(b)
	}
	type plain restCount
	return json.Unmarshal(b, (*plain)(c))
}

type restItem struct {
	IDStr   string      `json:"id_str"`
	Type    string      `json:"type"`
	Orig    *restItem   `json:"orig"`
	Modules restModules `json:"modules"`
}

type restModules struct {
	Author struct {
		Mid   flexInt `json:"mid"`
		Name  string  `json:"name"`
		Face  string  `json:"face"`
		PubTS flexInt `json:"pub_ts"`
	} `json:"module_author"`
	Tag *struct {
		Text string `json:"text"`
	} `json:"module_tag"`
	Stat *struct {
		Forward restCount `json:"forward"`
		Like    restCount `json:"like"`
		Comment restCount `json:"comment"`
	} `json:"module_stat"`
	Dynamic struct {
		Desc *struct {
			Text string `json:"text"`
		} `json:"desc"`
		Major *restMajor `json:"major"`
	} `json:"module_dynamic"`
}

type restMajor struct {
	Type string `json:"type"`
	Draw *struct {
		Items []struct {
			Src    string  `json:"src"`
			Width  int     `json:"width"`
			Height int     `json:"height"`
			Size   float64 `json:"size"`
		} `json:"items"`
	} `json:"draw"`
	Opus *struct {
		Title   string `json:"title"`
		Summary struct {
			Text string `json:"text"`
		} `json:"summary"`
		Pics []struct {
			URL    string `json:"url"`
			Width  int    `json:"width"`
			Height int    `json:"height"`
		} `json:"pics"`
	} `json:"opus"`
	Archive *struct {
		AID          flexInt `json:"aid"`
		BVID         string  `json:"bvid"`
		Title        string  `json:"title"`
		Desc         string  `json:"desc"`
		Cover        string  `json:"cover"`
		DurationText string  `json:"duration_text"`
		Stat         struct {
			Play    string `json:"play"`
			Danmaku string `json:"danmaku"`
		} `json:"stat"`
	} `json:"archive"`
	Article *struct {
		ID     flexInt  `json:"id"`
		Title  string   `json:"title"`
		Desc   string   `json:"desc"`
		Covers []string `json:"covers"`
		Label  string   `json:"label"`
	} `json:"article"`
	Music *struct {
		ID    flexInt `json:"id"`
		Title string  `json:"title"`
		Cover string  `json:"cover"`
		Label string  `json:"label"`
	} `json:"music"`
	PGC *struct {
		SeasonID flexInt `json:"season_id"`
		EpID     flexInt `json:"epid"`
		Title    string  `json:"title"`
		Cover    string  `json:"cover"`
		Stat     struct {
			Play    string `json:"play"`
			Danmaku string `json:"danmaku"`
		} `json:"stat"`
	} `json:"pgc"`
	LiveRcmd *struct {
		Content string `json:"content"`
	} `json:"live_rcmd"`
}

func (it *restItem) post() Post {
	m := &it.Modules
	p := Post{
		ID:     it.IDStr,
		UID:    int64(m.Author.Mid),
		Author: m.Author.Name,
		Avatar: m.Author.Face,
		Pinned: m.Tag != nil && m.Tag.Text == pinnedTag,
		Kind:   kindFromType(it.Type),
	}
	if m.Author.PubTS > 0 {
		p.Time = time.Unix(int64(m.Author.PubTS), 0)
	}
	if m.Stat != nil {
		p.Stats = Stats{
			Like:   int64(m.Stat.Like.Count),
			Repost: int64(m.Stat.Forward.Count),
			Reply:  int64(m.Stat.Comment.Count),
		}
	}
	p.Content = it.content(p.Kind)
	return p
}

func (it *restItem) content(k Kind) Content {
	m := &it.Modules
	desc := ""
	if m.Dynamic.Desc != nil {
		desc = m.Dynamic.Desc.Text
	}
	major := m.Dynamic.Major
	if major == nil {
		major = &restMajor{}
	}
	if desc == "" && major.Opus != nil {
		desc = major.Opus.Summary.Text
	}

	switch k {
	case KindText:
		return Text{Text: desc}
	case KindImage:
		img := Image{Text: desc}
		if major.Draw != nil {
			for _, d := range major.Draw.Items {
				img.Images = append(img.Images, ImageRef{URL: d.Src, Width: d.Width, Height: d.Height})
			}
		} else if major.Opus != nil {
			for _, d := range major.Opus.Pics {
				img.Images = append(img.Images, ImageRef{URL: d.URL, Width: d.Width, Height: d.Height})
			}
		}
		return img
	case KindVideo:
		a := major.Archive
		if a == nil {
			return Video{Text: desc}
		}
		return Video{
			Text:     desc,
			AID:      int64(a.AID),
			BVID:     a.BVID,
			Title:    a.Title,
			Desc:     a.Desc,
			Cover:    a.Cover,
			Duration: parseClock(a.DurationText),
			Views:    a.Stat.Play,
			Danmaku:  a.Stat.Danmaku,
		}
	case KindArticle:
		if a := major.Article; a != nil {
			return Article{ID: int64(a.ID), Title: a.Title, Desc: a.Desc, Covers: a.Covers, Label: a.Label}
		}
		if o := major.Opus; o != nil {
			return Article{Title: o.Title, Desc: o.Summary.Text}
		}
		return Article{}
	case KindAudio:
		if a := major.Music; a != nil {
			return Audio{ID: int64(a.ID), Title: a.Title, Desc: desc, Cover: a.Cover, Label: a.Label}
		}
		return Audio{Desc: desc}
	case KindPGC:
		if g := major.PGC; g != nil {
			return PGC{
				SeasonID:  int64(g.SeasonID),
				EpisodeID: int64(g.EpID),
				Season:    m.Author.Name,
				Episode:   g.Title,
				Cover:     g.Cover,
			}
		}
		return PGC{Season: m.Author.Name}
	case KindForward:
		f := Forward{Text: desc}
		if it.Orig != nil && kindFromTypeRaw(it.Orig.Type) != "none" {
			orig := it.Orig.post()
			f.Original = &orig
		}
		return f
	case KindLive:
		if major.LiveRcmd != nil {
			return parseLiveRcmd(major.LiveRcmd.Content)
		}
		return Live{}
	}
	return Unknown{}
}

func kindFromTypeRaw(t string) string {
	return strings.ToLower(strings.TrimPrefix(t, "DYNAMIC_TYPE_"))
}

// parseLiveRcmd decodes the JSON document embedded as a string in live
// recommendation posts.
func parseLiveRcmd(raw string) Live {
	var v struct {
		LivePlayInfo struct {
			RoomID flexInt `json:"room_id"`
			Title  string  `json:"title"`
			Cover  string  `json:"cover"`
		} `json:"live_play_info"`
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return Live{}
	}
	return Live{RoomID: int64(v.LivePlayInfo.RoomID), Title: v.LivePlayInfo.Title, Cover: v.LivePlayInfo.Cover}
}

// parseClock parses "m:ss" or "h:mm:ss". It returns 0 when malformed.
func parseClock(s string) time.Duration {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0
	}
	var total int64
	for _, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return time.Duration(total) * time.Second
}
