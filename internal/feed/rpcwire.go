package feed

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of bilibili.app.dynamic.v2 messages that the monitor reads.
// Everything else on the wire is skipped.
const (
	// DynSpaceReq
	fSpaceReqHostUID       protowire.Number = 1
	fSpaceReqHistoryOffset protowire.Number = 2
	// DynSpaceRsp
	fSpaceRspList          protowire.Number = 1
	fSpaceRspHistoryOffset protowire.Number = 2
	fSpaceRspHasMore       protowire.Number = 3
	// DynDetailsReq / DynDetailsReply
	fDetailsReqIDs  protowire.Number = 2
	fDetailsRspList protowire.Number = 1
	// DynamicItem
	fItemCardType protowire.Number = 1
	fItemModules  protowire.Number = 3
	fItemExtend   protowire.Number = 4
	// Extend
	fExtendDynIDStr   protowire.Number = 1
	fExtendBusinessID protowire.Number = 2
	// Module (oneof members)
	fModAuthor        protowire.Number = 2
	fModDesc          protowire.Number = 4
	fModDynamic       protowire.Number = 5
	fModAuthorForward protowire.Number = 10
	fModStat          protowire.Number = 16
	// ModuleAuthor
	fAuthorMid    protowire.Number = 1
	fAuthorAuthor protowire.Number = 3
	fAuthorIsTop  protowire.Number = 7
	// UserInfo
	fUserMid  protowire.Number = 1
	fUserName protowire.Number = 2
	fUserFace protowire.Number = 3
	// ModuleAuthorForward
	fFwdAuthorTitle   protowire.Number = 1
	fFwdAuthorFaceURL protowire.Number = 3
	fFwdAuthorUID     protowire.Number = 5
	// ModuleDesc / ModuleAuthorForwardTitle
	fDescText     protowire.Number = 3
	fFwdTitleText protowire.Number = 1
	// ModuleStat
	fStatRepost protowire.Number = 1
	fStatLike   protowire.Number = 2
	fStatReply  protowire.Number = 3
	// ModuleDynamic (oneof members)
	fDynForward protowire.Number = 2
	fDynArchive protowire.Number = 3
	fDynPGC     protowire.Number = 4
	fDynDraw    protowire.Number = 7
	fDynArticle protowire.Number = 8
	fDynMusic   protowire.Number = 9
	fDynLive    protowire.Number = 15
	// MdlDynForward
	fForwardItem protowire.Number = 1
	// MdlDynArchive
	fArchiveCover    protowire.Number = 1
	fArchiveViews    protowire.Number = 3
	fArchiveDanmaku  protowire.Number = 4
	fArchiveAvid     protowire.Number = 5
	fArchiveDuration protowire.Number = 18
	fArchiveBvid     protowire.Number = 24
	fArchiveTitle    protowire.Number = 26
	// MdlDynDraw / MdlDynDrawItem
	fDrawItems      protowire.Number = 1
	fDrawItemSrc    protowire.Number = 1
	fDrawItemWidth  protowire.Number = 2
	fDrawItemHeight protowire.Number = 3
	// MdlDynArticle
	fArticleID     protowire.Number = 1
	fArticleTitle  protowire.Number = 3
	fArticleDesc   protowire.Number = 4
	fArticleCovers protowire.Number = 5
	fArticleLabel  protowire.Number = 6
	// MdlDynMusic
	fMusicID     protowire.Number = 1
	fMusicTitle  protowire.Number = 4
	fMusicCover  protowire.Number = 5
	fMusicLabel1 protowire.Number = 6
	// MdlDynPGC
	fPGCTitle    protowire.Number = 1
	fPGCCover    protowire.Number = 2
	fPGCSeasonID protowire.Number = 8
	fPGCEpID     protowire.Number = 9
	fPGCSeason   protowire.Number = 18
	fSeasonTitle protowire.Number = 2
	// MdlDynLiveRcmd
	fLiveContent protowire.Number = 1
)

// DynamicType values.
const (
	dynNone    = 0
	dynForward = 1
	dynAV      = 2
	dynPGC     = 3
	dynWord    = 6
	dynDraw    = 7
	dynArticle = 8
	dynMusic   = 9
	dynLive    = 19
)

var errMalformed = errors.New("malformed protobuf message")

// wireField is one decoded top-level field. For length-delimited fields
// Bytes holds the payload; for scalar fields Num holds the value.
type wireField struct {
	Num   protowire.Number
	Type  protowire.Type
	Bytes []byte
	Val   uint64
}

// walk calls fn for every field of b in wire order.
func walk(b []byte, fn func(f wireField) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", errMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		f := wireField{Num: num, Type: typ}
		switch typ {
		case protowire.VarintType:
			f.Val, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.Val = uint64(v)
		case protowire.Fixed64Type:
			f.Val, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.Bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", errMalformed, num, protowire.ParseError(n))
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func encodeSpaceReq(uid int64, offset string) []byte {
	var b []byte
	b = protowire.AppendTag(b, fSpaceReqHostUID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(uid))
	if offset != "" {
		b = protowire.AppendTag(b, fSpaceReqHistoryOffset, protowire.BytesType)
		b = protowire.AppendString(b, offset)
	}
	return b
}

func encodeDetailsReq(ids []string) []byte {
	var b []byte
	b = protowire.AppendTag(b, fDetailsReqIDs, protowire.BytesType)
	b = protowire.AppendString(b, strings.Join(ids, ","))
	return b
}

func decodeSpaceRsp(b []byte) (Page, error) {
	var page Page
	err := walk(b, func(f wireField) error {
		switch f.Num {
		case fSpaceRspList:
			p, err := decodeItem(f.Bytes)
			if err != nil {
				return err
			}
			page.Posts = append(page.Posts, p)
		case fSpaceRspHistoryOffset:
			page.Next = string(f.Bytes)
		case fSpaceRspHasMore:
			page.HasMore = f.Val != 0
		}
		return nil
	})
	if !page.HasMore {
		page.Next = ""
	}
	return page, err
}

func decodeDetailsRsp(b []byte) ([]Post, error) {
	var out []Post
	err := walk(b, func(f wireField) error {
		if f.Num != fDetailsRspList {
			return nil
		}
		p, err := decodeItem(f.Bytes)
		if err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

// rpcItem collects the raw modules of a DynamicItem before they are turned
// into a Post.
type rpcItem struct {
	cardType   uint64
	dynID      string
	businessID string

	author, authorFwd, desc, dynamic, stat []byte
}

func decodeItem(b []byte) (Post, error) {
	var it rpcItem
	err := walk(b, func(f wireField) error {
		switch f.Num {
		case fItemCardType:
			it.cardType = f.Val
		case fItemExtend:
			return walk(f.Bytes, func(e wireField) error {
				switch e.Num {
				case fExtendDynIDStr:
					it.dynID = string(e.Bytes)
				case fExtendBusinessID:
					it.businessID = string(e.Bytes)
				}
				return nil
			})
		case fItemModules:
			return walk(f.Bytes, func(m wireField) error {
				switch m.Num {
				case fModAuthor:
					it.author = m.Bytes
				case fModAuthorForward:
					it.authorFwd = m.Bytes
				case fModDesc:
					it.desc = m.Bytes
				case fModDynamic:
					it.dynamic = m.Bytes
				case fModStat:
					it.stat = m.Bytes
				}
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return Post{}, err
	}
	return it.post()
}

func (it *rpcItem) post() (Post, error) {
	p := Post{ID: it.dynID, Kind: rpcKind(it.cardType)}

	switch {
	case it.authorFwd != nil:
		// Forwarded originals carry a short author header and are never pinned.
		err := walk(it.authorFwd, func(f wireField) error {
			switch f.Num {
			case fFwdAuthorUID:
				p.UID = int64(f.Val)
			case fFwdAuthorFaceURL:
				p.Avatar = string(f.Bytes)
			case fFwdAuthorTitle:
				if p.Author != "" {
					return nil
				}
				return walk(f.Bytes, func(t wireField) error {
					if t.Num == fFwdTitleText {
						p.Author = strings.TrimPrefix(string(t.Bytes), "@")
					}
					return nil
				})
			}
			return nil
		})
		if err != nil {
			return Post{}, err
		}
	case it.author != nil:
		err := walk(it.author, func(f wireField) error {
			switch f.Num {
			case fAuthorMid:
				p.UID = int64(f.Val)
			case fAuthorIsTop:
				p.Pinned = f.Val != 0
			case fAuthorAuthor:
				return walk(f.Bytes, func(u wireField) error {
					switch u.Num {
					case fUserMid:
						p.UID = int64(u.Val)
					case fUserName:
						p.Author = string(u.Bytes)
					case fUserFace:
						p.Avatar = string(u.Bytes)
					}
					return nil
				})
			}
			return nil
		})
		if err != nil {
			return Post{}, err
		}
	}

	if it.stat != nil {
		err := walk(it.stat, func(f wireField) error {
			switch f.Num {
			case fStatRepost:
				p.Stats.Repost = int64(f.Val)
			case fStatLike:
				p.Stats.Like = int64(f.Val)
			case fStatReply:
				p.Stats.Reply = int64(f.Val)
			}
			return nil
		})
		if err != nil {
			return Post{}, err
		}
	}

	desc, err := stringField(it.desc, fDescText)
	if err != nil {
		return Post{}, err
	}
	c, err := it.content(p.Kind, desc)
	if err != nil {
		return Post{}, err
	}
	p.Content = c
	return p, nil
}

func rpcKind(t uint64) Kind {
	switch t {
	case dynForward:
		return KindForward
	case dynAV:
		return KindVideo
	case dynPGC:
		return KindPGC
	case dynWord:
		return KindText
	case dynDraw:
		return KindImage
	case dynArticle:
		return KindArticle
	case dynMusic:
		return KindAudio
	case dynLive:
		return KindLive
	}
	return KindUnknown
}

// dynamicMember returns the payload of the ModuleDynamic oneof member num.
func (it *rpcItem) dynamicMember(num protowire.Number) ([]byte, error) {
	var out []byte
	err := walk(it.dynamic, func(f wireField) error {
		if f.Num == num && f.Type == protowire.BytesType {
			out = f.Bytes
		}
		return nil
	})
	return out, err
}

func (it *rpcItem) content(k Kind, desc string) (Content, error) {
	var member protowire.Number
	switch k {
	case KindText:
		return Text{Text: desc}, nil
	case KindImage:
		member = fDynDraw
	case KindVideo:
		member = fDynArchive
	case KindArticle:
		member = fDynArticle
	case KindAudio:
		member = fDynMusic
	case KindPGC:
		member = fDynPGC
	case KindForward:
		member = fDynForward
	case KindLive:
		member = fDynLive
	default:
		return Unknown{}, nil
	}
	b, err := it.dynamicMember(member)
	if err != nil {
		return nil, err
	}

	switch k {
	case KindImage:
		img := Image{Text: desc}
		err = walk(b, func(f wireField) error {
			if f.Num != fDrawItems {
				return nil
			}
			var ref ImageRef
			if err := walk(f.Bytes, func(d wireField) error {
				switch d.Num {
				case fDrawItemSrc:
					ref.URL = string(d.Bytes)
				case fDrawItemWidth:
					ref.Width = clampInt(d.Val)
				case fDrawItemHeight:
					ref.Height = clampInt(d.Val)
				}
				return nil
			}); err != nil {
				return err
			}
			img.Images = append(img.Images, ref)
			return nil
		})
		return img, err
	case KindVideo:
		v := Video{Text: desc}
		err = walk(b, func(f wireField) error {
			switch f.Num {
			case fArchiveCover:
				v.Cover = string(f.Bytes)
			case fArchiveViews:
				v.Views = strings.TrimSuffix(string(f.Bytes), "观看")
			case fArchiveDanmaku:
				v.Danmaku = strings.TrimSuffix(string(f.Bytes), "弹幕")
			case fArchiveAvid:
				v.AID = int64(f.Val)
			case fArchiveDuration:
				v.Duration = secondsDuration(f.Val)
			case fArchiveBvid:
				v.BVID = string(f.Bytes)
			case fArchiveTitle:
				v.Title = string(f.Bytes)
			}
			return nil
		})
		return v, err
	case KindArticle:
		a := Article{}
		err = walk(b, func(f wireField) error {
			switch f.Num {
			case fArticleID:
				a.ID = int64(f.Val)
			case fArticleTitle:
				a.Title = string(f.Bytes)
			case fArticleDesc:
				a.Desc = string(f.Bytes)
			case fArticleCovers:
				a.Covers = append(a.Covers, string(f.Bytes))
			case fArticleLabel:
				a.Label = string(f.Bytes)
			}
			return nil
		})
		if a.ID == 0 {
			a.ID = parseID(it.businessID)
		}
		return a, err
	case KindAudio:
		a := Audio{Desc: desc}
		err = walk(b, func(f wireField) error {
			switch f.Num {
			case fMusicID:
				a.ID = int64(f.Val)
			case fMusicTitle:
				a.Title = string(f.Bytes)
			case fMusicCover:
				a.Cover = string(f.Bytes)
			case fMusicLabel1:
				a.Label = string(f.Bytes)
			}
			return nil
		})
		return a, err
	case KindPGC:
		g := PGC{}
		err = walk(b, func(f wireField) error {
			switch f.Num {
			case fPGCTitle:
				g.Episode = string(f.Bytes)
			case fPGCCover:
				g.Cover = string(f.Bytes)
			case fPGCSeasonID:
				g.SeasonID = int64(f.Val)
			case fPGCEpID:
				g.EpisodeID = int64(f.Val)
			case fPGCSeason:
				s, err := stringField(f.Bytes, fSeasonTitle)
				if err != nil {
					return err
				}
				g.Season = s
			}
			return nil
		})
		return g, err
	case KindForward:
		fw := Forward{Text: desc}
		if b == nil {
			// Original deleted: the dynamic module is absent.
			return fw, nil
		}
		err = walk(b, func(f wireField) error {
			if f.Num != fForwardItem {
				return nil
			}
			orig, err := decodeItem(f.Bytes)
			if err != nil {
				return err
			}
			if orig.ID != "" || orig.Kind != KindUnknown {
				fw.Original = &orig
			}
			return nil
		})
		return fw, err
	case KindLive:
		s, err := stringField(b, fLiveContent)
		if err != nil {
			return nil, err
		}
		return parseLiveRcmd(s), nil
	}
	return Unknown{}, nil
}

// stringField returns the last occurrence of string field num in b.
func stringField(b []byte, num protowire.Number) (string, error) {
	var s string
	err := walk(b, func(f wireField) error {
		if f.Num == num && f.Type == protowire.BytesType {
			s = string(f.Bytes)
		}
		return nil
	})
	return s, err
}

func clampInt(v uint64) int {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(v)
}
