package feed

import (
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

// msg builds a protobuf message from alternating field appenders.
type msg []byte

func (m msg) str(num protowire.Number, s string) msg {
	b := protowire.AppendTag(m, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func (m msg) sub(num protowire.Number, inner msg) msg {
	b := protowire.AppendTag(m, num, protowire.BytesType)
	return protowire.AppendBytes(b, inner)
}

func (m msg) varint(num protowire.Number, v uint64) msg {
	b := protowire.AppendTag(m, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func authorModule(mid uint64, name string, top bool) msg {
	user := msg(nil).varint(fUserMid, mid).str(fUserName, name).str(fUserFace, "face.png")
	a := msg(nil).varint(fAuthorMid, mid).sub(fAuthorAuthor, user)
	if top {
		a = a.varint(fAuthorIsTop, 1)
	}
	return msg(nil).varint(1, 1).sub(fModAuthor, a)
}

func descModule(text string) msg {
	return msg(nil).sub(fModDesc, msg(nil).str(fDescText, text))
}

func dynamicModule(member protowire.Number, payload msg) msg {
	return msg(nil).sub(fModDynamic, msg(nil).varint(1, 1).sub(member, payload))
}

func item(cardType uint64, id string, modules ...msg) msg {
	m := msg(nil).varint(fItemCardType, cardType)
	for _, mod := range modules {
		m = m.sub(fItemModules, mod)
	}
	return m.sub(fItemExtend, msg(nil).str(fExtendDynIDStr, id))
}

func TestDecodeSpaceRsp(t *testing.T) {
	t.Parallel()
	draw := item(dynDraw, "300",
		authorModule(7, "alice", true),
		descModule("pics"),
		dynamicModule(fDynDraw, msg(nil).
			sub(fDrawItems, msg(nil).str(fDrawItemSrc, "a.jpg").varint(fDrawItemWidth, 10).varint(fDrawItemHeight, 20)).
			sub(fDrawItems, msg(nil).str(fDrawItemSrc, "b.jpg"))),
	)
	video := item(dynAV, "200",
		authorModule(7, "alice", false),
		dynamicModule(fDynArchive, msg(nil).
			str(fArchiveBvid, "BV1ab").
			varint(fArchiveAvid, 99).
			str(fArchiveTitle, "title").
			str(fArchiveViews, "12观看").
			varint(fArchiveDuration, 65)),
	)
	origText := item(dynWord, "50", descModule("original"),
		msg(nil).sub(fModAuthorForward, msg(nil).
			sub(fFwdAuthorTitle, msg(nil).str(fFwdTitleText, "@bob")).
			varint(fFwdAuthorUID, 8)))
	forward := item(dynForward, "100",
		authorModule(7, "alice", false),
		descModule("look"),
		dynamicModule(fDynForward, msg(nil).sub(fForwardItem, origText)),
	)
	deleted := item(dynForward, "90", authorModule(7, "alice", false), descModule("gone"))

	rsp := msg(nil).
		sub(fSpaceRspList, draw).
		sub(fSpaceRspList, video).
		sub(fSpaceRspList, forward).
		sub(fSpaceRspList, deleted).
		str(fSpaceRspHistoryOffset, "90").
		varint(fSpaceRspHasMore, 1).
		str(99, "ignored field")

	page, err := decodeSpaceRsp(rsp)
	if err != nil {
		t.Fatalf("decodeSpaceRsp error: %v", err)
	}
	if !page.HasMore || page.Next != "90" || len(page.Posts) != 4 {
		t.Fatalf("unexpected page: %+v", page)
	}

	p := page.Posts[0]
	img, ok := p.Content.(Image)
	if p.ID != "300" || !p.Pinned || p.UID != 7 || p.Author != "alice" || !ok || len(img.Images) != 2 || img.Images[0].Width != 10 {
		t.Fatalf("unexpected draw: %+v", p)
	}

	v, ok := page.Posts[1].Content.(Video)
	if !ok || v.BVID != "BV1ab" || v.AID != 99 || v.Views != "12" || v.Duration.Seconds() != 65 {
		t.Fatalf("unexpected video: %#v", page.Posts[1].Content)
	}

	fw, ok := page.Posts[2].Content.(Forward)
	if !ok || fw.Text != "look" || fw.Original == nil {
		t.Fatalf("unexpected forward: %#v", page.Posts[2].Content)
	}
	if fw.Original.Author != "bob" || fw.Original.UID != 8 || fw.Original.Text() != "original" || fw.Original.Pinned {
		t.Fatalf("unexpected original: %+v", fw.Original)
	}

	if fw2 := page.Posts[3].Content.(Forward); fw2.Original != nil {
		t.Fatal("deleted original should decode as nil")
	}
}

func TestDecodeNoMoreClearsOffset(t *testing.T) {
	t.Parallel()
	page, err := decodeSpaceRsp(msg(nil).str(fSpaceRspHistoryOffset, "5"))
	if err != nil {
		t.Fatal(err)
	}
	if page.HasMore || page.Next != "" {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestDecodeMalformed(t *testing.T) {
	t.Parallel()
	if _, err := decodeSpaceRsp([]byte{0x0a, 0x05, 0x01}); err == nil {
		t.Fatal("expected error for truncated message")
	}
}

func TestEncodeSpaceReq(t *testing.T) {
	t.Parallel()
	var (
		uid    uint64
		offset string
	)
	err := walk(encodeSpaceReq(12, "abc"), func(f wireField) error {
		switch f.Num {
		case fSpaceReqHostUID:
			uid = f.Val
		case fSpaceReqHistoryOffset:
			offset = string(f.Bytes)
		}
		return nil
	})
	if err != nil || uid != 12 || offset != "abc" {
		t.Fatalf("uid=%d offset=%q err=%v", uid, offset, err)
	}
}

func TestRawCodec(t *testing.T) {
	t.Parallel()
	in := []byte{1, 2, 3}
	b, err := rawCodec{}.Marshal(&in)
	if err != nil || len(b) != 3 {
		t.Fatalf("Marshal = %v, %v", b, err)
	}
	var out []byte
	if err := (rawCodec{}).Unmarshal(b, &out); err != nil || len(out) != 3 {
		t.Fatalf("Unmarshal = %v, %v", out, err)
	}
	if _, err := (rawCodec{}).Marshal("nope"); err == nil {
		t.Fatal("expected type error")
	}
}
