package memdom

import (
	"errors"
	"testing"

	"github.com/hazyhaar/vscd/speedwatch/dom"
)

const page = `<html><body>
<div id="player"><video id="v" src="a.mp4"></video></div>
<div id="host"><template shadowrootmode="open"><audio id="inner"></audio></template></div>
<iframe id="f1"></iframe><iframe id="f2"></iframe>
</body></html>`

func TestParse_QueryAndShadow(t *testing.T) {
	d := MustParse("https://www.example.com/watch", page)

	vids, err := d.QueryAll("video")
	if err != nil {
		t.Fatal(err)
	}
	if len(vids) != 1 {
		t.Fatalf("light DOM videos: got %d, want 1", len(vids))
	}
	if all, _ := d.QueryAll("audio"); len(all) != 0 {
		t.Fatal("query must not cross shadow boundary")
	}

	host := d.Get("#host")
	sr := host.Shadow()
	if sr == nil {
		t.Fatal("declarative shadow root not promoted")
	}
	inner, _ := sr.QueryAll("audio")
	if len(inner) != 1 {
		t.Fatalf("shadow audio: got %d", len(inner))
	}
	if !inner[0].Connected() {
		t.Fatal("shadow content should be connected")
	}
	if sr.Host().NodeID() != host.NodeID() {
		t.Fatal("host identity")
	}
	if d.Hostname() != "www.example.com" {
		t.Fatalf("hostname: %q", d.Hostname())
	}
}

func TestQueryAll_InvalidSelector(t *testing.T) {
	d := MustParse("https://x.test/", page)
	if _, err := d.QueryAll("div[["); !errors.Is(err, dom.ErrInvalidSelector) {
		t.Fatalf("got %v, want ErrInvalidSelector", err)
	}
}

func TestQueryAll_SelectorGroup(t *testing.T) {
	d := MustParse("https://x.test/", `<section><video id="v"></video><audio id="a"></audio><p id="p"></p></section>`)

	media, err := d.QueryAll("video,audio")
	if err != nil {
		t.Fatal(err)
	}
	if len(media) != 2 {
		t.Fatalf("video,audio: got %d, want 2", len(media))
	}
	if !d.Get("#a").Matches("video, audio") {
		t.Fatal("audio should match the group")
	}
	if d.Get("#p").Matches("video,audio") {
		t.Fatal("paragraph should not match the group")
	}
	if c := d.Get("#v").Closest("article,section"); c == nil || c.Tag() != "section" {
		t.Fatalf("closest = %v", c)
	}
}

func TestFrames(t *testing.T) {
	d := MustParse("https://x.test/", page)
	child := MustParse("https://x.test/embed", `<video id="fv"></video>`)
	d.SetFrame(d.Get("#f1"), child)
	d.BlockFrame(d.Get("#f2"))

	got, err := d.Get("#f1").ContentDocument()
	if err != nil || got == nil {
		t.Fatalf("same-origin frame: %v %v", got, err)
	}
	if _, err := d.Get("#f2").ContentDocument(); !errors.Is(err, dom.ErrCrossOrigin) {
		t.Fatalf("blocked frame: got %v", err)
	}
	if doc, err := d.Get("#player").ContentDocument(); doc != nil || err != nil {
		t.Fatal("non-frame must return nil, nil")
	}
}

func TestObserve_ChildListAndAttributes(t *testing.T) {
	d := MustParse("https://x.test/", page)
	var recs []dom.MutationRecord
	obs, _ := d.Observe(d, dom.ObserveOptions{ChildList: true, Subtree: true, AttributeFilter: []string{"class"}},
		func(r []dom.MutationRecord) { recs = append(recs, r...) })

	v := d.Get("#v")
	v.SetAttr("class", "big")
	v.SetAttr("title", "ignored")
	v.Remove()

	if len(recs) != 2 {
		t.Fatalf("records: got %d, want 2", len(recs))
	}
	if recs[0].Type != dom.Attributes || recs[0].AttributeName != "class" {
		t.Fatalf("first record: %+v", recs[0])
	}
	if recs[1].Type != dom.ChildList || len(recs[1].Removed) != 1 {
		t.Fatalf("second record: %+v", recs[1])
	}
	if v.Connected() {
		t.Fatal("removed element still connected")
	}

	obs.Disconnect()
	d.Get("#player").SetAttr("class", "x")
	if len(recs) != 2 {
		t.Fatal("disconnected observer still receiving")
	}
}

func TestMedia_RateChangeEvent(t *testing.T) {
	d := MustParse("https://x.test/", page)
	m := d.GetMedia("#v")
	if m == nil {
		t.Fatal("video not wrapped as media")
	}
	if m.ReadyState() != 4 || m.CurrentSrc() != "a.mp4" {
		t.Fatalf("initial state: ready=%d src=%q", m.ReadyState(), m.CurrentSrc())
	}

	var seen []float64
	off := d.On("ratechange", func(ev *dom.Event) {
		mm, _ := dom.AsMedia(ev.Target)
		seen = append(seen, mm.PlaybackRate())
	})
	m.SetPlaybackRate(1.5)
	m.SetPlaybackRate(1.5)
	off()
	m.SetPlaybackRate(2)

	if len(seen) != 1 || seen[0] != 1.5 {
		t.Fatalf("ratechange deliveries: %v", seen)
	}
}

func TestStyleAndRect(t *testing.T) {
	d := MustParse("https://x.test/", `<video id="v" style="display: none; opacity:0"></video>`)
	v := d.Get("#v")
	st := v.Style()
	if st.Display != "none" || st.Opacity != "0" || st.Visibility != "visible" {
		t.Fatalf("style: %+v", st)
	}
	if r := v.Rect(); r.Width != 0 {
		t.Fatalf("hidden rect: %+v", r)
	}
	d.SetRect(v, dom.Rect{Width: 10, Height: 10})
	if r := v.Rect(); r.Width != 10 {
		t.Fatalf("override rect: %+v", r)
	}
}

func TestReplaceRoot(t *testing.T) {
	d := MustParse("https://x.test/", page)
	var added []dom.Element
	d.Observe(d, dom.ObserveOptions{ChildList: true, Subtree: true}, func(r []dom.MutationRecord) {
		for _, rec := range r {
			added = append(added, rec.Added...)
		}
	})
	root := d.ReplaceRoot()
	if len(added) != 1 || added[0].NodeID() != root.NodeID() {
		t.Fatalf("added: %v", added)
	}
	if d.Root().NodeID() != root.NodeID() || d.Body() == nil {
		t.Fatal("new root not installed")
	}
}
