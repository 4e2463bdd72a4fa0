package site

import (
	"testing"

	"github.com/hazyhaar/vscd/speedwatch/dom"
	"github.com/hazyhaar/vscd/speedwatch/internal/memdom"
)

func TestResolve_Priority(t *testing.T) {
	cases := map[string]string{
		"https://www.netflix.com/watch/1":  "netflix",
		"https://www.youtube.com/watch":    "youtube",
		"https://www.facebook.com/watch":   "facebook",
		"https://www.amazon.co.uk/gp/vid":  "amazon",
		"https://www.primevideo.com/":      "amazon",
		"https://tv.apple.com/show":        "apple",
		"https://example.org/":             "default",
		"https://m.youtube.com/watch?v=xx": "default",
	}
	for url, want := range cases {
		doc := memdom.MustParse(url, `<video></video>`)
		if got := Resolve(doc, nil).Name(); got != want {
			t.Errorf("%s: got %s, want %s", url, got, want)
		}
	}
}

func TestResolver_MemoAndRefresh(t *testing.T) {
	doc := memdom.MustParse("https://www.youtube.com/", `<video></video>`)
	r := NewResolver(doc, nil)
	a := r.Adapter()
	if r.Adapter() != a {
		t.Fatal("adapter not memoized")
	}
	r.Refresh()
	if r.cached != nil {
		t.Fatal("Refresh kept the memo")
	}
	if r.Adapter().Name() != "youtube" {
		t.Fatal("re-resolution failed")
	}
}

func TestDefault_SeekClamps(t *testing.T) {
	doc := memdom.MustParse("https://example.org/", `<video id="v" src="a.mp4"></video>`)
	m := doc.GetMedia("#v").(*memdom.Media)
	d := Default{}

	// Unknown duration: plain addition.
	d.Seek(m, 30)
	if m.CurrentTime() != 30 {
		t.Fatalf("unknown duration: %v", m.CurrentTime())
	}

	m.SetDuration(40)
	d.Seek(m, 30)
	if m.CurrentTime() != 40 {
		t.Fatalf("clamped to duration: %v", m.CurrentTime())
	}
	d.Seek(m, -100)
	if m.CurrentTime() != 0 {
		t.Fatalf("clamped to zero: %v", m.CurrentTime())
	}
}

func TestNetflix_SeekPostsMessage(t *testing.T) {
	doc := memdom.MustParse("https://www.netflix.com/watch/1", `<div><div><video id="v"></video></div></div>`)
	a := Resolve(doc, nil)
	m := doc.GetMedia("#v")
	if !a.Seek(m, -10) {
		t.Fatal("seek not handled")
	}
	if len(doc.Messages) != 1 {
		t.Fatalf("messages: %d", len(doc.Messages))
	}
	msg := doc.Messages[0].(NetflixSeek)
	if msg.SeekMs != -10000 || msg.Action != "videospeed-seek" {
		t.Fatalf("message: %+v", msg)
	}
	if m.CurrentTime() != 0 {
		t.Fatal("netflix seek must not write currentTime")
	}
}

func TestShouldIgnore(t *testing.T) {
	nf := memdom.MustParse("https://www.netflix.com/", `
		<div class="billboard-row"><video id="bill"></video></div>
		<video id="prev" class="preview-video"></video>
		<div><video id="main"></video></div>`)
	a := Resolve(nf, nil)
	if !a.ShouldIgnore(nf.GetMedia("#bill")) || !a.ShouldIgnore(nf.GetMedia("#prev")) {
		t.Fatal("netflix previews should be ignored")
	}
	if a.ShouldIgnore(nf.GetMedia("#main")) {
		t.Fatal("netflix main player ignored")
	}

	fb := memdom.MustParse("https://www.facebook.com/", `
		<div data-story-id="1"><div><video id="story"></video></div></div>
		<video id="zero" data-video-width="0"></video>
		<video id="feed"></video>`)
	a = Resolve(fb, nil)
	if !a.ShouldIgnore(fb.GetMedia("#story")) || !a.ShouldIgnore(fb.GetMedia("#zero")) {
		t.Fatal("facebook stories should be ignored")
	}
	if a.ShouldIgnore(fb.GetMedia("#feed")) {
		t.Fatal("facebook feed video ignored")
	}

	az := memdom.MustParse("https://www.amazon.com/", `<video id="small" src="ad.mp4"></video><video id="loading"></video>`)
	a = Resolve(az, nil)
	small := az.GetMedia("#small")
	az.SetRect(small, dom.Rect{Width: 150, Height: 80})
	if !a.ShouldIgnore(small) {
		t.Fatal("small loaded amazon video should be ignored")
	}
	loading := az.GetMedia("#loading")
	az.SetRect(loading, dom.Rect{Width: 10, Height: 10})
	if a.ShouldIgnore(loading) {
		t.Fatal("amazon video with readyState < 2 must not be ignored")
	}
}

func TestPosition(t *testing.T) {
	doc := memdom.MustParse("https://www.netflix.com/", `<div id="g"><div id="p"><video id="v"></video></div></div>`)
	a := Resolve(doc, nil)
	m := doc.GetMedia("#v")
	pl := a.Position(m.Parent(), m)
	if pl.Method != BeforeParent || pl.Point.NodeID() != doc.Get("#g").NodeID() {
		t.Fatalf("netflix placement: %v %v", pl.Method, pl.Point)
	}

	def := memdom.MustParse("https://example.org/", `<div id="p"><video id="v"></video></div>`)
	m = def.GetMedia("#v")
	pl = Default{}.Position(m.Parent(), m)
	if pl.Method != FirstChild || pl.Point.NodeID() != def.Get("#p").NodeID() {
		t.Fatal("default placement")
	}
}

func TestApple_DetectSpecial(t *testing.T) {
	doc := memdom.MustParse("https://tv.apple.com/", `
		<apple-tv-plus-player><template shadowrootmode="open"><video id="inner"></video></template></apple-tv-plus-player>`)
	a := Resolve(doc, nil)
	got := a.DetectSpecial(doc)
	if len(got) != 1 {
		t.Fatalf("special media: %d", len(got))
	}
	if hosts := a.ReattachHosts(); len(hosts) != 1 || hosts[0] != "apple-tv-plus-player" {
		t.Fatalf("reattach hosts: %v", hosts)
	}
}

func TestBlacklisted(t *testing.T) {
	list := "www.instagram.com\nx.com\n/watch\\?v=blocked/i\nfoo/bar\n/[invalid/"
	cases := []struct {
		url  string
		want bool
	}{
		{"https://www.instagram.com/reel/1", true},
		{"https://x.com/home", true},
		{"https://sub.x.com:8443/", true},
		{"https://netflix.com/", false},
		{"https://www.youtube.com/WATCH?v=BLOCKED", true},
		{"https://example.org/foo/bar/baz", true},
		{"https://example.org/", false},
	}
	for _, c := range cases {
		if got := Blacklisted(c.url, list, nil); got != c.want {
			t.Errorf("%s: got %v, want %v", c.url, got, c.want)
		}
	}
}
