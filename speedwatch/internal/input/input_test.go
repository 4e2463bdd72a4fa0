package input

import (
	"context"
	"testing"
	"time"

	"github.com/hazyhaar/vscd/speedwatch/dom"
	"github.com/hazyhaar/vscd/speedwatch/event"
	"github.com/hazyhaar/vscd/speedwatch/internal/loop"
	"github.com/hazyhaar/vscd/speedwatch/internal/memdom"
	"github.com/hazyhaar/vscd/speedwatch/internal/overlay"
	"github.com/hazyhaar/vscd/speedwatch/internal/registry"
	"github.com/hazyhaar/vscd/speedwatch/internal/settings"
	"github.com/hazyhaar/vscd/speedwatch/internal/site"
	"github.com/hazyhaar/vscd/speedwatch/internal/speed"
)

type fixture struct {
	doc    *memdom.Document
	clk    *loop.ManualClock
	loop   *loop.Loop
	reg    *registry.Registry
	view   *settings.View
	coord  *speed.Coordinator
	r      *Router
	events []event.RateChange
}

func newFixture(t *testing.T, markup string, edit func(*settings.Snapshot)) *fixture {
	t.Helper()
	f := &fixture{
		doc: memdom.MustParse("https://example.org/", markup),
		clk: loop.NewManualClock(time.Unix(1700000000, 0)),
		reg: registry.New(),
	}
	f.loop = loop.New(loop.WithClock(f.clk))
	snap := settings.Defaults()
	if edit != nil {
		edit(&snap)
	}
	f.view = settings.NewView(settings.NewMemory(snap), f.loop, 0, nil)
	if err := f.view.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.coord = speed.New(speed.Options{Loop: f.loop, Registry: f.reg, Settings: f.view})
	f.coord.OnRate(func(ev event.RateChange) { f.events = append(f.events, ev) })
	f.r = New(Options{Doc: f.doc, Loop: f.loop, Registry: f.reg, Settings: f.view, Coordinator: f.coord})
	f.r.Start()
	t.Cleanup(f.r.Stop)
	return f
}

func (f *fixture) attach(t *testing.T, sel string) *memdom.Media {
	t.Helper()
	m := f.doc.GetMedia(sel)
	o, err := overlay.New(f.doc, nil, m.PlaybackRate(), overlay.Options{})
	if err != nil {
		t.Fatal(err)
	}
	o.Insert(site.Placement{Method: site.FirstChild, Point: f.doc.Body()})
	if err := f.reg.Add(&registry.Record{ID: "c" + sel, Media: m, Overlay: o}); err != nil {
		t.Fatal(err)
	}
	return m.(*memdom.Media)
}

func (f *fixture) overlay(m dom.Media) *overlay.Overlay {
	rec, _ := f.reg.Get(m)
	return rec.Overlay
}

func (f *fixture) key(code int, ts float64, mods ...string) *dom.Event {
	ev := &dom.Event{Type: "keydown", KeyCode: code, TimeStamp: ts, Target: f.doc.Body(), Modifiers: mods}
	f.doc.Fire(ev)
	f.loop.Drain()
	return ev
}

func TestRateChange_EchoSuppressed(t *testing.T) {
	f := newFixture(t, `<video id="v" src="a.mp4"></video>`, nil)
	m := f.attach(t, "#v")

	f.coord.SetSpeed(m, 1.5, event.SourceInternal)
	f.loop.Drain()
	if len(f.events) != 1 {
		t.Fatalf("own write re-processed: %d events", len(f.events))
	}

	// A tagged event outside the cooldown is still ours.
	f.clk.Advance(time.Second)
	f.r.HandleRateChange(&dom.Event{Type: "ratechange", Target: m, Detail: &dom.RateDetail{Origin: speed.Marker, Speed: "1.50"}})
	if len(f.events) != 1 || f.view.LastSpeed() != 1.5 {
		t.Fatalf("tagged event adopted: %d events, last %v", len(f.events), f.view.LastSpeed())
	}
}

func TestRateChange_ExternalAdopted(t *testing.T) {
	f := newFixture(t, `<video id="v" src="a.mp4"></video>`, nil)
	m := f.attach(t, "#v")

	m.PageSetRate(2)
	f.loop.Drain()
	if len(f.events) != 1 || f.events[0].Source != event.SourceExternal || f.events[0].Speed != 2 {
		t.Fatalf("events: %+v", f.events)
	}
	if f.view.LastSpeed() != 2 || f.overlay(m).SpeedText() != "2.00" {
		t.Fatalf("last %v, indicator %q", f.view.LastSpeed(), f.overlay(m).SpeedText())
	}
}

func TestRateChange_IgnoredInCooldownWithoutForce(t *testing.T) {
	f := newFixture(t, `<video id="v" src="a.mp4"></video>`, nil)
	m := f.attach(t, "#v")
	f.coord.SetSpeed(m, 1.5, event.SourceInternal)
	f.loop.Drain()

	m.PageSetRate(3)
	f.loop.Drain()
	if m.PlaybackRate() != 3 || f.view.LastSpeed() != 1.5 || len(f.events) != 1 {
		t.Fatalf("rate %v, last %v, events %d", m.PlaybackRate(), f.view.LastSpeed(), len(f.events))
	}
}

func TestRateChange_ForceRevertsInCooldown(t *testing.T) {
	f := newFixture(t, `<video id="v" src="a.mp4"></video>`, func(s *settings.Snapshot) {
		s.ForceLastSavedSpeed = true
		s.LastSpeed = 1.25
	})
	m := f.attach(t, "#v")
	f.coord.SetSpeed(m, 1.25, event.SourceInternal)
	f.loop.Drain()
	if !f.coord.InCooldown() {
		t.Fatal("no cooldown")
	}

	for _, external := range []float64{2.5, 0.5, 4} {
		m.PageSetRate(external)
		f.loop.Drain()
		if m.PlaybackRate() != 1.25 {
			t.Fatalf("external %v kept in cooldown: rate %v", external, m.PlaybackRate())
		}
	}

	f.clk.Advance(time.Second)
	m.PageSetRate(3)
	f.loop.Drain()
	if m.PlaybackRate() != 1.25 {
		t.Fatalf("force mode outside cooldown: rate %v", m.PlaybackRate())
	}
}

func TestRateChange_InitializationNoise(t *testing.T) {
	f := newFixture(t, `<video id="nosrc"></video><video id="v" src="a.mp4"></video>`, nil)
	unready := f.attach(t, "#nosrc")
	m := f.attach(t, "#v")

	unready.PageSetRate(2)
	m.PageSetRate(0.05)
	f.loop.Drain()
	if len(f.events) != 0 {
		t.Fatalf("noise adopted: %+v", f.events)
	}
}

func TestRateChange_Unmanaged(t *testing.T) {
	f := newFixture(t, `<video id="v" src="a.mp4"></video>`, nil)
	f.doc.GetMedia("#v").(*memdom.Media).PageSetRate(2)
	f.loop.Drain()
	if len(f.events) != 0 {
		t.Fatal("unmanaged element adopted")
	}
}

func TestKeydown(t *testing.T) {
	f := newFixture(t, `<video id="v"></video><input id="i">`, nil)
	m := f.attach(t, "#v")

	f.key(68, 1) // D: faster
	if m.PlaybackRate() != 1.1 {
		t.Fatalf("faster: %v", m.PlaybackRate())
	}
	f.key(68, 1)
	if m.PlaybackRate() != 1.1 {
		t.Fatalf("duplicate delivery applied twice: %v", m.PlaybackRate())
	}
	f.key(68, 2, "Control")
	f.key(68, 3, "Alt")
	if m.PlaybackRate() != 1.1 {
		t.Fatalf("modifier not ignored: %v", m.PlaybackRate())
	}
	f.key(68, 4, "Shift")
	if m.PlaybackRate() != 1.2 {
		t.Fatalf("shift blocked: %v", m.PlaybackRate())
	}

	typing := &dom.Event{Type: "keydown", KeyCode: 68, TimeStamp: 5, Target: f.doc.Get("#i")}
	f.doc.Fire(typing)
	f.loop.Drain()
	if m.PlaybackRate() != 1.2 {
		t.Fatalf("typing context not ignored: %v", m.PlaybackRate())
	}

	ev := f.key(1, 6)
	if ev.DefaultPrevented() || m.PlaybackRate() != 1.2 {
		t.Fatal("unbound key handled")
	}
}

func TestKeydown_ForcePreventsDefault(t *testing.T) {
	f := newFixture(t, `<video id="v"></video>`, func(s *settings.Snapshot) {
		for i := range s.KeyBindings {
			if s.KeyBindings[i].Action == "faster" {
				s.KeyBindings[i].Force = true
			}
		}
	})
	f.attach(t, "#v")
	if ev := f.key(68, 1); !ev.DefaultPrevented() {
		t.Fatal("forced binding did not prevent default")
	}
	if ev := f.key(83, 2); ev.DefaultPrevented() {
		t.Fatal("plain binding prevented default")
	}
}

func TestKeydown_NoManagedElements(t *testing.T) {
	f := newFixture(t, `<video id="v"></video>`, nil)
	if ev := f.key(68, 1); ev.DefaultPrevented() {
		t.Fatal("handled without controllers")
	}
	if f.doc.GetMedia("#v").PlaybackRate() != 1 {
		t.Fatal("unmanaged element changed")
	}
}

func TestShowTimer(t *testing.T) {
	f := newFixture(t, `<video id="v"></video>`, nil)
	m := f.attach(t, "#v")
	o := f.overlay(m)

	f.key(77, 1) // M: mark, no speed write
	if !o.Has(overlay.ClassShow) {
		t.Fatal("action did not show the controller")
	}
	f.clk.Advance(DefaultShowDuration / 2)
	f.key(77, 2)
	f.clk.Advance(DefaultShowDuration / 2)
	f.loop.Drain()
	if !o.Has(overlay.ClassShow) {
		t.Fatal("timer was not restarted")
	}
	f.clk.Advance(DefaultShowDuration / 2)
	f.loop.Drain()
	if o.Has(overlay.ClassShow) {
		t.Fatal("controller still shown")
	}
}

func TestShowTimer_StartHidden(t *testing.T) {
	f := newFixture(t, `<video id="v"></video>`, func(s *settings.Snapshot) { s.StartHidden = true })
	m := f.attach(t, "#v")
	o := f.overlay(m)

	f.key(77, 1)
	if o.Has(overlay.ClassShow) {
		t.Fatal("start-hidden controller shown")
	}
	o.Set(overlay.ClassManual, true)
	f.key(77, 2)
	if !o.Has(overlay.ClassShow) {
		t.Fatal("pinned controller not shown")
	}
}

func TestForgetCancelsShow(t *testing.T) {
	f := newFixture(t, `<video id="v"></video>`, nil)
	m := f.attach(t, "#v")
	rec, _ := f.reg.Get(m)

	f.r.Show(rec)
	f.r.Forget(rec)
	f.clk.Advance(DefaultShowDuration)
	f.loop.Drain()
	if !rec.Overlay.Has(overlay.ClassShow) {
		t.Fatal("forgotten record still reached by the timer")
	}
	if f.clk.Waiting() != 0 {
		t.Fatalf("%d timers left", f.clk.Waiting())
	}
}

func TestWheelStep(t *testing.T) {
	cases := []struct {
		mode   int
		dy     float64
		want   float64
		wantOK bool
	}{
		{DeltaPixel, -100, 0.1, true},
		{DeltaPixel, 120, -0.1, true},
		{DeltaPixel, 12, 0, false},
		{DeltaPixel, -49, 0, false},
		{DeltaLine, 3, -0.1, true},
		{DeltaLine, -1, 0.1, true},
		{DeltaLine, 0, 0, false},
	}
	for _, c := range cases {
		got, ok := WheelStep(&dom.Event{Type: "wheel", DeltaMode: c.mode, DeltaY: c.dy})
		if got != c.want || ok != c.wantOK {
			t.Errorf("mode %d dy %v: got %v,%v want %v,%v", c.mode, c.dy, got, ok, c.want, c.wantOK)
		}
	}
}

func TestHandleWheel(t *testing.T) {
	f := newFixture(t, `<video id="v"></video>`, nil)
	m := f.attach(t, "#v")
	rec, _ := f.reg.Get(m)

	ev := &dom.Event{Type: "wheel", DeltaY: -100}
	f.r.HandleWheel(rec, ev)
	if m.PlaybackRate() != 1.1 || !ev.DefaultPrevented() {
		t.Fatalf("wheel up: %v prevented=%v", m.PlaybackRate(), ev.DefaultPrevented())
	}
	pad := &dom.Event{Type: "wheel", DeltaY: 4}
	f.r.HandleWheel(rec, pad)
	if m.PlaybackRate() != 1.1 || pad.DefaultPrevented() {
		t.Fatal("touchpad scroll changed speed")
	}
}

type intercepting struct {
	*memdom.Document
	codes []int
}

func (i *intercepting) InterceptKeys(codes []int) error {
	i.codes = codes
	return nil
}

func TestStart_InterceptsForcedKeys(t *testing.T) {
	doc := &intercepting{Document: memdom.MustParse("https://example.org/", `<video></video>`)}
	l := loop.New(loop.WithClock(loop.NewManualClock(time.Unix(0, 0))))
	snap := settings.Defaults()
	snap.KeyBindings[0].Force = true
	view := settings.NewView(settings.NewMemory(snap), l, 0, nil)
	view.Load(context.Background())
	reg := registry.New()
	coord := speed.New(speed.Options{Loop: l, Registry: reg, Settings: view})

	r := New(Options{Doc: doc, Loop: l, Registry: reg, Settings: view, Coordinator: coord})
	r.Start()
	defer r.Stop()
	if len(doc.codes) != 1 || doc.codes[0] != snap.KeyBindings[0].Key {
		t.Fatalf("intercepted %v", doc.codes)
	}
}

func TestStop_RemovesListeners(t *testing.T) {
	f := newFixture(t, `<video id="v"></video>`, nil)
	f.attach(t, "#v")
	f.r.Stop()
	f.doc.Fire(&dom.Event{Type: "keydown", KeyCode: 68})
	if f.loop.Pending() != 0 {
		t.Fatal("stopped router still queues work")
	}
}
