package speed

import (
	"testing"

	"github.com/hazyhaar/vscd/speedwatch/dom"
	"github.com/hazyhaar/vscd/speedwatch/internal/memdom"
	"github.com/hazyhaar/vscd/speedwatch/internal/overlay"
	"github.com/hazyhaar/vscd/speedwatch/internal/registry"
)

type presenter struct {
	shown     []*registry.Record
	cancelled int
}

func (p *presenter) Show(rec *registry.Record) { p.shown = append(p.shown, rec) }
func (p *presenter) CancelShow()               { p.cancelled++ }

func TestRunAction_AllOrOwning(t *testing.T) {
	f := newFixture(t, `<video id="a"></video><video id="b"></video>`, nil)
	a := f.attach(t, "#a")
	b := f.attach(t, "#b")

	f.c.RunAction(ActionFaster, 0.1, nil)
	if a.PlaybackRate() != 1.1 || b.PlaybackRate() != 1.1 {
		t.Fatalf("broadcast: %v %v", a.PlaybackRate(), b.PlaybackRate())
	}

	btn := f.record(b).Overlay.Buttons()[0]
	f.c.RunAction(ActionFaster, 0.1, &dom.Event{Type: "click", Target: btn})
	if a.PlaybackRate() != 1.1 || b.PlaybackRate() != 1.2 {
		t.Fatalf("targeted: %v %v", a.PlaybackRate(), b.PlaybackRate())
	}

	key := &dom.Event{Type: "keydown", Target: f.doc.Body()}
	f.c.RunAction(ActionSlower, 0.1, key)
	if a.PlaybackRate() != 1 || b.PlaybackRate() != 1.1 {
		t.Fatalf("page key: %v %v", a.PlaybackRate(), b.PlaybackRate())
	}
}

func TestRunAction_SkipsCancelledButShows(t *testing.T) {
	f := newFixture(t, `<video id="v" class="`+ClassCancelled+`"></video>`, nil)
	m := f.attach(t, "#v")
	p := &presenter{}
	f.c.SetPresenter(p)

	f.c.RunAction(ActionFaster, 0.5, nil)
	if m.PlaybackRate() != 1 {
		t.Fatalf("cancelled element changed: %v", m.PlaybackRate())
	}
	if len(p.shown) != 1 {
		t.Fatalf("shown %d times", len(p.shown))
	}
}

func TestRunAction_Unknown(t *testing.T) {
	f := newFixture(t, `<video id="v"></video>`, nil)
	m := f.attach(t, "#v")
	f.c.RunAction("warp", 3, nil)
	if m.PlaybackRate() != 1 {
		t.Fatal("unknown action had an effect")
	}
	if KnownAction("warp") || !KnownAction(ActionJump) {
		t.Fatal("KnownAction")
	}
}

func TestRunAction_Display(t *testing.T) {
	f := newFixture(t, `<video id="v"></video>`, nil)
	f.attach(t, "#v")
	p := &presenter{}
	f.c.SetPresenter(p)
	o := f.record(f.doc.GetMedia("#v")).Overlay
	o.Set(overlay.ClassShow, true)

	f.c.RunAction(ActionDisplay, 0, nil)
	if !o.Manual() || !o.Hidden() || o.Has(overlay.ClassShow) {
		t.Fatalf("after hide: manual=%v hidden=%v show=%v", o.Manual(), o.Hidden(), o.Has(overlay.ClassShow))
	}
	if p.cancelled != 1 {
		t.Fatalf("show timer cancelled %d times", p.cancelled)
	}
	f.c.RunAction(ActionDisplay, 0, nil)
	if o.Hidden() || !o.Manual() {
		t.Fatal("second toggle did not show")
	}
}

func TestRunAction_MediaControls(t *testing.T) {
	f := newFixture(t, `<video id="v" src="a.mp4"></video>`, nil)
	m := f.attach(t, "#v")
	mm := m.(*memdom.Media)
	mm.SetDuration(100)

	f.c.RunAction(ActionAdvance, 10, nil)
	if m.CurrentTime() != 10 {
		t.Fatalf("advance: %v", m.CurrentTime())
	}
	f.c.RunAction(ActionMark, 0, nil)
	f.c.RunAction(ActionAdvance, 30, nil)
	f.c.RunAction(ActionJump, 0, nil)
	if m.CurrentTime() != 10 {
		t.Fatalf("jump: %v", m.CurrentTime())
	}
	f.c.RunAction(ActionRewind, 20, nil)
	if m.CurrentTime() != 0 {
		t.Fatalf("rewind clamps at 0: %v", m.CurrentTime())
	}

	f.c.RunAction(ActionPause, 0, nil)
	if m.Paused() {
		t.Fatal("pause action did not resume a paused element")
	}
	f.c.RunAction(ActionPause, 0, nil)
	if !m.Paused() {
		t.Fatal("pause action did not pause")
	}

	f.c.RunAction(ActionMuted, 0, nil)
	if !m.Muted() {
		t.Fatal("mute toggle")
	}
	f.c.RunAction(ActionSofter, 0.25, nil)
	if m.Volume() != 0.75 {
		t.Fatalf("softer: %v", m.Volume())
	}
	f.c.RunAction(ActionLouder, 0.5, nil)
	if m.Volume() != 1 {
		t.Fatalf("louder caps at 1: %v", m.Volume())
	}
}

func TestRunAction_ResetSpeedUsesFastBinding(t *testing.T) {
	f := newFixture(t, `<video id="v"></video>`, nil)
	m := f.attach(t, "#v")
	f.c.RunAction(ActionResetSpeed, 0, nil)
	if m.PlaybackRate() != 1.8 {
		t.Fatalf("rate %v, want fast binding 1.8", m.PlaybackRate())
	}
	f.c.RunAction(ActionFast, 1.8, nil)
	if m.PlaybackRate() != 1.8 {
		t.Fatalf("fast at target without memory should stay: %v", m.PlaybackRate())
	}
}

func TestHandleMessage(t *testing.T) {
	f := newFixture(t, `<video id="a"></video><audio id="b"></audio>`, nil)
	a := f.attach(t, "#a")
	b := f.attach(t, "#b")
	speed, delta := 1.25, 0.25

	if !f.c.HandleMessage(Message{Type: MessageSetSpeed, Payload: MessagePayload{Speed: &speed}}) {
		t.Fatal("set rejected")
	}
	if a.PlaybackRate() != 1.25 || b.PlaybackRate() != 1.25 {
		t.Fatalf("set: %v %v", a.PlaybackRate(), b.PlaybackRate())
	}
	f.c.HandleMessage(Message{Type: MessageAdjustSpeed, Payload: MessagePayload{Delta: &delta}})
	if a.PlaybackRate() != 1.5 {
		t.Fatalf("adjust: %v", a.PlaybackRate())
	}
	f.c.HandleMessage(Message{Type: MessageResetSpeed})
	if a.PlaybackRate() != 1 {
		t.Fatalf("reset: %v", a.PlaybackRate())
	}
	if f.c.HandleMessage(Message{Type: MessageSetSpeed}) {
		t.Fatal("set without payload accepted")
	}
	if f.c.HandleMessage(Message{Type: "VSC_NOPE"}) {
		t.Fatal("unknown message accepted")
	}
}
