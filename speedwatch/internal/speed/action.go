package speed

import (
	"time"

	"github.com/hazyhaar/vscd/speedwatch/dom"
	"github.com/hazyhaar/vscd/speedwatch/event"
	"github.com/hazyhaar/vscd/speedwatch/internal/overlay"
	"github.com/hazyhaar/vscd/speedwatch/internal/registry"
)

// Action names accepted by RunAction.
const (
	ActionRewind        = "rewind"
	ActionAdvance       = "advance"
	ActionFaster        = "faster"
	ActionSlower        = "slower"
	ActionReset         = "reset"
	ActionFast          = "fast"
	ActionDisplay       = "display"
	ActionBlink         = "blink"
	ActionDrag          = "drag"
	ActionPause         = "pause"
	ActionMuted         = "muted"
	ActionLouder        = "louder"
	ActionSofter        = "softer"
	ActionMark          = "mark"
	ActionJump          = "jump"
	ActionSetSpeed      = "SET_SPEED"
	ActionAdjustSpeed   = "ADJUST_SPEED"
	ActionResetSpeed    = "RESET_SPEED"
	ActionToggleDisplay = "TOGGLE_DISPLAY"
)

// ClassCancelled on a media element opts it out of actions.
const ClassCancelled = "vsc-cancelled"

var knownActions = map[string]bool{
	ActionRewind: true, ActionAdvance: true, ActionFaster: true, ActionSlower: true,
	ActionReset: true, ActionFast: true, ActionDisplay: true, ActionBlink: true,
	ActionDrag: true, ActionPause: true, ActionMuted: true, ActionLouder: true,
	ActionSofter: true, ActionMark: true, ActionJump: true, ActionSetSpeed: true,
	ActionAdjustSpeed: true, ActionResetSpeed: true, ActionToggleDisplay: true,
}

// KnownAction reports whether RunAction understands name.
func KnownAction(name string) bool { return knownActions[name] }

// RunAction applies an action to every managed element, or only to the
// controller whose overlay received origin.
func (c *Coordinator) RunAction(name string, value float64, origin *dom.Event) {
	if !knownActions[name] {
		c.logger.Warn("speed: unknown action", "action", name)
		return
	}
	var only *registry.Record
	if origin != nil && origin.Target != nil {
		only, _ = c.reg.Owning(origin.Target)
	}
	for _, rec := range c.reg.All() {
		if only != nil && rec != only {
			continue
		}
		if !rec.Media.Connected() {
			continue
		}
		c.show(rec)
		if dom.HasClass(rec.Media, ClassCancelled) {
			continue
		}
		c.execute(name, value, rec)
	}
}

func (c *Coordinator) execute(name string, value float64, rec *registry.Record) {
	m := rec.Media
	switch name {
	case ActionRewind:
		c.adapter().Seek(m, -value)
	case ActionAdvance:
		c.adapter().Seek(m, value)
	case ActionFaster:
		c.AdjustSpeed(m, value, Relative, event.SourceInternal)
	case ActionSlower:
		c.AdjustSpeed(m, -value, Relative, event.SourceInternal)
	case ActionReset, ActionFast:
		c.ResetSpeed(m, value)
	case ActionDisplay, ActionToggleDisplay:
		c.toggleDisplay(rec)
	case ActionBlink:
		d := time.Duration(value) * time.Millisecond
		if d <= 0 {
			d = c.blink
		}
		rec.Overlay.Blink(c.loop, d, dom.IsAudio(m))
	case ActionDrag:
		// Dragging belongs to the visual shell.
	case ActionPause:
		var err error
		if m.Paused() {
			err = m.Play()
		} else {
			err = m.Pause()
		}
		if err != nil {
			c.logger.Warn("speed: play/pause failed", "controller", rec.ID, "error", err)
		}
	case ActionMuted:
		if err := m.SetMuted(!m.Muted()); err != nil {
			c.logger.Warn("speed: mute failed", "controller", rec.ID, "error", err)
		}
	case ActionLouder:
		c.setVolume(rec, min(1, round2(m.Volume()+value)))
	case ActionSofter:
		c.setVolume(rec, max(0, round2(m.Volume()-value)))
	case ActionMark:
		t := m.CurrentTime()
		rec.Mark = &t
	case ActionJump:
		if rec.Mark != nil && *rec.Mark != 0 {
			if err := m.SetCurrentTime(*rec.Mark); err != nil {
				c.logger.Warn("speed: jump failed", "controller", rec.ID, "error", err)
			}
		}
	case ActionSetSpeed:
		c.AdjustSpeed(m, value, Absolute, event.SourceInternal)
	case ActionAdjustSpeed:
		c.AdjustSpeed(m, value, Relative, event.SourceInternal)
	case ActionResetSpeed:
		target := 1.0
		if b, ok := c.view.Snapshot().Binding(ActionFast); ok && b.Value > 0 {
			target = b.Value
		}
		c.AdjustSpeed(m, target, Absolute, event.SourceInternal)
	}
}

// toggleDisplay pins the overlay and flips it. A manual hide also drops
// any transient show.
func (c *Coordinator) toggleDisplay(rec *registry.Record) {
	o := rec.Overlay
	o.Set(overlay.ClassManual, true)
	hidden, err := o.Toggle(overlay.ClassHidden)
	if err != nil {
		c.logger.Warn("speed: display toggle failed", "controller", rec.ID, "error", err)
		return
	}
	o.StopBlink()
	if c.presenter != nil {
		c.presenter.CancelShow()
	}
	if hidden {
		o.Set(overlay.ClassShow, false)
	}
}

func (c *Coordinator) setVolume(rec *registry.Record, v float64) {
	if err := rec.Media.SetVolume(v); err != nil {
		c.logger.Warn("speed: volume failed", "controller", rec.ID, "error", err)
	}
}
