// Package controller attaches, updates and removes the per-element
// controllers.
//
// Every transition is idempotent and re-checks the registry first:
// mutation delivery races with user actions, so a missing or duplicate
// controller is logged and skipped, never treated as fatal.
package controller

import (
	"errors"
	"log/slog"

	"github.com/hazyhaar/vscd/idgen"
	"github.com/hazyhaar/vscd/speedwatch/dom"
	"github.com/hazyhaar/vscd/speedwatch/event"
	"github.com/hazyhaar/vscd/speedwatch/internal/discovery"
	"github.com/hazyhaar/vscd/speedwatch/internal/input"
	"github.com/hazyhaar/vscd/speedwatch/internal/loop"
	"github.com/hazyhaar/vscd/speedwatch/internal/overlay"
	"github.com/hazyhaar/vscd/speedwatch/internal/registry"
	"github.com/hazyhaar/vscd/speedwatch/internal/settings"
	"github.com/hazyhaar/vscd/speedwatch/internal/site"
	"github.com/hazyhaar/vscd/speedwatch/internal/speed"
)

// ErrNoParent is returned when neither the element nor the caller gives
// a parent to position the overlay against.
var ErrNoParent = errors.New("controller: no parent element")

// Options wires a Lifecycle to its engine.
type Options struct {
	Doc         dom.Document
	Loop        *loop.Loop
	Registry    *registry.Registry
	Settings    *settings.View
	Coordinator *speed.Coordinator
	Router      *input.Router
	Scanner     *discovery.Scanner
	Adapter     func() site.Adapter
	Shell       overlay.Shell
	Logger      *slog.Logger

	// OnAttach and OnDetach observe lifecycle transitions.
	OnAttach func(*registry.Record)
	OnDetach func(*registry.Record)
}

// Lifecycle owns controller transitions for one document.
type Lifecycle struct {
	Options
}

// New returns a Lifecycle.
func New(opts Options) *Lifecycle {
	if opts.Adapter == nil {
		opts.Adapter = func() site.Adapter { return site.Default{} }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Lifecycle{Options: opts}
}

// Attach gives m a controller. An element that already has one is left
// alone and its record returned.
func (lc *Lifecycle) Attach(m dom.Media, parent dom.Element) (*registry.Record, error) {
	if rec, ok := lc.Registry.Get(m); ok {
		lc.Logger.Debug("controller: already attached", "controller", rec.ID)
		return rec, nil
	}
	if p := m.Parent(); p != nil {
		parent = p
	}
	if parent == nil {
		return nil, ErrNoParent
	}

	snap := lc.Settings.Snapshot()
	var classes []string
	if m.CurrentSrc() == "" && m.Src() == "" && m.ReadyState() < 2 {
		classes = append(classes, overlay.ClassNoSource)
	}
	if snap.StartHidden || lc.Scanner.ShouldStartHidden(m) {
		classes = append(classes, overlay.ClassHidden)
	}
	o, err := overlay.New(lc.Doc, lc.Shell, m.PlaybackRate(), overlay.Options{
		Opacity:    snap.ControllerOpacity,
		ButtonSize: snap.ControllerButtonSize,
	}, classes...)
	if err != nil {
		return nil, err
	}
	placement := lc.Adapter().Position(parent, m)
	if err := o.Insert(placement); err != nil {
		return nil, err
	}

	src := dom.SourceOf(m)
	if src == "" {
		src = "no-src"
	}
	now := lc.Loop.Now()
	rec := &registry.Record{
		ID:      idgen.ControllerID(m.Tag(), src, now),
		Media:   m,
		Overlay: o,
		Created: now,
	}
	if err := lc.Registry.Add(rec); err != nil {
		o.Remove()
		return nil, err
	}

	lc.listen(rec)
	lc.observeSource(rec)
	lc.wireOverlay(rec)

	if target := lc.Settings.LastSpeed(); target != m.PlaybackRate() {
		lc.Coordinator.AdjustSpeed(m, target, speed.Absolute, event.SourceInternal)
	}
	lc.Logger.Debug("controller: attached", "controller", rec.ID, "placement", placement.Method)
	if lc.OnAttach != nil {
		lc.OnAttach(rec)
	}
	return rec, nil
}

// listen re-asserts the target speed after the browser resets the rate
// on play and seek.
func (lc *Lifecycle) listen(rec *registry.Record) {
	m := rec.Media
	reassert := func(*dom.Event) {
		lc.Loop.Post(func() {
			if _, ok := lc.Registry.Get(m); !ok {
				return
			}
			lc.Coordinator.AdjustSpeed(m, lc.Settings.LastSpeed(), speed.Absolute, event.SourceInternal)
		})
	}
	rec.OnRelease(m.On("play", reassert))
	rec.OnRelease(m.On("seeked", reassert))
}

// observeSource keeps vsc-nosource in step with src and currentSrc.
func (lc *Lifecycle) observeSource(rec *registry.Record) {
	m := rec.Media
	obs, err := lc.Doc.Observe(m, dom.ObserveOptions{
		Attributes:      true,
		AttributeFilter: []string{"src", "currentSrc"},
	}, func([]dom.MutationRecord) {
		lc.Loop.Post(func() {
			none := m.Src() == "" && m.CurrentSrc() == ""
			if err := rec.Overlay.Set(overlay.ClassNoSource, none); err != nil {
				lc.Logger.Warn("controller: nosource class", "controller", rec.ID, "error", err)
			}
		})
	})
	if err != nil {
		lc.Logger.Warn("controller: source observer failed", "controller", rec.ID, "error", err)
		return
	}
	rec.OnRelease(obs.Disconnect)
}

// wireOverlay routes overlay clicks and wheel turns.
func (lc *Lifecycle) wireOverlay(rec *registry.Record) {
	for _, btn := range rec.Overlay.Buttons() {
		action, _ := btn.Attr("data-action")
		rec.OnRelease(btn.On("click", func(ev *dom.Event) {
			lc.Loop.Post(func() {
				var value float64
				if b, ok := lc.Settings.Snapshot().Binding(action); ok {
					value = b.Value
				}
				lc.Coordinator.RunAction(action, value, ev)
			})
		}))
	}
	box := rec.Overlay.Controller()
	if box == nil {
		return
	}
	if drags, err := box.QueryAll(`[data-action="drag"]`); err == nil {
		for _, d := range drags {
			rec.OnRelease(d.On("mousedown", func(ev *dom.Event) {
				lc.Loop.Post(func() { lc.Coordinator.RunAction(speed.ActionDrag, 0, ev) })
			}))
		}
	}
	rec.OnRelease(box.On("wheel", func(ev *dom.Event) {
		lc.Loop.Post(func() {
			if _, ok := lc.Registry.Get(rec.Media); ok && lc.Router != nil {
				lc.Router.HandleWheel(rec, ev)
			}
		})
	}))
}

// Remove detaches m's controller and releases everything it installed.
// It reports whether there was a controller.
func (lc *Lifecycle) Remove(m dom.Media) bool {
	rec, ok := lc.Registry.Get(m)
	if !ok {
		lc.Logger.Debug("controller: remove without controller")
		return false
	}
	if err := rec.Overlay.Remove(); err != nil {
		lc.Logger.Warn("controller: overlay removal failed", "controller", rec.ID, "error", err)
	}
	if lc.Router != nil {
		lc.Router.Forget(rec)
	}
	rec.Release()
	lc.Registry.Remove(m)
	lc.Logger.Debug("controller: removed", "controller", rec.ID)
	if lc.OnDetach != nil {
		lc.OnDetach(rec)
	}
	return true
}

// Reattach removes any controller on m and attaches a fresh one.
func (lc *Lifecycle) Reattach(m dom.Media, parent dom.Element) (*registry.Record, error) {
	lc.Remove(m)
	return lc.Attach(m, parent)
}

// UpdateVisibility recomputes the hidden class from the element's
// current state. A manual pin is never overridden.
func (lc *Lifecycle) UpdateVisibility(m dom.Media) {
	rec, ok := lc.Registry.Get(m)
	if !ok {
		lc.Logger.Debug("controller: visibility without controller")
		return
	}
	o := rec.Overlay
	if o.Manual() {
		return
	}
	snap := lc.Settings.Snapshot()
	hidden := o.Hidden()

	if dom.IsAudio(m) {
		switch {
		case !snap.AudioEnabled && !hidden:
			o.Set(overlay.ClassHidden, true)
		case snap.AudioEnabled && hidden:
			o.Set(overlay.ClassHidden, false)
		}
		return
	}

	visible := discovery.Visible(m)
	switch {
	case visible && hidden && !snap.StartHidden:
		o.Set(overlay.ClassHidden, false)
		lc.Logger.Debug("controller: shown, element became visible", "controller", rec.ID)
	case !visible && !hidden:
		o.Set(overlay.ClassHidden, true)
		lc.Logger.Debug("controller: hidden, element became invisible", "controller", rec.ID)
	}
}
