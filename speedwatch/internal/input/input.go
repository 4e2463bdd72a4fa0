// Package input routes keyboard, wheel and rate-change events to the
// speed coordinator and owns the transient "show controller" timer.
package input

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/hazyhaar/vscd/speedwatch/dom"
	"github.com/hazyhaar/vscd/speedwatch/event"
	"github.com/hazyhaar/vscd/speedwatch/internal/loop"
	"github.com/hazyhaar/vscd/speedwatch/internal/overlay"
	"github.com/hazyhaar/vscd/speedwatch/internal/registry"
	"github.com/hazyhaar/vscd/speedwatch/internal/settings"
	"github.com/hazyhaar/vscd/speedwatch/internal/speed"
)

// DefaultShowDuration is how long an action keeps controllers visible.
const DefaultShowDuration = 2 * time.Second

// Modifiers that disable shortcuts. Shift is allowed.
var blockingModifiers = []string{"Alt", "Control", "Fn", "Meta", "Hyper", "OS"}

// Options configures a Router.
type Options struct {
	Doc          dom.Document
	Loop         *loop.Loop
	Registry     *registry.Registry
	Settings     *settings.View
	Coordinator  *speed.Coordinator
	ShowDuration time.Duration
	Logger       *slog.Logger
}

// Router is the engine's event manager.
type Router struct {
	doc    dom.Document
	loop   *loop.Loop
	reg    *registry.Registry
	view   *settings.View
	coord  *speed.Coordinator
	show   time.Duration
	logger *slog.Logger

	lastSig string
	timer   *loop.Timer
	shown   []*registry.Record
	detach  []func()
}

// New creates a Router and registers it as the coordinator's presenter.
func New(opts Options) *Router {
	r := &Router{
		doc:    opts.Doc,
		loop:   opts.Loop,
		reg:    opts.Registry,
		view:   opts.Settings,
		coord:  opts.Coordinator,
		show:   opts.ShowDuration,
		logger: opts.Logger,
	}
	if r.show <= 0 {
		r.show = DefaultShowDuration
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.coord.SetPresenter(r)
	return r
}

// Start installs the document listeners. Handlers run on the loop.
func (r *Router) Start() {
	r.detach = append(r.detach,
		r.doc.On("keydown", func(ev *dom.Event) { r.loop.Post(func() { r.HandleKeydown(ev) }) }),
		r.doc.On("ratechange", func(ev *dom.Event) { r.loop.Post(func() { r.HandleRateChange(ev) }) }),
	)
	r.InterceptForced()
}

// InterceptForced tells hosts with asynchronous key delivery which keys
// to swallow. Call again after the key bindings change.
func (r *Router) InterceptForced() {
	ki, ok := r.doc.(dom.KeyInterceptor)
	if !ok {
		return
	}
	var codes []int
	for _, b := range r.view.Snapshot().KeyBindings {
		if b.Force && !slices.Contains(codes, b.Key) {
			codes = append(codes, b.Key)
		}
	}
	if err := ki.InterceptKeys(codes); err != nil {
		r.logger.Warn("input: key interception failed", "error", err)
	}
}

// Stop removes the listeners and cancels the show timer.
func (r *Router) Stop() {
	for _, fn := range r.detach {
		fn()
	}
	r.detach = nil
	r.CancelShow()
}

// HandleKeydown runs the action bound to the pressed key.
func (r *Router) HandleKeydown(ev *dom.Event) {
	sig := fmt.Sprintf("%d_%v_%s", ev.KeyCode, ev.TimeStamp, ev.Type)
	if sig == r.lastSig {
		return
	}
	r.lastSig = sig

	for _, m := range blockingModifiers {
		if ev.HasModifier(m) {
			r.logger.Debug("input: keydown ignored for modifier", "key", ev.KeyCode, "modifier", m)
			return
		}
	}
	if dom.Editable(ev.Target) {
		return
	}
	if len(r.reg.AllMedia()) == 0 {
		return
	}
	b, ok := r.view.Snapshot().BindingForKey(ev.KeyCode)
	if !ok {
		return
	}
	r.coord.RunAction(b.Action, b.Value, ev)
	if b.Force {
		ev.PreventDefault()
	}
}

// HandleRateChange decides whether an observed rate change is an echo,
// a change to veto, or a genuine external change to adopt.
func (r *Router) HandleRateChange(ev *dom.Event) {
	m, ok := dom.AsMedia(ev.Target)
	if !ok {
		return
	}
	if _, ok := r.reg.Get(m); !ok {
		r.logger.Debug("input: ratechange on unmanaged element")
		return
	}
	if ev.Detail != nil && ev.Detail.Origin == speed.Marker {
		return
	}
	force := r.view.Snapshot().ForceLastSavedSpeed
	if r.coord.InCooldown() {
		if force {
			r.coord.Revert(m)
		}
		return
	}
	if force {
		r.coord.Revert(m)
		return
	}
	if m.ReadyState() < 1 {
		r.logger.Debug("input: ratechange during initialization ignored")
		return
	}
	rate := m.PlaybackRate()
	if math.IsNaN(rate) || rate <= r.coord.Limits().Min {
		r.logger.Debug("input: ratechange below minimum ignored", "rate", rate)
		return
	}
	r.coord.AdjustSpeed(m, rate, speed.Absolute, event.SourceExternal)
}

// Show displays rec's overlay until the show timer fires. Each call
// restarts the timer. Controllers that start hidden stay hidden unless
// the user pinned them.
func (r *Router) Show(rec *registry.Record) {
	o := rec.Overlay
	if o == nil {
		return
	}
	if r.view.Snapshot().StartHidden && !o.Manual() {
		return
	}
	o.Set(overlay.ClassShow, true)
	if !slices.Contains(r.shown, rec) {
		r.shown = append(r.shown, rec)
	}
	r.timer.Stop()
	r.timer = r.loop.After(r.show, func() {
		r.timer = nil
		for _, s := range r.shown {
			s.Overlay.Set(overlay.ClassShow, false)
		}
		r.shown = nil
	})
}

// CancelShow stops the show timer without touching the overlays.
func (r *Router) CancelShow() {
	r.timer.Stop()
	r.timer = nil
	r.shown = nil
}

// Forget drops rec from the pending show. The timer is cancelled when
// nothing else is waiting on it.
func (r *Router) Forget(rec *registry.Record) {
	r.shown = slices.DeleteFunc(r.shown, func(s *registry.Record) bool { return s == rec })
	if len(r.shown) == 0 {
		r.timer.Stop()
		r.timer = nil
	}
}

// HandleWheel adjusts rec's speed from a wheel event over its overlay.
func (r *Router) HandleWheel(rec *registry.Record, ev *dom.Event) {
	step, ok := WheelStep(ev)
	if !ok {
		return
	}
	ev.PreventDefault()
	r.coord.AdjustSpeed(rec.Media, step, speed.Relative, event.SourceInternal)
}
