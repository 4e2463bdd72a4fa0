// Package speed is the only writer of playback rates.
//
// Every write is tagged with Marker so the rate-change listener can tell
// the engine's own writes from the page's. A write opens a cooldown
// window during which external changes are vetoed or, in force mode,
// reverted.
package speed

import (
	"log/slog"
	"math"
	"time"

	"github.com/hazyhaar/vscd/speedwatch/dom"
	"github.com/hazyhaar/vscd/speedwatch/event"
	"github.com/hazyhaar/vscd/speedwatch/internal/loop"
	"github.com/hazyhaar/vscd/speedwatch/internal/overlay"
	"github.com/hazyhaar/vscd/speedwatch/internal/registry"
	"github.com/hazyhaar/vscd/speedwatch/internal/settings"
	"github.com/hazyhaar/vscd/speedwatch/internal/site"
)

// Marker is the origin carried by rate-change events the engine writes.
const Marker = "videoSpeed"

const (
	DefaultCooldown = 200 * time.Millisecond
	DefaultBlink    = 2500 * time.Millisecond

	// Below this rate a relative step starts from zero.
	snapThreshold = 0.1
	// Rates closer than this to the authoritative speed are left alone.
	revertTolerance = 0.01
)

// Mode selects how AdjustSpeed reads its value.
type Mode int

const (
	Absolute Mode = iota
	Relative
)

// Presenter shows controllers transiently. The input router implements it.
type Presenter interface {
	Show(rec *registry.Record)
	CancelShow()
}

// Options configures a Coordinator.
type Options struct {
	Loop     *loop.Loop
	Registry *registry.Registry
	Settings *settings.View
	// Adapter returns the document's active site adapter.
	Adapter  func() site.Adapter
	Cooldown time.Duration
	Blink    time.Duration
	Logger   *slog.Logger
}

// Coordinator applies speed changes and runs actions.
type Coordinator struct {
	loop     *loop.Loop
	reg      *registry.Registry
	view     *settings.View
	adapter  func() site.Adapter
	cooldown time.Duration
	blink    time.Duration
	logger   *slog.Logger

	presenter     Presenter
	cooldownUntil time.Time
	subs          []func(event.RateChange)
}

// New creates a Coordinator. Use it from the engine loop only.
func New(opts Options) *Coordinator {
	c := &Coordinator{
		loop:     opts.Loop,
		reg:      opts.Registry,
		view:     opts.Settings,
		adapter:  opts.Adapter,
		cooldown: opts.Cooldown,
		blink:    opts.Blink,
		logger:   opts.Logger,
	}
	if c.adapter == nil {
		c.adapter = func() site.Adapter { return site.Default{} }
	}
	if c.cooldown <= 0 {
		c.cooldown = DefaultCooldown
	}
	if c.blink <= 0 {
		c.blink = DefaultBlink
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// SetPresenter wires the transient show behaviour.
func (c *Coordinator) SetPresenter(p Presenter) { c.presenter = p }

// OnRate registers fn for every successful write.
func (c *Coordinator) OnRate(fn func(event.RateChange)) { c.subs = append(c.subs, fn) }

// InCooldown reports whether the last write is younger than the cooldown.
func (c *Coordinator) InCooldown() bool { return c.loop.Now().Before(c.cooldownUntil) }

// Limits returns the active speed bounds.
func (c *Coordinator) Limits() settings.Limits {
	lim := c.view.Snapshot().Limits
	if lim.Max <= 0 {
		return settings.Limits{Min: settings.MinSpeed, Max: settings.MaxSpeed}
	}
	return lim
}

// Clamp bounds v to lim and rounds it to two decimals.
func Clamp(v float64, lim settings.Limits) float64 {
	return round2(min(max(v, lim.Min), lim.Max))
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// SetSpeed writes v, clamped, to m and updates the display, lastSpeed and
// cooldown. m must carry a controller.
func (c *Coordinator) SetSpeed(m dom.Media, v float64, src event.Source) {
	rec, ok := c.reg.Get(m)
	if !ok {
		c.logger.Warn("speed: set on element without controller")
		return
	}
	if !finite(v) {
		c.logger.Warn("speed: invalid value", "value", v)
		return
	}
	v = Clamp(v, c.Limits())
	prev := m.PlaybackRate()
	if err := m.SetPlaybackRate(v); err != nil {
		c.logger.Warn("speed: write failed", "controller", rec.ID, "error", err)
		return
	}
	tag := &dom.Event{
		Type:   "ratechange",
		Detail: &dom.RateDetail{Origin: Marker, Speed: overlay.FormatSpeed(v), Source: string(src)},
	}
	if err := m.Dispatch(tag); err != nil {
		c.logger.Debug("speed: tagged ratechange not delivered", "error", err)
	}

	if err := rec.Overlay.SetSpeed(v); err != nil {
		c.logger.Warn("speed: indicator not ready", "controller", rec.ID, "error", err)
		return
	}
	c.view.SetLastSpeed(v)
	rec.Overlay.Blink(c.loop, c.blink, dom.IsAudio(m))
	c.cooldownUntil = c.loop.Now().Add(c.cooldown)

	c.emit(event.RateChange{
		Kind:         event.KindRate,
		ControllerID: rec.ID,
		Tag:          m.Tag(),
		Speed:        v,
		Previous:     prev,
		Source:       src,
		Timestamp:    c.loop.Now().UnixMilli(),
	})
}

// AdjustSpeed computes a target from value and mode and writes it.
// External changes in force mode are replaced by the last saved speed.
func (c *Coordinator) AdjustSpeed(m dom.Media, value float64, mode Mode, src event.Source) {
	rec, ok := c.reg.Get(m)
	if !ok {
		c.logger.Warn("speed: adjust on element without controller")
		return
	}
	if !finite(value) {
		c.logger.Warn("speed: invalid value", "value", value)
		return
	}
	c.show(rec)

	target := value
	if mode == Relative {
		base := m.PlaybackRate()
		if base < snapThreshold {
			base = 0
		}
		target = base + value
	}
	target = Clamp(target, c.Limits())
	if src == event.SourceExternal && c.view.Snapshot().ForceLastSavedSpeed {
		c.logger.Debug("speed: force mode vetoes external change", "requested", target, "restoring", c.view.LastSpeed())
		target = c.view.LastSpeed()
	}
	c.SetSpeed(m, target, src)
}

// ResetSpeed toggles between target and the speed seen before the last
// reset.
func (c *Coordinator) ResetSpeed(m dom.Media, target float64) {
	rec, ok := c.reg.Get(m)
	if !ok {
		c.logger.Warn("speed: reset on element without controller")
		return
	}
	c.show(rec)

	cur := m.PlaybackRate()
	if cur == target {
		if rec.SpeedBeforeReset == nil {
			c.logger.Debug("speed: already at reset speed", "target", target)
			return
		}
		restore := *rec.SpeedBeforeReset
		rec.SpeedBeforeReset = nil
		c.AdjustSpeed(m, restore, Absolute, event.SourceInternal)
		return
	}
	rec.SpeedBeforeReset = &cur
	c.AdjustSpeed(m, target, Absolute, event.SourceInternal)
}

// Revert puts m back on the authoritative last speed after an external
// change was vetoed. It does nothing when m is already there.
func (c *Coordinator) Revert(m dom.Media) {
	last := c.view.LastSpeed()
	if math.Abs(m.PlaybackRate()-last) <= revertTolerance {
		return
	}
	if pending, ok := c.view.PendingLastSpeed(); ok {
		c.logger.Info("speed: reverting while a lastSpeed save is pending", "last", last, "pending", pending)
	}
	c.logger.Info("speed: restoring authoritative speed", "external", m.PlaybackRate(), "last", last)
	c.SetSpeed(m, last, event.SourceInternal)
}

func (c *Coordinator) show(rec *registry.Record) {
	if c.presenter != nil {
		c.presenter.Show(rec)
	}
}

func (c *Coordinator) emit(ev event.RateChange) {
	for _, fn := range c.subs {
		fn(ev)
	}
}
