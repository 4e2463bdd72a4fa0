// Package overlay owns the controller wrapper element placed next to
// each media element. Styling and layout belong to the Shell; this
// package only sets the speed text and toggles coarse visibility classes.
package overlay

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hazyhaar/vscd/speedwatch/dom"
	"github.com/hazyhaar/vscd/speedwatch/internal/loop"
	"github.com/hazyhaar/vscd/speedwatch/internal/site"
)

// Wrapper classes.
const (
	ClassController = "vsc-controller"
	ClassHidden     = "vsc-hidden"
	ClassManual     = "vsc-manual"
	ClassShow       = "vsc-show"
	ClassNoSource   = "vsc-nosource"
)

// ErrNoInsertionPoint is returned when a placement has nowhere to go.
var ErrNoInsertionPoint = errors.New("overlay: no insertion point")

// FormatSpeed renders a speed with two decimals.
func FormatSpeed(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// Options are passed through to the Shell.
type Options struct {
	Opacity    float64
	ButtonSize int
}

// Handles are the nodes a Shell builds inside the wrapper.
type Handles struct {
	Speed      dom.Element
	Controller dom.Element
	Buttons    []dom.Element
}

// Shell builds the visual part of an overlay.
type Shell interface {
	Build(doc dom.Document, wrapper dom.Element, speed string, opts Options) (Handles, error)
}

// Overlay is one controller's wrapper element.
type Overlay struct {
	wrapper dom.Element
	h       Handles
	blink   *loop.Timer
}

// New builds a detached overlay. Call Insert to place it.
func New(doc dom.Document, shell Shell, speed float64, opts Options, classes ...string) (*Overlay, error) {
	wrapper, err := doc.CreateElement("div")
	if err != nil {
		return nil, fmt.Errorf("overlay: create wrapper: %w", err)
	}
	for _, c := range append([]string{ClassController}, classes...) {
		if err := dom.AddClass(wrapper, c); err != nil {
			return nil, fmt.Errorf("overlay: class %s: %w", c, err)
		}
	}
	if shell == nil {
		shell = DefaultShell{}
	}
	h, err := shell.Build(doc, wrapper, FormatSpeed(speed), opts)
	if err != nil {
		return nil, fmt.Errorf("overlay: build shell: %w", err)
	}
	return &Overlay{wrapper: wrapper, h: h}, nil
}

// Insert places the wrapper according to p.
func (o *Overlay) Insert(p site.Placement) error {
	if p.Point == nil {
		return ErrNoInsertionPoint
	}
	switch p.Method {
	case site.BeforeParent, site.AfterParent:
		parent := p.Point.ParentNode()
		if parent == nil {
			return ErrNoInsertionPoint
		}
		ref := p.Point
		if p.Method == site.AfterParent {
			ref = dom.NextSibling(p.Point)
		}
		return parent.Insert(o.wrapper, ref)
	default:
		return p.Point.Insert(o.wrapper, dom.FirstChild(p.Point))
	}
}

// Wrapper is the outer element.
func (o *Overlay) Wrapper() dom.Element { return o.wrapper }

// Buttons returns the shell's action buttons.
func (o *Overlay) Buttons() []dom.Element { return o.h.Buttons }

// Controller is the shell's interactive box, the wheel target.
func (o *Overlay) Controller() dom.Element { return o.h.Controller }

// SetSpeed updates the speed display.
func (o *Overlay) SetSpeed(v float64) error {
	if o.h.Speed == nil {
		return errors.New("overlay: no speed indicator")
	}
	return o.h.Speed.SetText(FormatSpeed(v))
}

// SpeedText is the current display text.
func (o *Overlay) SpeedText() string {
	if o.h.Speed == nil {
		return ""
	}
	return o.h.Speed.Text()
}

// Has reports whether the wrapper carries class c.
func (o *Overlay) Has(c string) bool { return dom.HasClass(o.wrapper, c) }

// Set adds or removes class c.
func (o *Overlay) Set(c string, on bool) error { return dom.SetClass(o.wrapper, c, on) }

// Toggle flips class c and reports the new state.
func (o *Overlay) Toggle(c string) (bool, error) { return dom.ToggleClass(o.wrapper, c) }

// Hidden reports the vsc-hidden state.
func (o *Overlay) Hidden() bool { return o.Has(ClassHidden) }

// Manual reports whether the user pinned visibility.
func (o *Overlay) Manual() bool { return o.Has(ClassManual) }

// Contains reports whether el is the wrapper or inside it.
func (o *Overlay) Contains(el dom.Element) bool { return dom.Within(el, o.wrapper) }

// Blink shows the overlay for d. When keep is set the show class stays
// after the timer, which audio controllers rely on.
func (o *Overlay) Blink(l *loop.Loop, d time.Duration, keep bool) {
	o.blink.Stop()
	o.Set(ClassShow, true)
	o.blink = l.After(d, func() {
		o.blink = nil
		if !keep {
			o.Set(ClassShow, false)
		}
	})
}

// StopBlink cancels a pending blink.
func (o *Overlay) StopBlink() {
	o.blink.Stop()
	o.blink = nil
}

// Remove cancels timers and detaches the wrapper.
func (o *Overlay) Remove() error {
	o.StopBlink()
	if o.wrapper.ParentNode() == nil {
		return nil
	}
	return o.wrapper.Remove()
}
