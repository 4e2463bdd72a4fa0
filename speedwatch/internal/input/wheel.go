package input

import (
	"math"

	"github.com/hazyhaar/vscd/speedwatch/dom"
)

// Wheel delta modes.
const (
	DeltaPixel = 0
	DeltaLine  = 1
	DeltaPage  = 2
)

const (
	wheelSpeedStep = 0.1
	// Pixel-mode deltas below this are taken for a touchpad. Mouse wheels
	// report about 100px per notch. It is a guess, not a classification.
	touchpadThreshold = 50
)

// WheelStep maps a wheel event to a relative speed step. Scrolling up
// speeds up. ok is false for touchpad-sized pixel deltas.
func WheelStep(ev *dom.Event) (step float64, ok bool) {
	if ev.DeltaMode == DeltaPixel && math.Abs(ev.DeltaY) < touchpadThreshold {
		return 0, false
	}
	switch {
	case ev.DeltaY < 0:
		return wheelSpeedStep, true
	case ev.DeltaY > 0:
		return -wheelSpeedStep, true
	}
	return 0, false
}
