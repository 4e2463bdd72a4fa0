package memdom

import (
	"fmt"
	"math"

	"golang.org/x/net/html"

	"github.com/hazyhaar/vscd/speedwatch/dom"
)

type mediaState struct {
	rate       float64
	readyState int
	current    float64
	duration   float64
	paused     bool
	muted      bool
	volume     float64
	currentSrc string
}

func (d *Document) mediaFor(n *html.Node) *mediaState {
	if st := d.media[n]; st != nil {
		return st
	}
	st := &mediaState{rate: 1, duration: math.NaN(), paused: true, volume: 1}
	if src := attr(n, "src"); src != "" {
		st.currentSrc = src
		st.readyState = 4
	}
	for _, a := range n.Attr {
		if a.Key == "muted" {
			st.muted = true
		}
	}
	d.media[n] = st
	return st
}

// Media is an in-memory audio or video element.
type Media struct {
	*Element
	st *mediaState
}

func (m *Media) PlaybackRate() float64 { return m.st.rate }

// SetPlaybackRate fires a native ratechange when the value changes.
func (m *Media) SetPlaybackRate(v float64) error {
	if math.IsNaN(v) || v <= 0 {
		return fmt.Errorf("memdom: playbackRate %v not supported", v)
	}
	if v == m.st.rate {
		return nil
	}
	m.st.rate = v
	return m.Dispatch(&dom.Event{Type: "ratechange"})
}

func (m *Media) ReadyState() int { return m.st.readyState }

func (m *Media) CurrentTime() float64 { return m.st.current }

func (m *Media) SetCurrentTime(v float64) error {
	m.st.current = v
	return m.Dispatch(&dom.Event{Type: "seeked"})
}

func (m *Media) Duration() float64 { return m.st.duration }

func (m *Media) Paused() bool { return m.st.paused }

func (m *Media) Play() error {
	m.st.paused = false
	return m.Dispatch(&dom.Event{Type: "play"})
}

func (m *Media) Pause() error {
	m.st.paused = true
	return m.Dispatch(&dom.Event{Type: "pause"})
}

func (m *Media) Muted() bool { return m.st.muted }

func (m *Media) SetMuted(v bool) error {
	if v == m.st.muted {
		return nil
	}
	m.st.muted = v
	return m.Dispatch(&dom.Event{Type: "volumechange"})
}

func (m *Media) Volume() float64 { return m.st.volume }

func (m *Media) SetVolume(v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("memdom: volume %v out of range", v)
	}
	if v == m.st.volume {
		return nil
	}
	m.st.volume = v
	return m.Dispatch(&dom.Event{Type: "volumechange"})
}

func (m *Media) Src() string {
	v, _ := m.Attr("src")
	return v
}

func (m *Media) CurrentSrc() string { return m.st.currentSrc }

// --- test controls ---

// SetReadyState sets HTMLMediaElement.readyState.
func (m *Media) SetReadyState(v int) { m.st.readyState = v }

// SetDuration sets a known duration.
func (m *Media) SetDuration(v float64) { m.st.duration = v }

// SetPosition updates currentTime without firing seeked, the way
// playback advances it.
func (m *Media) SetPosition(v float64) { m.st.current = v }

// SetCurrentSrc simulates the player picking a source.
func (m *Media) SetCurrentSrc(v string) { m.st.currentSrc = v }

// PageSetRate simulates a page script writing playbackRate, which fires a
// native ratechange without any origin detail.
func (m *Media) PageSetRate(v float64) { m.SetPlaybackRate(v) }
