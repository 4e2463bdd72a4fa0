// Package dom is the host abstraction the speedwatch engine runs against.
//
// A host is anything that can present a document tree with media elements:
// a live Chrome page over CDP, or the in-memory tree used by tests. The
// engine only ever talks to these interfaces, never to a concrete host.
//
// Calls on host objects may block on I/O (CDP round-trips). Callbacks
// registered with On and Observe may run on any goroutine; the engine
// re-posts them onto its own loop.
package dom

import (
	"errors"
	"math"
	"strings"
)

// NodeID identifies a node for the lifetime of its document. Hosts never
// reuse an ID for a different node.
type NodeID uint64

var (
	// ErrCrossOrigin is returned when a frame's document cannot be read.
	ErrCrossOrigin = errors.New("dom: cross-origin frame")
	// ErrDetached is returned when an operation targets a node that left
	// its document.
	ErrDetached = errors.New("dom: node detached")
	// ErrInvalidSelector is returned by QueryAll for selectors the host
	// cannot parse.
	ErrInvalidSelector = errors.New("dom: invalid selector")
)

// Node is a document, a shadow root or an element.
type Node interface {
	NodeID() NodeID
	// QueryAll matches selector against descendants, not crossing shadow
	// boundaries.
	QueryAll(selector string) ([]Element, error)
	// Children returns element children in document order.
	Children() []Element
	// Insert adds child before ref. A nil ref appends.
	Insert(child, ref Element) error
}

// ShadowRoot is an open shadow root.
type ShadowRoot interface {
	Node
	Host() Element
}

// Style is the subset of computed style the engine reads.
type Style struct {
	Display       string
	Visibility    string
	Opacity       string
	PointerEvents string
}

// Rect is a bounding client rect.
type Rect struct {
	X, Y, Width, Height float64
}

// Element is an element node.
type Element interface {
	Node
	// Tag is the lower-case tag name.
	Tag() string
	Attr(name string) (string, bool)
	SetAttr(name, value string) error
	RemoveAttr(name string) error
	// Parent is the parent element, nil when the parent is a document or
	// shadow root.
	Parent() Element
	// ParentNode is the parent of any kind, nil when detached.
	ParentNode() Node
	// Shadow is the open shadow root, nil when there is none.
	Shadow() ShadowRoot
	// ContentDocument returns an iframe's document. Non-frames return
	// nil, nil. Unreadable frames return ErrCrossOrigin.
	ContentDocument() (Document, error)
	Connected() bool
	Matches(selector string) bool
	Closest(selector string) Element
	Style() Style
	Rect() Rect
	Text() string
	SetText(s string) error
	Remove() error
	// On registers a listener and returns its removal func.
	On(eventType string, fn func(*Event)) func()
	// Dispatch fires ev at this element. Listeners on the element run,
	// then document-level listeners.
	Dispatch(ev *Event) error
}

// Media is an audio or video element.
type Media interface {
	Element
	PlaybackRate() float64
	SetPlaybackRate(v float64) error
	ReadyState() int
	CurrentTime() float64
	SetCurrentTime(v float64) error
	// Duration is NaN or +Inf when unknown.
	Duration() float64
	Paused() bool
	Play() error
	Pause() error
	Muted() bool
	SetMuted(v bool) error
	Volume() float64
	SetVolume(v float64) error
	Src() string
	CurrentSrc() string
}

// Document is a loaded document.
type Document interface {
	Node
	URL() string
	Hostname() string
	Root() Element
	Body() Element
	CreateElement(tag string) (Element, error)
	// Observe starts a mutation observer on target. fn receives records
	// in host delivery order.
	Observe(target Node, opts ObserveOptions, fn func([]MutationRecord)) (Observation, error)
	// On registers a capture-phase document listener.
	On(eventType string, fn func(*Event)) func()
	// PostMessage posts msg to the document's window.
	PostMessage(msg any) error
}

// KeyInterceptor is implemented by hosts whose key events are delivered
// asynchronously. The host itself prevents the default action for the
// listed key codes since the engine cannot do it in time.
type KeyInterceptor interface {
	InterceptKeys(codes []int) error
}

// ObserveOptions mirrors MutationObserverInit.
type ObserveOptions struct {
	ChildList       bool
	Subtree         bool
	Attributes      bool
	AttributeFilter []string
}

// Observation is a live mutation observer.
type Observation interface {
	Disconnect()
}

// MutationType distinguishes child-list records from attribute records.
type MutationType int

const (
	ChildList MutationType = iota
	Attributes
)

// MutationRecord is one native mutation record.
type MutationRecord struct {
	Type          MutationType
	Target        Node
	Added         []Element
	Removed       []Element
	AttributeName string
	OldValue      string
}

// RateDetail tags a rate-change event written by the engine itself.
type RateDetail struct {
	Origin string
	Speed  string
	Source string
}

// Event is a DOM event as seen by the engine.
type Event struct {
	Type      string
	Target    Element
	TimeStamp float64
	KeyCode   int
	// Modifiers lists active modifier names as reported by
	// getModifierState: Alt, Control, Meta, Shift, Fn, Hyper, OS.
	Modifiers []string
	DeltaY    float64
	DeltaMode int
	Detail    *RateDetail

	prevented bool
}

// PreventDefault marks the event as handled.
func (e *Event) PreventDefault() { e.prevented = true }

// DefaultPrevented reports whether PreventDefault was called.
func (e *Event) DefaultPrevented() bool { return e.prevented }

// HasModifier reports whether name is among the active modifiers.
func (e *Event) HasModifier(name string) bool {
	for _, m := range e.Modifiers {
		if m == name {
			return true
		}
	}
	return false
}

// AsMedia returns el as Media when it is an audio or video element.
func AsMedia(el Element) (Media, bool) {
	if el == nil || !IsMediaTag(el.Tag()) {
		return nil, false
	}
	m, ok := el.(Media)
	return m, ok
}

// IsMediaTag reports whether tag is "video" or "audio".
func IsMediaTag(tag string) bool {
	return tag == "video" || tag == "audio"
}

// IsAudio reports whether m is an audio element.
func IsAudio(m Media) bool { return m.Tag() == "audio" }

// SourceOf returns currentSrc, then src, then "".
func SourceOf(m Media) string {
	if s := m.CurrentSrc(); s != "" {
		return s
	}
	return m.Src()
}

// KnownDuration returns the duration when it is finite and positive.
func KnownDuration(m Media) (float64, bool) {
	return knownDuration(m.Duration())
}

func knownDuration(d float64) (float64, bool) {
	if math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
		return 0, false
	}
	return d, true
}

// Editable reports whether el is a typing context.
func Editable(el Element) bool {
	if el == nil {
		return false
	}
	switch el.Tag() {
	case "input", "textarea":
		return true
	}
	v, ok := el.Attr("contenteditable")
	return ok && !strings.EqualFold(v, "false")
}
