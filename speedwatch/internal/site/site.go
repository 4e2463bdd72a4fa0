// Package site holds the per-site adapters and the resolver that picks
// one per document. Callers never branch on a site's identity, only on
// what its adapter returns.
package site

import (
	"log/slog"
	"strings"

	"github.com/hazyhaar/vscd/speedwatch/dom"
)

// Method says where an overlay goes relative to its insertion point.
type Method int

const (
	// FirstChild inserts as the point's first child.
	FirstChild Method = iota
	// BeforeParent inserts as the point's previous sibling.
	BeforeParent
	// AfterParent inserts as the point's next sibling.
	AfterParent
)

func (m Method) String() string {
	switch m {
	case BeforeParent:
		return "beforeParent"
	case AfterParent:
		return "afterParent"
	default:
		return "firstChild"
	}
}

// Placement is an overlay insertion directive.
type Placement struct {
	Method Method
	Point  dom.Element
}

// Adapter is the capability set a site can override.
type Adapter interface {
	Name() string
	// Position decides where the overlay for media goes.
	Position(parent dom.Element, media dom.Media) Placement
	// Seek moves playback by delta seconds and reports whether it did.
	Seek(media dom.Media, delta float64) bool
	// ShouldIgnore filters out media that must never get a controller.
	ShouldIgnore(media dom.Media) bool
	// ContainerSelectors name player containers to scan explicitly.
	ContainerSelectors() []string
	// DetectSpecial finds media that ordinary queries miss.
	DetectSpecial(doc dom.Document) []dom.Media
	// ReattachHosts names host elements whose attribute changes force a
	// controller reattach.
	ReattachHosts() []string
}

// Default is the generic adapter; site adapters embed it.
type Default struct {
	Logger *slog.Logger
}

func (Default) Name() string { return "default" }

func (Default) Position(parent dom.Element, _ dom.Media) Placement {
	return Placement{Method: FirstChild, Point: parent}
}

// Seek clamps to [0, duration] when the duration is known.
func (d Default) Seek(media dom.Media, delta float64) bool {
	target := media.CurrentTime() + delta
	if dur, ok := dom.KnownDuration(media); ok {
		target = min(max(target, 0), dur)
	}
	if err := media.SetCurrentTime(target); err != nil {
		d.log().Warn("site: seek failed", "error", err)
		return false
	}
	return true
}

func (Default) ShouldIgnore(dom.Media) bool { return false }

func (Default) ContainerSelectors() []string { return nil }

func (Default) DetectSpecial(dom.Document) []dom.Media { return nil }

func (Default) ReattachHosts() []string { return nil }

func (d Default) log() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// grand returns parent.parentElement, falling back to parent.
func grand(parent dom.Element) dom.Element {
	if parent == nil {
		return nil
	}
	if g := parent.Parent(); g != nil {
		return g
	}
	return parent
}

func hasParentClass(media dom.Media, class string) bool {
	p := media.Parent()
	return p != nil && dom.HasClass(p, class)
}

// mediaIn collects video elements under root.
func mediaIn(root dom.Node, logger *slog.Logger) []dom.Media {
	els, err := root.QueryAll("video")
	if err != nil {
		logger.Debug("site: query failed", "error", err)
		return nil
	}
	out := make([]dom.Media, 0, len(els))
	for _, el := range els {
		if m, ok := dom.AsMedia(el); ok {
			out = append(out, m)
		}
	}
	return out
}

func hostIs(host string, names ...string) bool {
	host = strings.ToLower(host)
	for _, n := range names {
		if host == n {
			return true
		}
	}
	return false
}
