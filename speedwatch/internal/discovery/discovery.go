// Package discovery finds eligible media elements in a document, its
// shadow roots, same-origin frames and site-specific containers.
package discovery

import (
	"errors"
	"log/slog"

	"github.com/hazyhaar/vscd/speedwatch/dom"
	"github.com/hazyhaar/vscd/speedwatch/internal/site"
)

const defaultMaxFrameDepth = 3

// Options configures a Scanner.
type Options struct {
	// Adapter returns the document's active site adapter.
	Adapter func() site.Adapter
	// Audio reports whether audio elements are managed.
	Audio          func() bool
	MaxShadowDepth int
	Logger         *slog.Logger
}

// Scanner runs discovery passes.
type Scanner struct {
	adapter  func() site.Adapter
	audio    func() bool
	maxDepth int
	logger   *slog.Logger
}

// New returns a Scanner.
func New(opts Options) *Scanner {
	s := &Scanner{
		adapter:  opts.Adapter,
		audio:    opts.Audio,
		maxDepth: opts.MaxShadowDepth,
		logger:   opts.Logger,
	}
	if s.adapter == nil {
		s.adapter = func() site.Adapter { return site.Default{} }
	}
	if s.audio == nil {
		s.audio = func() bool { return true }
	}
	if s.maxDepth <= 0 {
		s.maxDepth = DefaultMaxShadowDepth
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Selector is the media query for the current audio setting.
func (s *Scanner) Selector() string {
	if s.audio() {
		return "video,audio"
	}
	return "video"
}

// Eligible reports whether m's tag is managed under the audio setting.
func (s *Scanner) Eligible(m dom.Media) bool {
	return !dom.IsAudio(m) || s.audio()
}

// ScanLight is the cheap first-paint pass: one query plus the adapter's
// special detection, no shadow or frame recursion.
func (s *Scanner) ScanLight(doc dom.Document) []dom.Media {
	found := s.query(doc)
	found = append(found, s.adapter().DetectSpecial(doc)...)
	return s.filter(found)
}

// ScanFull adds shadow roots, site containers and same-origin frames.
func (s *Scanner) ScanFull(doc dom.Document) []dom.Media {
	return s.filter(s.scanDocument(doc, 0))
}

// ScanSiteContainers queries the adapter's container selectors.
// Invalid selectors are logged and skipped.
func (s *Scanner) ScanSiteContainers(doc dom.Document) []dom.Media {
	return s.filter(s.containers(doc))
}

// ScanIframes scans readable frame documents. Cross-origin frames are
// skipped.
func (s *Scanner) ScanIframes(doc dom.Document) []dom.Media {
	return s.filter(s.frames(doc, 0))
}

func (s *Scanner) scanDocument(doc dom.Document, depth int) []dom.Media {
	found := s.query(doc)
	for m := range ShadowMedia(doc, s.maxDepth, s.Eligible) {
		found = append(found, m)
	}
	found = append(found, s.adapter().DetectSpecial(doc)...)
	found = append(found, s.containers(doc)...)
	found = append(found, s.frames(doc, depth)...)
	return found
}

func (s *Scanner) query(root dom.Node) []dom.Media {
	els, err := root.QueryAll(s.Selector())
	if err != nil {
		s.logger.Warn("discovery: media query failed", "error", err)
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

func (s *Scanner) containers(doc dom.Document) []dom.Media {
	var found []dom.Media
	for _, sel := range s.adapter().ContainerSelectors() {
		els, err := doc.QueryAll(sel)
		if err != nil {
			s.logger.Warn("discovery: invalid container selector", "selector", sel, "error", err)
			continue
		}
		for _, el := range els {
			if m, ok := dom.AsMedia(el); ok {
				found = append(found, m)
				continue
			}
			found = append(found, s.query(el)...)
			for m := range ShadowMedia(el, s.maxDepth, s.Eligible) {
				found = append(found, m)
			}
		}
	}
	return found
}

func (s *Scanner) frames(doc dom.Document, depth int) []dom.Media {
	if depth >= defaultMaxFrameDepth {
		return nil
	}
	frames, err := doc.QueryAll("iframe")
	if err != nil {
		return nil
	}
	var found []dom.Media
	for _, f := range frames {
		inner, err := f.ContentDocument()
		if err != nil {
			if errors.Is(err, dom.ErrCrossOrigin) {
				s.logger.Debug("discovery: skipping cross-origin frame")
			} else {
				s.logger.Debug("discovery: frame unreadable", "error", err)
			}
			continue
		}
		if inner == nil {
			continue
		}
		found = append(found, s.scanDocument(inner, depth+1)...)
	}
	return found
}

// filter drops ignored and ineligible media and de-duplicates by node.
func (s *Scanner) filter(in []dom.Media) []dom.Media {
	adapter := s.adapter()
	seen := make(map[dom.NodeID]bool, len(in))
	out := make([]dom.Media, 0, len(in))
	for _, m := range in {
		if m == nil || seen[m.NodeID()] {
			continue
		}
		seen[m.NodeID()] = true
		if !s.Eligible(m) || adapter.ShouldIgnore(m) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// IsValid reports whether m may carry a controller right now.
func (s *Scanner) IsValid(m dom.Media) bool {
	if m == nil || !m.Connected() {
		return false
	}
	if dom.IsAudio(m) && !s.audio() {
		return false
	}
	return !s.adapter().ShouldIgnore(m)
}

// ShouldStartHidden decides the initial overlay visibility.
func (s *Scanner) ShouldStartHidden(m dom.Media) bool {
	st := m.Style()
	if dom.IsAudio(m) {
		_, disabled := m.Attr("disabled")
		return !s.audio() || disabled || st.PointerEvents == "none"
	}
	return hiddenStyle(st)
}

// Visible reports whether m is connected, styled visible and has area.
func Visible(m dom.Media) bool {
	if !m.Connected() || hiddenStyle(m.Style()) {
		return false
	}
	r := m.Rect()
	return r.Width > 0 && r.Height > 0
}

func hiddenStyle(st dom.Style) bool {
	return st.Display == "none" || st.Visibility == "hidden" || st.Opacity == "0"
}
