package site

import (
	"github.com/hazyhaar/vscd/speedwatch/dom"
)

// Netflix seeks through the page's own player API since writing
// currentTime directly trips the player's integrity check.
type Netflix struct {
	Default
	doc dom.Document
}

func (Netflix) Name() string { return "netflix" }

func (Netflix) Position(parent dom.Element, _ dom.Media) Placement {
	return Placement{Method: BeforeParent, Point: grand(parent)}
}

// NetflixSeek is the message the page-side listener acts on.
type NetflixSeek struct {
	Action string  `json:"action"`
	SeekMs float64 `json:"seekMs"`
}

func (n Netflix) Seek(media dom.Media, delta float64) bool {
	if n.doc == nil {
		return n.Default.Seek(media, delta)
	}
	if err := n.doc.PostMessage(NetflixSeek{Action: "videospeed-seek", SeekMs: delta * 1000}); err != nil {
		n.log().Warn("site: netflix seek message failed, seeking directly", "error", err)
		return n.Default.Seek(media, delta)
	}
	return true
}

func (Netflix) ShouldIgnore(media dom.Media) bool {
	return dom.HasClass(media, "preview-video") || hasParentClass(media, "billboard-row")
}

func (Netflix) ContainerSelectors() []string {
	return []string{".watch-video", ".nfp-container", "#netflix-player"}
}

// YouTube skips thumbnails and ad overlays and looks into embedded
// same-origin player frames.
type YouTube struct {
	Default
}

func (YouTube) Name() string { return "youtube" }

func (YouTube) Position(parent dom.Element, _ dom.Media) Placement {
	return Placement{Method: FirstChild, Point: grand(parent)}
}

func (YouTube) ShouldIgnore(media dom.Media) bool {
	return dom.HasClass(media, "video-thumbnail") || hasParentClass(media, "ytp-ad-player-overlay")
}

func (YouTube) ContainerSelectors() []string {
	return []string{".html5-video-player", "#movie_player", ".ytp-player-content"}
}

func (y YouTube) DetectSpecial(doc dom.Document) []dom.Media {
	frames, err := doc.QueryAll(`iframe[src*="youtube.com"]`)
	if err != nil {
		return nil
	}
	var out []dom.Media
	for _, f := range frames {
		inner, err := f.ContentDocument()
		if err != nil || inner == nil {
			y.log().Debug("site: youtube frame unreadable", "error", err)
			continue
		}
		out = append(out, mediaIn(inner, y.log())...)
	}
	return out
}

// Facebook places the overlay high above the video so that the feed's
// hover layers do not cover it.
type Facebook struct {
	Default
}

func (Facebook) Name() string { return "facebook" }

func (Facebook) Position(parent dom.Element, _ dom.Media) Placement {
	point := parent
	for range 7 {
		if point == nil {
			break
		}
		point = point.Parent()
	}
	if point == nil {
		point = grand(parent)
	}
	return Placement{Method: FirstChild, Point: point}
}

func (Facebook) ShouldIgnore(media dom.Media) bool {
	if media.Closest("[data-story-id]") != nil || media.Closest(".story-bucket-container") != nil {
		return true
	}
	w, ok := media.Attr("data-video-width")
	return ok && w == "0"
}

func (Facebook) ContainerSelectors() []string {
	return []string{"[data-video-id]", ".video-container", ".fbStoryVideoContainer", `[role="main"] video`}
}

// Amazon ignores small loaded players, which are previews and ads.
type Amazon struct {
	Default
}

func (Amazon) Name() string { return "amazon" }

func (Amazon) Position(parent dom.Element, media dom.Media) Placement {
	if dom.HasClass(media, "vjs-tech") {
		return Placement{Method: FirstChild, Point: parent}
	}
	return Placement{Method: BeforeParent, Point: grand(parent)}
}

func (Amazon) ShouldIgnore(media dom.Media) bool {
	if media.ReadyState() < 2 {
		return false
	}
	r := media.Rect()
	return r.Width < 200 || r.Height < 100
}

func (Amazon) ContainerSelectors() []string {
	return []string{".dv-player-container", ".webPlayerContainer", `[data-testid="video-player"]`}
}

// Apple TV+ keeps its video inside the apple-tv-plus-player shadow root
// and swaps it under an unchanged host.
type Apple struct {
	Default
}

func (Apple) Name() string { return "apple" }

func (Apple) Position(parent dom.Element, _ dom.Media) Placement {
	point := parent
	if pn, ok := parent.ParentNode().(dom.Element); ok {
		point = pn
	}
	return Placement{Method: FirstChild, Point: point}
}

func (Apple) ContainerSelectors() []string {
	return []string{"apple-tv-plus-player", `[data-testid="player"]`, ".video-container"}
}

func (a Apple) DetectSpecial(doc dom.Document) []dom.Media {
	hosts, err := doc.QueryAll("apple-tv-plus-player")
	if err != nil {
		return nil
	}
	var out []dom.Media
	for _, h := range hosts {
		if sr := h.Shadow(); sr != nil {
			out = append(out, mediaIn(sr, a.log())...)
		}
	}
	return out
}

func (Apple) ReattachHosts() []string { return []string{"apple-tv-plus-player"} }
