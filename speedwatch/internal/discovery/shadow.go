package discovery

import (
	"iter"

	"github.com/hazyhaar/vscd/speedwatch/dom"
)

// DefaultMaxShadowDepth bounds how many shadow boundaries a walk crosses.
const DefaultMaxShadowDepth = 10

// Shadow yields every element under root, descending into open shadow
// roots at most maxDepth boundaries deep. Each node is visited once, so
// the sequence is finite even when a host hands back a shadow root that
// contains its own host.
func Shadow(root dom.Node, maxDepth int) iter.Seq[dom.Element] {
	return func(yield func(dom.Element) bool) {
		type item struct {
			el    dom.Element
			depth int
		}
		seen := map[dom.NodeID]bool{root.NodeID(): true}
		var stack []item
		push := func(kids []dom.Element, depth int) {
			for i := len(kids) - 1; i >= 0; i-- {
				stack = append(stack, item{kids[i], depth})
			}
		}
		push(root.Children(), 0)

		for len(stack) > 0 {
			it := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			id := it.el.NodeID()
			if seen[id] {
				continue
			}
			seen[id] = true
			if !yield(it.el) {
				return
			}
			push(it.el.Children(), it.depth)
			if sr := it.el.Shadow(); sr != nil && it.depth < maxDepth && !seen[sr.NodeID()] {
				seen[sr.NodeID()] = true
				push(sr.Children(), it.depth+1)
			}
		}
	}
}

// ShadowMedia yields media elements that sit inside a shadow root below
// root, which a plain query cannot reach.
func ShadowMedia(root dom.Node, maxDepth int, eligible func(dom.Media) bool) iter.Seq[dom.Media] {
	return func(yield func(dom.Media) bool) {
		for el := range Shadow(root, maxDepth) {
			m, ok := dom.AsMedia(el)
			if !ok || !eligible(m) {
				continue
			}
			if !yield(m) {
				return
			}
		}
	}
}
