// Package registry is the side-table of managed media elements.
//
// It replaces the back-reference a page script would hang off the element
// itself: membership here is what "has a controller" means. A Registry is
// owned by one engine and used only from its loop.
package registry

import (
	"errors"
	"time"

	"github.com/hazyhaar/vscd/speedwatch/dom"
	"github.com/hazyhaar/vscd/speedwatch/internal/overlay"
)

// ErrAttached is returned by Add for an element already registered.
var ErrAttached = errors.New("registry: element already has a controller")

// Record is the state of one controller.
type Record struct {
	ID      string
	Media   dom.Media
	Overlay *overlay.Overlay
	Created time.Time

	// SpeedBeforeReset is the speed a reset toggles back to.
	SpeedBeforeReset *float64
	// Mark is the saved playback position for the jump action.
	Mark *float64

	release []func()
}

// OnRelease queues fn to run when the record is released.
func (r *Record) OnRelease(fn func()) { r.release = append(r.release, fn) }

// Release runs queued cleanups in reverse order, once.
func (r *Record) Release() {
	fns := r.release
	r.release = nil
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

// Registry maps node identity to Record, keeping creation order.
type Registry struct {
	byNode map[dom.NodeID]*Record
	order  []dom.NodeID
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{byNode: make(map[dom.NodeID]*Record)}
}

// Add registers rec under its media element.
func (r *Registry) Add(rec *Record) error {
	id := rec.Media.NodeID()
	if _, ok := r.byNode[id]; ok {
		return ErrAttached
	}
	r.byNode[id] = rec
	r.order = append(r.order, id)
	return nil
}

// Get returns the record for el.
func (r *Registry) Get(el dom.Element) (*Record, bool) {
	if el == nil {
		return nil, false
	}
	rec, ok := r.byNode[el.NodeID()]
	return rec, ok
}

// Has reports whether el has a controller.
func (r *Registry) Has(el dom.Element) bool {
	_, ok := r.Get(el)
	return ok
}

// Remove unlinks el and returns its record.
func (r *Registry) Remove(el dom.Element) (*Record, bool) {
	id := el.NodeID()
	rec, ok := r.byNode[id]
	if !ok {
		return nil, false
	}
	delete(r.byNode, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return rec, true
}

// Len is the number of records.
func (r *Registry) Len() int { return len(r.byNode) }

// All returns records in creation order.
func (r *Registry) All() []*Record {
	out := make([]*Record, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byNode[id])
	}
	return out
}

// AllMedia returns managed elements still connected to the document.
func (r *Registry) AllMedia() []dom.Media {
	var out []dom.Media
	for _, rec := range r.All() {
		if rec.Media.Connected() {
			out = append(out, rec.Media)
		}
	}
	return out
}

// ByID finds a record by controller ID.
func (r *Registry) ByID(id string) (*Record, bool) {
	for _, rec := range r.byNode {
		if rec.ID == id {
			return rec, true
		}
	}
	return nil, false
}

// Owning returns the record whose overlay contains el.
func (r *Registry) Owning(el dom.Element) (*Record, bool) {
	if el == nil {
		return nil, false
	}
	for _, rec := range r.All() {
		if rec.Overlay != nil && rec.Overlay.Contains(el) {
			return rec, true
		}
	}
	return nil, false
}
