package memdom

import (
	"slices"

	"golang.org/x/net/html"

	"github.com/hazyhaar/vscd/speedwatch/dom"
)

type observation struct {
	doc    *Document
	target *html.Node
	opts   dom.ObserveOptions
	fn     func([]dom.MutationRecord)
	off    bool
}

func (o *observation) Disconnect() {
	o.off = true
	o.doc.observers = slices.DeleteFunc(o.doc.observers, func(x *observation) bool { return x == o })
}

// Observe registers a synchronous mutation observer. Like the native one
// it does not see into shadow roots below target.
func (d *Document) Observe(target dom.Node, opts dom.ObserveOptions, fn func([]dom.MutationRecord)) (dom.Observation, error) {
	n := rawOf(target)
	if n == nil {
		n = d.root
	}
	o := &observation{doc: d, target: n, opts: opts, fn: fn}
	d.observers = append(d.observers, o)
	return o, nil
}

// ObserverCount reports live observers.
func (d *Document) ObserverCount() int { return len(d.observers) }

func (o *observation) wants(rec dom.MutationRecord, at *html.Node) bool {
	switch rec.Type {
	case dom.ChildList:
		if !o.opts.ChildList {
			return false
		}
	case dom.Attributes:
		if !o.opts.Attributes && len(o.opts.AttributeFilter) == 0 {
			return false
		}
		if len(o.opts.AttributeFilter) > 0 && !slices.Contains(o.opts.AttributeFilter, rec.AttributeName) {
			return false
		}
	}
	if at == o.target {
		return true
	}
	if !o.opts.Subtree {
		return false
	}
	for cur := at; cur != nil; cur = cur.Parent {
		if cur == o.target {
			return true
		}
	}
	return false
}

func (d *Document) matching(rec dom.MutationRecord, at *html.Node) []*observation {
	var out []*observation
	for _, o := range d.observers {
		if o.wants(rec, at) {
			out = append(out, o)
		}
	}
	return out
}

func (d *Document) notify(rec dom.MutationRecord) {
	at := rawOf(rec.Target)
	for _, o := range d.matching(rec, at) {
		if !o.off {
			o.fn([]dom.MutationRecord{rec})
		}
	}
}

// notifyBefore resolves observers while the node is still in place, then
// applies the change and delivers.
func (d *Document) notifyBefore(at *html.Node, rec dom.MutationRecord, apply func()) {
	obs := d.matching(rec, at)
	apply()
	for _, o := range obs {
		if !o.off {
			o.fn([]dom.MutationRecord{rec})
		}
	}
}
