// Package reconcile turns DOM mutation records into controller
// transitions.
//
// Each observed root (the document, then every open shadow root met on
// the way) owns a queue. Host callbacks only append to it and, when the
// root is idle, schedule one idle-priority drain on the engine loop. The
// drain handles records in delivery order; a failing item is logged and
// the rest of the batch still runs.
package reconcile

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hazyhaar/vscd/speedwatch/dom"
	"github.com/hazyhaar/vscd/speedwatch/internal/controller"
	"github.com/hazyhaar/vscd/speedwatch/internal/discovery"
	"github.com/hazyhaar/vscd/speedwatch/internal/loop"
	"github.com/hazyhaar/vscd/speedwatch/internal/registry"
	"github.com/hazyhaar/vscd/speedwatch/internal/site"
)

const (
	DefaultDocumentTimeout = 2 * time.Second
	DefaultShadowTimeout   = 500 * time.Millisecond
)

var (
	documentAttributes = []string{"aria-hidden", "data-focus-method", "style", "class"}
	shadowAttributes   = []string{"aria-hidden", "data-focus-method"}
)

// Options wires a Reconciler.
type Options struct {
	Doc       dom.Document
	Loop      *loop.Loop
	Registry  *registry.Registry
	Scanner   *discovery.Scanner
	Lifecycle *controller.Lifecycle
	Adapter   func() site.Adapter

	// Found is called for media that appeared or became valid. The
	// default validates and attaches through Lifecycle.
	Found func(m dom.Media, parent dom.Element)
	// Removed is called for managed media that left the document. The
	// default removes through Lifecycle.
	Removed func(m dom.Media)
	// OnReplaced is called when the document element itself is added.
	OnReplaced func()

	DocumentTimeout time.Duration
	ShadowTimeout   time.Duration
	MaxShadowDepth  int
	Logger          *slog.Logger
}

// root is the per-observed-root state: idle, or a drain is scheduled.
type root struct {
	id        dom.NodeID
	node      dom.Node
	timeout   time.Duration
	obs       dom.Observation
	queue     []dom.MutationRecord
	scheduled bool
}

// Reconciler observes one document.
type Reconciler struct {
	opts Options

	mu      sync.Mutex
	roots   map[dom.NodeID]*root
	running bool
}

// New returns a stopped Reconciler.
func New(opts Options) *Reconciler {
	if opts.Adapter == nil {
		opts.Adapter = func() site.Adapter { return site.Default{} }
	}
	if opts.Scanner == nil {
		opts.Scanner = discovery.New(discovery.Options{Adapter: opts.Adapter})
	}
	if opts.DocumentTimeout <= 0 {
		opts.DocumentTimeout = DefaultDocumentTimeout
	}
	if opts.ShadowTimeout <= 0 {
		opts.ShadowTimeout = DefaultShadowTimeout
	}
	if opts.MaxShadowDepth <= 0 {
		opts.MaxShadowDepth = discovery.DefaultMaxShadowDepth
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	r := &Reconciler{opts: opts, roots: make(map[dom.NodeID]*root)}
	if r.opts.Found == nil {
		r.opts.Found = r.attach
	}
	if r.opts.Removed == nil {
		r.opts.Removed = func(m dom.Media) {
			if r.opts.Lifecycle != nil {
				r.opts.Lifecycle.Remove(m)
			}
		}
	}
	return r
}

// Start observes the document and every shadow root already in it.
func (r *Reconciler) Start() error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.mu.Unlock()

	doc := r.opts.Doc
	if err := r.observe(doc, documentAttributes, r.opts.DocumentTimeout); err != nil {
		r.Stop()
		return fmt.Errorf("reconcile: observe document: %w", err)
	}
	for el := range discovery.Shadow(doc, r.opts.MaxShadowDepth) {
		if sr := el.Shadow(); sr != nil {
			r.observeShadow(sr)
		}
	}
	r.opts.Logger.Debug("reconcile: started", "url", doc.URL())
	return nil
}

// Stop disconnects every observer and drops queued records.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	roots := r.roots
	r.roots = make(map[dom.NodeID]*root)
	r.running = false
	r.mu.Unlock()

	for _, rt := range roots {
		if rt.obs != nil {
			rt.obs.Disconnect()
		}
	}
	r.opts.Logger.Debug("reconcile: stopped", "roots", len(roots))
}

// Observed reports how many roots are observed, the document included.
func (r *Reconciler) Observed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.roots)
}

// Scheduled reports whether node's root has a drain pending.
func (r *Reconciler) Scheduled(node dom.Node) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.roots[node.NodeID()]
	return ok && rt.scheduled
}

func (r *Reconciler) observeShadow(sr dom.ShadowRoot) {
	if err := r.observe(sr, shadowAttributes, r.opts.ShadowTimeout); err != nil {
		r.opts.Logger.Warn("reconcile: shadow observer failed", "error", err)
	}
}

// observe registers node once. A second call for the same node is a
// no-op.
func (r *Reconciler) observe(node dom.Node, attrs []string, timeout time.Duration) error {
	id := node.NodeID()
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	if _, ok := r.roots[id]; ok {
		r.mu.Unlock()
		return nil
	}
	rt := &root{id: id, node: node, timeout: timeout}
	r.roots[id] = rt
	r.mu.Unlock()

	obs, err := r.opts.Doc.Observe(node, dom.ObserveOptions{
		ChildList:       true,
		Subtree:         true,
		AttributeFilter: attrs,
	}, func(recs []dom.MutationRecord) { r.enqueue(rt, recs) })

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		delete(r.roots, id)
		return err
	}
	if r.roots[id] != rt {
		// Stopped or forgotten while the host was registering.
		obs.Disconnect()
		return nil
	}
	rt.obs = obs
	if _, isShadow := node.(dom.ShadowRoot); isShadow {
		r.opts.Logger.Debug("reconcile: shadow root observed", "roots", len(r.roots))
	}
	return nil
}

func (r *Reconciler) unobserve(sr dom.ShadowRoot) {
	r.mu.Lock()
	rt, ok := r.roots[sr.NodeID()]
	if ok {
		delete(r.roots, sr.NodeID())
	}
	r.mu.Unlock()
	if ok && rt.obs != nil {
		rt.obs.Disconnect()
	}
}

// enqueue runs on the host's goroutine.
func (r *Reconciler) enqueue(rt *root, recs []dom.MutationRecord) {
	r.mu.Lock()
	if r.roots[rt.id] != rt {
		r.mu.Unlock()
		return
	}
	rt.queue = append(rt.queue, recs...)
	schedule := !rt.scheduled
	rt.scheduled = true
	r.mu.Unlock()

	if schedule {
		r.opts.Loop.Idle(func() { r.drain(rt) }, rt.timeout)
	}
}

func (r *Reconciler) drain(rt *root) {
	r.mu.Lock()
	batch := rt.queue
	rt.queue = nil
	rt.scheduled = false
	live := r.roots[rt.id] == rt
	r.mu.Unlock()
	if !live {
		return
	}
	for i := range batch {
		r.process(batch[i])
	}
}

// process handles one record; a panic from the host or a callback is
// logged and contained to the record.
func (r *Reconciler) process(rec dom.MutationRecord) {
	defer func() {
		if p := recover(); p != nil {
			r.opts.Logger.Error("reconcile: mutation failed", "type", rec.Type, "attribute", rec.AttributeName, "panic", p)
		}
	}()
	switch rec.Type {
	case dom.ChildList:
		r.childList(rec)
	case dom.Attributes:
		r.attributes(rec)
	}
}

func (r *Reconciler) childList(rec dom.MutationRecord) {
	docRoot := r.opts.Doc.Root()
	for _, el := range rec.Added {
		if docRoot != nil && el.NodeID() == docRoot.NodeID() {
			r.opts.Logger.Warn("reconcile: document replaced, reinitializing")
			if r.opts.OnReplaced != nil {
				r.opts.OnReplaced()
			}
			continue
		}
		r.item(func() { r.visit(el, parentOf(el, rec.Target), true) })
	}
	for _, el := range rec.Removed {
		r.item(func() { r.visit(el, parentOf(el, rec.Target), false) })
	}
}

// item isolates one node of a record so the siblings still run.
func (r *Reconciler) item(fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.opts.Logger.Error("reconcile: node failed", "panic", p)
		}
	}()
	fn()
}

// visit applies the add or remove rule to el and everything under it,
// shadow trees included.
func (r *Reconciler) visit(el dom.Element, parent dom.Element, added bool) {
	if !added && el.Connected() {
		// Re-parented within the same tick.
		return
	}
	if m, ok := r.media(el); ok {
		r.mediaChanged(m, parent, added)
		return
	}
	roots := []dom.Node{el}
	if sr := el.Shadow(); sr != nil {
		roots = append(roots, sr)
		r.shadowChanged(sr, added)
	}
	for _, n := range roots {
		for d := range discovery.Shadow(n, r.opts.MaxShadowDepth) {
			if sr := d.Shadow(); sr != nil {
				r.shadowChanged(sr, added)
			}
			if m, ok := r.media(d); ok {
				r.mediaChanged(m, parentOf(m, n), added)
			}
		}
	}
}

func (r *Reconciler) shadowChanged(sr dom.ShadowRoot, added bool) {
	if added {
		r.observeShadow(sr)
	} else {
		r.unobserve(sr)
	}
}

func (r *Reconciler) mediaChanged(m dom.Media, parent dom.Element, added bool) {
	if added {
		if r.opts.Registry.Has(m) {
			return
		}
		r.opts.Found(m, parent)
		return
	}
	if r.opts.Registry.Has(m) {
		r.opts.Removed(m)
	}
}

func (r *Reconciler) attributes(rec dom.MutationRecord) {
	target, ok := rec.Target.(dom.Element)
	if !ok {
		return
	}
	if rec.AttributeName == "style" || rec.AttributeName == "class" {
		r.visibility(target)
	}
	host := slices.Contains(r.opts.Adapter().ReattachHosts(), target.Tag())
	if v, ok := target.Attr("aria-hidden"); host || (rec.AttributeName == "aria-hidden" && ok && v == "false") {
		r.reattach(host)
	}
}

// visibility rechecks target, or the media under it, after a restyle.
func (r *Reconciler) visibility(target dom.Element) {
	if m, ok := r.media(target); ok {
		r.recheck(m)
		return
	}
	els, err := target.QueryAll(r.opts.Scanner.Selector())
	if err != nil {
		r.opts.Logger.Warn("reconcile: media query failed", "error", err)
		return
	}
	for _, el := range els {
		if m, ok := dom.AsMedia(el); ok {
			r.item(func() { r.recheck(m) })
		}
	}
}

func (r *Reconciler) recheck(m dom.Media) {
	valid := r.opts.Scanner.IsValid(m)
	if r.opts.Registry.Has(m) {
		if !valid {
			r.opts.Logger.Debug("reconcile: element became invalid")
			r.opts.Removed(m)
			return
		}
		if r.opts.Lifecycle != nil {
			r.opts.Lifecycle.UpdateVisibility(m)
		}
		return
	}
	if valid {
		r.opts.Logger.Debug("reconcile: element became valid")
		r.opts.Found(m, m.Parent())
	}
}

// reattach rebuilds controllers for every video in the document, since
// some players swap the media node under an unchanged container. A
// special host change only fills in videos that have none.
func (r *Reconciler) reattach(hostOnly bool) {
	var from dom.Node = r.opts.Doc
	if body := r.opts.Doc.Body(); body != nil {
		from = body
	}
	video := func(m dom.Media) bool { return m.Tag() == "video" }
	var videos []dom.Media
	for m := range discovery.ShadowMedia(from, r.opts.MaxShadowDepth, video) {
		videos = append(videos, m)
	}
	for _, m := range videos {
		r.item(func() {
			if r.opts.Registry.Has(m) {
				if hostOnly {
					return
				}
				r.opts.Removed(m)
			}
			r.opts.Found(m, m.Parent())
		})
	}
}

func (r *Reconciler) attach(m dom.Media, parent dom.Element) {
	if r.opts.Lifecycle == nil || !r.opts.Scanner.IsValid(m) {
		return
	}
	if _, err := r.opts.Lifecycle.Attach(m, parent); err != nil {
		r.opts.Logger.Warn("reconcile: attach failed", "tag", m.Tag(), "error", err)
	}
}

// media returns el as Media when its tag is managed.
func (r *Reconciler) media(el dom.Element) (dom.Media, bool) {
	m, ok := dom.AsMedia(el)
	if !ok || !r.opts.Scanner.Eligible(m) {
		return nil, false
	}
	return m, true
}

func parentOf(el dom.Element, fallback dom.Node) dom.Element {
	if p := el.Parent(); p != nil {
		return p
	}
	n := el.ParentNode()
	if n == nil {
		n = fallback
	}
	switch v := n.(type) {
	case dom.ShadowRoot:
		return v.Host()
	case dom.Element:
		return v
	}
	return nil
}
