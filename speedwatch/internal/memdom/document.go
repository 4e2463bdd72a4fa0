// Package memdom is an in-memory dom host built on golang.org/x/net/html.
//
// Markup is parsed with html.Parse and queried with cascadia. Declarative
// shadow roots (<template shadowrootmode="open">) become real shadow roots.
// Media state, frames and rects live in side tables and can be driven
// from tests. Mutation observers and event listeners run synchronously on
// the goroutine that changed the tree.
//
// A Document is not safe for concurrent use.
package memdom

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/vscd/speedwatch/dom"
)

// Document is an in-memory dom.Document.
type Document struct {
	url  *url.URL
	root *html.Node

	next  dom.NodeID
	ids   map[*html.Node]dom.NodeID
	elems map[*html.Node]*Element

	shadows   map[*html.Node]*ShadowRoot // host -> root
	shadowOf  map[*html.Node]*ShadowRoot // root node -> root
	frames    map[*html.Node]*Document
	blocked   map[*html.Node]bool
	media     map[*html.Node]*mediaState
	rects     map[*html.Node]dom.Rect
	listeners map[*html.Node]map[string][]*listener
	docLs     map[string][]*listener
	observers []*observation
	selectors map[string]cascadia.Matcher

	// Messages collects PostMessage payloads.
	Messages []any
	clock    float64
}

type listener struct {
	fn func(*dom.Event)
}

// Parse builds a Document for rawURL from markup.
func Parse(rawURL, markup string) (*Document, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("memdom: parse url: %w", err)
	}
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("memdom: parse html: %w", err)
	}
	d := &Document{
		url:       u,
		root:      root,
		ids:       make(map[*html.Node]dom.NodeID),
		elems:     make(map[*html.Node]*Element),
		shadows:   make(map[*html.Node]*ShadowRoot),
		shadowOf:  make(map[*html.Node]*ShadowRoot),
		frames:    make(map[*html.Node]*Document),
		blocked:   make(map[*html.Node]bool),
		media:     make(map[*html.Node]*mediaState),
		rects:     make(map[*html.Node]dom.Rect),
		listeners: make(map[*html.Node]map[string][]*listener),
		docLs:     make(map[string][]*listener),
		selectors: make(map[string]cascadia.Matcher),
	}
	d.promoteTemplates(root)
	return d, nil
}

// MustParse is Parse for tests and fixtures.
func MustParse(rawURL, markup string) *Document {
	d, err := Parse(rawURL, markup)
	if err != nil {
		panic(err)
	}
	return d
}

// promoteTemplates turns declarative shadow templates into shadow roots.
func (d *Document) promoteTemplates(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode && c.Data == "template" && attr(c, "shadowrootmode") != "" && n.Type == html.ElementNode {
			sr := d.attachShadow(n)
			for gc := c.FirstChild; gc != nil; {
				gnext := gc.NextSibling
				c.RemoveChild(gc)
				sr.n.AppendChild(gc)
				gc = gnext
			}
			n.RemoveChild(c)
			d.promoteTemplates(sr.n)
		} else {
			d.promoteTemplates(c)
		}
		c = next
	}
}

func (d *Document) id(n *html.Node) dom.NodeID {
	if id, ok := d.ids[n]; ok {
		return id
	}
	d.next++
	d.ids[n] = d.next
	return d.next
}

func (d *Document) wrap(n *html.Node) *Element {
	if n == nil || n.Type != html.ElementNode {
		return nil
	}
	if el, ok := d.elems[n]; ok {
		return el
	}
	el := &Element{doc: d, n: n}
	d.elems[n] = el
	return el
}

func (d *Document) wrapAll(ns []*html.Node) []dom.Element {
	out := make([]dom.Element, 0, len(ns))
	for _, n := range ns {
		out = append(out, d.wrapElement(n))
	}
	return out
}

// wrapElement returns media wrappers for audio/video so that type
// assertions to dom.Media succeed.
func (d *Document) wrapElement(n *html.Node) dom.Element {
	el := d.wrap(n)
	if el == nil {
		return nil
	}
	if dom.IsMediaTag(n.Data) {
		return &Media{Element: el, st: d.mediaFor(n)}
	}
	return el
}

func (d *Document) compile(selector string) (cascadia.Matcher, error) {
	if s, ok := d.selectors[selector]; ok {
		return s, nil
	}
	s, err := cascadia.ParseGroup(selector)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", dom.ErrInvalidSelector, selector, err)
	}
	d.selectors[selector] = s
	return s, nil
}

func (d *Document) queryAll(n *html.Node, selector string) ([]dom.Element, error) {
	sel, err := d.compile(selector)
	if err != nil {
		return nil, err
	}
	return d.wrapAll(cascadia.QueryAll(n, sel)), nil
}

func (d *Document) children(n *html.Node) []dom.Element {
	var out []dom.Element
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, d.wrapElement(c))
		}
	}
	return out
}

// node wraps a raw parent into the matching dom.Node.
func (d *Document) node(n *html.Node) dom.Node {
	switch {
	case n == nil:
		return nil
	case n == d.root:
		return d
	case d.shadowOf[n] != nil:
		return d.shadowOf[n]
	default:
		return d.wrapElement(n)
	}
}

func rawOf(n dom.Node) *html.Node {
	switch v := n.(type) {
	case *Document:
		return v.root
	case *ShadowRoot:
		return v.n
	case *Element:
		return v.n
	case *Media:
		return v.n
	}
	return nil
}

func (d *Document) insert(parent *html.Node, child, ref dom.Element) error {
	cn := rawOf(child)
	if cn == nil {
		return fmt.Errorf("memdom: insert: foreign node")
	}
	var rn *html.Node
	if ref != nil {
		rn = rawOf(ref)
		if rn == nil || rn.Parent != parent {
			return fmt.Errorf("memdom: insert: reference is not a child")
		}
	}
	if cn.Parent != nil {
		d.detach(cn)
	}
	if rn != nil {
		parent.InsertBefore(cn, rn)
	} else {
		parent.AppendChild(cn)
	}
	d.notify(dom.MutationRecord{Type: dom.ChildList, Target: d.node(parent), Added: []dom.Element{d.wrapElement(cn)}})
	return nil
}

func (d *Document) detach(n *html.Node) {
	parent := n.Parent
	if parent == nil {
		return
	}
	target := d.node(parent)
	d.notifyBefore(parent, dom.MutationRecord{Type: dom.ChildList, Target: target, Removed: []dom.Element{d.wrapElement(n)}}, func() {
		parent.RemoveChild(n)
	})
}

// connected walks up through shadow hosts to the document node.
func (d *Document) connected(n *html.Node) bool {
	for cur := n; cur != nil; {
		if cur == d.root {
			return true
		}
		if sr := d.shadowOf[cur]; sr != nil {
			cur = sr.host
			continue
		}
		cur = cur.Parent
	}
	return false
}

// --- dom.Node / dom.Document ---

func (d *Document) NodeID() dom.NodeID { return d.id(d.root) }

func (d *Document) QueryAll(selector string) ([]dom.Element, error) {
	return d.queryAll(d.root, selector)
}

func (d *Document) Children() []dom.Element { return d.children(d.root) }

func (d *Document) Insert(child, ref dom.Element) error { return d.insert(d.root, child, ref) }

func (d *Document) URL() string { return d.url.String() }

func (d *Document) Hostname() string { return d.url.Hostname() }

// SetURL updates the location after a same-document navigation.
func (d *Document) SetURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("memdom: parse url: %w", err)
	}
	d.url = u
	return nil
}

func (d *Document) Root() dom.Element {
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return d.wrapElement(c)
		}
	}
	return nil
}

func (d *Document) Body() dom.Element {
	els, _ := d.QueryAll("body")
	if len(els) == 0 {
		return nil
	}
	return els[0]
}

func (d *Document) CreateElement(tag string) (dom.Element, error) {
	tag = strings.ToLower(tag)
	n := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
	return d.wrapElement(n), nil
}

func (d *Document) On(eventType string, fn func(*dom.Event)) func() {
	l := &listener{fn: fn}
	d.docLs[eventType] = append(d.docLs[eventType], l)
	return func() { d.docLs[eventType] = without(d.docLs[eventType], l) }
}

func (d *Document) PostMessage(msg any) error {
	d.Messages = append(d.Messages, msg)
	return nil
}

// Fire dispatches ev through the document-level listeners. Keyboard
// events aimed at the page go through here.
func (d *Document) Fire(ev *dom.Event) {
	if ev.TimeStamp == 0 {
		d.clock++
		ev.TimeStamp = d.clock
	}
	for _, l := range append([]*listener(nil), d.docLs[ev.Type]...) {
		l.fn(ev)
	}
}

// --- test controls ---

// Get returns the first element matching selector, or nil.
func (d *Document) Get(selector string) dom.Element {
	els, err := d.QueryAll(selector)
	if err != nil || len(els) == 0 {
		return nil
	}
	return els[0]
}

// GetMedia is Get for media elements.
func (d *Document) GetMedia(selector string) dom.Media {
	m, _ := dom.AsMedia(d.Get(selector))
	return m
}

// AttachShadow gives host an open shadow root.
func (d *Document) AttachShadow(host dom.Element) *ShadowRoot {
	return d.attachShadow(rawOf(host))
}

func (d *Document) attachShadow(host *html.Node) *ShadowRoot {
	if sr := d.shadows[host]; sr != nil {
		return sr
	}
	sr := &ShadowRoot{doc: d, n: &html.Node{Type: html.DocumentNode}, host: host}
	d.shadows[host] = sr
	d.shadowOf[sr.n] = sr
	return sr
}

// ShareShadow points host at from's existing shadow root. This builds
// self-referential shadow trees that no conforming browser produces.
func (d *Document) ShareShadow(host, from dom.Element) {
	if sr := d.shadows[rawOf(from)]; sr != nil {
		d.shadows[rawOf(host)] = sr
	}
}

// SetFrame makes iframe's content document child.
func (d *Document) SetFrame(iframe dom.Element, child *Document) {
	d.frames[rawOf(iframe)] = child
}

// BlockFrame makes iframe report ErrCrossOrigin.
func (d *Document) BlockFrame(iframe dom.Element) {
	d.blocked[rawOf(iframe)] = true
}

// SetRect overrides an element's bounding rect.
func (d *Document) SetRect(el dom.Element, r dom.Rect) {
	d.rects[rawOf(el)] = r
}

// ReplaceRoot swaps the documentElement for a fresh <html><body>, the
// way document.open()/write() does, and reports the new root as added.
func (d *Document) ReplaceRoot() dom.Element {
	old := d.Root()
	if old != nil {
		d.detach(rawOf(old))
	}
	htmlNode := &html.Node{Type: html.ElementNode, Data: "html", DataAtom: atom.Html}
	htmlNode.AppendChild(&html.Node{Type: html.ElementNode, Data: "head", DataAtom: atom.Head})
	htmlNode.AppendChild(&html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body})
	root := d.wrapElement(htmlNode)
	d.insert(d.root, root, nil)
	return root
}

// HTML renders the tree (light DOM only).
func (d *Document) HTML() string {
	var b bytes.Buffer
	html.Render(&b, d.root)
	return b.String()
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func without(ls []*listener, l *listener) []*listener {
	out := make([]*listener, 0, len(ls))
	for _, x := range ls {
		if x != l {
			out = append(out, x)
		}
	}
	return out
}

var (
	_ dom.Document   = (*Document)(nil)
	_ dom.ShadowRoot = (*ShadowRoot)(nil)
	_ dom.Element    = (*Element)(nil)
	_ dom.Media      = (*Media)(nil)
)
