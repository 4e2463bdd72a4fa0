package memdom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/vscd/speedwatch/dom"
)

// Element is an in-memory dom.Element.
type Element struct {
	doc *Document
	n   *html.Node
}

func (e *Element) NodeID() dom.NodeID { return e.doc.id(e.n) }

func (e *Element) QueryAll(selector string) ([]dom.Element, error) {
	return e.doc.queryAll(e.n, selector)
}

func (e *Element) Children() []dom.Element { return e.doc.children(e.n) }

func (e *Element) Insert(child, ref dom.Element) error { return e.doc.insert(e.n, child, ref) }

func (e *Element) Tag() string { return strings.ToLower(e.n.Data) }

func (e *Element) Attr(name string) (string, bool) {
	for _, a := range e.n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func (e *Element) SetAttr(name, value string) error {
	old, had := e.Attr(name)
	if had && old == value {
		return nil
	}
	if had {
		for i := range e.n.Attr {
			if e.n.Attr[i].Key == name {
				e.n.Attr[i].Val = value
			}
		}
	} else {
		e.n.Attr = append(e.n.Attr, html.Attribute{Key: name, Val: value})
	}
	e.doc.notify(dom.MutationRecord{Type: dom.Attributes, Target: e.doc.wrapElement(e.n), AttributeName: name, OldValue: old})
	return nil
}

func (e *Element) RemoveAttr(name string) error {
	old, had := e.Attr(name)
	if !had {
		return nil
	}
	out := e.n.Attr[:0]
	for _, a := range e.n.Attr {
		if a.Key != name {
			out = append(out, a)
		}
	}
	e.n.Attr = out
	e.doc.notify(dom.MutationRecord{Type: dom.Attributes, Target: e.doc.wrapElement(e.n), AttributeName: name, OldValue: old})
	return nil
}

func (e *Element) Parent() dom.Element {
	if e.n.Parent == nil || e.n.Parent.Type != html.ElementNode {
		return nil
	}
	return e.doc.wrapElement(e.n.Parent)
}

func (e *Element) ParentNode() dom.Node {
	if e.n.Parent == nil {
		return nil
	}
	return e.doc.node(e.n.Parent)
}

func (e *Element) Shadow() dom.ShadowRoot {
	if sr := e.doc.shadows[e.n]; sr != nil {
		return sr
	}
	return nil
}

func (e *Element) ContentDocument() (dom.Document, error) {
	if e.Tag() != "iframe" {
		return nil, nil
	}
	if e.doc.blocked[e.n] {
		return nil, dom.ErrCrossOrigin
	}
	if child := e.doc.frames[e.n]; child != nil {
		return child, nil
	}
	return nil, nil
}

func (e *Element) Connected() bool { return e.doc.connected(e.n) }

func (e *Element) Matches(selector string) bool {
	sel, err := e.doc.compile(selector)
	if err != nil {
		return false
	}
	return sel.Match(e.n)
}

func (e *Element) Closest(selector string) dom.Element {
	sel, err := e.doc.compile(selector)
	if err != nil {
		return nil
	}
	for cur := e.n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		if sel.Match(cur) {
			return e.doc.wrapElement(cur)
		}
	}
	return nil
}

// Style parses the inline style attribute over browser defaults.
func (e *Element) Style() dom.Style {
	st := dom.Style{Display: "block", Visibility: "visible", Opacity: "1", PointerEvents: "auto"}
	if e.Tag() == "video" || e.Tag() == "audio" || e.Tag() == "span" {
		st.Display = "inline"
	}
	raw, _ := e.Attr("style")
	for _, decl := range strings.Split(raw, ";") {
		k, v, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		switch strings.TrimSpace(strings.ToLower(k)) {
		case "display":
			st.Display = v
		case "visibility":
			st.Visibility = v
		case "opacity":
			st.Opacity = v
		case "pointer-events":
			st.PointerEvents = v
		}
	}
	return st
}

// Rect is the override from SetRect, else 640x360 for connected and
// displayed media, 100x20 for other displayed elements.
func (e *Element) Rect() dom.Rect {
	if r, ok := e.doc.rects[e.n]; ok {
		return r
	}
	if !e.Connected() || e.Style().Display == "none" {
		return dom.Rect{}
	}
	if dom.IsMediaTag(e.Tag()) {
		return dom.Rect{Width: 640, Height: 360}
	}
	return dom.Rect{Width: 100, Height: 20}
}

func (e *Element) Text() string {
	var b strings.Builder
	for c := e.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

func (e *Element) SetText(s string) error {
	for c := e.n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.TextNode {
			e.n.RemoveChild(c)
		}
		c = next
	}
	e.n.AppendChild(&html.Node{Type: html.TextNode, Data: s})
	return nil
}

func (e *Element) Remove() error {
	if e.n.Parent == nil {
		return fmt.Errorf("memdom: remove: %w", dom.ErrDetached)
	}
	e.doc.detach(e.n)
	return nil
}

func (e *Element) On(eventType string, fn func(*dom.Event)) func() {
	ls := e.doc.listeners[e.n]
	if ls == nil {
		ls = make(map[string][]*listener)
		e.doc.listeners[e.n] = ls
	}
	l := &listener{fn: fn}
	ls[eventType] = append(ls[eventType], l)
	return func() { ls[eventType] = without(ls[eventType], l) }
}

// Dispatch runs document capture listeners, then the element's own.
func (e *Element) Dispatch(ev *dom.Event) error {
	if ev.Target == nil {
		ev.Target = e.doc.wrapElement(e.n)
	}
	if ev.TimeStamp == 0 {
		e.doc.clock++
		ev.TimeStamp = e.doc.clock
	}
	for _, l := range append([]*listener(nil), e.doc.docLs[ev.Type]...) {
		l.fn(ev)
	}
	for _, l := range append([]*listener(nil), e.doc.listeners[e.n][ev.Type]...) {
		l.fn(ev)
	}
	return nil
}

// ListenerCount reports listeners registered on el for eventType.
func (d *Document) ListenerCount(el dom.Element, eventType string) int {
	return len(d.listeners[rawOf(el)][eventType])
}

// ShadowRoot is an in-memory open shadow root.
type ShadowRoot struct {
	doc  *Document
	n    *html.Node
	host *html.Node
}

func (s *ShadowRoot) NodeID() dom.NodeID { return s.doc.id(s.n) }

func (s *ShadowRoot) QueryAll(selector string) ([]dom.Element, error) {
	return s.doc.queryAll(s.n, selector)
}

func (s *ShadowRoot) Children() []dom.Element { return s.doc.children(s.n) }

func (s *ShadowRoot) Insert(child, ref dom.Element) error { return s.doc.insert(s.n, child, ref) }

func (s *ShadowRoot) Host() dom.Element { return s.doc.wrapElement(s.host) }
