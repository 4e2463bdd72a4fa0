package dom

import (
	"math"
	"testing"
)

// stub is the smallest Element needed for the helpers in this package.
type stub struct {
	id    NodeID
	tag   string
	attrs map[string]string
}

func newStub(id NodeID, tag string) *stub {
	return &stub{id: id, tag: tag, attrs: map[string]string{}}
}

func (s *stub) NodeID() NodeID                     { return s.id }
func (s *stub) QueryAll(string) ([]Element, error) { return nil, nil }
func (s *stub) Children() []Element                { return nil }
func (s *stub) Insert(Element, Element) error      { return nil }
func (s *stub) Tag() string                        { return s.tag }
func (s *stub) Attr(n string) (string, bool)       { v, ok := s.attrs[n]; return v, ok }
func (s *stub) SetAttr(n, v string) error          { s.attrs[n] = v; return nil }
func (s *stub) RemoveAttr(n string) error          { delete(s.attrs, n); return nil }
func (s *stub) Parent() Element                    { return nil }
func (s *stub) ParentNode() Node                   { return nil }
func (s *stub) Shadow() ShadowRoot                 { return nil }
func (s *stub) ContentDocument() (Document, error) { return nil, nil }
func (s *stub) Connected() bool                    { return true }
func (s *stub) Matches(string) bool                { return false }
func (s *stub) Closest(string) Element             { return nil }
func (s *stub) Style() Style                       { return Style{} }
func (s *stub) Rect() Rect                         { return Rect{} }
func (s *stub) Text() string                       { return "" }
func (s *stub) SetText(string) error               { return nil }
func (s *stub) Remove() error                      { return nil }
func (s *stub) On(string, func(*Event)) func()     { return func() {} }
func (s *stub) Dispatch(*Event) error              { return nil }

func TestClassHelpers(t *testing.T) {
	el := newStub(1, "div")
	if err := AddClass(el, "vsc-controller"); err != nil {
		t.Fatal(err)
	}
	AddClass(el, "vsc-hidden")
	AddClass(el, "vsc-hidden")
	if got := el.attrs["class"]; got != "vsc-controller vsc-hidden" {
		t.Fatalf("class: got %q", got)
	}

	on, _ := ToggleClass(el, "vsc-hidden")
	if on || HasClass(el, "vsc-hidden") {
		t.Fatal("toggle should have removed vsc-hidden")
	}
	on, _ = ToggleClass(el, "vsc-manual")
	if !on || !HasClass(el, "vsc-manual") {
		t.Fatal("toggle should have added vsc-manual")
	}

	SetClass(el, "vsc-manual", false)
	if HasClass(el, "vsc-manual") {
		t.Fatal("SetClass(false) left the class")
	}
}

func TestEditable(t *testing.T) {
	if !Editable(newStub(1, "input")) || !Editable(newStub(2, "textarea")) {
		t.Fatal("input and textarea are typing contexts")
	}
	div := newStub(3, "div")
	if Editable(div) {
		t.Fatal("plain div is not editable")
	}
	div.attrs["contenteditable"] = ""
	if !Editable(div) {
		t.Fatal("contenteditable div is editable")
	}
	div.attrs["contenteditable"] = "false"
	if Editable(div) {
		t.Fatal(`contenteditable="false" is not editable`)
	}
}

func TestEventModifiers(t *testing.T) {
	ev := &Event{Modifiers: []string{"Shift", "Hyper"}}
	if !ev.HasModifier("Hyper") || ev.HasModifier("Alt") {
		t.Fatalf("modifiers: %v", ev.Modifiers)
	}
	ev.PreventDefault()
	if !ev.DefaultPrevented() {
		t.Fatal("PreventDefault not recorded")
	}
}

func TestAsMedia_RejectsNonMedia(t *testing.T) {
	if _, ok := AsMedia(newStub(1, "div")); ok {
		t.Fatal("div is not media")
	}
	if _, ok := AsMedia(nil); ok {
		t.Fatal("nil is not media")
	}
}

func TestKnownDuration(t *testing.T) {
	if _, ok := knownDuration(math.NaN()); ok {
		t.Fatal("NaN is unknown")
	}
	if _, ok := knownDuration(math.Inf(1)); ok {
		t.Fatal("Inf is unknown")
	}
	if d, ok := knownDuration(12.5); !ok || d != 12.5 {
		t.Fatalf("got %v %v", d, ok)
	}
}
