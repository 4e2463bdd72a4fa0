package dom

import "strings"

// Classes returns the element's class list.
func Classes(el Element) []string {
	v, _ := el.Attr("class")
	return strings.Fields(v)
}

// HasClass reports whether el carries class c.
func HasClass(el Element, c string) bool {
	for _, have := range Classes(el) {
		if have == c {
			return true
		}
	}
	return false
}

// AddClass adds c when absent.
func AddClass(el Element, c string) error {
	list := Classes(el)
	for _, have := range list {
		if have == c {
			return nil
		}
	}
	return el.SetAttr("class", strings.Join(append(list, c), " "))
}

// RemoveClass removes every occurrence of c.
func RemoveClass(el Element, c string) error {
	list := Classes(el)
	out := list[:0]
	for _, have := range list {
		if have != c {
			out = append(out, have)
		}
	}
	if len(out) == len(list) {
		return nil
	}
	return el.SetAttr("class", strings.Join(out, " "))
}

// ToggleClass flips c and reports whether it is now present.
func ToggleClass(el Element, c string) (bool, error) {
	if HasClass(el, c) {
		return false, RemoveClass(el, c)
	}
	return true, AddClass(el, c)
}

// SetClass adds or removes c.
func SetClass(el Element, c string, on bool) error {
	if on {
		return AddClass(el, c)
	}
	return RemoveClass(el, c)
}

// NextSibling returns the element after el under its parent node.
func NextSibling(el Element) Element {
	parent := el.ParentNode()
	if parent == nil {
		return nil
	}
	kids := parent.Children()
	for i, k := range kids {
		if k.NodeID() == el.NodeID() && i+1 < len(kids) {
			return kids[i+1]
		}
	}
	return nil
}

// FirstChild returns the first element child of n.
func FirstChild(n Node) Element {
	kids := n.Children()
	if len(kids) == 0 {
		return nil
	}
	return kids[0]
}

// Within reports whether el is ancestor itself or sits under it,
// following shadow hosts across shadow boundaries.
func Within(el, ancestor Element) bool {
	if el == nil || ancestor == nil {
		return false
	}
	want := ancestor.NodeID()
	var cur Node = el
	for cur != nil {
		if cur.NodeID() == want {
			return true
		}
		switch n := cur.(type) {
		case ShadowRoot:
			cur = n.Host()
		case Element:
			cur = n.ParentNode()
		default:
			return false
		}
	}
	return false
}
