package overlay

import (
	"fmt"
	"strconv"

	"github.com/hazyhaar/vscd/speedwatch/dom"
)

// ButtonActions are the actions the default shell exposes, in order.
var ButtonActions = []struct {
	Action, Label string
}{
	{"rewind", "«"},
	{"slower", "−"},
	{"faster", "+"},
	{"advance", "»"},
	{"display", "×"},
}

// DefaultShell builds a draggable speed label followed by a button row.
// Every button carries its action in data-action.
type DefaultShell struct{}

func (DefaultShell) Build(doc dom.Document, wrapper dom.Element, speed string, opts Options) (Handles, error) {
	var h Handles
	box, err := doc.CreateElement("div")
	if err != nil {
		return h, err
	}
	box.SetAttr("id", "controller")
	if opts.Opacity > 0 {
		box.SetAttr("style", "opacity:"+strconv.FormatFloat(opts.Opacity, 'f', -1, 64))
	}

	label, err := doc.CreateElement("span")
	if err != nil {
		return h, err
	}
	label.SetAttr("class", "draggable")
	label.SetAttr("data-action", "drag")
	label.SetText(speed)
	if err := box.Insert(label, nil); err != nil {
		return h, fmt.Errorf("shell: speed label: %w", err)
	}

	row, err := doc.CreateElement("span")
	if err != nil {
		return h, err
	}
	row.SetAttr("id", "controls")
	for _, b := range ButtonActions {
		btn, err := doc.CreateElement("button")
		if err != nil {
			return h, err
		}
		btn.SetAttr("data-action", b.Action)
		if opts.ButtonSize > 0 {
			btn.SetAttr("style", fmt.Sprintf("font-size:%dpx", opts.ButtonSize))
		}
		btn.SetText(b.Label)
		if err := row.Insert(btn, nil); err != nil {
			return h, err
		}
		h.Buttons = append(h.Buttons, btn)
	}
	if err := box.Insert(row, nil); err != nil {
		return h, err
	}
	if err := wrapper.Insert(box, nil); err != nil {
		return h, err
	}
	h.Speed = label
	h.Controller = box
	return h, nil
}
