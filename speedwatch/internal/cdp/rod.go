package cdp

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// BindingName is the Runtime binding the bridge reports through.
const BindingName = "__speedwatch_binding"

//go:embed bridge.js
var bridgeJS string

// Bridge returns the page-side script as a function expression.
func Bridge() string { return bridgeJS }

// RodConn is a Conn on a Rod page.
type RodConn struct {
	page *rod.Page
}

// NewRodConn wraps page.
func NewRodConn(page *rod.Page) *RodConn { return &RodConn{page: page} }

// Install registers the binding and arranges for the bridge to run in
// every document the page loads. Call it before the first navigation.
func Install(page *rod.Page) error {
	if err := (proto.RuntimeAddBinding{Name: BindingName}).Call(page); err != nil {
		return fmt.Errorf("cdp: add binding: %w", err)
	}
	if _, err := page.EvalOnNewDocument("(" + bridgeJS + ")()"); err != nil {
		return fmt.Errorf("cdp: install bridge: %w", err)
	}
	return nil
}

// Inject runs the bridge in the current document. The script is
// idempotent: an installed bridge only rescans.
func (c *RodConn) Inject(ctx context.Context) error {
	if _, err := c.page.Context(ctx).Eval(bridgeJS); err != nil {
		return fmt.Errorf("cdp: inject bridge: %w", err)
	}
	return nil
}

// Listen feeds bridge payloads to fn until ctx is done. It blocks.
func (c *RodConn) Listen(ctx context.Context, fn func(payload string)) {
	c.page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != BindingName {
			return
		}
		fn(e.Payload)
	})()
}

func (c *RodConn) Apply(ctx context.Context, id, prop string, value any) error {
	_, err := c.page.Context(ctx).Eval(
		`(id, prop, value) => !!(window.__speedwatch && window.__speedwatch.apply(id, prop, value))`,
		id, prop, value)
	if err != nil {
		return fmt.Errorf("cdp: apply %s: %w", prop, err)
	}
	return nil
}

func (c *RodConn) InterceptKeys(ctx context.Context, codes []int) error {
	if codes == nil {
		codes = []int{}
	}
	_, err := c.page.Context(ctx).Eval(
		`(codes) => { if (window.__speedwatch) window.__speedwatch.keys(codes); }`, codes)
	if err != nil {
		return fmt.Errorf("cdp: intercept keys: %w", err)
	}
	return nil
}
