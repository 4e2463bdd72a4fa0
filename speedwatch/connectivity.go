package speedwatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hazyhaar/vscd/connectivity"
	"github.com/hazyhaar/vscd/kit"
)

// RegisterConnectivity registers speedwatch services in the connectivity router.
// Services: speedwatch_open, speedwatch_close, speedwatch_controllers, speedwatch_action.
func (w *Watcher) RegisterConnectivity(router *connectivity.Router) {
	router.RegisterLocal("speedwatch_open", w.handleOpen)
	router.RegisterLocal("speedwatch_close", w.handleClose)
	router.RegisterLocal("speedwatch_controllers", w.handleControllersCall)
	router.RegisterLocal("speedwatch_action", w.handleActionCall)
}

// call decodes payload into req, runs the audited command and encodes
// its result.
func (w *Watcher) call(ctx context.Context, service string, payload []byte, req any, ep kit.Endpoint) ([]byte, error) {
	if err := json.Unmarshal(payload, req); err != nil {
		return nil, fmt.Errorf("%s: unmarshal: %w", service, err)
	}
	ctx = kit.WithTransport(ctx, "connectivity")
	resp, err := w.command(service, ep)(ctx, req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(resp)
}

// handleOpen opens a page in the browser.
// Payload: {"page_id": "...", "url": "..."}
func (w *Watcher) handleOpen(ctx context.Context, payload []byte) ([]byte, error) {
	var req openReq
	ep := func(ctx context.Context, r any) (any, error) {
		if req.PageID == "" || req.URL == "" {
			return nil, errors.New("speedwatch_open: page_id and url required")
		}
		return w.openEndpoint(ctx, r)
	}
	return w.call(ctx, "speedwatch_open", payload, &req, ep)
}

// handleClose stops a page.
// Payload: {"page_id": "..."}
func (w *Watcher) handleClose(ctx context.Context, payload []byte) ([]byte, error) {
	return w.call(ctx, "speedwatch_close", payload, &closeReq{}, w.closeEndpoint)
}

// handleControllersCall lists a page's controllers. Not audited.
// Payload: {"page_id": "..."}
func (w *Watcher) handleControllersCall(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		PageID string `json:"page_id"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("speedwatch_controllers: unmarshal: %w", err)
	}
	ctrls, err := w.Controllers(ctx, req.PageID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ctrls)
}

// handleActionCall runs an action on a page.
// Payload: {"page_id": "...", "action": "faster", "value": 0.1}
func (w *Watcher) handleActionCall(ctx context.Context, payload []byte) ([]byte, error) {
	return w.call(ctx, "speedwatch_action", payload, &actionReq{}, w.actionEndpoint)
}
