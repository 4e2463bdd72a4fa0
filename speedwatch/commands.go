package speedwatch

import (
	"context"

	"github.com/hazyhaar/vscd/speedwatch/internal/config"
	"github.com/hazyhaar/vscd/speedwatch/internal/speed"
)

// Remote commands shared by the HTTP, MCP and connectivity surfaces.
// Each one goes through Watcher.command so that it is audited.

type actionReq struct {
	PageID string  `json:"page_id"`
	Action string  `json:"action"`
	Value  float64 `json:"value"`
}

func (w *Watcher) actionEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*actionReq)
	return w.RunAction(ctx, r.PageID, r.Action, r.Value)
}

type messageReq struct {
	PageID  string        `json:"page_id"`
	Message speed.Message `json:"message"`
}

func (w *Watcher) messageEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*messageReq)
	return w.SendMessage(ctx, r.PageID, r.Message)
}

type openReq struct {
	PageID string `json:"page_id"`
	URL    string `json:"url"`
}

func (w *Watcher) openEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*openReq)
	if err := w.OpenPage(ctx, config.PageConfig{ID: r.PageID, URL: r.URL}); err != nil {
		return nil, err
	}
	return map[string]string{"status": "open", "page_id": r.PageID}, nil
}

type closeReq struct {
	PageID string `json:"page_id"`
}

func (w *Watcher) closeEndpoint(_ context.Context, req any) (any, error) {
	r := req.(*closeReq)
	if err := w.ClosePage(r.PageID); err != nil {
		return nil, err
	}
	return map[string]string{"status": "closed", "page_id": r.PageID}, nil
}
