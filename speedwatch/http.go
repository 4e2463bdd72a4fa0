package speedwatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/vscd/speedwatch/internal/speed"
)

// ActionRequest is the body of POST /pages/{id}/actions.
type ActionRequest struct {
	Action string  `json:"action"`
	Value  float64 `json:"value"`
}

// RegisterHTTP mounts the control routes on r.
//
//	GET  /healthz
//	GET  /pages
//	GET  /pages/{id}/controllers
//	POST /pages/{id}/actions   {"action":"faster","value":0.1}
//	POST /pages/{id}/messages  {"type":"VSC_SET_SPEED","payload":{"speed":1.5}}
func (w *Watcher) RegisterHTTP(r chi.Router) {
	r.Get("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		writeJSON(rw, http.StatusOK, map[string]any{"status": "ok", "pages": len(w.Pages())})
	})
	r.Get("/pages", func(rw http.ResponseWriter, _ *http.Request) {
		writeJSON(rw, http.StatusOK, w.Pages())
	})
	r.Route("/pages/{id}", func(r chi.Router) {
		r.Get("/controllers", w.handleControllers)
		r.Post("/actions", w.handleAction)
		r.Post("/messages", w.handleMessage)
	})
}

func (w *Watcher) handleControllers(rw http.ResponseWriter, r *http.Request) {
	ctrls, err := w.Controllers(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(rw, statusOf(err), err)
		return
	}
	writeJSON(rw, http.StatusOK, ctrls)
}

func (w *Watcher) handleAction(rw http.ResponseWriter, r *http.Request) {
	var body ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	req := &actionReq{PageID: chi.URLParam(r, "id"), Action: body.Action, Value: body.Value}
	ctrls, err := w.command("speedwatch_action", w.actionEndpoint)(r.Context(), req)
	if err != nil {
		writeError(rw, statusOf(err), err)
		return
	}
	writeJSON(rw, http.StatusOK, ctrls)
}

func (w *Watcher) handleMessage(rw http.ResponseWriter, r *http.Request) {
	var msg speed.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	req := &messageReq{PageID: chi.URLParam(r, "id"), Message: msg}
	handled, err := w.command("speedwatch_message", w.messageEndpoint)(r.Context(), req)
	if err != nil {
		writeError(rw, statusOf(err), err)
		return
	}
	if ok, _ := handled.(bool); !ok {
		writeJSON(rw, http.StatusUnprocessableEntity, map[string]any{"handled": false})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"handled": true})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrPageNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnknownAction):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
