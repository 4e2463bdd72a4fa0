package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/vscd/audit"
	"github.com/hazyhaar/vscd/connectivity"
)

// callService exposes the connectivity router over HTTP: the body is the
// service payload and the response is the handler's output.
func callService(w http.ResponseWriter, r *http.Request, router *connectivity.Router) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	out, err := router.Call(r.Context(), chi.URLParam(r, "service"), payload)
	if err != nil {
		var nf *connectivity.ErrServiceNotFound
		if errors.As(err, &nf) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(out)
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// listAudit returns the latest audited commands. ?limit= caps the count.
func listAudit(w http.ResponseWriter, r *http.Request, al *audit.SQLiteLogger) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := al.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

const auditRetention = 30 * 24 * time.Hour

// pruneAudit drops audit entries past auditRetention once a day until ctx ends.
func pruneAudit(ctx context.Context, al *audit.SQLiteLogger, logger *slog.Logger) {
	t := time.NewTicker(24 * time.Hour)
	defer t.Stop()
	for {
		if n, err := al.Cleanup(ctx, auditRetention); err != nil {
			if ctx.Err() == nil {
				logger.Warn("speedwatch: audit cleanup", "error", err)
			}
		} else if n > 0 {
			logger.Info("speedwatch: audit pruned", "entries", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
