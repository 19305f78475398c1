package server

import (
	"log/slog"
	"net/http"

	"github.com/streampulse/collector/telemetry"
)

// HandleRunsList returns recent collection history, newest first.
// Query: channel (optional), limit (default 50).
func (h *Handlers) HandleRunsList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.runs == nil {
		writeError(w, http.StatusNotFound, "run history disabled (DB_DSN not set)")
		return
	}
	runs, err := h.runs.ListRuns(r.Context(), r.URL.Query().Get("channel"), parseIntQuery(r, "limit", 50))
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("list runs failed", slog.Any("err", err), slog.String("component", "http"))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}
