package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/onnwee/botwatch/monitor"
)

// SnapshotSource reports the monitor's latest state.
type SnapshotSource interface {
	Snapshot() monitor.Snapshot
}

// ResultReader lists persisted cycle results, newest first.
type ResultReader interface {
	Recent(ctx context.Context, limit int) ([]monitor.CycleResult, error)
}

// Handlers holds the dependencies of the HTTP routes.
type Handlers struct {
	Monitor SnapshotSource
	Results ResultReader
	// BreakerState returns the platform circuit breaker state; nil means no breaker.
	BreakerState func() string
	Platform     string
	ChannelID    string
	LogPath      string
}

const maxResultsLimit = 500

// HandleHealthz responds to liveness probes. The process is live as long as it serves.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports not_ready while the platform circuit breaker is open.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	if h.BreakerState != nil && h.BreakerState() == gobreaker.StateOpen.String() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":       "not_ready",
			"failed_check": "circuit_breaker",
			"error":        "circuit breaker open",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HandleStatus returns the latest monitor snapshot plus static configuration.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"platform":  h.Platform,
		"channelId": h.ChannelID,
		"logPath":   h.LogPath,
	}
	if h.Monitor != nil {
		resp["monitor"] = h.Monitor.Snapshot()
	}
	if h.BreakerState != nil {
		resp["circuitState"] = h.BreakerState()
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleResults lists recent cycle results. ?limit=N caps the count.
func (h *Handlers) HandleResults(w http.ResponseWriter, r *http.Request) {
	if h.Results == nil {
		http.Error(w, "results not available", http.StatusNotFound)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxResultsLimit)
	}
	results, err := h.Results.Recent(r.Context(), limit)
	if err != nil {
		slog.Error("list results failed", slog.Any("err", err), slog.String("component", "http"))
		http.Error(w, "failed to read results", http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []monitor.CycleResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", slog.Any("err", err))
	}
}
