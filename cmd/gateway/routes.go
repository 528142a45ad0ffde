package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hubenschmidt/voice-session-gateway/internal/alerts"
	"github.com/hubenschmidt/voice-session-gateway/internal/health"
	"github.com/hubenschmidt/voice-session-gateway/internal/metrics"
	"github.com/hubenschmidt/voice-session-gateway/internal/trace"
)

// defaultTraceSessionLimit is how many trace sessions are returned when the
// caller omits the ?limit= query parameter.
const defaultTraceSessionLimit = 20

type deps struct {
	wsHandler  http.Handler
	metrics    *metrics.Aggregator
	probe      *health.Probe
	alerts     *alerts.Evaluator
	traceStore *trace.Store
}

// registerRoutes wires all HTTP endpoints to the shared mux.
func registerRoutes(mux *http.ServeMux, d deps) {
	mux.Handle("/ws/session", d.wsHandler)
	mux.HandleFunc("GET /healthz", d.handleHealth)
	mux.HandleFunc("GET /metrics", d.handleMetrics)
	mux.Handle("GET /metrics/prometheus", promhttp.Handler())
	mux.HandleFunc("GET /alerts", d.handleAlerts)
	registerTraceRoutes(mux, d.traceStore)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "error", err)
	}
}

func (d deps) handleHealth(w http.ResponseWriter, r *http.Request) {
	statuses := d.probe.Check(r.Context())
	status := http.StatusOK
	state := "ok"
	if !health.AllHealthy(statuses) {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": state, "dependencies": statuses})
}

func (d deps) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d.metrics.Snapshot())
}

func (d deps) handleAlerts(w http.ResponseWriter, r *http.Request) {
	active := d.alerts.Evaluate(d.metrics.Snapshot(), d.probe.Check(r.Context()))
	if active == nil {
		active = []alerts.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": active})
}

func registerTraceRoutes(mux *http.ServeMux, store *trace.Store) {
	mux.HandleFunc("GET /api/traces/sessions", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "tracing disabled", http.StatusNotFound)
			return
		}
		limit := queryInt(r, "limit", defaultTraceSessionLimit)
		offset := queryInt(r, "offset", 0)
		sessions, total, err := store.ListSessions(r.Context(), limit, offset)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "total": total})
	})

	mux.HandleFunc("GET /api/traces/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "tracing disabled", http.StatusNotFound)
			return
		}
		sess, runs, err := store.GetSession(r.Context(), r.PathValue("id"))
		if err != nil {
			traceLookupFailed(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"session": sess, "runs": runs})
	})

	mux.HandleFunc("GET /api/traces/sessions/{id}/runs/{runId}", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "tracing disabled", http.StatusNotFound)
			return
		}
		run, spans, err := store.GetRun(r.Context(), r.PathValue("id"), r.PathValue("runId"))
		if err != nil {
			traceLookupFailed(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"run": run, "spans": spans})
	})
}

func traceLookupFailed(w http.ResponseWriter, err error) {
	if errors.Is(err, trace.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
