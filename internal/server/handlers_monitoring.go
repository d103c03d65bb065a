package server

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/ashita-ai/madoguchi/internal/model"
)

const defaultTraceListLimit = 20

// HandleMetrics handles GET /api/monitoring/metrics.
func (h *Handlers) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.metrics.Snapshot())
}

// HandleListTraces handles GET /api/monitoring/traces.
func (h *Handlers) HandleListTraces(w http.ResponseWriter, r *http.Request) {
	limit := defaultTraceListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	traces := h.traces.Recent(limit)
	writeJSON(w, r, http.StatusOK, map[string]any{
		"traces":  traces,
		"count":   len(traces),
		"summary": h.traces.Summary(),
	})
}

// HandleGetTrace handles GET /api/monitoring/traces/{trace_id}.
func (h *Handlers) HandleGetTrace(w http.ResponseWriter, r *http.Request) {
	traceID, err := uuid.Parse(r.PathValue("trace_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "malformed trace id")
		return
	}

	tr, err := h.traces.Get(traceID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, tr)
}

// HandleDashboard handles GET /api/monitoring/dashboard: the combined
// operational view the review UI polls.
func (h *Handlers) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.registry.Stats(r.Context())
	if err != nil {
		h.logger.Error("escalation stats failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"metrics":     h.metrics.Snapshot(),
		"traces":      h.traces.Summary(),
		"escalations": stats,
	})
}
