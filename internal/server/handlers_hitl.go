package server

import (
	"net/http"

	"github.com/ashita-ai/madoguchi/internal/model"
)

// HandleListPending handles GET /api/hitl/pending.
func (h *Handlers) HandleListPending(w http.ResponseWriter, r *http.Request) {
	pending, err := h.registry.ListPending(r.Context())
	if err != nil {
		h.logger.Error("pending escalations lookup failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
		return
	}
	if pending == nil {
		pending = []model.EscalationRecord{}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"escalations": pending,
		"count":       len(pending),
	})
}

// HandleGetEscalation handles GET /api/hitl/escalations/{id}.
func (h *Handlers) HandleGetEscalation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

// HandleApprove handles POST /api/hitl/escalations/{id}/approve.
// The reviewer confirms the AI response (possibly restated) as the final
// answer.
func (h *Handlers) HandleApprove(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, model.StatusApproved)
}

// HandleReject handles POST /api/hitl/escalations/{id}/reject.
// The reviewer discards the AI response and supplies their own.
func (h *Handlers) HandleReject(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, model.StatusRejected)
}

func (h *Handlers) review(w http.ResponseWriter, r *http.Request, status model.EscalationStatus) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "no claims in context")
		return
	}

	var req model.ReviewRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeDomainError(w, r, err)
		return
	}

	id := r.PathValue("id")
	if err := h.registry.Review(r.Context(), id, req.Response, claims.Username, status, req.Notes); err != nil {
		writeDomainError(w, r, err)
		return
	}

	rec, err := h.registry.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

// HandleEdit handles POST /api/hitl/escalations/{id}/edit.
// The reviewer rewrites the AI response; the stated reason is kept as notes.
func (h *Handlers) HandleEdit(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "no claims in context")
		return
	}

	var req model.EditRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeDomainError(w, r, err)
		return
	}

	id := r.PathValue("id")
	reason := req.Reason
	if err := h.registry.Review(r.Context(), id, req.EditedResponse, claims.Username, model.StatusEdited, &reason); err != nil {
		writeDomainError(w, r, err)
		return
	}

	rec, err := h.registry.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

// HandleResolve handles POST /api/hitl/escalations/{id}/resolve.
func (h *Handlers) HandleResolve(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "no claims in context")
		return
	}

	var req model.ResolveRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeDomainError(w, r, err)
		return
	}

	id := r.PathValue("id")
	if err := h.registry.Resolve(r.Context(), id, req.Response, claims.Username, req.Notes); err != nil {
		writeDomainError(w, r, err)
		return
	}

	rec, err := h.registry.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

// HandleHITLStats handles GET /api/hitl/stats.
func (h *Handlers) HandleHITLStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.registry.Stats(r.Context())
	if err != nil {
		h.logger.Error("escalation stats failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}
