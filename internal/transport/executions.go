package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/calliope-ai/calliope/internal/domain"
)

type executionView struct {
	Execution *domain.Execution     `json:"execution"`
	Steps     []*domain.StepResult  `json:"steps"`
}

// GetExecution returns an execution with its step results.
func (h *Handler) GetExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "executionID")
	ex, err := h.store.GetExecution(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if ex.UserID != "" && userID(r) != "" && ex.UserID != userID(r) {
		writeError(w, domain.ErrNotFound("execution "+id+" not found"))
		return
	}

	steps, err := h.store.ListStepResults(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, executionView{Execution: ex, Steps: steps})
}

// ListExecutionEvents returns the append-only event log for an execution.
func (h *Handler) ListExecutionEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "executionID")
	ex, err := h.store.GetExecution(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if ex.UserID != "" && userID(r) != "" && ex.UserID != userID(r) {
		writeError(w, domain.ErrNotFound("execution "+id+" not found"))
		return
	}

	events, err := h.store.ListEvents(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
