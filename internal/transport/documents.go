package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/calliope-ai/calliope/internal/docjob"
	"github.com/calliope-ai/calliope/internal/domain"
)

// InitiateUpload starts a document upload: admission control plus presigned
// upload instructions.
func (h *Handler) InitiateUpload(w http.ResponseWriter, r *http.Request) {
	var req docjob.InitiateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.UserID = userID(r)

	resp, err := h.documents.Initiate(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

type confirmRequest struct {
	JobID string `json:"jobId"`
}

// ConfirmUpload finalizes an upload and queues the job for processing.
func (h *Handler) ConfirmUpload(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.JobID == "" {
		writeError(w, domain.ErrValidation("jobId is required"))
		return
	}

	job, err := h.documents.Confirm(r.Context(), userID(r), req.JobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// DocumentJobStatus reads a document job, terminal or not.
func (h *Handler) DocumentJobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := h.documents.Status(r.Context(), userID(r), chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// DocumentJobResult returns a completed job's result, inline or as a
// presigned download.
func (h *Handler) DocumentJobResult(w http.ResponseWriter, r *http.Request) {
	view, err := h.documents.Result(r.Context(), userID(r), chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// CancelDocumentJob cancels a non-terminal document job.
func (h *Handler) CancelDocumentJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.documents.Cancel(r.Context(), userID(r), chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
