// Package transport implements the HTTP surface: SSE push streaming for
// chain executions, the adaptive-polling job protocol, dual-model compare
// streams, document upload routes, and execution history reads.
package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/calliope-ai/calliope/internal/domain"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

func writeError(w http.ResponseWriter, err error) {
	ce := domain.AsCoreError(err)
	writeJSON(w, ce.HTTPStatusCode(), errorBody{
		Error: errorDetail{
			Type:    string(ce.Type),
			Code:    string(ce.Code),
			Message: ce.Message,
		},
	})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.ErrValidation("invalid request body: " + err.Error())
	}
	return nil
}

// userID extracts the caller identity. An empty value is allowed; ownership
// checks then degrade to id-only lookups.
func userID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}
