package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/haasonsaas/crucial/internal/canvas"
)

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// statusFor maps an engine error kind to its HTTP status.
func statusFor(kind canvas.Kind) int {
	switch kind {
	case canvas.KindNotFound:
		return http.StatusNotFound
	case canvas.KindValidationFailed:
		return http.StatusBadRequest
	case canvas.KindDuplicateIdentifier:
		return http.StatusConflict
	case canvas.KindStorageFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := canvas.KindOf(err)
	if kind == "" {
		kind = canvas.KindDispatchFailure
	}
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "kind", kind, "error", err)
	}
	s.metrics.RecordError(r.Pattern, string(kind))
	writeJSON(w, status, errorResponse{Error: string(kind), Detail: canvas.DetailOf(err)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload) //nolint:errcheck
}
