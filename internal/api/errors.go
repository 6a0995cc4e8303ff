package api

import (
	"encoding/json"
	"net/http"

	"github.com/hackgods/clinic-appointments/internal/apperr"
	"github.com/hackgods/clinic-appointments/pkg/logging"
)

var (
	errInvalidBody  = apperr.Validation("invalid request body")
	errInvalidID    = apperr.Validation("invalid id")
	errInvalidPage  = apperr.Validation("limit and offset must be non-negative integers")
	errMissingTimes = apperr.Validation("startTime and endTime are required")
)

type ErrorResponse struct {
	Error   string   `json:"error"`
	Code    string   `json:"code"`
	Details []string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError is the single place where domain errors become HTTP responses.
// Unclassified errors are logged and reported without their message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := apperr.As(err)
	if !ok || e.Kind == apperr.KindInternal {
		logging.FromContext(r.Context(), nil).Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "internal server error",
			Code:  apperr.CodeInternal,
		})
		return
	}

	writeJSON(w, e.HTTPStatus(), ErrorResponse{
		Error:   e.Message,
		Code:    e.Code,
		Details: e.Details,
	})
}
