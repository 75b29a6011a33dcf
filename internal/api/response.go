package api

import (
	"encoding/json"
	"net/http"

	"github.com/evicertia/pn-ec/internal/logger"
)

// problem is the body of every non-2xx answer: the status repeated for
// clients that log bodies without headers, a human-readable detail, and the
// correlation ID so the caller can quote it when reporting the failure.
type problem struct {
	Status  int    `json:"status"`
	Detail  string `json:"detail"`
	TraceID string `json:"traceId,omitempty"`
}

// respondJSON writes data with the given status. Nil data writes only the
// status line and Content-Type, for 204-style answers.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondProblem answers a failed request with a problem document carrying
// the request's correlation ID.
func respondProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	respondJSON(w, status, problem{
		Status:  status,
		Detail:  detail,
		TraceID: logger.CorrelationIDFromContext(r.Context()),
	})
}
