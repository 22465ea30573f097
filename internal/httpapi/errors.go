package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"imaged/internal/manager"
	"imaged/internal/weights"
	"imaged/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case manager.IsBadRequest(err):
		return http.StatusBadRequest
	case manager.IsModelNotFound(err):
		return http.StatusNotFound
	case manager.IsCompatibility(err), weights.IsIncompatibleFormat(err), weights.IsTransferError(err):
		return http.StatusUnprocessableEntity
	case manager.IsTooBusy(err):
		return http.StatusTooManyRequests
	case manager.IsResourceExhausted(err), manager.IsDependencyUnavailable(err):
		return http.StatusServiceUnavailable
	}
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}
