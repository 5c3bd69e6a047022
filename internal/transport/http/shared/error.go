// Package shared centralizes the JSON error envelope. Domain errors are
// translated to HTTP exactly once, here; nothing else writes error bodies.
package shared

import (
	"encoding/json"
	"errors"
	"net/http"

	domainerrors "gatehouse/pkg/domain-errors"
)

// ErrorResponse is the uniform envelope returned for every failed request.
type ErrorResponse struct {
	Message string `json:"message"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError translates a domain error into the uniform envelope. Unexpected
// errors render as a generic internal error so internals never leak.
func WriteError(w http.ResponseWriter, err error) {
	var domainErr *domainerrors.Error
	if errors.As(err, &domainErr) && domainErr.Code != domainerrors.CodeInternal {
		WriteJSON(w, CodeToHTTPStatus(domainErr.Code), ErrorResponse{Message: domainErr.Error()})
		return
	}

	WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Message: "something went wrong on our side"})
}

// CodeToHTTPStatus translates domain error codes to HTTP status codes.
func CodeToHTTPStatus(code domainerrors.Code) int {
	switch code {
	case domainerrors.CodeBlockedIP, domainerrors.CodeForbidden:
		return http.StatusForbidden
	case domainerrors.CodeTooManyRequests:
		return http.StatusTooManyRequests
	case domainerrors.CodeMissingCredential,
		domainerrors.CodeMalformedCredential,
		domainerrors.CodeExpiredCredential,
		domainerrors.CodeSessionExpired:
		return http.StatusUnauthorized
	case domainerrors.CodeNotFound:
		return http.StatusNotFound
	case domainerrors.CodeValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
