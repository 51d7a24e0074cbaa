// Package httputil centralizes JSON encoding, request decoding, and the
// translation of domain errors into HTTP responses so handlers stay thin.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jasonw10105-ux/artflow-sub000/pkg/domainerrors"
	"github.com/jasonw10105-ux/artflow-sub000/pkg/validation"
)

// WriteJSON writes a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		// best-effort fallback; don't override status for the caller
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

// WriteError translates transport-agnostic domain errors into HTTP status
// codes and error envelopes.
func WriteError(w http.ResponseWriter, err error) {
	var domainErr *domainerrors.Error
	if errors.As(err, &domainErr) {
		response := map[string]string{
			"error": string(domainErr.Code),
		}
		if domainErr.Message != "" {
			response["error_description"] = domainErr.Message
		}
		WriteJSON(w, StatusForCode(domainErr.Code), response)
		return
	}

	WriteJSON(w, http.StatusInternalServerError, map[string]string{
		"error": string(domainerrors.CodeInternal),
	})
}

// StatusForCode maps domain error codes to HTTP status codes.
func StatusForCode(code domainerrors.Code) int {
	switch code {
	case domainerrors.CodeNotFound, domainerrors.CodeProfileNotFound:
		return http.StatusNotFound
	case domainerrors.CodeBadRequest, domainerrors.CodeValidation, domainerrors.CodeCredentialError:
		return http.StatusBadRequest
	case domainerrors.CodeConflict, domainerrors.CodeDuplicateAccount:
		return http.StatusConflict
	case domainerrors.CodeUnauthorized, domainerrors.CodeInvalidCredentials, domainerrors.CodeNotAuthenticated:
		return http.StatusUnauthorized
	case domainerrors.CodeAuthService:
		return http.StatusBadGateway
	case domainerrors.CodeProfilePersist, domainerrors.CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Decode parses and validates a JSON request body. On failure it writes the
// error response and returns ok=false; the handler should just return.
func Decode[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var req T
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid request body"))
		return req, false
	}
	if err := validation.Validate(req); err != nil {
		WriteError(w, err)
		return req, false
	}
	return req, true
}
