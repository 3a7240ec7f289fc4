package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/devmartsuriname/agenko-proposals/pkg/domain"
	"github.com/google/uuid"
)

func NewRequestID() string { return "req_" + uuid.NewString() }

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ReadJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func WriteError(w http.ResponseWriter, status int, code, message string, details any) {
	resp := map[string]any{
		"request_id": NewRequestID(),
		"error": map[string]any{
			"code": code, "message": message, "details": details,
		},
	}
	WriteJSON(w, status, resp)
}

// WriteDomainError maps the access-control failure taxonomy onto HTTP.
// AccessDenied is a generic 404 so an unauthorized caller cannot tell a bad
// token from a bad proposal id, or either from a proposal that does not
// exist. Anything outside the taxonomy is an opaque internal error.
func WriteDomainError(w http.ResponseWriter, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		WriteError(w, http.StatusBadRequest, "VALIDATION", ve.Error(), map[string]any{"field": ve.Field})
	case errors.Is(err, domain.ErrAccessDenied):
		WriteError(w, http.StatusNotFound, "ACCESS_DENIED", "proposal not found", nil)
	case errors.Is(err, domain.ErrExpired):
		WriteError(w, http.StatusGone, "EXPIRED", "proposal has expired", nil)
	case errors.Is(err, domain.ErrAlreadyResolved):
		WriteError(w, http.StatusConflict, "ALREADY_RESOLVED", "proposal already resolved", nil)
	case errors.Is(err, domain.ErrNotFound):
		// Store-level miss on an authenticated admin read.
		WriteError(w, http.StatusNotFound, "NOT_FOUND", "not found", nil)
	default:
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
