package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/iho/ledgerbridge/internal/adapter/http/dto"
	"github.com/iho/ledgerbridge/internal/domain"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, dto.ErrorResponse{
		Error:   code,
		Message: details,
	})
}

// writeDomainError writes err with the status it maps to.
func writeDomainError(w http.ResponseWriter, err error) {
	writeJSON(w, mapDomainError(err), dto.ErrorFromDomain(err))
}

// mapDomainError maps domain errors to HTTP status codes.
func mapDomainError(err error) int {
	switch {
	case errors.Is(err, domain.ErrCompensationFailed):
		return http.StatusMultiStatus
	case errors.Is(err, domain.ErrOutcomeUnknown):
		return http.StatusAccepted
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrIdentityNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrTransferNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusConflict
	case errors.Is(err, domain.ErrLockNotAcquired):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRequestIDConflict):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrTimeout), errors.Is(err, domain.ErrLedgerUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrLedgerRejected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// transferStatus is the status of a response that carries a record.
func transferStatus(record *domain.TransferRecord, outcome error) int {
	switch {
	case errors.Is(outcome, domain.ErrOutcomeUnknown):
		return http.StatusAccepted
	case record.State == domain.StateCompensated, record.State == domain.StateCompensationFailed:
		return http.StatusMultiStatus
	case outcome == nil:
		return http.StatusOK
	default:
		return mapDomainError(outcome)
	}
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultValue int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return i
}
