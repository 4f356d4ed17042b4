package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/iho/ledgerbridge/internal/adapter/http/dto"
	"github.com/iho/ledgerbridge/internal/domain"
)

func TestParseIntQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/transfers/review?limit=50", nil)
	if got := parseIntQuery(req, "limit", 10); got != 50 {
		t.Fatalf("expected limit=50, got %d", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/transfers/review?limit=invalid", nil)
	if got := parseIntQuery(req, "limit", 10); got != 10 {
		t.Fatalf("expected fallback to default, got %d", got)
	}

	req.URL = &url.URL{RawQuery: ""}
	if got := parseIntQuery(req, "limit", 25); got != 25 {
		t.Fatalf("expected default when missing, got %d", got)
	}
}

func TestMapDomainError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"validation", domain.NewValidationError("amount", "must be positive"), http.StatusBadRequest},
		{"identity not found", domain.ErrIdentityNotFound, http.StatusNotFound},
		{"transfer not found", domain.ErrTransferNotFound, http.StatusNotFound},
		{"insufficient funds", &domain.InsufficientFundsError{}, http.StatusConflict},
		{"account busy", domain.ErrLockNotAcquired, http.StatusConflict},
		{"request id reuse", domain.ErrRequestIDConflict, http.StatusUnprocessableEntity},
		{"ledger unavailable", domain.ErrLedgerUnavailable, http.StatusBadGateway},
		{"ledger rejected", domain.ErrLedgerRejected, http.StatusBadGateway},
		{"timeout", domain.ErrTimeout, http.StatusBadGateway},
		{"outcome unknown", domain.ErrOutcomeUnknown, http.StatusAccepted},
		{
			"compensation failed wins over its cause",
			&domain.LegError{Leg: domain.LegCompensation, Err: fmt.Errorf("%w: %w", domain.ErrCompensationFailed, domain.ErrLedgerUnavailable)},
			http.StatusMultiStatus,
		},
		{"debit leg failure", &domain.LegError{Leg: domain.LegDebit, Err: domain.ErrorFromCode(domain.CodeInsufficientFunds, "no funds")}, http.StatusConflict},
		{"unknown error", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := mapDomainError(tt.err); got != tt.expected {
				t.Fatalf("expected %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestTransferStatus(t *testing.T) {
	rec := &domain.TransferRecord{State: domain.StateCompleted}
	if got := transferStatus(rec, nil); got != http.StatusOK {
		t.Fatalf("completed: expected 200, got %d", got)
	}

	rec.State = domain.StateCompensated
	if got := transferStatus(rec, nil); got != http.StatusMultiStatus {
		t.Fatalf("compensated: expected 207, got %d", got)
	}

	rec.State = domain.StateSourceDebiting
	if got := transferStatus(rec, domain.ErrOutcomeUnknown); got != http.StatusAccepted {
		t.Fatalf("parked: expected 202, got %d", got)
	}

	rec.State = domain.StateSourceDebitFailed
	if got := transferStatus(rec, &domain.LegError{Err: domain.ErrLedgerUnavailable}); got != http.StatusBadGateway {
		t.Fatalf("debit failed: expected 502, got %d", got)
	}
}

func TestWriteJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	payload := map[string]string{"status": "ok"}

	writeJSON(rr, http.StatusCreated, payload)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rr.Code)
	}

	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected content-type application/json, got %s", ct)
	}

	var decoded map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if decoded["status"] != "ok" {
		t.Fatalf("expected payload to round-trip, got %+v", decoded)
	}
}

func TestWriteError(t *testing.T) {
	rr := httptest.NewRecorder()

	writeError(rr, http.StatusBadRequest, "VALIDATION_ERROR", "detail")

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	var resp dto.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}

	if resp.Error != "VALIDATION_ERROR" || resp.Message != "detail" {
		t.Fatalf("expected error to propagate, got %+v", resp)
	}
}
