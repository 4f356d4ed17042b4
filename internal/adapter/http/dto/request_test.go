package dto

import (
	"encoding/json"
	"testing"

	"github.com/iho/ledgerbridge/internal/domain"
)

func TestTransferRequest_ToDomain(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantAmount   string
		wantCurrency string
		wantID       string
	}{
		{
			name:         "number amount uses default currency",
			body:         `{"identity":"ada@example.com","amount":200,"memo":"fund"}`,
			wantAmount:   "200.00 USD",
			wantCurrency: "USD",
		},
		{
			name:         "string amount with explicit currency",
			body:         `{"identity":"ada@example.com","amount":"12.5","currency":" eur ","requestId":" 3f2a9c1e-8b7d-4e6f-9a5b-1c2d3e4f5a6b "}`,
			wantAmount:   "12.50 EUR",
			wantCurrency: "EUR",
			wantID:       "3f2a9c1e-8b7d-4e6f-9a5b-1c2d3e4f5a6b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req TransferRequest
			if err := json.Unmarshal([]byte(tt.body), &req); err != nil {
				t.Fatalf("decode: %v", err)
			}

			got := req.ToDomain(domain.LedgerBank, domain.LedgerBrokerage, "USD")
			if got.Amount.String() != tt.wantAmount || got.Amount.Currency != tt.wantCurrency {
				t.Fatalf("unexpected amount %s", got.Amount)
			}
			if got.RequestID != tt.wantID {
				t.Fatalf("expected request id %q, got %q", tt.wantID, got.RequestID)
			}
			if got.SourceLedger != domain.LedgerBank || got.DestLedger != domain.LedgerBrokerage {
				t.Fatalf("unexpected ledgers %s -> %s", got.SourceLedger, got.DestLedger)
			}
			if got.OwnerIdentity != "ada@example.com" {
				t.Fatalf("unexpected identity %q", got.OwnerIdentity)
			}
		})
	}
}

func TestTransferRequest_RejectsMalformedAmount(t *testing.T) {
	var req TransferRequest
	if err := json.Unmarshal([]byte(`{"identity":"ada@example.com","amount":"abc"}`), &req); err == nil {
		t.Fatal("expected decode error for non-numeric amount")
	}
}
