package dto

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/iho/ledgerbridge/internal/domain"
)

// TransferRequest is the body of both transfer endpoints. Amount accepts a
// JSON number or a decimal string.
type TransferRequest struct {
	Identity  string          `json:"identity"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency,omitempty"`
	Memo      string          `json:"memo,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// ToDomain converts the body into a transfer request between source and dest.
// RequestID is copied as sent; callers fill it in when it is empty.
func (r *TransferRequest) ToDomain(source, dest domain.LedgerKind, defaultCurrency string) domain.TransferRequest {
	currency := strings.ToUpper(strings.TrimSpace(r.Currency))
	if currency == "" {
		currency = defaultCurrency
	}

	return domain.TransferRequest{
		RequestID:     strings.TrimSpace(r.RequestID),
		OwnerIdentity: r.Identity,
		SourceLedger:  source,
		DestLedger:    dest,
		Amount:        domain.NewMoney(r.Amount, currency),
		Memo:          r.Memo,
	}
}
