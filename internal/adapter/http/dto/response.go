package dto

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/ledgerbridge/internal/domain"
)

// AccountResponse identifies an account in one ledger.
type AccountResponse struct {
	Ledger    string `json:"ledger"`
	AccountID string `json:"accountId"`
}

// LegResponse is the outcome of one saga leg.
type LegResponse struct {
	Leg         string    `json:"leg"`
	Status      string    `json:"status"`
	ExternalRef string    `json:"externalRef,omitempty"`
	ErrorCode   string    `json:"errorCode,omitempty"`
	Error       string    `json:"error,omitempty"`
	Attempts    int       `json:"attempts"`
	Timestamp   time.Time `json:"timestamp"`
}

// TransferResponse represents a transfer record in API responses. ErrorCode
// and Message describe why a transfer did not complete.
type TransferResponse struct {
	TransferID    string          `json:"transferId"`
	RequestID     string          `json:"requestId"`
	State         string          `json:"state"`
	Identity      string          `json:"identity"`
	SourceAccount AccountResponse `json:"sourceAccount"`
	DestAccount   AccountResponse `json:"destAccount"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Memo          string          `json:"memo,omitempty"`
	LegOutcomes   []LegResponse   `json:"legOutcomes"`
	NeedsReview   bool            `json:"needsReview"`
	ReviewReason  string          `json:"reviewReason,omitempty"`
	ErrorCode     string          `json:"errorCode,omitempty"`
	Message       string          `json:"message,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// TransferFromDomain converts a record, and the outcome reported with it, to
// a response.
func TransferFromDomain(r *domain.TransferRecord, outcome error) *TransferResponse {
	resp := &TransferResponse{
		TransferID:    r.ID,
		RequestID:     r.RequestID,
		State:         string(r.State),
		Identity:      r.OwnerIdentity,
		SourceAccount: AccountResponse{Ledger: string(r.SourceAccount.Ledger), AccountID: r.SourceAccount.ExternalID},
		DestAccount:   AccountResponse{Ledger: string(r.DestAccount.Ledger), AccountID: r.DestAccount.ExternalID},
		Amount:        r.Amount.Amount,
		Currency:      r.Amount.Currency,
		Memo:          r.Memo,
		LegOutcomes:   []LegResponse{},
		NeedsReview:   r.NeedsReview,
		ReviewReason:  r.ReviewReason,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}

	for _, leg := range []*domain.LegOutcome{r.Debit, r.Credit, r.Compensation} {
		if leg == nil {
			continue
		}
		resp.LegOutcomes = append(resp.LegOutcomes, LegResponse{
			Leg:         string(leg.Leg),
			Status:      string(leg.Status),
			ExternalRef: leg.ExternalRef,
			ErrorCode:   string(leg.ErrorCode),
			Error:       leg.Error,
			Attempts:    leg.Attempts,
			Timestamp:   leg.At,
		})
	}

	if outcome != nil {
		resp.ErrorCode = string(domain.CodeOf(outcome))
		resp.Message = outcome.Error()
	}

	return resp
}

// TransfersFromDomain converts records to responses.
func TransfersFromDomain(records []*domain.TransferRecord) []*TransferResponse {
	result := make([]*TransferResponse, len(records))
	for i, r := range records {
		result[i] = TransferFromDomain(r, nil)
	}
	return result
}

// TransitionResponse is one entry of a transfer's state history.
type TransitionResponse struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
}

// TransferDetailResponse is a transfer with its state history.
type TransferDetailResponse struct {
	TransferResponse
	History []TransitionResponse `json:"history"`
}

// TransferDetailFromDomain converts a record and its history to a response.
func TransferDetailFromDomain(r *domain.TransferRecord, history []domain.StateTransition) *TransferDetailResponse {
	resp := &TransferDetailResponse{
		TransferResponse: *TransferFromDomain(r, nil),
		History:          make([]TransitionResponse, len(history)),
	}
	for i, t := range history {
		resp.History[i] = TransitionResponse{From: string(t.From), To: string(t.To), At: t.At}
	}
	return resp
}

// ReviewListResponse is a page of transfers awaiting manual review.
type ReviewListResponse struct {
	Transfers []*TransferResponse `json:"transfers"`
	Limit     int                 `json:"limit"`
	Offset    int                 `json:"offset"`
}

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	Available string `json:"available,omitempty"`
	Required  string `json:"required,omitempty"`
}

// ErrorFromDomain builds an error body from err. Internal errors keep their
// details out of the response.
func ErrorFromDomain(err error) ErrorResponse {
	code := domain.CodeOf(err)
	resp := ErrorResponse{Error: string(code), Message: err.Error()}
	if code == domain.CodeInternal {
		resp.Message = "internal error"
	}

	var insufficient *domain.InsufficientFundsError
	if errors.As(err, &insufficient) {
		resp.Available = insufficient.Available.String()
		resp.Required = insufficient.Required.String()
	}

	return resp
}
