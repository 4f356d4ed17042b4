package domain

import "time"

// Event types
const (
	EventTypeTransferCompleted   = "transfer.completed"
	EventTypeTransferCompensated = "transfer.compensated"
	EventTypeTransferDebitFailed = "transfer.debit_failed"
	EventTypeTransferNeedsReview = "transfer.needs_review"
)

// AggregateTypeTransfer is the outbox aggregate type of transfer events.
const AggregateTypeTransfer = "transfer"

// OutboxEvent represents an event to be published
type OutboxEvent struct {
	ID            string
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       map[string]any
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Published     bool
}

// TerminalEventType returns the event emitted when a record reaches its
// current terminal state, or "" if the record is not terminal.
func TerminalEventType(r *TransferRecord) string {
	if r.NeedsReview {
		return EventTypeTransferNeedsReview
	}
	switch r.State {
	case StateCompleted:
		return EventTypeTransferCompleted
	case StateCompensated:
		return EventTypeTransferCompensated
	case StateSourceDebitFailed:
		return EventTypeTransferDebitFailed
	case StateCompensationFailed:
		return EventTypeTransferNeedsReview
	}
	return ""
}

// TransferEventPayload builds the outbox payload for a terminal record.
func TransferEventPayload(r *TransferRecord) map[string]any {
	payload := map[string]any{
		"transfer_id":    r.ID,
		"request_id":     r.RequestID,
		"state":          string(r.State),
		"owner_identity": r.OwnerIdentity,
		"source_ledger":  string(r.SourceLedger()),
		"dest_ledger":    string(r.DestLedger()),
		"amount":         r.Amount.Amount.StringFixed(2),
		"currency":       r.Amount.Currency,
		"needs_review":   r.NeedsReview,
	}
	if r.ReviewReason != "" {
		payload["review_reason"] = r.ReviewReason
	}
	return payload
}
