package domain

import (
	"fmt"
	"time"
)

// TransferState is a node of the transfer saga state machine.
type TransferState string

const (
	StateInitiated          TransferState = "INITIATED"
	StateSourceDebiting     TransferState = "SOURCE_DEBITING"
	StateSourceDebited      TransferState = "SOURCE_DEBITED"
	StateSourceDebitFailed  TransferState = "SOURCE_DEBIT_FAILED"
	StateDestCrediting      TransferState = "DEST_CREDITING"
	StateDestCreditFailed   TransferState = "DEST_CREDIT_FAILED"
	StateCompensating       TransferState = "COMPENSATING"
	StateCompleted          TransferState = "COMPLETED"
	StateCompensated        TransferState = "COMPENSATED"
	StateCompensationFailed TransferState = "COMPENSATION_FAILED"
)

var transitions = map[TransferState][]TransferState{
	StateInitiated:        {StateSourceDebiting},
	StateSourceDebiting:   {StateSourceDebited, StateSourceDebitFailed},
	StateSourceDebited:    {StateDestCrediting},
	StateDestCrediting:    {StateCompleted, StateDestCreditFailed},
	StateDestCreditFailed: {StateCompensating},
	StateCompensating:     {StateCompensated, StateCompensationFailed},
}

// IsTerminal reports whether no further transition is possible.
func (s TransferState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateCompensated, StateCompensationFailed, StateSourceDebitFailed:
		return true
	}
	return false
}

// MoneyLeftSource reports whether the source debit is known to have happened.
func (s TransferState) MoneyLeftSource() bool {
	switch s {
	case StateSourceDebited, StateDestCrediting, StateDestCreditFailed, StateCompensating,
		StateCompleted, StateCompensated, StateCompensationFailed:
		return true
	}
	return false
}

// CanTransition reports whether s -> to is an edge of the state machine.
func (s TransferState) CanTransition(to TransferState) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// LegKind names one leg of the saga.
type LegKind string

const (
	LegDebit        LegKind = "DEBIT"
	LegCredit       LegKind = "CREDIT"
	LegCompensation LegKind = "COMPENSATION"
)

// LegStatus is the outcome of one leg.
type LegStatus string

const (
	LegPending   LegStatus = "PENDING"
	LegSucceeded LegStatus = "SUCCEEDED"
	LegFailed    LegStatus = "FAILED"
	// LegUnknown means the ledger could not confirm either way.
	LegUnknown LegStatus = "UNKNOWN"
)

// LegOutcome records what happened on one leg.
type LegOutcome struct {
	Leg         LegKind   `json:"leg"`
	Status      LegStatus `json:"status"`
	ExternalRef string    `json:"externalRef,omitempty"`
	ErrorCode   ErrorCode `json:"errorCode,omitempty"`
	Error       string    `json:"error,omitempty"`
	Attempts    int       `json:"attempts"`
	At          time.Time `json:"at"`
}

// Err rebuilds the stored leg error, if any.
func (l *LegOutcome) Err() error {
	if l == nil {
		return nil
	}
	return ErrorFromCode(l.ErrorCode, l.Error)
}

// TransferRequest is a validated request to move money between ledgers.
type TransferRequest struct {
	RequestID     string
	OwnerIdentity string
	SourceLedger  LedgerKind
	DestLedger    LedgerKind
	Amount        Money
	Memo          string
}

// Validate checks the request before any ledger is contacted.
func (r *TransferRequest) Validate() error {
	if err := ValidateRequestID(r.RequestID); err != nil {
		return err
	}
	if err := ValidateIdentity(r.OwnerIdentity); err != nil {
		return err
	}
	if !r.SourceLedger.Valid() || !r.DestLedger.Valid() {
		return NewValidationError("ledger", "unknown ledger")
	}
	if r.SourceLedger == r.DestLedger {
		return NewValidationError("ledger", "source and destination ledgers must differ")
	}
	if err := ValidateCurrency(r.Amount.Currency); err != nil {
		return err
	}
	if err := ValidateAmount(r.Amount.Amount); err != nil {
		return err
	}
	return ValidateMemo(r.Memo)
}

// StateTransition is one append-only history entry of a record.
type StateTransition struct {
	RequestID string        `json:"requestId"`
	From      TransferState `json:"from"`
	To        TransferState `json:"to"`
	At        time.Time     `json:"at"`
}

// TransferRecord is the persisted aggregate for one transfer attempt.
type TransferRecord struct {
	ID            string
	RequestID     string
	State         TransferState
	OwnerIdentity string
	SourceAccount AccountRef
	DestAccount   AccountRef
	Amount        Money
	Memo          string
	Debit         *LegOutcome
	Credit        *LegOutcome
	Compensation  *LegOutcome
	NeedsReview   bool
	ReviewReason  string
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewTransferRecord admits a request with resolved accounts.
func NewTransferRecord(id string, req TransferRequest, source, dest AccountRef, now time.Time) *TransferRecord {
	return &TransferRecord{
		ID:            id,
		RequestID:     req.RequestID,
		State:         StateInitiated,
		OwnerIdentity: req.OwnerIdentity,
		SourceAccount: source,
		DestAccount:   dest,
		Amount:        req.Amount,
		Memo:          req.Memo,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Transition moves the record along one edge of the state machine.
func (r *TransferRecord) Transition(to TransferState, now time.Time) (StateTransition, error) {
	if r.State.IsTerminal() {
		return StateTransition{}, fmt.Errorf("%w: %s", ErrTransferTerminal, r.State)
	}
	if !r.State.CanTransition(to) {
		return StateTransition{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.State, to)
	}

	tr := StateTransition{RequestID: r.RequestID, From: r.State, To: to, At: now}
	r.State = to
	r.UpdatedAt = now
	if to == StateCompensationFailed {
		r.FlagForReview("compensation failed; source debited without matching credit")
	}

	return tr, nil
}

// FlagForReview marks the record for operator reconciliation.
func (r *TransferRecord) FlagForReview(reason string) {
	r.NeedsReview = true
	if r.ReviewReason == "" {
		r.ReviewReason = reason
		return
	}
	r.ReviewReason += "; " + reason
}

// SetLeg stores the outcome of a leg. A succeeded leg is never overwritten.
func (r *TransferRecord) SetLeg(outcome LegOutcome) error {
	slot := r.legSlot(outcome.Leg)
	if slot == nil {
		return fmt.Errorf("%w: unknown leg %s", ErrInvalidTransition, outcome.Leg)
	}
	if *slot != nil && (*slot).Status == LegSucceeded && outcome.Status != LegSucceeded {
		return fmt.Errorf("%w: %s leg already succeeded", ErrInvalidTransition, outcome.Leg)
	}
	if *slot != nil && (*slot).Status == LegSucceeded && (*slot).ExternalRef != outcome.ExternalRef {
		return fmt.Errorf("%w: second successful %s leg", ErrInvalidTransition, outcome.Leg)
	}
	o := outcome
	*slot = &o
	return nil
}

// Leg returns the stored outcome for a leg, or nil.
func (r *TransferRecord) Leg(kind LegKind) *LegOutcome {
	slot := r.legSlot(kind)
	if slot == nil {
		return nil
	}
	return *slot
}

func (r *TransferRecord) legSlot(kind LegKind) **LegOutcome {
	switch kind {
	case LegDebit:
		return &r.Debit
	case LegCredit:
		return &r.Credit
	case LegCompensation:
		return &r.Compensation
	}
	return nil
}

// SourceLedger returns the ledger the money leaves.
func (r *TransferRecord) SourceLedger() LedgerKind {
	return r.SourceAccount.Ledger
}

// DestLedger returns the ledger the money enters.
func (r *TransferRecord) DestLedger() LedgerKind {
	return r.DestAccount.Ledger
}

// MatchesRequest reports whether req describes the same transfer as r.
func (r *TransferRecord) MatchesRequest(req TransferRequest) bool {
	return r.OwnerIdentity == req.OwnerIdentity &&
		r.SourceLedger() == req.SourceLedger &&
		r.DestLedger() == req.DestLedger &&
		r.Amount.Equal(req.Amount) &&
		r.Memo == req.Memo
}

// Outcome returns the error the caller should see for the record's state.
func (r *TransferRecord) Outcome() error {
	switch r.State {
	case StateCompleted, StateCompensated:
		return nil
	case StateSourceDebitFailed:
		return &LegError{Leg: LegDebit, Ledger: r.SourceLedger(), Err: r.Debit.Err()}
	case StateCompensationFailed:
		if cause := r.Compensation.Err(); cause != nil {
			return &LegError{
				Leg:         LegCompensation,
				Ledger:      r.SourceLedger(),
				ExternalRef: r.Debit.ExternalRef,
				Err:         fmt.Errorf("%w: %w", ErrCompensationFailed, cause),
			}
		}
		return ErrCompensationFailed
	default:
		return ErrOutcomeUnknown
	}
}

// OperationTag is the reference embedded in every ledger operation of a
// transfer leg so the ledger can be searched for it after a timeout.
func OperationTag(requestID string, leg LegKind) string {
	switch leg {
	case LegDebit:
		return "xfer:" + requestID + ":debit"
	case LegCredit:
		return "xfer:" + requestID + ":credit"
	default:
		return "xfer:" + requestID + ":reversal"
	}
}

// LedgerOpResult is the adapter-neutral result of a debit or credit.
type LedgerOpResult struct {
	ExternalRef string
	Status      string
	Amount      Money
	Memo        string
	At          time.Time
}
