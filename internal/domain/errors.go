package domain

import (
	"errors"
	"fmt"
)

var (
	// Caller errors
	ErrValidation        = errors.New("validation failed")
	ErrIdentityNotFound  = errors.New("identity has no account in ledger")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrRequestIDConflict = errors.New("request id already used for a different transfer")

	// Ledger errors
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	ErrTimeout           = errors.New("ledger call timed out")
	ErrOperationNotFound = errors.New("ledger operation not found")
	ErrLedgerRejected    = errors.New("ledger rejected operation")

	// Saga errors
	ErrCompensationFailed = errors.New("compensation failed, manual reconciliation required")
	ErrOutcomeUnknown     = errors.New("leg outcome unknown, transfer left for recovery")
	ErrInvalidTransition  = errors.New("invalid transfer state transition")
	ErrTransferTerminal   = errors.New("transfer is in a terminal state")
	ErrTransferNotFound   = errors.New("transfer not found")
	ErrConcurrentUpdate   = errors.New("transfer record was modified concurrently")
	ErrLockNotAcquired    = errors.New("account is busy with another transfer")
)

// ErrorCode is the stable, persisted name of an error class. Stored leg errors
// are rebuilt from it so a replayed request reports the original failure.
type ErrorCode string

const (
	CodeValidation         ErrorCode = "VALIDATION_ERROR"
	CodeIdentityNotFound   ErrorCode = "IDENTITY_NOT_FOUND"
	CodeInsufficientFunds  ErrorCode = "INSUFFICIENT_FUNDS"
	CodeRequestIDConflict  ErrorCode = "REQUEST_ID_CONFLICT"
	CodeLedgerUnavailable  ErrorCode = "LEDGER_UNAVAILABLE"
	CodeTimeout            ErrorCode = "TIMEOUT"
	CodeLedgerRejected     ErrorCode = "LEDGER_REJECTED"
	CodeCompensationFailed ErrorCode = "COMPENSATION_FAILED"
	CodeOutcomeUnknown     ErrorCode = "OUTCOME_UNKNOWN"
	CodeTransferNotFound   ErrorCode = "TRANSFER_NOT_FOUND"
	CodeBusy               ErrorCode = "ACCOUNT_BUSY"
	CodeInternal           ErrorCode = "INTERNAL"
)

var codeSentinels = []struct {
	code ErrorCode
	err  error
}{
	{CodeCompensationFailed, ErrCompensationFailed},
	{CodeOutcomeUnknown, ErrOutcomeUnknown},
	{CodeValidation, ErrValidation},
	{CodeIdentityNotFound, ErrIdentityNotFound},
	{CodeInsufficientFunds, ErrInsufficientFunds},
	{CodeRequestIDConflict, ErrRequestIDConflict},
	{CodeTimeout, ErrTimeout},
	{CodeLedgerUnavailable, ErrLedgerUnavailable},
	{CodeLedgerRejected, ErrLedgerRejected},
	{CodeTransferNotFound, ErrTransferNotFound},
	{CodeBusy, ErrLockNotAcquired},
}

// CodeOf classifies err by the most severe sentinel it wraps. Unknown errors
// are CodeInternal.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	for _, cs := range codeSentinels {
		if errors.Is(err, cs.err) {
			return cs.code
		}
	}
	return CodeInternal
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrLedgerUnavailable) || errors.Is(err, ErrTimeout)
}

// StoredError is an error rebuilt from a persisted code and message.
type StoredError struct {
	Code    ErrorCode
	Message string
}

// ErrorFromCode rebuilds an error that matches the sentinel of code.
func ErrorFromCode(code ErrorCode, message string) error {
	if code == "" {
		return nil
	}
	return &StoredError{Code: code, Message: message}
}

func (e *StoredError) Error() string {
	return e.Message
}

// Is matches the sentinel registered for the stored code.
func (e *StoredError) Is(target error) bool {
	for _, cs := range codeSentinels {
		if cs.code == e.Code {
			return cs.err == target
		}
	}
	return false
}

// ValidationError describes malformed caller input.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// InsufficientFundsError carries the balance figures behind a rejection.
type InsufficientFundsError struct {
	Available Money
	Required  Money
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %s, required %s", e.Available, e.Required)
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// LegError wraps a ledger failure with the leg it happened on.
type LegError struct {
	Leg         LegKind
	Ledger      LedgerKind
	ExternalRef string
	Err         error
}

func (e *LegError) Error() string {
	if e.ExternalRef != "" {
		return fmt.Sprintf("%s leg on %s (ref %s): %v", e.Leg, e.Ledger, e.ExternalRef, e.Err)
	}
	return fmt.Sprintf("%s leg on %s: %v", e.Leg, e.Ledger, e.Err)
}

func (e *LegError) Unwrap() error {
	return e.Err
}
