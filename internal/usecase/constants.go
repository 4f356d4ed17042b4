package usecase

import "time"

const (
	// DefaultLegMaxAttempts bounds tries of one debit or credit leg.
	DefaultLegMaxAttempts = 3

	// DefaultCompensationMaxAttempts bounds tries of the reversal credit.
	// Exhausting it ends the saga in COMPENSATION_FAILED.
	DefaultCompensationMaxAttempts = 5

	// DefaultCallTimeout is applied to every ledger call.
	DefaultCallTimeout = 10 * time.Second

	// DefaultRetryInitialInterval and DefaultRetryMaxInterval shape backoff
	// between leg attempts.
	DefaultRetryInitialInterval = 200 * time.Millisecond
	DefaultRetryMaxInterval     = 5 * time.Second

	// DefaultSagaTimeout bounds a saga once money has left the source.
	DefaultSagaTimeout = 2 * time.Minute

	// MaxReviewPageSize caps review queue listings.
	MaxReviewPageSize = 100
)
