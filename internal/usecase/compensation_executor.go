package usecase

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/iho/ledgerbridge/internal/domain"
	"github.com/iho/ledgerbridge/internal/infrastructure/metrics"
)

// CompensationExecutor reverses a source debit whose destination credit
// failed. Reversals are keyed by request ID, so running it twice for the same
// transfer never credits the source twice.
type CompensationExecutor struct {
	ledgers     Ledgers
	transferLog TransferLog
	legs        *legExecutor
	clock       Clock
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	maxAttempts int
}

// NewCompensationExecutor creates a new compensation executor
func NewCompensationExecutor(
	ledgers Ledgers,
	transferLog TransferLog,
	policy RetryPolicy,
	clock Clock,
	logger zerolog.Logger,
	m *metrics.Metrics,
) *CompensationExecutor {
	policy = policy.withDefaults()
	if clock == nil {
		clock = SystemClock
	}
	return &CompensationExecutor{
		ledgers:     ledgers,
		transferLog: transferLog,
		legs:        newLegExecutor(policy, clock, logger, m),
		clock:       clock,
		logger:      logger,
		metrics:     m,
		maxAttempts: policy.CompensationMaxAttempts,
	}
}

// Compensate credits the debited amount back to the source account and moves
// the record from COMPENSATING to COMPENSATED or COMPENSATION_FAILED. It
// returns nil only when the reversal is confirmed.
func (e *CompensationExecutor) Compensate(ctx context.Context, record *domain.TransferRecord) error {
	if record.State != domain.StateCompensating {
		return fmt.Errorf("%w: compensate from %s", domain.ErrInvalidTransition, record.State)
	}
	if record.Debit == nil || record.Debit.Status != domain.LegSucceeded {
		return fmt.Errorf("%w: no confirmed debit to reverse", domain.ErrInvalidTransition)
	}

	log := e.logger.With().
		Str("request_id", record.RequestID).
		Str("source_account", record.SourceAccount.String()).
		Str("debit_ref", record.Debit.ExternalRef).
		Logger()

	client, err := e.ledgers.Get(record.SourceLedger())
	if err != nil {
		return e.fail(ctx, record, log, domain.LegOutcome{
			Leg:       domain.LegCompensation,
			Status:    domain.LegFailed,
			ErrorCode: domain.CodeOf(err),
			Error:     err.Error(),
			At:        e.clock.Now(),
		}, err)
	}

	res := e.legs.run(ctx, legCall{
		leg:         domain.LegCompensation,
		client:      client,
		account:     record.SourceAccount,
		amount:      record.Amount,
		memo:        "reversal of " + record.Debit.ExternalRef,
		tag:         domain.OperationTag(record.RequestID, domain.LegCompensation),
		maxAttempts: e.maxAttempts,
		op:          client.Credit,
		// A previous run may have issued the reversal; always look first.
		pending: true,
	})

	if res.err != nil {
		return e.fail(ctx, record, log, res.outcome, res.err)
	}

	if err := record.SetLeg(res.outcome); err != nil {
		return err
	}
	tr, err := record.Transition(domain.StateCompensated, e.clock.Now())
	if err != nil {
		return err
	}
	if err := e.transferLog.Save(ctx, record, tr); err != nil {
		return fmt.Errorf("%w: persisting %s: %w", domain.ErrOutcomeUnknown, tr.To, err)
	}

	e.metrics.ObserveCompensation("succeeded")
	log.Warn().
		Str("reversal_ref", res.outcome.ExternalRef).
		Int("attempts", res.outcome.Attempts).
		Msg("transfer compensated")

	return nil
}

func (e *CompensationExecutor) fail(
	ctx context.Context,
	record *domain.TransferRecord,
	log zerolog.Logger,
	outcome domain.LegOutcome,
	cause error,
) error {
	if err := record.SetLeg(outcome); err != nil {
		return err
	}
	tr, err := record.Transition(domain.StateCompensationFailed, e.clock.Now())
	if err != nil {
		return err
	}

	saveErr := e.transferLog.Save(ctx, record, tr)

	e.metrics.ObserveCompensation("failed")
	e.metrics.FlagManualReview()

	// Money left the source and never arrived anywhere. WithLevel logs at
	// fatal without exiting.
	log.WithLevel(zerolog.FatalLevel).
		Err(cause).
		Str("amount", record.Amount.String()).
		Int("attempts", outcome.Attempts).
		Bool("persisted", saveErr == nil).
		Msg("compensation failed, manual reconciliation required")

	if saveErr != nil {
		return fmt.Errorf("%w: persisting %s: %w", domain.ErrOutcomeUnknown, tr.To, saveErr)
	}

	return fmt.Errorf("%w: %w", domain.ErrCompensationFailed, cause)
}
