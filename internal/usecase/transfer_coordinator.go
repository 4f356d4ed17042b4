package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/ledgerbridge/internal/domain"
	"github.com/iho/ledgerbridge/internal/infrastructure/metrics"
)

// TransferCoordinator drives the debit-then-credit saga between two ledgers.
type TransferCoordinator struct {
	ledgers     Ledgers
	transferLog TransferLog
	locker      AccountLocker
	idGen       IDGenerator
	clock       Clock
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	policy      RetryPolicy

	resolver    *AccountResolver
	guard       *BalanceGuard
	compensator *CompensationExecutor
	legs        *legExecutor
}

// Option configures a TransferCoordinator.
type Option func(*TransferCoordinator)

// WithClock sets the clock used for record timestamps.
func WithClock(clock Clock) Option {
	return func(c *TransferCoordinator) { c.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *TransferCoordinator) { c.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *TransferCoordinator) { c.metrics = m }
}

// WithRetryPolicy overrides the default retry bounds.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *TransferCoordinator) { c.policy = policy }
}

// NewTransferCoordinator creates a new transfer coordinator
func NewTransferCoordinator(
	ledgers Ledgers,
	transferLog TransferLog,
	locker AccountLocker,
	idGen IDGenerator,
	opts ...Option,
) *TransferCoordinator {
	c := &TransferCoordinator{
		ledgers:     ledgers,
		transferLog: transferLog,
		locker:      locker,
		idGen:       idGen,
		clock:       SystemClock,
		logger:      zerolog.Nop(),
		policy:      DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.policy = c.policy.withDefaults()

	c.resolver = NewAccountResolver(ledgers, c.policy.CallTimeout)
	c.guard = NewBalanceGuard(ledgers, c.policy.CallTimeout)
	c.compensator = NewCompensationExecutor(ledgers, transferLog, c.policy, c.clock, c.logger, c.metrics)
	c.legs = newLegExecutor(c.policy, c.clock, c.logger, c.metrics)

	return c
}

// Execute runs a transfer request to a terminal state, or replays the stored
// result when the request ID was seen before.
//
// The returned record is nil only when the request was rejected before any
// ledger mutation. Otherwise the error, if any, describes what happened to
// the money: a *domain.LegError for a failed debit, domain.ErrCompensationFailed
// when a reversal could not be confirmed, and domain.ErrOutcomeUnknown when the
// transfer was parked for the recovery worker.
func (c *TransferCoordinator) Execute(ctx context.Context, req domain.TransferRequest) (*domain.TransferRecord, error) {
	req.OwnerIdentity = domain.NormalizeIdentity(req.OwnerIdentity)
	req.Amount = domain.NewMoney(req.Amount.Amount, req.Amount.Currency)
	req.Memo = strings.TrimSpace(req.Memo)

	if err := req.Validate(); err != nil {
		c.metrics.RejectTransfer(string(domain.CodeOf(err)))
		return nil, err
	}

	log := c.logger.With().
		Str("request_id", req.RequestID).
		Str("source", string(req.SourceLedger)).
		Str("dest", string(req.DestLedger)).
		Str("amount", req.Amount.String()).
		Logger()

	unlock, err := c.locker.Lock(ctx, LockKey(req.OwnerIdentity, req.SourceLedger))
	if err != nil {
		c.metrics.RejectTransfer(string(domain.CodeBusy))
		return nil, err
	}
	defer unlock()

	existing, err := c.transferLog.GetByRequestID(ctx, req.RequestID)
	switch {
	case err == nil:
		return c.replay(ctx, existing, req, log)
	case !errors.Is(err, domain.ErrTransferNotFound):
		return nil, fmt.Errorf("failed to look up transfer: %w", err)
	}

	source, err := c.resolver.Resolve(ctx, req.OwnerIdentity, req.SourceLedger)
	if err != nil {
		return nil, c.reject(log, err)
	}
	dest, err := c.resolver.Resolve(ctx, req.OwnerIdentity, req.DestLedger)
	if err != nil {
		return nil, c.reject(log, err)
	}

	if err := c.guard.CheckSufficient(ctx, source, req.Amount); err != nil {
		return nil, c.reject(log, err)
	}

	record := domain.NewTransferRecord(c.idGen.Generate(), req, source, dest, c.clock.Now())
	stored, err := c.transferLog.Create(ctx, record)
	if err != nil {
		if errors.Is(err, domain.ErrRequestIDConflict) && stored != nil {
			// Admitted by another instance between lookup and create.
			return c.replay(ctx, stored, req, log)
		}
		return nil, fmt.Errorf("failed to record transfer: %w", err)
	}

	log.Info().Str("transfer_id", stored.ID).Msg("transfer admitted")

	return c.run(ctx, stored, false, log)
}

// Resume continues a non-terminal transfer, reconciling with the ledgers
// before resubmitting any leg. Terminal records are returned unchanged.
func (c *TransferCoordinator) Resume(ctx context.Context, requestID string) (*domain.TransferRecord, error) {
	record, err := c.transferLog.GetByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	unlock, err := c.locker.Lock(ctx, LockKey(record.OwnerIdentity, record.SourceLedger()))
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Reload under the lock; a concurrent caller may have advanced it.
	record, err = c.transferLog.GetByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if record.State.IsTerminal() {
		return record, record.Outcome()
	}

	log := c.logger.With().
		Str("request_id", record.RequestID).
		Str("transfer_id", record.ID).
		Str("state", string(record.State)).
		Logger()
	log.Info().Msg("resuming transfer")

	return c.run(ctx, record, true, log)
}

// GetTransfer returns the stored record for requestID.
func (c *TransferCoordinator) GetTransfer(ctx context.Context, requestID string) (*domain.TransferRecord, error) {
	if err := domain.ValidateRequestID(requestID); err != nil {
		return nil, err
	}
	return c.transferLog.GetByRequestID(ctx, requestID)
}

// History returns the state transitions of a transfer, oldest first.
func (c *TransferCoordinator) History(ctx context.Context, requestID string) ([]domain.StateTransition, error) {
	if err := domain.ValidateRequestID(requestID); err != nil {
		return nil, err
	}
	return c.transferLog.History(ctx, requestID)
}

// ListNeedingReview returns transfers flagged for operator reconciliation.
func (c *TransferCoordinator) ListNeedingReview(ctx context.Context, limit, offset int) ([]*domain.TransferRecord, error) {
	if limit <= 0 || limit > MaxReviewPageSize {
		limit = MaxReviewPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return c.transferLog.ListNeedingReview(ctx, limit, offset)
}

func (c *TransferCoordinator) replay(
	ctx context.Context,
	existing *domain.TransferRecord,
	req domain.TransferRequest,
	log zerolog.Logger,
) (*domain.TransferRecord, error) {
	if !existing.MatchesRequest(req) {
		c.metrics.RejectTransfer(string(domain.CodeRequestIDConflict))
		return nil, fmt.Errorf("%w: %s", domain.ErrRequestIDConflict, req.RequestID)
	}

	if existing.State.IsTerminal() {
		log.Info().Str("state", string(existing.State)).Msg("replaying stored transfer result")
		return existing, existing.Outcome()
	}

	if existing.State == domain.StateInitiated {
		// Nothing was sent to a ledger yet; admit it again from the top.
		if err := c.guard.CheckSufficient(ctx, existing.SourceAccount, existing.Amount); err != nil {
			return nil, c.reject(log, err)
		}
	}

	log.Info().Str("state", string(existing.State)).Msg("resuming unfinished transfer on replay")
	return c.run(ctx, existing, true, log)
}

func (c *TransferCoordinator) reject(log zerolog.Logger, err error) error {
	c.metrics.RejectTransfer(string(domain.CodeOf(err)))
	log.Info().Err(err).Msg("transfer rejected")
	return err
}

// run advances record until it reaches a terminal state or parks with an
// unknown leg outcome. resumed marks a record loaded from the log, whose
// in-flight leg may already have been applied.
func (c *TransferCoordinator) run(
	ctx context.Context,
	record *domain.TransferRecord,
	resumed bool,
	log zerolog.Logger,
) (*domain.TransferRecord, error) {
	defer c.metrics.TrackInFlight()()
	start := time.Now()

	var (
		sagaCtx  = ctx
		cancel   = func() {}
		detached bool
	)
	defer func() { cancel() }()

	// Once the debit may be in flight the caller can no longer cancel.
	detach := func() {
		if !detached {
			sagaCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), c.policy.SagaTimeout)
			detached = true
		}
	}
	if record.State != domain.StateInitiated {
		detach()
	}

	fresh := !resumed

	for !record.State.IsTerminal() {
		var err error

		switch record.State {
		case domain.StateInitiated:
			if err = c.advance(sagaCtx, record, domain.StateSourceDebiting); err == nil {
				detach()
				fresh = true
			}

		case domain.StateSourceDebiting:
			err = c.debit(sagaCtx, record, !fresh, log)

		case domain.StateSourceDebited:
			if err = c.advance(sagaCtx, record, domain.StateDestCrediting); err == nil {
				fresh = true
			}

		case domain.StateDestCrediting:
			err = c.credit(sagaCtx, record, !fresh, log)

		case domain.StateDestCreditFailed:
			err = c.advance(sagaCtx, record, domain.StateCompensating)

		case domain.StateCompensating:
			err = c.compensator.Compensate(sagaCtx, record)
			if errors.Is(err, domain.ErrCompensationFailed) {
				err = nil
			}

		default:
			err = fmt.Errorf("%w: unexpected state %s", domain.ErrInvalidTransition, record.State)
		}

		if err != nil {
			c.metrics.ObserveTransfer(direction(record), string(record.State), record.Amount.Amount.InexactFloat64(), time.Since(start))
			log.Error().Err(err).Str("state", string(record.State)).Msg("transfer parked for recovery")
			if !errors.Is(err, domain.ErrOutcomeUnknown) {
				err = fmt.Errorf("%w: %w", domain.ErrOutcomeUnknown, err)
			}
			return record, err
		}
	}

	c.metrics.ObserveTransfer(direction(record), string(record.State), record.Amount.Amount.InexactFloat64(), time.Since(start))
	c.logTerminal(log, record)

	// Replays of this record report the same error.
	return record, record.Outcome()
}

func (c *TransferCoordinator) debit(ctx context.Context, record *domain.TransferRecord, pending bool, log zerolog.Logger) error {
	client, err := c.ledgers.Get(record.SourceLedger())
	if err != nil {
		return err
	}

	res := c.legs.run(ctx, legCall{
		leg:         domain.LegDebit,
		client:      client,
		account:     record.SourceAccount,
		amount:      record.Amount,
		memo:        legMemo(record, "transfer to "+string(record.DestLedger())),
		tag:         domain.OperationTag(record.RequestID, domain.LegDebit),
		maxAttempts: c.policy.LegMaxAttempts,
		op:          client.Debit,
		pending:     pending,
	})

	if err := record.SetLeg(res.outcome); err != nil {
		return err
	}

	switch res.outcome.Status {
	case domain.LegSucceeded:
		log.Info().Str("debit_ref", res.outcome.ExternalRef).Msg("source debited")
		return c.advance(ctx, record, domain.StateSourceDebited)

	case domain.LegFailed:
		log.Warn().Err(res.err).Msg("source debit failed")
		return c.advance(ctx, record, domain.StateSourceDebitFailed)

	default:
		// Neither applied nor ruled out. Park in SOURCE_DEBITING.
		if err := c.transferLog.Save(ctx, record); err != nil {
			log.Error().Err(err).Msg("failed to persist unknown debit outcome")
		}
		return fmt.Errorf("%w: %w", domain.ErrOutcomeUnknown, res.err)
	}
}

func (c *TransferCoordinator) credit(ctx context.Context, record *domain.TransferRecord, pending bool, log zerolog.Logger) error {
	client, err := c.ledgers.Get(record.DestLedger())
	if err != nil {
		return c.failCredit(ctx, record, domain.LegOutcome{
			Leg:       domain.LegCredit,
			Status:    domain.LegFailed,
			ErrorCode: domain.CodeOf(err),
			Error:     err.Error(),
			At:        c.clock.Now(),
		}, err, log)
	}

	res := c.legs.run(ctx, legCall{
		leg:         domain.LegCredit,
		client:      client,
		account:     record.DestAccount,
		amount:      record.Amount,
		memo:        legMemo(record, "transfer from "+string(record.SourceLedger())),
		tag:         domain.OperationTag(record.RequestID, domain.LegCredit),
		maxAttempts: c.policy.LegMaxAttempts,
		op:          client.Credit,
		pending:     pending,
	})

	if res.outcome.Status == domain.LegSucceeded {
		if err := record.SetLeg(res.outcome); err != nil {
			return err
		}
		log.Info().Str("credit_ref", res.outcome.ExternalRef).Msg("destination credited")
		return c.advance(ctx, record, domain.StateCompleted)
	}

	return c.failCredit(ctx, record, res.outcome, res.err, log)
}

// failCredit treats an unconfirmed credit as failed. An UNKNOWN credit may
// still land later, so the record is flagged for review even if the reversal
// succeeds.
func (c *TransferCoordinator) failCredit(
	ctx context.Context,
	record *domain.TransferRecord,
	outcome domain.LegOutcome,
	cause error,
	log zerolog.Logger,
) error {
	if err := record.SetLeg(outcome); err != nil {
		return err
	}
	if outcome.Status == domain.LegUnknown {
		record.FlagForReview("credit outcome unconfirmed; destination may hold a late credit")
		c.metrics.FlagManualReview()
	}

	log.Warn().Err(cause).Str("credit_status", string(outcome.Status)).Msg("destination credit failed, compensating")
	return c.advance(ctx, record, domain.StateDestCreditFailed)
}

func (c *TransferCoordinator) advance(ctx context.Context, record *domain.TransferRecord, to domain.TransferState) error {
	tr, err := record.Transition(to, c.clock.Now())
	if err != nil {
		return err
	}
	if err := c.transferLog.Save(ctx, record, tr); err != nil {
		return fmt.Errorf("%w: persisting %s: %w", domain.ErrOutcomeUnknown, to, err)
	}
	return nil
}

func (c *TransferCoordinator) logTerminal(log zerolog.Logger, record *domain.TransferRecord) {
	event := log.Info()
	switch record.State {
	case domain.StateCompensated:
		event = log.Warn()
	case domain.StateCompensationFailed:
		// Already logged at fatal level by the compensator.
		event = log.Error()
	}
	event.
		Str("transfer_id", record.ID).
		Str("state", string(record.State)).
		Bool("needs_review", record.NeedsReview).
		Msg("transfer finished")
}

func legMemo(record *domain.TransferRecord, fallback string) string {
	if record.Memo != "" {
		return record.Memo
	}
	return fallback
}

func direction(record *domain.TransferRecord) string {
	return strings.ToLower(string(record.SourceLedger()) + "_to_" + string(record.DestLedger()))
}
