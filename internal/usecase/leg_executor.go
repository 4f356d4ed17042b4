package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/iho/ledgerbridge/internal/domain"
	"github.com/iho/ledgerbridge/internal/infrastructure/metrics"
)

// RetryPolicy bounds the work spent on each ledger leg.
type RetryPolicy struct {
	LegMaxAttempts          int
	CompensationMaxAttempts int
	CallTimeout             time.Duration
	InitialInterval         time.Duration
	MaxInterval             time.Duration
	SagaTimeout             time.Duration
}

// DefaultRetryPolicy returns the production retry bounds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		LegMaxAttempts:          DefaultLegMaxAttempts,
		CompensationMaxAttempts: DefaultCompensationMaxAttempts,
		CallTimeout:             DefaultCallTimeout,
		InitialInterval:         DefaultRetryInitialInterval,
		MaxInterval:             DefaultRetryMaxInterval,
		SagaTimeout:             DefaultSagaTimeout,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.LegMaxAttempts <= 0 {
		p.LegMaxAttempts = d.LegMaxAttempts
	}
	if p.CompensationMaxAttempts <= 0 {
		p.CompensationMaxAttempts = d.CompensationMaxAttempts
	}
	if p.CallTimeout <= 0 {
		p.CallTimeout = d.CallTimeout
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = d.InitialInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	if p.SagaTimeout <= 0 {
		p.SagaTimeout = d.SagaTimeout
	}
	return p
}

type legOp func(ctx context.Context, account domain.AccountRef, amount domain.Money, memo, tag string) (*domain.LedgerOpResult, error)

// legCall describes one money movement on one ledger.
type legCall struct {
	leg         domain.LegKind
	client      LedgerClient
	account     domain.AccountRef
	amount      domain.Money
	memo        string
	tag         string
	maxAttempts int
	op          legOp
	// pending is set when an earlier attempt may already have been applied,
	// so the ledger is searched for tag before anything is submitted.
	pending bool
}

// legResult is the settled outcome of a leg.
type legResult struct {
	outcome domain.LegOutcome
	result  *domain.LedgerOpResult
	err     error
}

// legExecutor runs a leg with a per-call timeout and bounded backoff. A
// transient failure is never blindly resubmitted: the ledger is first
// searched for the operation tag.
type legExecutor struct {
	policy  RetryPolicy
	clock   Clock
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func newLegExecutor(policy RetryPolicy, clock Clock, logger zerolog.Logger, m *metrics.Metrics) *legExecutor {
	return &legExecutor{policy: policy, clock: clock, logger: logger, metrics: m}
}

func (e *legExecutor) newBackOff(ctx context.Context, maxAttempts int) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.policy.InitialInterval
	b.MaxInterval = e.policy.MaxInterval
	b.MaxElapsedTime = 0

	retries := maxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

func (e *legExecutor) run(ctx context.Context, call legCall) legResult {
	ledger := call.client.Kind()
	log := e.logger.With().
		Str("leg", string(call.leg)).
		Str("ledger", string(ledger)).
		Str("tag", call.tag).
		Logger()

	var (
		res      *domain.LedgerOpResult
		lastErr  error
		attempts int
		pending  = call.pending
	)

	operation := func() error {
		if pending {
			found, err := e.find(ctx, call)
			switch {
			case err == nil:
				log.Info().Str("external_ref", found.ExternalRef).Msg("reconciled leg already applied by ledger")
				res = found
				return nil
			case errors.Is(err, domain.ErrOperationNotFound):
				pending = false
			default:
				lastErr = err
				log.Warn().Err(err).Msg("leg reconciliation failed")
				if !domain.IsTransient(err) {
					return backoff.Permanent(err)
				}
				return err
			}
		}

		if attempts > 0 {
			e.metrics.RetryLeg(string(ledger), string(call.leg))
		}
		attempts++

		out, err := e.invoke(ctx, call)
		if err == nil {
			res = out
			return nil
		}

		lastErr = err
		if !domain.IsTransient(err) {
			return backoff.Permanent(err)
		}

		log.Warn().Err(err).Int("attempt", attempts).Msg("leg attempt failed")
		pending = true
		return err
	}

	_ = backoff.Retry(operation, e.newBackOff(ctx, call.maxAttempts))

	// Exhausted with a possibly applied attempt: one last look before
	// declaring the outcome.
	if res == nil && pending {
		found, err := e.find(context.WithoutCancel(ctx), call)
		switch {
		case err == nil:
			res = found
		case errors.Is(err, domain.ErrOperationNotFound):
			pending = false
		default:
			lastErr = err
		}
	}

	outcome := domain.LegOutcome{
		Leg:      call.leg,
		Attempts: attempts,
		At:       e.clock.Now(),
	}

	switch {
	case res != nil:
		outcome.Status = domain.LegSucceeded
		outcome.ExternalRef = res.ExternalRef
		return legResult{outcome: outcome, result: res}
	case lastErr == nil:
		// Context ended before the first attempt.
		lastErr = fmt.Errorf("%w: %w", domain.ErrTimeout, ctx.Err())
		pending = false
	}

	legErr := &domain.LegError{Leg: call.leg, Ledger: ledger, Err: lastErr}
	outcome.ErrorCode = domain.CodeOf(lastErr)
	outcome.Error = lastErr.Error()
	if pending {
		outcome.Status = domain.LegUnknown
	} else {
		outcome.Status = domain.LegFailed
	}

	return legResult{outcome: outcome, err: legErr}
}

func (e *legExecutor) invoke(ctx context.Context, call legCall) (*domain.LedgerOpResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.policy.CallTimeout)
	defer cancel()

	start := time.Now()
	res, err := call.op(callCtx, call.account, call.amount, call.memo, call.tag)
	err = classifyLedgerErr(err)
	e.metrics.ObserveLedgerCall(string(call.client.Kind()), string(call.leg), callOutcome(err), time.Since(start))

	if err == nil && (res == nil || res.ExternalRef == "") {
		return nil, fmt.Errorf("%w: ledger returned no operation reference", domain.ErrLedgerUnavailable)
	}
	return res, err
}

func (e *legExecutor) find(ctx context.Context, call legCall) (*domain.LedgerOpResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.policy.CallTimeout)
	defer cancel()

	start := time.Now()
	res, err := call.client.FindOperation(callCtx, call.account, call.tag)
	err = classifyLedgerErr(err)
	e.metrics.ObserveLedgerCall(string(call.client.Kind()), "find", callOutcome(err), time.Since(start))

	if err == nil && res == nil {
		return nil, domain.ErrOperationNotFound
	}
	return res, err
}

func callOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrOperationNotFound):
		return "not_found"
	default:
		return string(domain.CodeOf(err))
	}
}
