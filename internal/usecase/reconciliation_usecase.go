package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/ledgerbridge/internal/domain"
	"github.com/iho/ledgerbridge/internal/infrastructure/metrics"
)

// ReconciliationUseCase drives transfers that were left mid-saga (crash,
// unknown leg outcome, lost write) to a terminal state.
type ReconciliationUseCase struct {
	coordinator *TransferCoordinator
	transferLog TransferLog
	clock       Clock
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	staleAfter  time.Duration
	batchSize   int
}

// ReconciliationConfig configures the reconciliation use case.
type ReconciliationConfig struct {
	StaleAfter time.Duration // Minimum age of a non-terminal record before it is resumed
	BatchSize  int
	Clock      Clock
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

// NewReconciliationUseCase creates a new reconciliation use case
func NewReconciliationUseCase(
	coordinator *TransferCoordinator,
	transferLog TransferLog,
	cfg ReconciliationConfig,
) *ReconciliationUseCase {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	return &ReconciliationUseCase{
		coordinator: coordinator,
		transferLog: transferLog,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		staleAfter:  cfg.StaleAfter,
		batchSize:   cfg.BatchSize,
	}
}

// ReconciliationReport summarizes one recovery pass.
type ReconciliationReport struct {
	Scanned     int
	Completed   int
	Compensated int
	Failed      int // ended in SOURCE_DEBIT_FAILED or COMPENSATION_FAILED
	StillParked int
	CheckedAt   time.Time
}

// ReconcileStale resumes every non-terminal transfer untouched for longer
// than the stale threshold. INITIATED records are not listed: nothing was
// sent to a ledger for them and only a caller replay re-admits them.
func (uc *ReconciliationUseCase) ReconcileStale(ctx context.Context) (*ReconciliationReport, error) {
	now := uc.clock.Now()
	records, err := uc.transferLog.ListStale(ctx, now.Add(-uc.staleAfter), uc.batchSize)
	if err != nil {
		return nil, err
	}

	report := &ReconciliationReport{Scanned: len(records), CheckedAt: now}

	for _, stale := range records {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		record, err := uc.coordinator.Resume(ctx, stale.RequestID)
		outcome := recoveryOutcome(record, err)
		uc.metrics.ObserveRecovery(outcome)

		switch outcome {
		case "completed":
			report.Completed++
		case "compensated":
			report.Compensated++
		case "parked":
			report.StillParked++
			uc.logger.Warn().Err(err).
				Str("request_id", stale.RequestID).
				Str("state", string(stale.State)).
				Msg("transfer still unresolved after recovery attempt")
		default:
			report.Failed++
		}
	}

	if len(records) > 0 {
		uc.logger.Info().
			Int("scanned", report.Scanned).
			Int("completed", report.Completed).
			Int("compensated", report.Compensated).
			Int("failed", report.Failed).
			Int("parked", report.StillParked).
			Msg("recovery pass finished")
	}

	return report, nil
}

// Start runs ReconcileStale every interval until ctx is cancelled.
func (uc *ReconciliationUseCase) Start(ctx context.Context, interval time.Duration) error {
	uc.logger.Info().
		Dur("interval", interval).
		Dur("stale_after", uc.staleAfter).
		Msg("recovery worker started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Process immediately on start
	if _, err := uc.ReconcileStale(ctx); err != nil && !errors.Is(err, context.Canceled) {
		uc.logger.Error().Err(err).Msg("error recovering transfers on start")
	}

	for {
		select {
		case <-ctx.Done():
			uc.logger.Info().Msg("recovery worker shutting down")
			return ctx.Err()
		case <-ticker.C:
			if _, err := uc.ReconcileStale(ctx); err != nil && !errors.Is(err, context.Canceled) {
				uc.logger.Error().Err(err).Msg("error recovering transfers")
			}
		}
	}
}

func recoveryOutcome(record *domain.TransferRecord, err error) string {
	if record == nil || !record.State.IsTerminal() || errors.Is(err, domain.ErrOutcomeUnknown) {
		return "parked"
	}
	switch record.State {
	case domain.StateCompleted:
		return "completed"
	case domain.StateCompensated:
		return "compensated"
	default:
		return "failed"
	}
}
