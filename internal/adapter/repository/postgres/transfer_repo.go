package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/ledgerbridge/internal/domain"
	"github.com/iho/ledgerbridge/internal/usecase"
)

const transferColumns = `id, request_id, state, owner_identity,
	source_ledger, source_account_id, dest_ledger, dest_account_id,
	amount, currency, memo, debit, credit, compensation,
	needs_review, review_reason, version, created_at, updated_at`

// activeStates are the states a crashed process can leave a record in.
var activeStates = []string{
	string(domain.StateSourceDebiting),
	string(domain.StateSourceDebited),
	string(domain.StateDestCrediting),
	string(domain.StateDestCreditFailed),
	string(domain.StateCompensating),
}

// TransferRepository implements usecase.TransferLog on postgres. Records are
// updated under optimistic locking; every transition is appended to
// transfer_transitions and terminal transitions enqueue an outbox event in the
// same transaction.
type TransferRepository struct {
	pool  pgxPool
	txm   *TxManager
	idGen usecase.IDGenerator
}

// NewTransferRepository creates a new TransferRepository.
func NewTransferRepository(pool *pgxpool.Pool, txm *TxManager, idGen usecase.IDGenerator) *TransferRepository {
	return newTransferRepositoryWithPool(pool, txm, idGen)
}

func newTransferRepositoryWithPool(pool pgxPool, txm *TxManager, idGen usecase.IDGenerator) *TransferRepository {
	return &TransferRepository{pool: pool, txm: txm, idGen: idGen}
}

// Create inserts a new record. A second record for the same RequestID is not
// inserted; the stored one is returned with domain.ErrRequestIDConflict.
func (r *TransferRepository) Create(ctx context.Context, record *domain.TransferRecord) (*domain.TransferRecord, error) {
	debit, err := legToJSON(record.Debit)
	if err != nil {
		return nil, err
	}
	credit, err := legToJSON(record.Credit)
	if err != nil {
		return nil, err
	}
	compensation, err := legToJSON(record.Compensation)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO transfers (` + transferColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 1, $17, $18)
		ON CONFLICT (request_id) DO NOTHING
	`

	tag, err := r.pool.Exec(ctx, query,
		record.ID,
		record.RequestID,
		string(record.State),
		record.OwnerIdentity,
		string(record.SourceAccount.Ledger),
		record.SourceAccount.ExternalID,
		string(record.DestAccount.Ledger),
		record.DestAccount.ExternalID,
		decimalToNumeric(record.Amount.Amount),
		record.Amount.Currency,
		record.Memo,
		debit,
		credit,
		compensation,
		record.NeedsReview,
		record.ReviewReason,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil && !isUniqueViolation(err) {
		return nil, fmt.Errorf("failed to insert transfer: %w", err)
	}

	if err != nil || tag.RowsAffected() == 0 {
		existing, getErr := r.GetByRequestID(ctx, record.RequestID)
		if getErr != nil {
			return nil, fmt.Errorf("failed to load conflicting transfer: %w", getErr)
		}
		return existing, domain.ErrRequestIDConflict
	}

	record.Version = 1
	return record, nil
}

// Save persists the record and appends transitions. It fails with
// domain.ErrConcurrentUpdate when the stored version moved on.
func (r *TransferRepository) Save(ctx context.Context, record *domain.TransferRecord, transitions ...domain.StateTransition) error {
	debit, err := legToJSON(record.Debit)
	if err != nil {
		return err
	}
	credit, err := legToJSON(record.Credit)
	if err != nil {
		return err
	}
	compensation, err := legToJSON(record.Compensation)
	if err != nil {
		return err
	}

	var event *domain.OutboxEvent
	if reachesTerminal(transitions) {
		if eventType := domain.TerminalEventType(record); eventType != "" {
			event = &domain.OutboxEvent{
				ID:            r.idGen.Generate(),
				AggregateID:   record.ID,
				AggregateType: domain.AggregateTypeTransfer,
				EventType:     eventType,
				Payload:       domain.TransferEventPayload(record),
				CreatedAt:     record.UpdatedAt,
			}
		}
	}

	err = r.txm.InTx(ctx, func(q querier) error {
		tag, err := q.Exec(ctx, `
			UPDATE transfers
			SET state = $2, debit = $3, credit = $4, compensation = $5,
				needs_review = $6, review_reason = $7, updated_at = $8,
				version = version + 1
			WHERE request_id = $1 AND version = $9
		`,
			record.RequestID,
			string(record.State),
			debit,
			credit,
			compensation,
			record.NeedsReview,
			record.ReviewReason,
			record.UpdatedAt,
			record.Version,
		)
		if err != nil {
			return fmt.Errorf("failed to update transfer: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrConcurrentUpdate
		}

		for _, t := range transitions {
			if _, err := q.Exec(ctx, `
				INSERT INTO transfer_transitions (request_id, from_state, to_state, at)
				VALUES ($1, $2, $3, $4)
			`, t.RequestID, string(t.From), string(t.To), t.At); err != nil {
				return fmt.Errorf("failed to append transition: %w", err)
			}
		}

		if event != nil {
			return insertOutboxEvent(ctx, q, event)
		}
		return nil
	})
	if err != nil {
		return err
	}

	record.Version++
	return nil
}

// GetByRequestID returns the record stored for requestID.
func (r *TransferRepository) GetByRequestID(ctx context.Context, requestID string) (*domain.TransferRecord, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE request_id = $1`

	record, err := scanTransfer(r.pool.QueryRow(ctx, query, requestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTransferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transfer: %w", err)
	}
	return record, nil
}

// ListNeedingReview returns flagged records, oldest first.
func (r *TransferRepository) ListNeedingReview(ctx context.Context, limit, offset int) ([]*domain.TransferRecord, error) {
	query := `
		SELECT ` + transferColumns + `
		FROM transfers
		WHERE needs_review
		ORDER BY created_at, id
		LIMIT $1 OFFSET $2
	`
	return r.list(ctx, query, limit, offset)
}

// ListStale returns in-flight records not touched since updatedBefore.
func (r *TransferRepository) ListStale(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.TransferRecord, error) {
	query := `
		SELECT ` + transferColumns + `
		FROM transfers
		WHERE state = ANY($1) AND updated_at < $2
		ORDER BY updated_at, id
		LIMIT $3
	`
	return r.list(ctx, query, activeStates, updatedBefore, limit)
}

// History returns the transitions of a record in the order they happened.
func (r *TransferRepository) History(ctx context.Context, requestID string) ([]domain.StateTransition, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT request_id, from_state, to_state, at
		FROM transfer_transitions
		WHERE request_id = $1
		ORDER BY id
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	var history []domain.StateTransition
	for rows.Next() {
		var (
			t        domain.StateTransition
			from, to string
		)
		if err := rows.Scan(&t.RequestID, &from, &to, &t.At); err != nil {
			return nil, err
		}
		t.From, t.To = domain.TransferState(from), domain.TransferState(to)
		history = append(history, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(history) == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transfers WHERE request_id = $1)`, requestID).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, domain.ErrTransferNotFound
		}
	}

	return history, nil
}

func (r *TransferRepository) list(ctx context.Context, query string, args ...any) ([]*domain.TransferRecord, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	defer rows.Close()

	var records []*domain.TransferRecord
	for rows.Next() {
		record, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

func scanTransfer(row pgx.Row) (*domain.TransferRecord, error) {
	var (
		r                               domain.TransferRecord
		state, sourceLedger, destLedger string
		amount                          pgtype.Numeric
		currency                        string
		debit, credit, compensation     []byte
	)

	err := row.Scan(
		&r.ID,
		&r.RequestID,
		&state,
		&r.OwnerIdentity,
		&sourceLedger,
		&r.SourceAccount.ExternalID,
		&destLedger,
		&r.DestAccount.ExternalID,
		&amount,
		&currency,
		&r.Memo,
		&debit,
		&credit,
		&compensation,
		&r.NeedsReview,
		&r.ReviewReason,
		&r.Version,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.State = domain.TransferState(state)
	r.SourceAccount.Ledger = domain.LedgerKind(sourceLedger)
	r.SourceAccount.OwnerIdentity = r.OwnerIdentity
	r.DestAccount.Ledger = domain.LedgerKind(destLedger)
	r.DestAccount.OwnerIdentity = r.OwnerIdentity
	r.Amount = domain.NewMoney(numericToDecimal(amount), currency)

	if r.Debit, err = legFromJSON(debit); err != nil {
		return nil, err
	}
	if r.Credit, err = legFromJSON(credit); err != nil {
		return nil, err
	}
	if r.Compensation, err = legFromJSON(compensation); err != nil {
		return nil, err
	}

	return &r, nil
}

func reachesTerminal(transitions []domain.StateTransition) bool {
	for _, t := range transitions {
		if t.To.IsTerminal() {
			return true
		}
	}
	return false
}
