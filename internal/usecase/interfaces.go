package usecase

import (
	"context"
	"time"

	"github.com/iho/ledgerbridge/internal/domain"
)

// LedgerClient is the contract every external ledger adapter fulfils. Adapters
// map vendor payloads into domain types; nothing vendor-specific crosses it.
type LedgerClient interface {
	Kind() domain.LedgerKind
	// ResolveAccount returns domain.ErrIdentityNotFound when the ledger has no
	// account for identity and domain.ErrLedgerUnavailable when it cannot say.
	ResolveAccount(ctx context.Context, identity string) (domain.AccountRef, error)
	// GetBalance returns the ledger's own notion of available funds.
	GetBalance(ctx context.Context, account domain.AccountRef) (domain.Money, error)
	Debit(ctx context.Context, account domain.AccountRef, amount domain.Money, memo, tag string) (*domain.LedgerOpResult, error)
	Credit(ctx context.Context, account domain.AccountRef, amount domain.Money, memo, tag string) (*domain.LedgerOpResult, error)
	// FindOperation searches recent operations of account for tag. It returns
	// domain.ErrOperationNotFound when the ledger confirms there is none.
	FindOperation(ctx context.Context, account domain.AccountRef, tag string) (*domain.LedgerOpResult, error)
}

// TransferLog is the append-only store of transfer records.
type TransferLog interface {
	// Create stores a new record. If RequestID is already present it returns
	// the stored record and domain.ErrRequestIDConflict.
	Create(ctx context.Context, record *domain.TransferRecord) (*domain.TransferRecord, error)
	// Save persists the record and appends transitions to its history, using
	// Version for optimistic locking. Save without transitions updates legs only.
	Save(ctx context.Context, record *domain.TransferRecord, transitions ...domain.StateTransition) error
	GetByRequestID(ctx context.Context, requestID string) (*domain.TransferRecord, error)
	ListNeedingReview(ctx context.Context, limit, offset int) ([]*domain.TransferRecord, error)
	ListStale(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.TransferRecord, error)
	History(ctx context.Context, requestID string) ([]domain.StateTransition, error)
}

// AccountLocker serializes transfers per (owner, source ledger).
type AccountLocker interface {
	// Lock blocks until the key is free or ctx is done. The returned func
	// releases the lock.
	Lock(ctx context.Context, key string) (func(), error)
}

// OutboxRepository defines data access for outbox events.
type OutboxRepository interface {
	GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, id string, publishedAt time.Time) error
}

// IDGenerator generates unique IDs.
type IDGenerator interface {
	Generate() string
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IdempotencyStore caches final HTTP responses by Idempotency-Key.
type IdempotencyStore interface {
	// CheckAndSet atomically checks if key exists, sets if not. A nil response
	// claims the key with a placeholder. Returns (exists, existingValue, error).
	CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error)
	// Update replaces the value of key with the final response.
	Update(ctx context.Context, key string, response []byte, ttl time.Duration) error
	// Release drops a claimed key whose response is not worth replaying.
	Release(ctx context.Context, key string) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock is the wall clock in UTC.
var SystemClock Clock = systemClock{}

// LockKey is the in-flight guard key of a transfer's source account.
func LockKey(owner string, source domain.LedgerKind) string {
	return "xfer-lock:" + string(source) + ":" + domain.NormalizeIdentity(owner)
}
