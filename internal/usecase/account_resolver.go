package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iho/ledgerbridge/internal/domain"
)

// Ledgers maps each ledger kind to its client.
type Ledgers map[domain.LedgerKind]LedgerClient

// NewLedgers builds a registry keyed by each client's Kind.
func NewLedgers(clients ...LedgerClient) Ledgers {
	l := make(Ledgers, len(clients))
	for _, c := range clients {
		l[c.Kind()] = c
	}
	return l
}

// Get returns the client for kind.
func (l Ledgers) Get(kind domain.LedgerKind) (LedgerClient, error) {
	c, ok := l[kind]
	if !ok || c == nil {
		return nil, fmt.Errorf("%w: no client configured for %s", domain.ErrLedgerUnavailable, kind)
	}
	return c, nil
}

// AccountResolver maps an owner identity to the account it holds in a ledger.
// Results are never cached: every transfer sees the ledger's current answer.
type AccountResolver struct {
	ledgers     Ledgers
	callTimeout time.Duration
}

// NewAccountResolver creates a new account resolver
func NewAccountResolver(ledgers Ledgers, callTimeout time.Duration) *AccountResolver {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &AccountResolver{ledgers: ledgers, callTimeout: callTimeout}
}

// Resolve returns the account of identity in ledger.
func (r *AccountResolver) Resolve(ctx context.Context, identity string, ledger domain.LedgerKind) (domain.AccountRef, error) {
	if err := domain.ValidateIdentity(identity); err != nil {
		return domain.AccountRef{}, err
	}

	client, err := r.ledgers.Get(ledger)
	if err != nil {
		return domain.AccountRef{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	ref, err := client.ResolveAccount(callCtx, domain.NormalizeIdentity(identity))
	if err != nil {
		if errors.Is(err, domain.ErrIdentityNotFound) {
			return domain.AccountRef{}, fmt.Errorf("%w: %s in %s", domain.ErrIdentityNotFound, identity, ledger)
		}
		if errors.Is(err, domain.ErrLedgerRejected) && !domain.IsTransient(err) {
			// A lookup has nothing to refuse: any other error status is an outage.
			return domain.AccountRef{}, fmt.Errorf("%w: %s lookup: %s", domain.ErrLedgerUnavailable, ledger, err.Error())
		}
		return domain.AccountRef{}, classifyLedgerErr(err)
	}

	// An adapter must hand back the ledger's own ID, never a made-up one.
	if ref.ExternalID == "" || ref.Ledger != ledger {
		return domain.AccountRef{}, fmt.Errorf("%w: malformed account reference from %s", domain.ErrLedgerUnavailable, ledger)
	}
	if ref.OwnerIdentity == "" {
		ref.OwnerIdentity = domain.NormalizeIdentity(identity)
	}

	return ref, nil
}

// classifyLedgerErr keeps known ledger errors and folds anything else into the
// transient classes so callers see a closed error set.
func classifyLedgerErr(err error) error {
	switch {
	case err == nil:
		return nil
	case domain.IsTransient(err),
		errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrIdentityNotFound),
		errors.Is(err, domain.ErrOperationNotFound),
		errors.Is(err, domain.ErrLedgerRejected),
		errors.Is(err, domain.ErrValidation):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %w", domain.ErrLedgerUnavailable, err)
	}
}
