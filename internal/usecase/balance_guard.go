package usecase

import (
	"context"
	"time"

	"github.com/iho/ledgerbridge/internal/domain"
)

// BalanceGuard rejects transfers the source account cannot fund.
type BalanceGuard struct {
	ledgers     Ledgers
	callTimeout time.Duration
}

// NewBalanceGuard creates a new balance guard
func NewBalanceGuard(ledgers Ledgers, callTimeout time.Duration) *BalanceGuard {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &BalanceGuard{ledgers: ledgers, callTimeout: callTimeout}
}

// Available returns the ledger's available balance for account.
func (g *BalanceGuard) Available(ctx context.Context, account domain.AccountRef) (domain.Money, error) {
	client, err := g.ledgers.Get(account.Ledger)
	if err != nil {
		return domain.Money{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	balance, err := client.GetBalance(callCtx, account)
	if err != nil {
		return domain.Money{}, classifyLedgerErr(err)
	}
	return balance, nil
}

// CheckSufficient returns *domain.InsufficientFundsError when the available
// balance is below amount. The check is advisory: the debit leg can still be
// refused by the ledger.
func (g *BalanceGuard) CheckSufficient(ctx context.Context, account domain.AccountRef, amount domain.Money) error {
	balance, err := g.Available(ctx, account)
	if err != nil {
		return err
	}

	if !balance.SameCurrency(amount) {
		return domain.NewValidationError("currency", "account "+account.String()+" holds "+balance.Currency)
	}

	if balance.LessThan(amount) {
		return &domain.InsufficientFundsError{Available: balance, Required: amount}
	}

	return nil
}
