package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/iho/ledgerbridge/internal/domain"
	"github.com/iho/ledgerbridge/internal/usecase/mocks"
)

func TestBalanceGuard_CheckSufficient(t *testing.T) {
	account := domain.AccountRef{Ledger: domain.LedgerBrokerage, ExternalID: "acc-9", OwnerIdentity: testIdentity}

	tests := []struct {
		name    string
		balance domain.Money
		ledErr  error
		amount  string
		wantErr error
	}{
		{name: "enough", balance: domain.MustParseMoney("500", "USD"), amount: "200"},
		{name: "exact", balance: domain.MustParseMoney("200", "USD"), amount: "200"},
		{name: "short by a cent", balance: domain.MustParseMoney("199.99", "USD"), amount: "200", wantErr: domain.ErrInsufficientFunds},
		{name: "currency mismatch", balance: domain.MustParseMoney("500", "EUR"), amount: "200", wantErr: domain.ErrValidation},
		{name: "ledger down", ledErr: domain.ErrLedgerUnavailable, amount: "200", wantErr: domain.ErrLedgerUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			client := mocks.NewMockLedgerClient(ctrl)
			client.EXPECT().Kind().Return(domain.LedgerBrokerage).AnyTimes()
			client.EXPECT().GetBalance(gomock.Any(), account).Return(tt.balance, tt.ledErr)

			guard := NewBalanceGuard(NewLedgers(client), time.Second)
			err := guard.CheckSufficient(context.Background(), account, domain.MustParseMoney(tt.amount, "USD"))

			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestBalanceGuard_ReportsFigures(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockLedgerClient(ctrl)
	client.EXPECT().Kind().Return(domain.LedgerBank).AnyTimes()
	client.EXPECT().GetBalance(gomock.Any(), gomock.Any()).Return(domain.MustParseMoney("50", "USD"), nil)

	guard := NewBalanceGuard(NewLedgers(client), time.Second)
	err := guard.CheckSufficient(context.Background(),
		domain.AccountRef{Ledger: domain.LedgerBank, ExternalID: "dep-1"},
		domain.MustParseMoney("75.5", "USD"))

	var insufficient *domain.InsufficientFundsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientFundsError, got %v", err)
	}
	if insufficient.Available.String() != "50.00 USD" || insufficient.Required.String() != "75.50 USD" {
		t.Fatalf("unexpected figures: %v", insufficient)
	}
}
