package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/iho/ledgerbridge/internal/domain"
	"github.com/iho/ledgerbridge/internal/usecase/mocks"
)

func TestAccountResolver_Resolve(t *testing.T) {
	bankRef := domain.AccountRef{Ledger: domain.LedgerBank, ExternalID: "dep-1", OwnerIdentity: testIdentity}

	tests := []struct {
		name       string
		identity   string
		setupMocks func(client *mocks.MockLedgerClient)
		want       domain.AccountRef
		wantErr    error
	}{
		{
			name:     "found",
			identity: "Ada@Example.com",
			setupMocks: func(client *mocks.MockLedgerClient) {
				client.EXPECT().ResolveAccount(gomock.Any(), testIdentity).Return(bankRef, nil)
			},
			want: bankRef,
		},
		{
			name:     "fills owner when ledger omits it",
			identity: testIdentity,
			setupMocks: func(client *mocks.MockLedgerClient) {
				client.EXPECT().ResolveAccount(gomock.Any(), testIdentity).
					Return(domain.AccountRef{Ledger: domain.LedgerBank, ExternalID: "dep-1"}, nil)
			},
			want: bankRef,
		},
		{
			name:     "not found",
			identity: testIdentity,
			setupMocks: func(client *mocks.MockLedgerClient) {
				client.EXPECT().ResolveAccount(gomock.Any(), testIdentity).Return(domain.AccountRef{}, domain.ErrIdentityNotFound)
			},
			wantErr: domain.ErrIdentityNotFound,
		},
		{
			name:     "empty reference is never accepted",
			identity: testIdentity,
			setupMocks: func(client *mocks.MockLedgerClient) {
				client.EXPECT().ResolveAccount(gomock.Any(), testIdentity).
					Return(domain.AccountRef{Ledger: domain.LedgerBank}, nil)
			},
			wantErr: domain.ErrLedgerUnavailable,
		},
		{
			name:     "unclassified error is unavailable",
			identity: testIdentity,
			setupMocks: func(client *mocks.MockLedgerClient) {
				client.EXPECT().ResolveAccount(gomock.Any(), testIdentity).Return(domain.AccountRef{}, errors.New("boom"))
			},
			wantErr: domain.ErrLedgerUnavailable,
		},
		{
			name:     "ledger rejection is unavailable",
			identity: testIdentity,
			setupMocks: func(client *mocks.MockLedgerClient) {
				client.EXPECT().ResolveAccount(gomock.Any(), testIdentity).
					Return(domain.AccountRef{}, fmt.Errorf("%w: unauthorized", domain.ErrLedgerRejected))
			},
			wantErr: domain.ErrLedgerUnavailable,
		},
		{
			name:     "deadline is timeout",
			identity: testIdentity,
			setupMocks: func(client *mocks.MockLedgerClient) {
				client.EXPECT().ResolveAccount(gomock.Any(), testIdentity).Return(domain.AccountRef{}, context.DeadlineExceeded)
			},
			wantErr: domain.ErrTimeout,
		},
		{
			name:       "invalid identity never reaches the ledger",
			identity:   "not-an-email",
			setupMocks: func(client *mocks.MockLedgerClient) {},
			wantErr:    domain.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			client := mocks.NewMockLedgerClient(ctrl)
			client.EXPECT().Kind().Return(domain.LedgerBank).AnyTimes()
			tt.setupMocks(client)

			resolver := NewAccountResolver(NewLedgers(client), time.Second)
			got, err := resolver.Resolve(context.Background(), tt.identity, domain.LedgerBank)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				if code := domain.CodeOf(err); code != domain.CodeOf(tt.wantErr) {
					t.Fatalf("expected code %s, got %s", domain.CodeOf(tt.wantErr), code)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestAccountResolver_UnknownLedger(t *testing.T) {
	resolver := NewAccountResolver(NewLedgers(), time.Second)

	_, err := resolver.Resolve(context.Background(), testIdentity, domain.LedgerBrokerage)
	if !errors.Is(err, domain.ErrLedgerUnavailable) {
		t.Fatalf("expected ErrLedgerUnavailable, got %v", err)
	}
}

func TestAccountResolver_AppliesCallTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockLedgerClient(ctrl)
	client.EXPECT().Kind().Return(domain.LedgerBank).AnyTimes()
	client.EXPECT().ResolveAccount(gomock.Any(), testIdentity).DoAndReturn(
		func(ctx context.Context, identity string) (domain.AccountRef, error) {
			if _, ok := ctx.Deadline(); !ok {
				t.Fatalf("expected a deadline on the ledger call")
			}
			<-ctx.Done()
			return domain.AccountRef{}, ctx.Err()
		})

	resolver := NewAccountResolver(NewLedgers(client), 10*time.Millisecond)
	_, err := resolver.Resolve(context.Background(), testIdentity, domain.LedgerBank)
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}
