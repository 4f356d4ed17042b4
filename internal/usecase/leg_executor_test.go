package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"go.uber.org/mock/gomock"

	"github.com/iho/ledgerbridge/internal/domain"
	"github.com/iho/ledgerbridge/internal/usecase/mocks"
)

func newTestLegCall(client *mocks.MockLedgerClient, maxAttempts int) legCall {
	return legCall{
		leg:         domain.LegCredit,
		client:      client,
		account:     domain.AccountRef{Ledger: domain.LedgerBrokerage, ExternalID: "acc-1"},
		amount:      domain.MustParseMoney("10", "USD"),
		memo:        "m",
		tag:         "xfer:1:credit",
		maxAttempts: maxAttempts,
		op:          client.Credit,
	}
}

func TestLegExecutor_PermanentErrorIsNotRetried(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockLedgerClient(ctrl)
	client.EXPECT().Kind().Return(domain.LedgerBrokerage).AnyTimes()
	client.EXPECT().Credit(gomock.Any(), gomock.Any(), gomock.Any(), "m", "xfer:1:credit").
		Return(nil, domain.ErrLedgerRejected).Times(1)

	exec := newLegExecutor(testRetryPolicy().withDefaults(), mocks.NewMockClock(testNow), zerolog.Nop(), nil)
	res := exec.run(context.Background(), newTestLegCall(client, 3))

	if res.outcome.Status != domain.LegFailed {
		t.Fatalf("status = %s, want FAILED", res.outcome.Status)
	}
	if res.outcome.ErrorCode != domain.CodeLedgerRejected || !errors.Is(res.err, domain.ErrLedgerRejected) {
		t.Fatalf("unexpected error %v (%s)", res.err, res.outcome.ErrorCode)
	}
	if res.outcome.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", res.outcome.Attempts)
	}
}

func TestLegExecutor_SearchesBeforeEveryRetry(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockLedgerClient(ctrl)
	client.EXPECT().Kind().Return(domain.LedgerBrokerage).AnyTimes()

	gomock.InOrder(
		client.EXPECT().Credit(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, domain.ErrTimeout),
		client.EXPECT().FindOperation(gomock.Any(), gomock.Any(), "xfer:1:credit").Return(nil, domain.ErrOperationNotFound),
		client.EXPECT().Credit(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, domain.ErrLedgerUnavailable),
		client.EXPECT().FindOperation(gomock.Any(), gomock.Any(), "xfer:1:credit").Return(nil, domain.ErrOperationNotFound),
		client.EXPECT().Credit(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&domain.LedgerOpResult{ExternalRef: "dep-3"}, nil),
	)

	exec := newLegExecutor(testRetryPolicy().withDefaults(), mocks.NewMockClock(testNow), zerolog.Nop(), nil)
	res := exec.run(context.Background(), newTestLegCall(client, 3))

	if res.err != nil {
		t.Fatalf("unexpected error: %v", res.err)
	}
	if res.outcome.Status != domain.LegSucceeded || res.outcome.ExternalRef != "dep-3" || res.outcome.Attempts != 3 {
		t.Fatalf("unexpected outcome %+v", res.outcome)
	}
}

func TestLegExecutor_ExhaustedTransientIsFailedWhenLedgerConfirmsAbsence(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockLedgerClient(ctrl)
	client.EXPECT().Kind().Return(domain.LedgerBrokerage).AnyTimes()
	client.EXPECT().Credit(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, domain.ErrLedgerUnavailable).Times(2)
	client.EXPECT().FindOperation(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, domain.ErrOperationNotFound).Times(2)

	exec := newLegExecutor(testRetryPolicy().withDefaults(), mocks.NewMockClock(testNow), zerolog.Nop(), nil)
	res := exec.run(context.Background(), newTestLegCall(client, 2))

	if res.outcome.Status != domain.LegFailed {
		t.Fatalf("status = %s, want FAILED", res.outcome.Status)
	}
	var legErr *domain.LegError
	if !errors.As(res.err, &legErr) || legErr.Leg != domain.LegCredit || legErr.Ledger != domain.LedgerBrokerage {
		t.Fatalf("expected credit leg error, got %v", res.err)
	}
}

func TestLegExecutor_RejectsResultWithoutReference(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockLedgerClient(ctrl)
	client.EXPECT().Kind().Return(domain.LedgerBrokerage).AnyTimes()
	client.EXPECT().Credit(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&domain.LedgerOpResult{}, nil)
	client.EXPECT().FindOperation(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&domain.LedgerOpResult{ExternalRef: "dep-9"}, nil)

	exec := newLegExecutor(testRetryPolicy().withDefaults(), mocks.NewMockClock(testNow), zerolog.Nop(), nil)
	res := exec.run(context.Background(), newTestLegCall(client, 3))

	if res.outcome.Status != domain.LegSucceeded || res.outcome.ExternalRef != "dep-9" {
		t.Fatalf("expected reconciled success, got %+v (%v)", res.outcome, res.err)
	}
}

func TestRetryPolicy_WithDefaults(t *testing.T) {
	p := RetryPolicy{InitialInterval: DefaultRetryMaxInterval * 2}.withDefaults()

	if p.LegMaxAttempts != DefaultLegMaxAttempts || p.CompensationMaxAttempts != DefaultCompensationMaxAttempts {
		t.Fatalf("unexpected attempts %+v", p)
	}
	if p.MaxInterval < p.InitialInterval {
		t.Fatalf("max interval %s below initial %s", p.MaxInterval, p.InitialInterval)
	}
	if p.CallTimeout != DefaultCallTimeout || p.SagaTimeout != DefaultSagaTimeout {
		t.Fatalf("unexpected timeouts %+v", p)
	}
}
