package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

func fastRetrier(maxRetries uint64) *Retrier {
	return NewRetrierWithConfig(RetrierConfig{
		MaxRetries:      maxRetries,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}, zerolog.Nop())
}

func TestRetrierRetriesSerializationFailure(t *testing.T) {
	attempts := 0
	err := fastRetrier(2).Retry(context.Background(), func() error {
		attempts++
		if attempts < 2 {
			return &pgconn.PgError{Code: pgErrSerializationFailure}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetrierGivesUpAfterMaxRetries(t *testing.T) {
	attempts := 0
	err := fastRetrier(2).Retry(context.Background(), func() error {
		attempts++
		return &pgconn.PgError{Code: pgErrDeadlock}
	})

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgErrDeadlock {
		t.Fatalf("expected the last deadlock error, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 1 attempt plus 2 retries, got %d", attempts)
	}
}

func TestRetrierStopsOnPermanentError(t *testing.T) {
	attempts := 0
	err := fastRetrier(3).Retry(context.Background(), func() error {
		attempts++
		return &pgconn.PgError{Code: pgErrUniqueViolation}
	})

	if !isUniqueViolation(err) {
		t.Fatalf("expected unique violation to surface, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetrierStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := fastRetrier(5).Retry(ctx, func() error {
		attempts++
		return &pgconn.PgError{Code: pgErrDeadlock}
	})
	if err == nil {
		t.Fatalf("expected an error")
	}
	if attempts > 1 {
		t.Fatalf("expected no retries after cancellation, got %d attempts", attempts)
	}
}

func TestIsRetryableError(t *testing.T) {
	for _, code := range []string{pgErrDeadlock, pgErrSerializationFailure, pgErrLockNotAvailable, pgErrAdminShutdown} {
		if !isRetryableError(&pgconn.PgError{Code: code}) {
			t.Fatalf("expected %s to be retryable", code)
		}
	}
	if isRetryableError(&pgconn.PgError{Code: "23514"}) {
		t.Fatalf("check violations are not retryable")
	}
	if isRetryableError(errors.New("other")) {
		t.Fatalf("expected generic error to be non-retryable")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(&pgconn.PgError{Code: pgErrUniqueViolation}) {
		t.Fatalf("expected unique violation to be detected")
	}
	if isUniqueViolation(&pgconn.PgError{Code: pgErrDeadlock}) {
		t.Fatalf("deadlock is not a unique violation")
	}
}
