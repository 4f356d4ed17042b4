package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// requestIDNamespace scopes derived request IDs.
var requestIDNamespace = uuid.MustParse("6f1c7f2e-4b0d-5a8e-9c61-2f0f5a3d7b10")

// DeriveRequestID builds a deterministic request ID for callers that supply
// none. Identical submissions inside the same time bucket collapse to one ID.
func DeriveRequestID(identity string, source, dest LedgerKind, amount Money, memo string, at time.Time, bucket time.Duration) string {
	if bucket <= 0 {
		bucket = 10 * time.Minute
	}

	parts := []string{
		NormalizeIdentity(identity),
		string(source),
		string(dest),
		amount.Amount.StringFixed(MaxAmountPrecision),
		amount.Currency,
		memo,
		at.UTC().Truncate(bucket).Format(time.RFC3339),
	}

	return uuid.NewSHA1(requestIDNamespace, []byte(strings.Join(parts, "|"))).String()
}

// RequestIDFromKey maps a caller-supplied idempotency key to a request ID.
// UUID keys are used as-is; anything else is hashed into a UUID.
func RequestIDFromKey(key string) string {
	key = strings.TrimSpace(key)
	if id, err := uuid.Parse(key); err == nil {
		return id.String()
	}
	return uuid.NewSHA1(requestIDNamespace, []byte("key|"+key)).String()
}
