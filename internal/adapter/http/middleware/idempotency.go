package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/ledgerbridge/internal/usecase"
)

const (
	// IdempotencyKeyHeader is the header name for idempotency keys.
	IdempotencyKeyHeader = "Idempotency-Key"
	// IdempotencyReplayHeader marks a response served from the store.
	IdempotencyReplayHeader = "X-Idempotency-Replay"

	DefaultIdempotencyTTL = 24 * time.Hour

	processingMarker = "processing"
	maxBodyBytes     = 1 << 20
)

// cachedResponse is what the store keeps per key.
type cachedResponse struct {
	Fingerprint string `json:"fingerprint"`
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
}

// IdempotencyMiddleware replays the final response of a request carrying an
// Idempotency-Key it has already answered. Only final transfer outcomes (200
// and 207) are kept; anything else releases the key so a retry runs again.
type IdempotencyMiddleware struct {
	store  usecase.IdempotencyStore
	ttl    time.Duration
	logger zerolog.Logger
}

// NewIdempotencyMiddleware creates a new IdempotencyMiddleware.
func NewIdempotencyMiddleware(store usecase.IdempotencyStore, ttl time.Duration, logger zerolog.Logger) *IdempotencyMiddleware {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &IdempotencyMiddleware{store: store, ttl: ttl, logger: logger}
}

// Wrap wraps an http.Handler with idempotency checking.
func (m *IdempotencyMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Only apply to mutating requests
		if r.Method != http.MethodPost && r.Method != http.MethodPut {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(IdempotencyKeyHeader)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeMiddlewareError(w, http.StatusBadRequest, "VALIDATION_ERROR", "request body too large or unreadable")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		storeKey := r.URL.Path + "|" + key
		fingerprint := fingerprintRequest(r, body)

		exists, cached, err := m.store.CheckAndSet(r.Context(), storeKey, nil, m.ttl)
		if err != nil {
			m.logger.Error().Err(err).Str("idempotency_key", key).Msg("idempotency check failed")
			writeMiddlewareError(w, http.StatusInternalServerError, "INTERNAL", "idempotency check failed")
			return
		}

		if exists {
			if m.replay(w, cached, fingerprint) {
				return
			}
			// In flight elsewhere or a different payload: the transfer log
			// decides what this request gets.
			next.ServeHTTP(w, r)
			return
		}

		recorder := newStatusRecorder(w, true)
		next.ServeHTTP(recorder, r)

		ctx := context.WithoutCancel(r.Context())
		if !isFinalOutcome(recorder.statusCode) {
			if err := m.store.Release(ctx, storeKey); err != nil {
				m.logger.Warn().Err(err).Str("idempotency_key", key).Msg("failed to release idempotency key")
			}
			return
		}

		entry, err := json.Marshal(cachedResponse{
			Fingerprint: fingerprint,
			Status:      recorder.statusCode,
			Body:        recorder.body.Bytes(),
		})
		if err == nil {
			err = m.store.Update(ctx, storeKey, entry, m.ttl)
		}
		if err != nil {
			m.logger.Warn().Err(err).Str("idempotency_key", key).Msg("failed to store idempotent response")
		}
	})
}

func (m *IdempotencyMiddleware) replay(w http.ResponseWriter, cached []byte, fingerprint string) bool {
	if len(cached) == 0 || string(cached) == processingMarker {
		return false
	}

	var entry cachedResponse
	if err := json.Unmarshal(cached, &entry); err != nil {
		m.logger.Warn().Err(err).Msg("discarding unreadable idempotent response")
		return false
	}
	if entry.Fingerprint != fingerprint {
		return false
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(IdempotencyReplayHeader, "true")
	w.WriteHeader(entry.Status)
	_, _ = w.Write(entry.Body)
	return true
}

func isFinalOutcome(status int) bool {
	return status == http.StatusOK || status == http.StatusMultiStatus
}

func fingerprintRequest(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{0})
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func writeMiddlewareError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
