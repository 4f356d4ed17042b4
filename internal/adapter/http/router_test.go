package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/ledgerbridge/internal/adapter/http/dto"
	"github.com/iho/ledgerbridge/internal/adapter/http/handler"
	apimiddleware "github.com/iho/ledgerbridge/internal/adapter/http/middleware"
	"github.com/iho/ledgerbridge/internal/adapter/ledger/memory"
	"github.com/iho/ledgerbridge/internal/adapter/lock"
	"github.com/iho/ledgerbridge/internal/domain"
	"github.com/iho/ledgerbridge/internal/usecase"
	"github.com/iho/ledgerbridge/internal/usecase/mocks"
)

const testRequestID = "3f2a9c1e-8b7d-4e6f-9a5b-1c2d3e4f5a6b"

type sandbox struct {
	bank      *memory.Ledger
	brokerage *memory.Ledger
	log       *mocks.MockTransferLog
	store     *mocks.MockIdempotencyStore
}

func newSandbox() *sandbox {
	s := &sandbox{
		bank:      memory.New(domain.LedgerBank),
		brokerage: memory.New(domain.LedgerBrokerage),
		log:       mocks.NewMockTransferLog(),
		store:     mocks.NewMockIdempotencyStore(),
	}
	s.bank.Open("ada@example.com", decimal.NewFromInt(500))
	s.brokerage.Open("ada@example.com", decimal.NewFromInt(50))
	return s
}

func (s *sandbox) routerConfig(opts ...func(*RouterConfig)) RouterConfig {
	policy := usecase.DefaultRetryPolicy()
	policy.InitialInterval = time.Millisecond
	policy.MaxInterval = time.Millisecond

	coordinator := usecase.NewTransferCoordinator(
		usecase.NewLedgers(s.bank, s.brokerage),
		s.log,
		lock.NewLocal(),
		mocks.NewMockIDGenerator(),
		usecase.WithRetryPolicy(policy),
	)

	cfg := RouterConfig{
		HealthHandler:    handler.NewHealthHandler(),
		TransferHandler:  handler.NewTransferHandler(coordinator, handler.TransferHandlerConfig{DefaultCurrency: "USD"}),
		IdempotencyStore: s.store,
		Logger:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func post(router http.Handler, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestNewRouter_HealthEndpointAvailable(t *testing.T) {
	router := NewRouter(newSandbox().routerConfig())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected /health to return 200, got %d", rec.Code)
	}
}

func TestNewRouter_RateLimiterBlocksExcessRequests(t *testing.T) {
	rl := apimiddleware.NewRateLimiter(1, 1)
	router := NewRouter(newSandbox().routerConfig(func(cfg *RouterConfig) {
		cfg.RateLimiter = rl
	}))

	req1 := httptest.NewRequest(http.MethodGet, "/health", nil)
	req1.RemoteAddr = "1.2.3.4:1234"
	rec1 := httptest.NewRecorder()
	router.ServeHTTP(rec1, req1)
	if rec1.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", rec1.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/health", nil)
	req2.RemoteAddr = "1.2.3.4:1234"
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be throttled, got %d", rec2.Code)
	}
}

func TestNewRouter_RegistersKeyRoutes(t *testing.T) {
	router := NewRouter(newSandbox().routerConfig(func(cfg *RouterConfig) {
		cfg.MetricsHandler = http.NotFoundHandler()
	}))

	chiRoutes, ok := router.(chi.Router)
	if !ok {
		t.Fatal("router does not implement chi.Routes")
	}

	seen := map[string]bool{}
	if err := chi.Walk(chiRoutes, func(method string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		seen[method+" "+route] = true
		return nil
	}); err != nil {
		t.Fatalf("walk failed: %v", err)
	}

	expected := []string{
		"GET /health",
		"GET /ready",
		"GET /metrics",
		"POST /transfers/bank-to-brokerage",
		"POST /transfers/brokerage-to-bank",
		"GET /transfers/review",
		"GET /transfers/{requestId}",
	}

	for _, route := range expected {
		if !seen[route] {
			t.Fatalf("expected route %s to be registered", route)
		}
	}
}

func TestRouter_TransferEndToEnd(t *testing.T) {
	s := newSandbox()
	router := NewRouter(s.routerConfig())

	body := `{"identity":"Ada@Example.com","amount":200,"memo":"fund","requestId":"` + testRequestID + `"}`
	first := post(router, "/transfers/bank-to-brokerage", body, nil)
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", first.Code, first.Body.String())
	}

	var resp dto.TransferResponse
	if err := json.Unmarshal(first.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.State != string(domain.StateCompleted) || resp.RequestID != testRequestID {
		t.Fatalf("unexpected response %+v", resp)
	}

	second := post(router, "/transfers/bank-to-brokerage", body, nil)
	if second.Code != http.StatusOK || second.Body.String() != first.Body.String() {
		t.Fatalf("replay must equal the first response:\n%s\n%s", first.Body.String(), second.Body.String())
	}

	if !s.bank.Balance("ada@example.com").Equal(decimal.NewFromInt(300)) {
		t.Fatalf("bank debited more than once: %s", s.bank.Balance("ada@example.com"))
	}
	if !s.brokerage.Balance("ada@example.com").Equal(decimal.NewFromInt(250)) {
		t.Fatalf("brokerage credited more than once: %s", s.brokerage.Balance("ada@example.com"))
	}

	get := httptest.NewRecorder()
	router.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/transfers/"+testRequestID, nil))
	if get.Code != http.StatusOK {
		t.Fatalf("expected lookup to succeed, got %d", get.Code)
	}
	var detail dto.TransferDetailResponse
	if err := json.Unmarshal(get.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(detail.History) != 4 {
		t.Fatalf("expected four transitions, got %+v", detail.History)
	}
}

func TestRouter_InsufficientFundsIsConflict(t *testing.T) {
	s := newSandbox()
	router := NewRouter(s.routerConfig())

	rec := post(router, "/transfers/brokerage-to-bank", `{"identity":"ada@example.com","amount":"75"}`, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	if s.bank.Mutations()+s.brokerage.Mutations() != 0 {
		t.Fatal("rejected transfer must not touch either ledger")
	}
}

func TestRouter_UnknownIdentityIsNotFound(t *testing.T) {
	router := NewRouter(newSandbox().routerConfig())

	rec := post(router, "/transfers/bank-to-brokerage", `{"identity":"grace@example.com","amount":1}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRouter_CompensatedTransferIsMultiStatus(t *testing.T) {
	s := newSandbox()
	s.brokerage.Inject(memory.OpCredit, memory.Fault{Err: domain.ErrLedgerRejected})
	router := NewRouter(s.routerConfig())

	rec := post(router, "/transfers/bank-to-brokerage", `{"identity":"ada@example.com","amount":100}`,
		map[string]string{apimiddleware.IdempotencyKeyHeader: "mobile-retry-7"})
	if rec.Code != http.StatusMultiStatus {
		t.Fatalf("expected 207, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp dto.TransferResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.State != string(domain.StateCompensated) {
		t.Fatalf("expected COMPENSATED, got %s", resp.State)
	}
	if !s.bank.Balance("ada@example.com").Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected bank balance restored, got %s", s.bank.Balance("ada@example.com"))
	}

	replay := post(router, "/transfers/bank-to-brokerage", `{"identity":"ada@example.com","amount":100}`,
		map[string]string{apimiddleware.IdempotencyKeyHeader: "mobile-retry-7"})
	if replay.Header().Get(apimiddleware.IdempotencyReplayHeader) != "true" || replay.Code != http.StatusMultiStatus {
		t.Fatalf("expected replayed 207, got %d", replay.Code)
	}
}
