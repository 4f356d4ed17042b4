package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iho/ledgerbridge/internal/adapter/http/dto"
	"github.com/iho/ledgerbridge/internal/adapter/http/middleware"
	"github.com/iho/ledgerbridge/internal/domain"
)

// TransferService is the part of the transfer coordinator the handler uses.
type TransferService interface {
	Execute(ctx context.Context, req domain.TransferRequest) (*domain.TransferRecord, error)
	GetTransfer(ctx context.Context, requestID string) (*domain.TransferRecord, error)
	History(ctx context.Context, requestID string) ([]domain.StateTransition, error)
	ListNeedingReview(ctx context.Context, limit, offset int) ([]*domain.TransferRecord, error)
}

// TransferHandlerConfig configures request defaults.
type TransferHandlerConfig struct {
	DefaultCurrency string
	// RequestIDBucket is the window in which identical requests without a
	// request ID or Idempotency-Key collapse into one transfer.
	RequestIDBucket time.Duration
}

// TransferHandler handles transfer-related HTTP requests.
type TransferHandler struct {
	transfers TransferService
	cfg       TransferHandlerConfig
	now       func() time.Time
}

// NewTransferHandler creates a new TransferHandler.
func NewTransferHandler(transfers TransferService, cfg TransferHandlerConfig) *TransferHandler {
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "USD"
	}
	return &TransferHandler{transfers: transfers, cfg: cfg, now: time.Now}
}

// BankToBrokerage moves money from the caller's bank account to their
// brokerage account.
func (h *TransferHandler) BankToBrokerage(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, domain.LedgerBank, domain.LedgerBrokerage)
}

// BrokerageToBank moves money from the caller's brokerage account to their
// bank account.
func (h *TransferHandler) BrokerageToBank(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, domain.LedgerBrokerage, domain.LedgerBank)
}

func (h *TransferHandler) create(w http.ResponseWriter, r *http.Request, source, dest domain.LedgerKind) {
	var body dto.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, string(domain.CodeValidation), "invalid request body: "+err.Error())
		return
	}

	req := body.ToDomain(source, dest, h.cfg.DefaultCurrency)
	if req.RequestID == "" {
		req.RequestID = h.requestID(r, req)
	}

	record, err := h.transfers.Execute(r.Context(), req)
	if record == nil {
		if err == nil {
			writeError(w, http.StatusInternalServerError, string(domain.CodeInternal), "transfer produced no record")
			return
		}
		writeDomainError(w, err)
		return
	}

	writeJSON(w, transferStatus(record, err), dto.TransferFromDomain(record, err))
}

// requestID falls back to the Idempotency-Key header, then to an ID derived
// from the request itself.
func (h *TransferHandler) requestID(r *http.Request, req domain.TransferRequest) string {
	if key := strings.TrimSpace(r.Header.Get(middleware.IdempotencyKeyHeader)); key != "" {
		return domain.RequestIDFromKey(key)
	}
	return domain.DeriveRequestID(
		req.OwnerIdentity, req.SourceLedger, req.DestLedger,
		req.Amount, strings.TrimSpace(req.Memo),
		h.now(), h.cfg.RequestIDBucket,
	)
}

// Get returns a transfer with its state history.
func (h *TransferHandler) Get(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestId")
	if requestID == "" {
		writeError(w, http.StatusBadRequest, string(domain.CodeValidation), "missing request ID")
		return
	}

	record, err := h.transfers.GetTransfer(r.Context(), requestID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	history, err := h.transfers.History(r.Context(), requestID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.TransferDetailFromDomain(record, history))
}

// ListReview lists transfers flagged for manual reconciliation.
func (h *TransferHandler) ListReview(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", 20)
	offset := parseIntQuery(r, "offset", 0)

	records, err := h.transfers.ListNeedingReview(r.Context(), limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ReviewListResponse{
		Transfers: dto.TransfersFromDomain(records),
		Limit:     limit,
		Offset:    offset,
	})
}
