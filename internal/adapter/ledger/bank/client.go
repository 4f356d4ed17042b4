// Package bank adapts the bank deposit ledger API to the ledger client
// contract. The bank exchanges amounts in cents and authenticates with an API
// key header.
package bank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/ledgerbridge/internal/adapter/ledger/transport"
	"github.com/iho/ledgerbridge/internal/domain"
	"github.com/iho/ledgerbridge/internal/infrastructure/metrics"
)

const (
	directionDebit  = "debit"
	directionCredit = "credit"

	codeInsufficientFunds = "insufficient_funds"
	codeDuplicateKey      = "duplicate_idempotency_key"

	// searchPageSize bounds the transaction history scanned by FindOperation.
	searchPageSize = 100
)

// Config configures the bank client.
type Config struct {
	BaseURL  string
	APIKey   string
	Currency string
	Timeout  time.Duration
	Breaker  transport.BreakerConfig
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
}

// Client talks to the bank ledger.
type Client struct {
	http     *transport.Client
	currency string
}

// NewClient creates a bank ledger client.
func NewClient(cfg Config) (*Client, error) {
	apiKey := cfg.APIKey
	httpClient, err := transport.New(transport.Config{
		Name:    string(domain.LedgerBank),
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
		Breaker: cfg.Breaker,
		Authorize: func(r *http.Request) {
			r.Header.Set("X-API-Key", apiKey)
		},
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}

	currency := cfg.Currency
	if currency == "" {
		currency = domain.DefaultCurrency
	}

	return &Client{http: httpClient, currency: strings.ToUpper(currency)}, nil
}

type depositAccount struct {
	ID                    string `json:"id"`
	Email                 string `json:"email"`
	Status                string `json:"status"`
	Currency              string `json:"currency"`
	AvailableBalanceCents int64  `json:"available_balance_cents"`
}

type transaction struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"account_id"`
	Direction      string    `json:"direction"`
	Status         string    `json:"status"`
	AmountCents    int64     `json:"amount_cents"`
	Currency       string    `json:"currency"`
	Description    string    `json:"description"`
	IdempotencyKey string    `json:"idempotency_key"`
	CreatedAt      time.Time `json:"created_at"`
}

type createTransaction struct {
	AccountID      string `json:"account_id"`
	Direction      string `json:"direction"`
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
	Description    string `json:"description"`
	IdempotencyKey string `json:"idempotency_key"`
}

type envelope[T any] struct {
	Data T `json:"data"`
}

type apiError struct {
	Code                  string `json:"code"`
	Message               string `json:"message"`
	AvailableBalanceCents int64  `json:"available_balance_cents"`
}

// Kind implements the ledger client contract.
func (c *Client) Kind() domain.LedgerKind {
	return domain.LedgerBank
}

// ResolveAccount finds the open deposit account registered to identity.
func (c *Client) ResolveAccount(ctx context.Context, identity string) (domain.AccountRef, error) {
	email := domain.NormalizeIdentity(identity)
	query := url.Values{"filter[email]": {email}}

	var resp envelope[[]depositAccount]
	if err := c.http.Get(ctx, "/deposit-accounts", query, &resp); err != nil {
		return domain.AccountRef{}, transport.LookupError(err)
	}

	for _, acct := range resp.Data {
		if domain.NormalizeIdentity(acct.Email) != email || !isOpen(acct.Status) {
			continue
		}
		return domain.AccountRef{Ledger: domain.LedgerBank, ExternalID: acct.ID, OwnerIdentity: email}, nil
	}
	return domain.AccountRef{}, domain.ErrIdentityNotFound
}

// GetBalance returns the available balance of the deposit account.
func (c *Client) GetBalance(ctx context.Context, account domain.AccountRef) (domain.Money, error) {
	var resp envelope[depositAccount]
	if err := c.http.Get(ctx, "/deposit-accounts/"+url.PathEscape(account.ExternalID), nil, &resp); err != nil {
		return domain.Money{}, c.mapError(err, domain.Money{})
	}

	currency := resp.Data.Currency
	if currency == "" {
		currency = c.currency
	}
	return domain.MoneyFromCents(resp.Data.AvailableBalanceCents, currency), nil
}

// Debit withdraws amount from the deposit account.
func (c *Client) Debit(ctx context.Context, account domain.AccountRef, amount domain.Money, memo, tag string) (*domain.LedgerOpResult, error) {
	return c.post(ctx, directionDebit, account, amount, memo, tag)
}

// Credit deposits amount into the deposit account.
func (c *Client) Credit(ctx context.Context, account domain.AccountRef, amount domain.Money, memo, tag string) (*domain.LedgerOpResult, error) {
	return c.post(ctx, directionCredit, account, amount, memo, tag)
}

// FindOperation scans the recent transactions of account for tag.
func (c *Client) FindOperation(ctx context.Context, account domain.AccountRef, tag string) (*domain.LedgerOpResult, error) {
	query := url.Values{
		"idempotency_key": {tag},
		"limit":           {fmt.Sprint(searchPageSize)},
	}

	var resp envelope[[]transaction]
	path := "/deposit-accounts/" + url.PathEscape(account.ExternalID) + "/transactions"
	if err := c.http.Get(ctx, path, query, &resp); err != nil {
		return nil, c.mapError(err, domain.Money{})
	}

	for _, txn := range resp.Data {
		if txn.IdempotencyKey != tag && !strings.Contains(txn.Description, tag) {
			continue
		}
		if isFailed(txn.Status) {
			continue
		}
		return c.result(txn), nil
	}
	return nil, domain.ErrOperationNotFound
}

func (c *Client) post(ctx context.Context, direction string, account domain.AccountRef, amount domain.Money, memo, tag string) (*domain.LedgerOpResult, error) {
	if amount.Currency != c.currency {
		return nil, fmt.Errorf("%w: bank ledger holds %s, not %s", domain.ErrLedgerRejected, c.currency, amount.Currency)
	}

	body := createTransaction{
		AccountID:      account.ExternalID,
		Direction:      direction,
		AmountCents:    amount.Cents(),
		Currency:       amount.Currency,
		Description:    describe(memo, tag),
		IdempotencyKey: tag,
	}

	var resp envelope[transaction]
	if err := c.http.Post(ctx, "/transactions", body, &resp); err != nil {
		if apiErrorCode(err) == codeDuplicateKey {
			return c.existing(ctx, account, tag)
		}
		return nil, c.mapError(err, amount)
	}
	if isFailed(resp.Data.Status) {
		return nil, fmt.Errorf("%w: transaction %s %s", domain.ErrLedgerRejected, resp.Data.ID, resp.Data.Status)
	}

	return c.result(resp.Data), nil
}

// existing returns the transaction the bank already holds under tag.
func (c *Client) existing(ctx context.Context, account domain.AccountRef, tag string) (*domain.LedgerOpResult, error) {
	res, err := c.FindOperation(ctx, account, tag)
	if errors.Is(err, domain.ErrOperationNotFound) {
		return nil, fmt.Errorf("%w: bank reported %s as duplicate but does not list it", domain.ErrLedgerUnavailable, tag)
	}
	return res, err
}

func (c *Client) result(txn transaction) *domain.LedgerOpResult {
	currency := txn.Currency
	if currency == "" {
		currency = c.currency
	}
	return &domain.LedgerOpResult{
		ExternalRef: txn.ID,
		Status:      txn.Status,
		Amount:      domain.MoneyFromCents(txn.AmountCents, currency),
		Memo:        txn.Description,
		At:          txn.CreatedAt,
	}
}

// mapError translates bank error bodies. required is set for debits so an
// insufficient-funds refusal can report the requested amount.
func (c *Client) mapError(err error, required domain.Money) error {
	var statusErr *transport.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode >= http.StatusInternalServerError {
		return err
	}

	if statusErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", domain.ErrLedgerRejected, transport.DecodeError(statusErr.Body))
	}

	var body apiError
	if json.Unmarshal([]byte(statusErr.Body), &body) == nil && body.Code == codeInsufficientFunds {
		return &domain.InsufficientFundsError{
			Available: domain.MoneyFromCents(body.AvailableBalanceCents, c.currency),
			Required:  required,
		}
	}
	return err
}

func apiErrorCode(err error) string {
	var statusErr *transport.StatusError
	if !errors.As(err, &statusErr) {
		return ""
	}
	var body apiError
	if json.Unmarshal([]byte(statusErr.Body), &body) != nil {
		return ""
	}
	return body.Code
}

// describe embeds the operation tag in the description so transactions stay
// searchable when the bank drops the idempotency key from listings.
func describe(memo, tag string) string {
	if memo == "" {
		return tag
	}
	return memo + " [" + tag + "]"
}

func isOpen(status string) bool {
	return status == "" || strings.EqualFold(status, "open") || strings.EqualFold(status, "active")
}

func isFailed(status string) bool {
	switch strings.ToLower(status) {
	case "failed", "rejected", "canceled", "cancelled", "returned":
		return true
	}
	return false
}
