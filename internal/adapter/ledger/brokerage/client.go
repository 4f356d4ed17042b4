// Package brokerage adapts the brokerage cash API to the ledger client
// contract. Amounts travel as decimal strings and requests use HTTP basic
// authentication with an API key pair.
package brokerage

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
	"github.com/shopspring/decimal"

	"github.com/iho/ledgerbridge/internal/adapter/ledger/transport"
	"github.com/iho/ledgerbridge/internal/domain"
	"github.com/iho/ledgerbridge/internal/infrastructure/metrics"
)

const (
	activityDeposit    = "CSD"
	activityWithdrawal = "CSW"

	activityPageSize = 100
)

// Config configures the brokerage client.
type Config struct {
	BaseURL   string
	KeyID     string
	SecretKey string
	Currency  string
	Timeout   time.Duration
	Breaker   transport.BreakerConfig
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
}

// Client talks to the brokerage cash ledger.
type Client struct {
	http     *transport.Client
	currency string
	logger   zerolog.Logger
}

// NewClient creates a brokerage ledger client.
func NewClient(cfg Config) (*Client, error) {
	keyID, secret := cfg.KeyID, cfg.SecretKey
	httpClient, err := transport.New(transport.Config{
		Name:    string(domain.LedgerBrokerage),
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
		Breaker: cfg.Breaker,
		Authorize: func(r *http.Request) {
			r.SetBasicAuth(keyID, secret)
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

	return &Client{
		http:     httpClient,
		currency: strings.ToUpper(currency),
		logger:   cfg.Logger.With().Str("ledger", string(domain.LedgerBrokerage)).Logger(),
	}, nil
}

type contact struct {
	EmailAddress string `json:"email_address"`
}

type account struct {
	ID            string  `json:"id"`
	AccountNumber string  `json:"account_number"`
	Status        string  `json:"status"`
	Currency      string  `json:"currency"`
	Contact       contact `json:"contact"`
}

type tradingAccount struct {
	ID               string          `json:"id"`
	Currency         string          `json:"currency"`
	Cash             decimal.Decimal `json:"cash"`
	CashWithdrawable decimal.Decimal `json:"cash_withdrawable"`
}

type cashMovement struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
	ClientRef   string `json:"client_ref"`
}

type cashResponse struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
	ClientRef   string          `json:"client_ref"`
	CreatedAt   time.Time       `json:"created_at"`
}

type activity struct {
	ID           string          `json:"id"`
	ActivityType string          `json:"activity_type"`
	Status       string          `json:"status"`
	NetAmount    decimal.Decimal `json:"net_amount"`
	Description  string          `json:"description"`
	ClientRef    string          `json:"client_ref"`
	Date         time.Time       `json:"date"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Kind implements the ledger client contract.
func (c *Client) Kind() domain.LedgerKind {
	return domain.LedgerBrokerage
}

// ResolveAccount searches brokerage accounts by the owner's email. The search
// is fuzzy, so only an exact email match on an active account counts.
func (c *Client) ResolveAccount(ctx context.Context, identity string) (domain.AccountRef, error) {
	email := domain.NormalizeIdentity(identity)

	var accounts []account
	if err := c.http.Get(ctx, "/v1/accounts", url.Values{"query": {email}}, &accounts); err != nil {
		return domain.AccountRef{}, transport.LookupError(err)
	}

	for _, acct := range accounts {
		if domain.NormalizeIdentity(acct.Contact.EmailAddress) != email {
			continue
		}
		if !strings.EqualFold(acct.Status, "ACTIVE") {
			c.logger.Debug().Str("account_id", acct.ID).Str("status", acct.Status).Msg("skipping inactive brokerage account")
			continue
		}
		return domain.AccountRef{Ledger: domain.LedgerBrokerage, ExternalID: acct.ID, OwnerIdentity: email}, nil
	}
	return domain.AccountRef{}, domain.ErrIdentityNotFound
}

// GetBalance returns the withdrawable cash of the trading account.
func (c *Client) GetBalance(ctx context.Context, ref domain.AccountRef) (domain.Money, error) {
	var acct tradingAccount
	path := "/v1/trading/accounts/" + url.PathEscape(ref.ExternalID) + "/account"
	if err := c.http.Get(ctx, path, nil, &acct); err != nil {
		return domain.Money{}, c.mapError(ctx, err, domain.AccountRef{}, domain.Money{})
	}

	currency := acct.Currency
	if currency == "" {
		currency = c.currency
	}
	return domain.NewMoney(acct.CashWithdrawable, currency), nil
}

// Debit withdraws cash from the brokerage account.
func (c *Client) Debit(ctx context.Context, ref domain.AccountRef, amount domain.Money, memo, tag string) (*domain.LedgerOpResult, error) {
	return c.move(ctx, "withdrawals", ref, amount, memo, tag)
}

// Credit deposits cash into the brokerage account.
func (c *Client) Credit(ctx context.Context, ref domain.AccountRef, amount domain.Money, memo, tag string) (*domain.LedgerOpResult, error) {
	return c.move(ctx, "deposits", ref, amount, memo, tag)
}

// FindOperation scans recent cash activities of the account for tag.
func (c *Client) FindOperation(ctx context.Context, ref domain.AccountRef, tag string) (*domain.LedgerOpResult, error) {
	query := url.Values{
		"activity_types": {activityDeposit + "," + activityWithdrawal},
		"page_size":      {fmt.Sprint(activityPageSize)},
		"direction":      {"desc"},
	}

	var activities []activity
	path := "/v1/accounts/" + url.PathEscape(ref.ExternalID) + "/activities"
	if err := c.http.Get(ctx, path, query, &activities); err != nil {
		return nil, c.mapError(ctx, err, domain.AccountRef{}, domain.Money{})
	}

	for _, a := range activities {
		if a.ClientRef != tag && !strings.Contains(a.Description, tag) {
			continue
		}
		if isFailed(a.Status) {
			continue
		}
		return &domain.LedgerOpResult{
			ExternalRef: a.ID,
			Status:      a.Status,
			Amount:      domain.NewMoney(a.NetAmount.Abs(), c.currency),
			Memo:        a.Description,
			At:          a.Date,
		}, nil
	}
	return nil, domain.ErrOperationNotFound
}

func (c *Client) move(ctx context.Context, kind string, ref domain.AccountRef, amount domain.Money, memo, tag string) (*domain.LedgerOpResult, error) {
	if amount.Currency != c.currency {
		return nil, fmt.Errorf("%w: brokerage ledger holds %s, not %s", domain.ErrLedgerRejected, c.currency, amount.Currency)
	}

	body := cashMovement{
		Amount:      amount.Amount.StringFixed(2),
		Currency:    amount.Currency,
		Description: describe(memo, tag),
		ClientRef:   tag,
	}

	var resp cashResponse
	path := "/v1/accounts/" + url.PathEscape(ref.ExternalID) + "/cash/" + kind
	if err := c.http.Post(ctx, path, body, &resp); err != nil {
		if kind == "withdrawals" {
			return nil, c.mapError(ctx, err, ref, amount)
		}
		return nil, c.mapError(ctx, err, domain.AccountRef{}, domain.Money{})
	}
	if isFailed(resp.Status) {
		return nil, fmt.Errorf("%w: cash %s %s %s", domain.ErrLedgerRejected, kind, resp.ID, resp.Status)
	}

	currency := resp.Currency
	if currency == "" {
		currency = c.currency
	}
	return &domain.LedgerOpResult{
		ExternalRef: resp.ID,
		Status:      resp.Status,
		Amount:      domain.NewMoney(resp.Amount, currency),
		Memo:        resp.Description,
		At:          resp.CreatedAt,
	}, nil
}

// mapError translates brokerage refusals. When a withdrawal from debited is
// refused for lack of cash, the current withdrawable balance is fetched so the
// error carries both figures.
func (c *Client) mapError(ctx context.Context, err error, debited domain.AccountRef, required domain.Money) error {
	var statusErr *transport.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode >= http.StatusInternalServerError {
		return err
	}

	var body apiError
	_ = json.Unmarshal([]byte(statusErr.Body), &body)

	if !debited.IsZero() && isInsufficient(statusErr.StatusCode, body.Message) {
		available, balErr := c.GetBalance(ctx, debited)
		if balErr != nil {
			available = domain.NewMoney(decimal.Zero, c.currency)
		}
		return &domain.InsufficientFundsError{Available: available, Required: required}
	}

	if statusErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", domain.ErrLedgerRejected, transport.DecodeError(statusErr.Body))
	}
	return err
}

func isInsufficient(status int, message string) bool {
	if status != http.StatusForbidden && status != http.StatusUnprocessableEntity {
		return false
	}
	return strings.Contains(strings.ToLower(message), "insufficient")
}

func describe(memo, tag string) string {
	if memo == "" {
		return tag
	}
	return memo + " [" + tag + "]"
}

func isFailed(status string) bool {
	switch strings.ToUpper(status) {
	case "REJECTED", "CANCELED", "FAILED", "RETURNED":
		return true
	}
	return false
}
