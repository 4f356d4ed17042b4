// Package transport is the JSON-over-HTTP client shared by the ledger
// adapters. It maps transport failures onto the domain error classes and
// guards each ledger with a circuit breaker.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/iho/ledgerbridge/internal/domain"
	"github.com/iho/ledgerbridge/internal/infrastructure/metrics"
)

// ErrNotFound is returned for 404 responses. Adapters translate it to the
// domain meaning of the endpoint.
var ErrNotFound = errors.New("resource not found")

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 4 << 10

// StatusError is a non-2xx response that is not a transport failure.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ledger responded %d: %s", e.StatusCode, e.Body)
}

// Is classifies the status: 404 is ErrNotFound, other 4xx are rejections.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case domain.ErrLedgerRejected:
		return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusNotFound
	}
	return false
}

// LookupError classifies a failed account lookup. A 404 means the ledger holds
// no such account; any other status means the ledger could not answer.
func LookupError(err error) error {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return err
	}
	if statusErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", domain.ErrIdentityNotFound, DecodeError(statusErr.Body))
	}
	if errors.Is(err, domain.ErrLedgerUnavailable) {
		return err
	}
	return fmt.Errorf("%w: account lookup answered %d: %s",
		domain.ErrLedgerUnavailable, statusErr.StatusCode, DecodeError(statusErr.Body))
}

// BreakerConfig configures the per-ledger circuit breaker.
type BreakerConfig struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
}

// Config configures a Client.
type Config struct {
	Name       string
	BaseURL    string
	Timeout    time.Duration
	Breaker    BreakerConfig
	Authorize  func(*http.Request)
	HTTPClient *http.Client
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

// Client sends JSON requests to one ledger.
type Client struct {
	name      string
	base      *url.URL
	http      *http.Client
	breaker   *gobreaker.CircuitBreaker
	authorize func(*http.Request)
	logger    zerolog.Logger
}

// New creates a Client for cfg.BaseURL.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid %s ledger url %q", cfg.Name, cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	if cfg.Breaker.ConsecutiveFailures == 0 {
		cfg.Breaker.ConsecutiveFailures = 5
	}
	if cfg.Breaker.OpenTimeout <= 0 {
		cfg.Breaker.OpenTimeout = 30 * time.Second
	}
	if cfg.Breaker.HalfOpenRequests == 0 {
		cfg.Breaker.HalfOpenRequests = 1
	}

	logger := cfg.Logger.With().Str("ledger", cfg.Name).Logger()
	m := cfg.Metrics
	m.SetCircuitState(cfg.Name, 0)

	settings := gobreaker.Settings{
		Name:        "ledger-" + strings.ToLower(cfg.Name),
		MaxRequests: cfg.Breaker.HalfOpenRequests,
		Timeout:     cfg.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Breaker.ConsecutiveFailures
		},
		// Only transport failures count against the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || !domain.IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("ledger circuit breaker state changed")
			m.SetCircuitState(cfg.Name, breakerStateValue(to))
		},
	}

	return &Client{
		name:      cfg.Name,
		base:      base,
		http:      httpClient,
		breaker:   gobreaker.NewCircuitBreaker(settings),
		authorize: cfg.Authorize,
		logger:    logger,
	}, nil
}

// Get sends a GET and decodes the response into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, out)
}

// Post sends body as JSON and decodes the response into out.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, nil, body, out)
}

// Do sends one request through the circuit breaker.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.do(ctx, method, path, query, body, out)
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: %s circuit open", domain.ErrLedgerUnavailable, c.name)
	default:
		return err
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	u := *c.base
	u.Path = c.base.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authorize != nil {
		c.authorize(req)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("method", method).Str("path", path).Msg("ledger request failed")
		return classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("ledger request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %w", domain.ErrLedgerUnavailable, statusErr)
		}
		return statusErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return classifyTransportError(ctx, err)
		}
		return fmt.Errorf("%w: malformed response: %w", domain.ErrLedgerUnavailable, err)
	}

	return nil
}

func classifyTransportError(ctx context.Context, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %w", domain.ErrLedgerUnavailable, err)
	}
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// DecodeError extracts a "message" or "error" field from a JSON error body.
func DecodeError(body string) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return body
	}
	if payload.Message != "" {
		return payload.Message
	}
	if payload.Error != "" {
		return payload.Error
	}
	return body
}
