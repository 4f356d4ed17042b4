package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is the currency used when a request does not name one.
const DefaultCurrency = "USD"

// Money is a fixed-point amount in a single ISO 4217 currency.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// NewMoney builds Money with a normalized currency code.
func NewMoney(amount decimal.Decimal, currency string) Money {
	return Money{Amount: amount, Currency: strings.ToUpper(strings.TrimSpace(currency))}
}

// MustParseMoney parses a decimal string. It panics on malformed input and is
// meant for constants and tests.
func MustParseMoney(amount, currency string) Money {
	return NewMoney(decimal.RequireFromString(amount), currency)
}

// IsPositive reports whether the amount is strictly greater than zero.
func (m Money) IsPositive() bool {
	return m.Amount.IsPositive()
}

// SameCurrency reports whether both values use the same currency.
func (m Money) SameCurrency(other Money) bool {
	return m.Currency == other.Currency
}

// LessThan compares amounts. Both values must share a currency.
func (m Money) LessThan(other Money) bool {
	return m.Amount.LessThan(other.Amount)
}

// Equal reports whether both amount and currency match.
func (m Money) Equal(other Money) bool {
	return m.SameCurrency(other) && m.Amount.Equal(other.Amount)
}

// Add returns m + other. Both values must share a currency.
func (m Money) Add(other Money) Money {
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}
}

// Sub returns m - other. Both values must share a currency.
func (m Money) Sub(other Money) Money {
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}
}

// Cents returns the amount in minor units, rounded half away from zero.
func (m Money) Cents() int64 {
	return m.Amount.Shift(2).Round(0).IntPart()
}

// MoneyFromCents converts minor units to Money.
func MoneyFromCents(cents int64, currency string) Money {
	return NewMoney(decimal.New(cents, -2), currency)
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.StringFixed(2), m.Currency)
}
