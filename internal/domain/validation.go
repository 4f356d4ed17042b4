package domain

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Validation constants
const (
	MaxMemoLength      = 140
	MaxIdentityLength  = 254
	MaxTransferAmount  = "1000000" // per-transfer ceiling
	MinTransferAmount  = "0.01"
	MaxAmountPrecision = 2
)

// Valid currency codes (ISO 4217). Only currencies with two minor digits are
// listed: amounts and cents conversion assume that precision.
var validCurrencies = map[string]bool{
	"USD": true, "EUR": true, "GBP": true,
	"CAD": true, "AUD": true, "CHF": true,
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// ValidateCurrency validates currency code
func ValidateCurrency(currency string) error {
	currency = strings.ToUpper(strings.TrimSpace(currency))

	if !validCurrencies[currency] {
		return NewValidationError("currency", fmt.Sprintf("%q is not a supported ISO 4217 code", currency))
	}

	return nil
}

// ValidateAmount checks sign, bounds and precision of a transfer amount.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return NewValidationError("amount", "must be positive")
	}

	if !amount.Equal(amount.Truncate(MaxAmountPrecision)) {
		return NewValidationError("amount", fmt.Sprintf("at most %d decimal places", MaxAmountPrecision))
	}

	if amount.LessThan(decimal.RequireFromString(MinTransferAmount)) {
		return NewValidationError("amount", "minimum amount is "+MinTransferAmount)
	}

	if amount.GreaterThan(decimal.RequireFromString(MaxTransferAmount)) {
		return NewValidationError("amount", "maximum amount is "+MaxTransferAmount)
	}

	return nil
}

// ValidateIdentity validates the owner identity, an email address.
func ValidateIdentity(identity string) error {
	identity = strings.TrimSpace(identity)

	if identity == "" {
		return NewValidationError("identity", "is required")
	}

	if len(identity) > MaxIdentityLength || !emailRegex.MatchString(identity) {
		return NewValidationError("identity", "must be an email address")
	}

	return nil
}

// NormalizeIdentity lower-cases and trims an email identity.
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// ValidateMemo limits memo length and rejects control characters and
// malformed UTF-8.
func ValidateMemo(memo string) error {
	if !utf8.ValidString(memo) {
		return NewValidationError("memo", "must be valid UTF-8")
	}

	if utf8.RuneCountInString(memo) > MaxMemoLength {
		return NewValidationError("memo", fmt.Sprintf("exceeds %d characters", MaxMemoLength))
	}

	for _, r := range memo {
		if r < 0x20 || r == 0x7f {
			return NewValidationError("memo", "contains control characters")
		}
	}

	return nil
}

// ValidateRequestID requires a UUID.
func ValidateRequestID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return NewValidationError("requestId", "must be a UUID")
	}

	return nil
}
