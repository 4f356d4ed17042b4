package domain

import (
	"fmt"
	"strings"
)

// LedgerKind identifies one of the external systems of record.
type LedgerKind string

const (
	LedgerBank      LedgerKind = "BANK"
	LedgerBrokerage LedgerKind = "BROKERAGE"
)

// Valid reports whether k is a known ledger.
func (k LedgerKind) Valid() bool {
	return k == LedgerBank || k == LedgerBrokerage
}

// Counterpart returns the other ledger of the pair.
func (k LedgerKind) Counterpart() LedgerKind {
	if k == LedgerBank {
		return LedgerBrokerage
	}
	return LedgerBank
}

// ParseLedgerKind parses a ledger name case-insensitively.
func ParseLedgerKind(s string) (LedgerKind, error) {
	k := LedgerKind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", NewValidationError("ledger", fmt.Sprintf("unknown ledger %q", s))
	}
	return k, nil
}

// AccountRef points at an account inside one ledger. ExternalID is opaque and
// only meaningful to the ledger named by Ledger.
type AccountRef struct {
	Ledger        LedgerKind `json:"ledger"`
	ExternalID    string     `json:"externalId"`
	OwnerIdentity string     `json:"ownerIdentity"`
}

// IsZero reports whether the reference was never resolved.
func (a AccountRef) IsZero() bool {
	return a.ExternalID == ""
}

func (a AccountRef) String() string {
	return string(a.Ledger) + ":" + a.ExternalID
}
