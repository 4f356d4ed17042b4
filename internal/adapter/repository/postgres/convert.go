package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/iho/ledgerbridge/internal/domain"
)

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric

	_ = n.Scan(d.String())

	return n
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}

	d, _ := decimal.NewFromString(n.Int.String())
	if n.Exp != 0 {
		d = d.Shift(n.Exp)
	}

	return d
}

// legToJSON encodes a leg for a JSONB column; nil stays SQL NULL.
func legToJSON(leg *domain.LegOutcome) ([]byte, error) {
	if leg == nil {
		return nil, nil
	}
	raw, err := json.Marshal(leg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s leg: %w", leg.Leg, err)
	}
	return raw, nil
}

func legFromJSON(raw []byte) (*domain.LegOutcome, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var leg domain.LegOutcome
	if err := json.Unmarshal(raw, &leg); err != nil {
		return nil, fmt.Errorf("failed to decode leg: %w", err)
	}
	return &leg, nil
}
