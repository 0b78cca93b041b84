package postgres

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// amounts are stored as NUMERIC(18,2) and read back as text
const amountScale = 2

func parseNumeric(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty numeric string")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return d.Round(amountScale), nil
}

func formatNumeric(d decimal.Decimal) string {
	return d.StringFixed(amountScale)
}
