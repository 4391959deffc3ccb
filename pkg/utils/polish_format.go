// Package utils provides calendar and number-format helpers shared by the
// term-structure stores and the reporting layer.
package utils

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrEmptyNumber is returned when a numeric cell holds no digits at all.
var ErrEmptyNumber = fmt.Errorf("empty numeric value")

// ParseDecimal parses a number written in Polish or plain notation:
// "99,850", "1 234,5", "1 234,5", "101.25", "2,75%".
func ParseDecimal(s string) (decimal.Decimal, error) {
	s = NormalizeNumber(s)
	if s == "" {
		return decimal.Zero, ErrEmptyNumber
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, nil
}

// NormalizeNumber strips grouping whitespace and a trailing percent sign and
// converts a decimal comma into a decimal point.
func NormalizeNumber(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "%")
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f', '\t':
			return -1
		}
		return r
	}, s)
	// "1.234,56" → grouping dots and a decimal comma.
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	return s
}

// IsSentinel reports whether the cell equals one of the "no value" markers,
// compared case-insensitively after trimming.
func IsSentinel(s string, sentinels []string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return true
	}
	for _, v := range sentinels {
		if strings.EqualFold(s, strings.TrimSpace(v)) {
			return true
		}
	}
	return false
}

// FormatRatePct formats a decimal rate as a percentage with two decimals.
// e.g., 0.0531 → "5.31%", -0.0012 → "-0.12%"
func FormatRatePct(rate float64) string {
	if math.Abs(rate) < 0.00005 {
		rate = 0
	}
	return fmt.Sprintf("%.2f%%", rate*100)
}

// FormatTenor renders a maturity in months as a year label when it is a whole
// number of years. e.g., 12 → "1y", 120 → "10y", 6 → "6m"
func FormatTenor(months int) string {
	if months%12 == 0 {
		return fmt.Sprintf("%dy", months/12)
	}
	return fmt.Sprintf("%dm", months)
}
