package utils

import (
	"errors"
	"testing"
)

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"99,850", "99.85"},
		{"101.25", "101.25"},
		{"1 234,5", "1234.5"},
		{"1 234,50", "1234.5"},
		{"1.234,56", "1234.56"},
		{"2,75%", "2.75"},
		{" 100 ", "100"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			d, err := ParseDecimal(tt.input)
			if err != nil {
				t.Fatalf("ParseDecimal(%q) error: %v", tt.input, err)
			}
			if d.String() != tt.expected {
				t.Errorf("ParseDecimal(%q) = %s, want %s", tt.input, d.String(), tt.expected)
			}
		})
	}
}

func TestParseDecimalInvalid(t *testing.T) {
	if _, err := ParseDecimal("   "); !errors.Is(err, ErrEmptyNumber) {
		t.Errorf("expected ErrEmptyNumber, got %v", err)
	}
	if _, err := ParseDecimal("KURS NIEOKREŚLONY"); err == nil {
		t.Error("expected error for non-numeric text")
	}
}

func TestIsSentinel(t *testing.T) {
	sentinels := []string{"-", "KURS NIEOKREŚLONY"}
	tests := []struct {
		input string
		want  bool
	}{
		{"-", true},
		{" - ", true},
		{"kurs nieokreślony", true},
		{"", true},
		{"99,85", false},
	}
	for _, tt := range tests {
		if got := IsSentinel(tt.input, sentinels); got != tt.want {
			t.Errorf("IsSentinel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestFormatRatePct(t *testing.T) {
	tests := []struct {
		input    float64
		expected string
	}{
		{0.0531, "5.31%"},
		{-0.0012, "-0.12%"},
		{0.00001, "0.00%"},
		{0, "0.00%"},
	}
	for _, tt := range tests {
		if got := FormatRatePct(tt.input); got != tt.expected {
			t.Errorf("FormatRatePct(%f) = %s, want %s", tt.input, got, tt.expected)
		}
	}
}

func TestFormatTenor(t *testing.T) {
	tests := map[int]string{12: "1y", 24: "2y", 60: "5y", 120: "10y", 6: "6m", 0: "0y"}
	for in, want := range tests {
		if got := FormatTenor(in); got != want {
			t.Errorf("FormatTenor(%d) = %s, want %s", in, got, want)
		}
	}
}
