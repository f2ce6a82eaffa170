package numparse

import (
	"errors"
	"testing"

	"github.com/hazyhaar/pricewatch/pagekeeper/internal/scrape"
)

func TestParse(t *testing.T) {
	tests := []struct {
		raw     string
		percent bool
		want    float64
	}{
		{"1234.56", false, 1234.56},
		{"  42  ", false, 42},
		{"$1,234.50", false, 1234.50},
		{"1 234.56", false, 1234.56},
		{"€ 99.9", false, 99.9},
		{"-12%", true, -0.12},
		{"+5.5 %", true, 0.055},
		{"0.5", true, 0.5},
		{".75", false, 0.75},
		{"USD -3", false, -3},
		// WHAT: European decimals are read with '.' as the decimal point.
		// WHY: separators are locale-naive; this pins the literal behaviour.
		{"$2 684,00", false, 268400},
		{"1.234,56", false, 1.23456},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := Parse(tt.raw, Options{AllowPercent: tt.percent})
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParse_PercentNotAllowed(t *testing.T) {
	// WHAT: without AllowPercent the '%' is stripped as junk and no scaling happens.
	got, err := Parse("-12%", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if got != -12 {
		t.Errorf("got %v, want -12", got)
	}
}

func TestParse_Failures(t *testing.T) {
	for _, raw := range []string{"abc", "", "   ", "%", "n/a", "1.2.3", "+-4", "-"} {
		t.Run(raw, func(t *testing.T) {
			_, err := Parse(raw, Options{AllowPercent: true})
			if err == nil {
				t.Fatalf("Parse(%q): expected error", raw)
			}
			var pe *scrape.ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("Parse(%q): got %T, want *scrape.ParseError", raw, err)
			}
			if pe.Raw != raw {
				t.Errorf("ParseError.Raw = %q, want %q", pe.Raw, raw)
			}
		})
	}
}

func TestParseRat_Exact(t *testing.T) {
	// WHAT: the percent multiplier is applied exactly before float conversion.
	r, err := ParseRat("33.3%", Options{AllowPercent: true})
	if err != nil {
		t.Fatal(err)
	}
	if r.RatString() != "333/1000" {
		t.Errorf("got %s, want 333/1000", r.RatString())
	}
}
