// Package numparse turns scraped strings such as "$1,234.50" or "-12%" into
// numbers.
//
// Commas and spaces are always treated as thousands separators and '.' is
// always the decimal point, so "1.234,56" reads as 1.23456. Callers scraping
// European-formatted pages must pick locators whose text uses '.' decimals.
package numparse

import (
	"math/big"
	"regexp"
	"strings"

	"github.com/hazyhaar/pricewatch/pagekeeper/internal/scrape"
)

var (
	junk      = regexp.MustCompile(`[^\d.,+\- ]`)
	separator = strings.NewReplacer(" ", "", ",", "")
	hundredth = big.NewRat(1, 100)
)

// Options tunes Parse.
type Options struct {
	// AllowPercent scales a trailing '%' by 0.01.
	AllowPercent bool
}

// Parse cleans raw and returns its value. It fails with *scrape.ParseError
// when nothing numeric is left or the remainder is not a decimal literal.
func Parse(raw string, opts Options) (float64, error) {
	r, err := ParseRat(raw, opts)
	if err != nil {
		return 0, err
	}
	f, _ := r.Float64()
	return f, nil
}

// ParseRat is Parse without the final float conversion.
func ParseRat(raw string, opts Options) (*big.Rat, error) {
	s := strings.TrimSpace(raw)

	percent := false
	if opts.AllowPercent && strings.HasSuffix(s, "%") {
		percent = true
		s = strings.TrimSuffix(s, "%")
	}

	cleaned := separator.Replace(junk.ReplaceAllString(s, ""))
	if cleaned == "" {
		return nil, &scrape.ParseError{Raw: raw, Reason: "no numeric component"}
	}

	r, ok := new(big.Rat).SetString(cleaned)
	if !ok {
		return nil, &scrape.ParseError{Raw: raw, Reason: "not a decimal: " + cleaned}
	}
	if percent {
		r.Mul(r, hundredth)
	}
	return r, nil
}
