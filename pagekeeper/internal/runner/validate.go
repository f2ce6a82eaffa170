package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/pricewatch/pagekeeper/internal/extract"
	"github.com/hazyhaar/pricewatch/pagekeeper/internal/numparse"
	"github.com/hazyhaar/pricewatch/pagekeeper/internal/scrape"
)

// Validation is the parsed value of one locator.
type Validation struct {
	Locator string  `json:"locator"`
	Value   float64 `json:"value"`
}

// ValidationReport is the dry-run result of a set of locators on one URL.
type ValidationReport struct {
	URL      string       `json:"url"`
	Locators []Validation `json:"locators"`
	Missing  []string     `json:"missing,omitempty"`
}

// LocatorParseError reports the first locator whose text is not a number.
type LocatorParseError struct {
	Locator string
	Value   string
	Err     error
}

func (e *LocatorParseError) Error() string {
	return fmt.Sprintf("runner: locator %q: value %q: %v", e.Locator, e.Value, e.Err)
}

func (e *LocatorParseError) Unwrap() error { return e.Err }

// Validate fetches url once and evaluates locators without writing
// anything. Locators that match nothing are listed in Missing; the first
// unparsable value aborts with *LocatorParseError.
func (r *Runner) Validate(ctx context.Context, url string, locators []string) (*ValidationReport, error) {
	f, err := r.startFetcher(ctx)
	if err != nil {
		return nil, &scrape.FetchError{URL: url, Err: err}
	}
	defer f.Stop()

	doc, err := r.loadPage(ctx, f, url)
	if err != nil {
		return nil, err
	}

	rep := &ValidationReport{URL: url, Locators: []Validation{}}
	for _, loc := range locators {
		raw, err := doc.Text(loc)
		var nf *scrape.ElementNotFoundError
		switch {
		case errors.As(err, &nf):
			rep.Missing = append(rep.Missing, loc)
			continue
		case errors.Is(err, extract.ErrInvalidLocator):
			return nil, err
		case err != nil:
			return nil, &scrape.UnexpectedError{Err: err}
		}

		v, err := numparse.Parse(raw, r.parse)
		if err != nil {
			return nil, &LocatorParseError{Locator: loc, Value: raw, Err: err}
		}
		rep.Locators = append(rep.Locators, Validation{Locator: loc, Value: v})
	}
	return rep, nil
}
