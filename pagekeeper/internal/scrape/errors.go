// CLAUDE:SUMMARY Scrape error taxonomy shared by fetch, extract, numparse and the runner; Kind() labels feed run-log messages.
// Package scrape holds the error taxonomy and run statuses shared by the
// pagekeeper scraping pipeline.
package scrape

import (
	"errors"
	"fmt"
)

// Kind labels an error family in run-log messages.
type Kind string

const (
	KindRobotsDisallowed Kind = "RobotsDisallowed"
	KindFetch            Kind = "FetchError"
	KindElementNotFound  Kind = "ElementNotFoundError"
	KindParse            Kind = "ParseError"
	KindUnexpected       Kind = "UnexpectedError"
)

// Status is the outcome of a page or element run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailure Status = "failure"
)

// ErrRobotsDisallowed matches any *RobotsDisallowedError via errors.Is.
var ErrRobotsDisallowed = errors.New("scrape: blocked by robots.txt")

// RobotsDisallowedError is returned when robots.txt denies the fetch.
type RobotsDisallowedError struct {
	URL string
}

func (e *RobotsDisallowedError) Error() string {
	return fmt.Sprintf("scrape: blocked by robots.txt: %s", e.URL)
}

func (e *RobotsDisallowedError) Is(target error) bool { return target == ErrRobotsDisallowed }

// Kind implements Kinded.
func (e *RobotsDisallowedError) Kind() Kind { return KindRobotsDisallowed }

// FetchError wraps network failures, timeouts and non-2xx responses.
// Status is zero when no response was received.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("scrape: fetch %s: http %d", e.URL, e.Status)
	}
	return fmt.Sprintf("scrape: fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Kind implements Kinded.
func (e *FetchError) Kind() Kind { return KindFetch }

// ElementNotFoundError is returned when a locator matches nothing.
type ElementNotFoundError struct {
	Locator string
	URL     string
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("scrape: element %q not found on %s", e.Locator, e.URL)
}

// Kind implements Kinded.
func (e *ElementNotFoundError) Kind() Kind { return KindElementNotFound }

// ParseError is returned when a scraped string holds no usable number.
type ParseError struct {
	Raw    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("scrape: parse %q: %s", e.Raw, e.Reason)
}

// Kind implements Kinded.
func (e *ParseError) Kind() Kind { return KindParse }

// UnexpectedError wraps anything outside the taxonomy, including recovered panics.
type UnexpectedError struct {
	Err error
}

func (e *UnexpectedError) Error() string { return fmt.Sprintf("scrape: unexpected: %v", e.Err) }

func (e *UnexpectedError) Unwrap() error { return e.Err }

// Kind implements Kinded.
func (e *UnexpectedError) Kind() Kind { return KindUnexpected }

// Kinded is implemented by every error of the taxonomy.
type Kinded interface {
	error
	Kind() Kind
}

// KindOf returns the taxonomy label of err. Errors outside the taxonomy
// are reported as KindUnexpected.
func KindOf(err error) Kind {
	var k Kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindUnexpected
}
