// Package extract pulls the text of a single element out of fetched HTML.
//
// A locator is either a CSS selector or an XPath expression. Expressions
// starting with "/", "./" or "(" are treated as XPath, everything else as
// CSS. Only the first match is used.
package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"golang.org/x/net/html"

	"github.com/hazyhaar/pricewatch/pagekeeper/internal/scrape"
)

// ErrInvalidLocator is wrapped when a locator does not compile.
var ErrInvalidLocator = errors.New("extract: invalid locator")

// Document is a parsed page that can answer many locator queries.
type Document struct {
	url  string
	root *html.Node
	doc  *goquery.Document
}

// Parse parses rawHTML once. url is only used in error messages.
func Parse(rawHTML, url string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("extract: parse html: %w", err)
	}
	return &Document{url: url, root: root, doc: goquery.NewDocumentFromNode(root)}, nil
}

// IsXPath reports whether locator is routed to the XPath engine.
func IsXPath(locator string) bool {
	l := strings.TrimSpace(locator)
	return strings.HasPrefix(l, "/") || strings.HasPrefix(l, "./") || strings.HasPrefix(l, "(")
}

// Validate compiles locator without running it.
func Validate(locator string) error {
	l := strings.TrimSpace(locator)
	if l == "" {
		return fmt.Errorf("%w: empty", ErrInvalidLocator)
	}
	if IsXPath(l) {
		if _, err := xpath.Compile(l); err != nil {
			return fmt.Errorf("%w: xpath %q: %v", ErrInvalidLocator, l, err)
		}
		return nil
	}
	if _, err := cascadia.Compile(l); err != nil {
		return fmt.Errorf("%w: css %q: %v", ErrInvalidLocator, l, err)
	}
	return nil
}

// Text returns the trimmed text of the first node matching locator.
// It fails with *scrape.ElementNotFoundError when nothing matches, and with
// an error wrapping ErrInvalidLocator when the locator does not compile.
func (d *Document) Text(locator string) (string, error) {
	l := strings.TrimSpace(locator)
	if l == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidLocator)
	}

	if IsXPath(l) {
		n, err := htmlquery.Query(d.root, l)
		if err != nil {
			return "", fmt.Errorf("%w: xpath %q: %v", ErrInvalidLocator, l, err)
		}
		if n == nil {
			return "", &scrape.ElementNotFoundError{Locator: locator, URL: d.url}
		}
		return strings.TrimSpace(htmlquery.InnerText(n)), nil
	}

	sel, err := cascadia.Compile(l)
	if err != nil {
		return "", fmt.Errorf("%w: css %q: %v", ErrInvalidLocator, l, err)
	}
	match := d.doc.FindMatcher(sel).First()
	if match.Length() == 0 {
		return "", &scrape.ElementNotFoundError{Locator: locator, URL: d.url}
	}
	return strings.TrimSpace(match.Text()), nil
}

// Text is a one-shot helper for a single locator.
func Text(rawHTML, url, locator string) (string, error) {
	d, err := Parse(rawHTML, url)
	if err != nil {
		return "", err
	}
	return d.Text(locator)
}
