package runner

import (
	"strings"

	"github.com/hazyhaar/pricewatch/pagekeeper/internal/scrape"
)

const (
	// MessageSuccess is the page log message of a run without element errors.
	MessageSuccess = "Scraped successfully"
	// MessageNoElements is the page log message of a page with no elements.
	MessageNoElements = "No elements configured; nothing to scrape"
)

// tally groups failed element IDs by error kind in first-seen order.
type tally struct {
	order []scrape.Kind
	ids   map[scrape.Kind][]string
}

func newTally() *tally {
	return &tally{ids: make(map[scrape.Kind][]string)}
}

func (t *tally) add(kind scrape.Kind, elementID string) {
	if _, ok := t.ids[kind]; !ok {
		t.order = append(t.order, kind)
	}
	t.ids[kind] = append(t.ids[kind], elementID)
}

func (t *tally) empty() bool { return len(t.order) == 0 }

// message renders "ElementNotFoundError for element e1; ParseError for elements e2, e3".
func (t *tally) message() string {
	parts := make([]string, 0, len(t.order))
	for _, k := range t.order {
		ids := t.ids[k]
		noun := "element"
		if len(ids) > 1 {
			noun = "elements"
		}
		parts = append(parts, string(k)+" for "+noun+" "+strings.Join(ids, ", "))
	}
	return strings.Join(parts, "; ")
}
