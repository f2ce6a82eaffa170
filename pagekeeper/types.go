package pagekeeper

import (
	"github.com/hazyhaar/pricewatch/pagekeeper/internal/runner"
	"github.com/hazyhaar/pricewatch/pagekeeper/internal/schedule"
	"github.com/hazyhaar/pricewatch/pagekeeper/internal/scrape"
	"github.com/hazyhaar/pricewatch/pagekeeper/internal/store"
)

// Public aliases for the types returned by Keeper.
type (
	Page             = store.Page
	Element          = store.Element
	ScrapedValue     = store.ScrapedValue
	PageRunLog       = store.PageRunLog
	ElementRunLog    = store.ElementRunLog
	ConflictError    = store.ConflictError
	Report           = runner.Report
	PageReport       = runner.PageReport
	ValidationReport = runner.ValidationReport
	Schedule         = schedule.Schedule
	Status           = scrape.Status
)

var (
	ErrNotFound         = store.ErrNotFound
	ErrConflict         = store.ErrConflict
	ErrInvalid          = store.ErrInvalid
	ErrRobotsDisallowed = scrape.ErrRobotsDisallowed
)
