// Package datasource fetches and persists the two raw inputs of the pipeline:
// the official coupon calendar of fixed-rate treasury bonds and the daily
// fixing prices of those bonds. Both stores scrape HTML through goquery,
// share the infra HTTP helpers, and persist parquet snapshots.
package datasource

import (
	"errors"
	"fmt"
	"time"

	"github.com/seenimoa/termstructure/pkg/models"
)

// --- Sentinel errors ---

// ErrLinkNotFound is returned when the coupon landing page no longer carries
// a link matching the configured pattern. The link pattern must be updated.
var ErrLinkNotFound = errors.New("coupon calendar link not found on landing page")

// ErrTableNotFound is returned when a fixing page has fewer tables than the
// configured table index requires.
var ErrTableNotFound = errors.New("fixing price table not found")

// ErrSheetNotFound is returned when the coupon workbook lacks the configured sheet.
var ErrSheetNotFound = errors.New("coupon workbook sheet not found")

// FetchError records a single failed fixing request. It is carried inside a
// FetchResult instead of aborting the batch.
type FetchError struct {
	Date    time.Time
	Session models.FixingSession
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fixing %s %s: %v", e.Date.Format("2006-01-02"), e.Session, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// FetchResult is the outcome of one (date, session) request.
type FetchResult struct {
	Date    time.Time
	Session models.FixingSession
	Prices  []models.FixingPrice
	Err     *FetchError
}
