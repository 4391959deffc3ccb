package curve

import (
	"sort"
	"time"

	"github.com/seenimoa/termstructure/pkg/models"
)

type bondID struct {
	series string
	isin   string
}

// PrepareQuotes joins fixing prices with the coupon calendar and returns one
// quote per (bond, date) for bonds that are accruing on that date.
//
// A row is kept when its date falls in a coupon period of the same bond
// (start < date <= end). Missing prices are carried forward per bond across
// sessions and dates, the last session of each day wins, and bonds that have
// never had a price are dropped.
func PrepareQuotes(cal models.CouponCalendar, panel models.PricePanel) []models.BondQuote {
	periods := make(map[bondID][]models.BondCoupon)
	for _, c := range cal {
		id := bondID{c.Series, c.ISIN}
		periods[id] = append(periods[id], c)
	}

	rows := make(models.PricePanel, len(panel))
	copy(rows, panel)
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Series != rows[j].Series {
			return rows[i].Series < rows[j].Series
		}
		if !rows[i].Date.Equal(rows[j].Date) {
			return rows[i].Date.Before(rows[j].Date)
		}
		return rows[i].Session < rows[j].Session
	})

	var (
		quotes  []models.BondQuote
		current string
		price   float64
		priced  bool
	)
	for _, p := range rows {
		if p.Series != current {
			current, priced = p.Series, false
		}
		coupon, ok := accruingPeriod(periods[bondID{p.Series, p.ISIN}], p.Date)
		if !ok {
			continue
		}
		if p.Price != nil {
			price, priced = p.Price.InexactFloat64(), true
		}
		if !priced {
			continue
		}

		q := models.BondQuote{
			Series:      p.Series,
			ISIN:        p.ISIN,
			Date:        p.Date,
			CleanPrice:  price,
			CouponRate:  coupon.CouponRate.InexactFloat64(),
			PeriodStart: coupon.PeriodStart,
			Maturity:    coupon.RedemptionDate,
		}
		if n := len(quotes); n > 0 && quotes[n-1].Series == q.Series && quotes[n-1].Date.Equal(q.Date) {
			quotes[n-1] = q
			continue
		}
		quotes = append(quotes, q)
	}

	sort.SliceStable(quotes, func(i, j int) bool {
		if !quotes[i].Date.Equal(quotes[j].Date) {
			return quotes[i].Date.Before(quotes[j].Date)
		}
		return quotes[i].Series < quotes[j].Series
	})
	return quotes
}

func accruingPeriod(periods []models.BondCoupon, date time.Time) (models.BondCoupon, bool) {
	for _, c := range periods {
		if c.Accruing(date) {
			return c, true
		}
	}
	return models.BondCoupon{}, false
}

// GroupByDate indexes quotes by evaluation date.
func GroupByDate(quotes []models.BondQuote) map[time.Time][]models.BondQuote {
	out := make(map[time.Time][]models.BondQuote)
	for _, q := range quotes {
		out[q.Date] = append(out[q.Date], q)
	}
	return out
}

// QuoteDates returns the distinct quote dates strictly after the given date,
// in ascending order. A zero after returns every date.
func QuoteDates(quotes []models.BondQuote, after time.Time) []time.Time {
	seen := make(map[time.Time]struct{})
	var dates []time.Time
	for _, q := range quotes {
		if !after.IsZero() && !q.Date.After(after) {
			continue
		}
		if _, ok := seen[q.Date]; ok {
			continue
		}
		seen[q.Date] = struct{}{}
		dates = append(dates, q.Date)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}
